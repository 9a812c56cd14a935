package domain

type EntityKind string

const (
	EntityContact EntityKind = "contact"
	EntityRoom    EntityKind = "room"
	EntitySelf    EntityKind = "self"
	EntityUnknown EntityKind = "unknown"
)

// Entity identifies a conversation participant. Entities are values; the
// zero value is not a valid participant.
type Entity struct {
	ID          string     `json:"id"`
	Kind        EntityKind `json:"kind"`
	Alias       string     `json:"alias,omitempty"`
	AvatarToken string     `json:"avatar_token,omitempty"`
}

// NewContactEntity builds an entity for a resolved remote contact.
func NewContactEntity(id, alias, avatarToken string) Entity {
	return Entity{ID: id, Kind: EntityContact, Alias: alias, AvatarToken: avatarToken}
}

// NewSelfEntity builds the entity for the local user of a connection.
func NewSelfEntity(id, alias, avatarToken string) Entity {
	return Entity{ID: id, Kind: EntitySelf, Alias: alias, AvatarToken: avatarToken}
}

// NewRoomEntity builds an entity from a room identifier. Rooms carry their
// identifier as alias.
func NewRoomEntity(roomID string) Entity {
	return Entity{ID: roomID, Kind: EntityRoom, Alias: roomID}
}

// UnknownEntity stands in for actors that could not be resolved.
func UnknownEntity() Entity {
	return Entity{ID: "unknown", Kind: EntityUnknown}
}

// Same reports whether e and other name the same participant.
func (e Entity) Same(other Entity) bool {
	return e.ID == other.ID && e.Kind == other.Kind
}

// DisplayName returns the alias, falling back to the identifier.
func (e Entity) DisplayName() string {
	if e.Alias != "" {
		return e.Alias
	}
	return e.ID
}
