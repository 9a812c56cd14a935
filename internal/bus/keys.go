// Package bus speaks the Redis side of the channel protocol: participant
// lookups, pending messages, live events and the handover stream.
package bus

// ContactsKey is the hash of a connection's contacts, id -> JSON contact.
func ContactsKey(conn string) string {
	return "chatlog:conn:" + conn + ":contacts"
}

// SelfKey holds the JSON contact of the connection's own user.
func SelfKey(conn string) string {
	return "chatlog:conn:" + conn + ":self"
}

// PendingKey is the hash of a channel's unacknowledged messages, id -> JSON message.
func PendingKey(path string) string {
	return "chatlog:chan:" + path + ":pending"
}

// EventsChannel is the pub/sub channel carrying a channel's events.
func EventsChannel(path string) string {
	return "chatlog:chan:" + path + ":events"
}

// MembersKey is the hash of a call's members.
func MembersKey(path string) string {
	return "chatlog:chan:" + path + ":members"
}
