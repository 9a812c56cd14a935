// Package channel turns the events of a live communication channel into log
// entries. One Logger exists per observed channel.
package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/gosuda/chatlog/internal/domain"
)

var (
	// ErrNotHandled is returned for channel kinds or targets that are not logged.
	ErrNotHandled = errors.New("channel: not handled") //nolint:gochecknoglobals // sentinel error
	// ErrMalformedHandover is returned when a handover lacks what its kind needs.
	ErrMalformedHandover = errors.New("channel: malformed handover") //nolint:gochecknoglobals // sentinel error
)

type Kind string

const (
	KindText Kind = "text"
	KindCall Kind = "call"
)

// HandleType is the kind of remote end a channel targets.
type HandleType string

const (
	HandleContact HandleType = "contact"
	HandleRoom    HandleType = "room"
	HandleNone    HandleType = "none"
	HandleList    HandleType = "list"
	HandleGroup   HandleType = "group"
)

// Contact is a participant as the connection reports it.
type Contact struct {
	ID          string `json:"id"`
	Alias       string `json:"alias"`
	AvatarToken string `json:"avatar_token,omitempty"`
}

// Connection resolves participants of the account a channel belongs to.
type Connection interface {
	SelfContact(ctx context.Context) (Contact, error)
	LookupContact(ctx context.Context, id string) (Contact, error)
}

// Handover describes a channel the dispatch layer wants logged. The wire
// fields arrive as JSON; the sources are attached by the receiver.
type Handover struct {
	Kind         Kind       `json:"kind"`
	Path         string     `json:"path"`
	Account      string     `json:"account"`
	ConnectionID string     `json:"connection"`
	TargetID     string     `json:"target_id"`
	TargetType   HandleType `json:"target_type"`
	InitiatorID  string     `json:"initiator_id,omitempty"`

	Connection Connection `json:"-"`
	Text       TextSource `json:"-"`
	Call       CallSource `json:"-"`
}

// Writer accepts entries for persistence. A nil error means the write has
// been issued; *logmanager.Queue satisfies it.
type Writer interface {
	Enqueue(ctx context.Context, entry *domain.LogEntry) error
}

// Logger follows one channel.
type Logger interface {
	Path() string
	// Start prepares the logger and reports the outcome through ready exactly
	// once. On success the logger keeps running until ctx is done, the channel
	// closes or Close is called.
	Start(ctx context.Context, ready func(err error))
	// Done is closed when the logger stopped.
	Done() <-chan struct{}
	Close()
}

type Constructor func(h Handover, w Writer) (Logger, error)

//nolint:gochecknoglobals // fixed kind table
var constructors = map[Kind]Constructor{
	KindText: newTextLogger,
	KindCall: newCallLogger,
}

// Kinds returns the channel kinds that have a logger.
func Kinds() []Kind {
	return []Kind{KindText, KindCall}
}

// New builds the logger for h.Kind.
func New(h Handover, w Writer) (Logger, error) {
	ctor, ok := constructors[h.Kind]
	if !ok {
		return nil, fmt.Errorf("channel.New(%q): %w", h.Kind, ErrNotHandled)
	}
	if h.Path == "" || h.Account == "" || h.Connection == nil {
		return nil, fmt.Errorf("channel.New(%q): missing path, account or connection: %w", h.Kind, ErrMalformedHandover)
	}
	if w == nil {
		return nil, fmt.Errorf("channel.New(%q): nil writer", h.Kind)
	}
	return ctor(h, w)
}
