package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/chatlog/internal/chain"
	"github.com/gosuda/chatlog/internal/domain"
)

// base holds what text and call loggers share: participant resolution,
// entry numbering and lifecycle.
type base struct {
	h      Handover
	w      Writer
	logger zerolog.Logger

	self   domain.Entity
	target domain.Entity

	contactsMu sync.Mutex
	contacts   map[string]domain.Entity

	seq    uint64
	lastTS int64

	cancel context.CancelFunc
	done   chan struct{}
}

func newBase(h Handover, w Writer) base {
	return base{
		h: h,
		w: w,
		logger: log.With().
			Str("channel", h.Path).
			Str("kind", string(h.Kind)).
			Str("run", uuid.NewString()).
			Logger(),
		contacts: make(map[string]domain.Entity),
		cancel:   func() {},
		done:     make(chan struct{}),
	}
}

func (b *base) Path() string { return b.h.Path }

func (b *base) Done() <-chan struct{} { return b.done }

func (b *base) Close() { b.cancel() }

func (b *base) isRoom() bool { return b.h.TargetType == HandleRoom }

func (b *base) key() domain.ChatKey {
	return domain.ChatKey{Account: b.h.Account, ChatID: b.target.ID, IsChatroom: b.isRoom()}
}

// start wires the lifetime context and runs steps on a chain. run is started
// on its own goroutine once the chain completes.
func (b *base) start(ctx context.Context, ready func(error), run func(context.Context), steps ...chain.Step) {
	lifeCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	c := chain.New(lifeCtx, func(err error) {
		if err != nil {
			b.logger.Debug().Err(err).Msg("channel: preparation failed")
			cancel()
			close(b.done)
			ready(err)
			return
		}
		b.logger.Debug().Str("chat", b.key().String()).Msg("channel: logging")
		go func() {
			defer close(b.done)
			defer cancel()
			run(lifeCtx)
		}()
		ready(nil)
	})
	for _, step := range steps {
		_ = c.Append(step)
	}
	c.Continue()
}

// async runs fn off the caller's goroutine and advances c with its outcome.
func async(c *chain.Chain, fn func() error) {
	go func() {
		if err := fn(); err != nil {
			c.Terminate(err)
			return
		}
		c.Continue()
	}()
}

func (b *base) resolveSelf(ctx context.Context, c *chain.Chain) {
	async(c, func() error {
		self, err := b.h.Connection.SelfContact(ctx)
		if err != nil {
			return fmt.Errorf("channel: resolve self: %w", err)
		}
		b.self = domain.NewSelfEntity(self.ID, self.Alias, self.AvatarToken)
		return nil
	})
}

// inspectTarget queues the resolution matching the target's handle type.
func (b *base) inspectTarget(_ context.Context, c *chain.Chain) {
	if b.h.TargetID == "" {
		c.Terminate(fmt.Errorf("channel: empty target: %w", ErrMalformedHandover))
		return
	}

	switch b.h.TargetType {
	case HandleContact:
		_ = c.Prepend(b.resolveRemote)
	case HandleRoom:
		_ = c.Prepend(b.resolveRoom)
	default:
		c.Terminate(fmt.Errorf("channel: target type %q: %w", b.h.TargetType, ErrNotHandled))
		return
	}
	c.Continue()
}

func (b *base) resolveRemote(ctx context.Context, c *chain.Chain) {
	async(c, func() error {
		remote, err := b.h.Connection.LookupContact(ctx, b.h.TargetID)
		if err != nil {
			return fmt.Errorf("channel: resolve remote contact: %w", err)
		}
		b.target = domain.NewContactEntity(remote.ID, remote.Alias, remote.AvatarToken)
		b.remember(b.target)
		return nil
	})
}

func (b *base) resolveRoom(_ context.Context, c *chain.Chain) {
	b.target = domain.NewRoomEntity(b.h.TargetID)
	c.Continue()
}

func (b *base) remember(e domain.Entity) {
	b.contactsMu.Lock()
	b.contacts[e.ID] = e
	b.contactsMu.Unlock()
}

// participant resolves id through the connection, caching the result. An id
// the connection does not know is logged under its bare id.
func (b *base) participant(ctx context.Context, id string) domain.Entity {
	switch {
	case id == "":
		return domain.UnknownEntity()
	case id == b.self.ID:
		return b.self
	}

	b.contactsMu.Lock()
	e, ok := b.contacts[id]
	b.contactsMu.Unlock()
	if ok {
		return e
	}

	c, err := b.h.Connection.LookupContact(ctx, id)
	if err != nil {
		b.logger.Debug().Err(err).Str("contact", id).Msg("channel: contact lookup failed")
		return domain.NewContactEntity(id, id, "")
	}
	e = domain.NewContactEntity(c.ID, c.Alias, c.AvatarToken)
	b.remember(e)
	return e
}

// stamp fills the chat fields, clamps the timestamp so it never goes
// backwards and assigns the log id.
func (b *base) stamp(e *domain.LogEntry) {
	key := b.key()
	e.Account = key.Account
	e.ChatID = key.ChatID
	e.IsChatroom = key.IsChatroom
	e.ChannelPath = b.h.Path

	if e.Timestamp == 0 {
		e.Timestamp = time.Now().Unix()
	}
	if e.Timestamp < b.lastTS {
		e.Timestamp = b.lastTS
	}
	b.lastTS = e.Timestamp

	b.seq++
	e.LogID = domain.NewLogID(b.h.Path, e.Timestamp, b.seq)
}

func (b *base) emit(ctx context.Context, e *domain.LogEntry) error {
	b.stamp(e)
	if err := b.w.Enqueue(ctx, e); err != nil {
		return fmt.Errorf("channel: enqueue %s: %w", e.Signal, err)
	}
	return nil
}
