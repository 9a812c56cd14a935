package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gosuda/chatlog/internal/chain"
	"github.com/gosuda/chatlog/internal/domain"
)

type CallEventKind string

const (
	CallAccepted CallEventKind = "accepted"
	CallEnded    CallEventKind = "ended"
)

type CallEvent struct {
	Kind           CallEventKind `json:"kind"`
	ActorID        string        `json:"actor_id,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	DetailedReason string        `json:"detailed_reason,omitempty"`
	Timestamp      int64         `json:"timestamp,omitempty"`
}

// CallSource is the signalling side of a call channel.
type CallSource interface {
	Members(ctx context.Context) ([]string, error)
	Subscribe(ctx context.Context) (<-chan CallEvent, func(), error)
}

// Reasons reported when a call ends without an explicit reason.
const (
	EndReasonUnknown       = "unknown"
	EndReasonChannelClosed = "channel_closed"
)

// CallLogger writes one call_ended entry per call.
type CallLogger struct {
	base

	src    CallSource
	events <-chan CallEvent

	subMu       sync.Mutex
	unsubscribe func()

	initiator  domain.Entity
	acceptedAt int64
}

func newCallLogger(h Handover, w Writer) (Logger, error) {
	if h.Call == nil {
		return nil, fmt.Errorf("channel.newCallLogger: no call source: %w", ErrMalformedHandover)
	}
	return &CallLogger{
		base:        newBase(h, w),
		src:         h.Call,
		unsubscribe: func() {},
		acceptedAt:  -1,
	}, nil
}

func (l *CallLogger) Start(ctx context.Context, ready func(error)) {
	onReady := func(err error) {
		if err != nil {
			l.stopEvents()
		}
		ready(err)
	}
	l.start(ctx, onReady, l.run,
		l.resolveMembers,
		l.inspectTarget,
		l.resolveSelf,
		l.resolveInitiator,
		l.subscribe,
	)
}

// resolveMembers caches every current member so the end actor resolves
// without a lookup.
func (l *CallLogger) resolveMembers(ctx context.Context, c *chain.Chain) {
	async(c, func() error {
		members, err := l.src.Members(ctx)
		if err != nil {
			return fmt.Errorf("channel: call members: %w", err)
		}
		for _, id := range members {
			contact, err := l.h.Connection.LookupContact(ctx, id)
			if err != nil {
				l.logger.Debug().Err(err).Str("contact", id).Msg("channel: member lookup failed")
				continue
			}
			l.remember(domain.NewContactEntity(contact.ID, contact.Alias, contact.AvatarToken))
		}
		return nil
	})
}

func (l *CallLogger) resolveInitiator(ctx context.Context, c *chain.Chain) {
	async(c, func() error {
		switch l.h.InitiatorID {
		case "":
			l.initiator = l.target
		default:
			l.initiator = l.participant(ctx, l.h.InitiatorID)
		}
		return nil
	})
}

func (l *CallLogger) subscribe(ctx context.Context, c *chain.Chain) {
	async(c, func() error {
		events, unsubscribe, err := l.src.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("channel: subscribe: %w", err)
		}
		l.subMu.Lock()
		l.events, l.unsubscribe = events, unsubscribe
		l.subMu.Unlock()
		return nil
	})
}

func (l *CallLogger) stopEvents() {
	l.subMu.Lock()
	unsubscribe := l.unsubscribe
	l.unsubscribe = func() {}
	l.subMu.Unlock()
	unsubscribe()
}

// finalEntryTimeout bounds the call_ended write issued after the logger's
// context is done.
const finalEntryTimeout = 5 * time.Second

func (l *CallLogger) run(ctx context.Context) {
	defer l.stopEvents()

	for {
		select {
		case <-ctx.Done():
			// Shutdown or Close still records the call.
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalEntryTimeout)
			l.ended(final, CallEvent{Reason: EndReasonChannelClosed})
			cancel()
			return
		case ev, ok := <-l.events:
			if !ok {
				l.ended(ctx, CallEvent{Reason: EndReasonChannelClosed})
				return
			}
			switch ev.Kind {
			case CallAccepted:
				if l.acceptedAt < 0 {
					l.acceptedAt = ev.Timestamp
					if l.acceptedAt <= 0 {
						l.acceptedAt = time.Now().Unix()
					}
				}
			case CallEnded:
				l.ended(ctx, ev)
				return
			default:
				l.logger.Debug().Str("event", string(ev.Kind)).Msg("channel: unknown call event ignored")
			}
		}
	}
}

func (l *CallLogger) ended(ctx context.Context, ev CallEvent) {
	e := &domain.LogEntry{
		Signal:    domain.SignalCallEnded,
		Timestamp: ev.Timestamp,
	}
	l.stamp(e)

	duration := int64(-1)
	if l.acceptedAt >= 0 {
		duration = max(e.Timestamp-l.acceptedAt, 0)
	}

	reason := ev.Reason
	if reason == "" {
		reason = EndReasonUnknown
	}

	initiator := l.initiator
	receiver := l.self
	e.Direction = domain.DirectionIncoming
	if initiator.Same(l.self) {
		receiver = l.target
		e.Direction = domain.DirectionOutgoing
	}
	e.Sender = &initiator
	e.Receiver = &receiver
	e.Call = &domain.CallDetails{
		Duration:          duration,
		EndActor:          l.participant(ctx, ev.ActorID),
		EndReason:         reason,
		DetailedEndReason: ev.DetailedReason,
	}

	if err := l.w.Enqueue(ctx, e); err != nil {
		l.logger.Warn().Err(err).Msg("channel: call entry not logged")
	}
}
