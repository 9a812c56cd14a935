package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gosuda/chatlog/internal/chain"
	"github.com/gosuda/chatlog/internal/domain"
)

type TextEventKind string

const (
	TextReceived    TextEventKind = "received"
	TextSent        TextEventKind = "sent"
	TextSendError   TextEventKind = "send_error"
	TextLostMessage TextEventKind = "lost_message"
	TextClosed      TextEventKind = "closed"
)

// Message is one text message as the channel reports it.
type Message struct {
	ID        uint32             `json:"id"`
	SenderID  string             `json:"sender_id,omitempty"`
	Body      string             `json:"body"`
	Type      domain.MessageType `json:"type,omitempty"`
	Timestamp int64              `json:"timestamp,omitempty"`
	// NonText marks messages whose content is not plain text; they are not logged.
	NonText bool `json:"non_text,omitempty"`
}

type TextEvent struct {
	Kind    TextEventKind `json:"kind"`
	Message Message       `json:"message"`
	Error   string        `json:"error,omitempty"`
}

// TextSource is the message side of a text channel.
type TextSource interface {
	// Subscribe starts delivering events. The returned func stops delivery.
	Subscribe(ctx context.Context) (<-chan TextEvent, func(), error)
	// PendingMessages lists received messages that were never acknowledged.
	PendingMessages(ctx context.Context) ([]Message, error)
	Acknowledge(ctx context.Context, ids ...uint32) error
}

// TextLogger logs a text chat. Received messages are acknowledged only
// after their entry has been handed to the writer.
type TextLogger struct {
	base

	src    TextSource
	events <-chan TextEvent

	subMu       sync.Mutex
	unsubscribe func()

	// touched only by the goroutine that drains and then runs the loop
	unacked  map[uint32]struct{}
	logged   map[uint32]struct{} // logged, ack still outstanding
	drained  map[uint32]struct{} // logged by the drain, live copy not seen yet
	draining bool
}

func newTextLogger(h Handover, w Writer) (Logger, error) {
	if h.Text == nil {
		return nil, fmt.Errorf("channel.newTextLogger: no text source: %w", ErrMalformedHandover)
	}
	return &TextLogger{
		base:        newBase(h, w),
		src:         h.Text,
		unsubscribe: func() {},
		unacked:     make(map[uint32]struct{}),
		logged:      make(map[uint32]struct{}),
		drained:     make(map[uint32]struct{}),
	}, nil
}

func (l *TextLogger) Start(ctx context.Context, ready func(error)) {
	onReady := func(err error) {
		if err != nil {
			l.stopEvents()
		}
		ready(err)
	}
	l.start(ctx, onReady, l.run,
		l.resolveSelf,
		l.inspectTarget,
		l.subscribe,
		l.drainPending,
	)
}

func (l *TextLogger) subscribe(ctx context.Context, c *chain.Chain) {
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

func (l *TextLogger) stopEvents() {
	l.subMu.Lock()
	unsubscribe := l.unsubscribe
	l.unsubscribe = func() {}
	l.subMu.Unlock()
	unsubscribe()
}

// drainPending logs messages that arrived before the subscription existed.
// Their ids are remembered until the live copy shows up, so it is acked but
// not logged twice.
func (l *TextLogger) drainPending(ctx context.Context, c *chain.Chain) {
	async(c, func() error {
		pending, err := l.src.PendingMessages(ctx)
		if err != nil {
			return fmt.Errorf("channel: list pending messages: %w", err)
		}
		sort.SliceStable(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })

		l.draining = true
		for _, m := range pending {
			l.received(ctx, m)
		}
		l.draining = false
		l.flushAcks(ctx)
		return nil
	})
}

func (l *TextLogger) run(ctx context.Context) {
	defer l.stopEvents()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-l.events:
			if !ok {
				l.logger.Debug().Msg("channel: event stream ended")
				return
			}
			if ev.Kind == TextClosed {
				l.logger.Debug().Msg("channel: closed")
				return
			}
			l.handle(ctx, ev)
		}
	}
}

func (l *TextLogger) handle(ctx context.Context, ev TextEvent) {
	switch ev.Kind {
	case TextReceived:
		l.received(ctx, ev.Message)
		l.flushAcks(ctx)
	case TextSent:
		l.outgoing(ctx, domain.SignalSent, ev.Message)
	case TextSendError:
		l.outgoing(ctx, domain.SignalSendError, ev.Message)
	case TextLostMessage:
		self := l.self
		l.write(ctx, &domain.LogEntry{
			Direction: domain.DirectionIncoming,
			Signal:    domain.SignalLostMessage,
			Receiver:  &self,
			Timestamp: ev.Message.Timestamp,
		})
	default:
		l.logger.Debug().Str("event", string(ev.Kind)).Msg("channel: unknown text event ignored")
	}
}

// received logs m unless it was logged already and marks it for acknowledgement.
// Ids are reused once acknowledged, so a live id is only remembered until its
// ack succeeds.
func (l *TextLogger) received(ctx context.Context, m Message) {
	if m.NonText {
		l.logger.Debug().Uint32("id", m.ID).Msg("channel: non-text message ignored")
		return
	}

	_, drained := l.drained[m.ID]
	_, logged := l.logged[m.ID]
	switch {
	case drained && !l.draining:
		delete(l.drained, m.ID)
	case drained, logged:
	default:
		sender := l.participant(ctx, m.SenderID)
		if m.SenderID == "" && !l.isRoom() {
			sender = l.target
		}
		receiver := l.self
		if l.isRoom() {
			receiver = l.target
		}
		id := m.ID
		err := l.emit(ctx, &domain.LogEntry{
			Direction:   domain.DirectionIncoming,
			Signal:      domain.SignalMessage,
			Sender:      &sender,
			Receiver:    &receiver,
			Body:        m.Body,
			MessageType: messageType(m.Type),
			Timestamp:   m.Timestamp,
			PendingID:   &id,
		})
		if err != nil {
			// Not acknowledged, so the channel keeps it pending.
			l.logger.Warn().Err(err).Uint32("id", m.ID).Msg("channel: received message not logged")
			return
		}
		if l.draining {
			l.drained[m.ID] = struct{}{}
		} else {
			l.logged[m.ID] = struct{}{}
		}
	}

	l.unacked[m.ID] = struct{}{}
}

func (l *TextLogger) flushAcks(ctx context.Context) {
	if len(l.unacked) == 0 {
		return
	}

	ids := make([]uint32, 0, len(l.unacked))
	for id := range l.unacked {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if err := l.src.Acknowledge(ctx, ids...); err != nil {
		l.logger.Warn().Err(err).Int("count", len(ids)).Msg("channel: acknowledge failed, will retry")
		return
	}
	for _, id := range ids {
		delete(l.unacked, id)
		delete(l.logged, id)
	}
}

func (l *TextLogger) outgoing(ctx context.Context, signal domain.SignalKind, m Message) {
	self := l.self
	target := l.target
	l.write(ctx, &domain.LogEntry{
		Direction:   domain.DirectionOutgoing,
		Signal:      signal,
		Sender:      &self,
		Receiver:    &target,
		Body:        m.Body,
		MessageType: messageType(m.Type),
		Timestamp:   m.Timestamp,
	})
}

func (l *TextLogger) write(ctx context.Context, e *domain.LogEntry) {
	if err := l.emit(ctx, e); err != nil {
		l.logger.Warn().Err(err).Msg("channel: entry not logged")
	}
}

func messageType(t domain.MessageType) domain.MessageType {
	if t == "" {
		return domain.MessageNormal
	}
	return t
}
