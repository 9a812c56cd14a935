// Package observer is the entry point for channels handed over by the
// dispatch layer. It decides whether a channel is logged and owns the
// loggers of accepted channels.
package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/chatlog/internal/channel"
)

// ErrAlreadyObserved is returned for a channel path that already has a logger.
var ErrAlreadyObserved = errors.New("observer: channel already observed") //nolint:gochecknoglobals // sentinel error

// SourceResolver attaches the connection and event sources to a handover
// decoded from the wire.
type SourceResolver interface {
	Resolve(ctx context.Context, h *channel.Handover) error
}

type Observer struct {
	ctx    context.Context
	writer channel.Writer

	mu     sync.Mutex
	active map[string]channel.Logger
	wg     sync.WaitGroup
}

// New returns an Observer whose loggers live until ctx is done or Close is called.
func New(ctx context.Context, writer channel.Writer) *Observer {
	return &Observer{
		ctx:    ctx,
		writer: writer,
		active: make(map[string]channel.Logger),
	}
}

// HandleChannel accepts h by returning nil once its logger is ready. Kinds
// without a logger and failed preparations are rejected with an error.
func (o *Observer) HandleChannel(ctx context.Context, h channel.Handover) error {
	l, err := channel.New(h, o.writer)
	if err != nil {
		log.Debug().Err(err).Str("channel", h.Path).Str("kind", string(h.Kind)).Msg("observer: channel rejected")
		return fmt.Errorf("observer.Observer.HandleChannel: %w", err)
	}

	o.mu.Lock()
	if _, ok := o.active[h.Path]; ok {
		o.mu.Unlock()
		return fmt.Errorf("observer.Observer.HandleChannel(%s): %w", h.Path, ErrAlreadyObserved)
	}
	o.active[h.Path] = l
	o.mu.Unlock()

	ready := make(chan error, 1)
	l.Start(o.ctx, func(err error) { ready <- err })

	select {
	case err = <-ready:
	case <-ctx.Done():
		l.Close()
		err = ctx.Err()
	}
	if err != nil {
		o.forget(h.Path, l)
		log.Debug().Err(err).Str("channel", h.Path).Msg("observer: channel preparation failed")
		return fmt.Errorf("observer.Observer.HandleChannel(%s): %w", h.Path, err)
	}

	o.wg.Go(func() {
		<-l.Done()
		o.forget(h.Path, l)
		log.Debug().Str("channel", h.Path).Msg("observer: channel finished")
	})

	log.Info().Str("channel", h.Path).Str("kind", string(h.Kind)).Str("account", h.Account).Msg("observer: channel accepted")
	return nil
}

func (o *Observer) forget(path string, l channel.Logger) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active[path] == l {
		delete(o.active, path)
	}
}

// Active returns the paths of the channels being logged.
func (o *Observer) Active() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	paths := make([]string, 0, len(o.active))
	for p := range o.active {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Close stops every logger and waits for them.
func (o *Observer) Close() {
	o.mu.Lock()
	loggers := make([]channel.Logger, 0, len(o.active))
	for _, l := range o.active {
		loggers = append(loggers, l)
	}
	o.mu.Unlock()

	for _, l := range loggers {
		l.Close()
	}
	o.wg.Wait()
}

// Consume handles JSON handovers from topic until ctx is done. Every message
// is acknowledged once handled, whether the channel was accepted or not.
func (o *Observer) Consume(ctx context.Context, sub message.Subscriber, topic string, resolver SourceResolver) error {
	msgs, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("observer.Observer.Consume: subscribe %q: %w", topic, err)
	}
	log.Info().Str("topic", topic).Msg("observer: consuming handovers")

	for msg := range msgs {
		o.handleMessage(ctx, msg, resolver)
		msg.Ack()
	}

	log.Info().Str("topic", topic).Msg("observer: handover stream stopped")
	return ctx.Err()
}

func (o *Observer) handleMessage(ctx context.Context, msg *message.Message, resolver SourceResolver) {
	var h channel.Handover
	if err := json.Unmarshal(msg.Payload, &h); err != nil {
		log.Warn().Err(err).Str("message", msg.UUID).Msg("observer: undecodable handover dropped")
		return
	}

	if err := resolver.Resolve(ctx, &h); err != nil {
		log.Warn().Err(err).Str("message", msg.UUID).Str("channel", h.Path).Msg("observer: handover sources unavailable")
		return
	}

	if err := o.HandleChannel(ctx, h); err != nil {
		log.Info().Err(err).Str("message", msg.UUID).Str("channel", h.Path).Msg("observer: handover rejected")
	}
}
