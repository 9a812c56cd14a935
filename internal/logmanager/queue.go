package logmanager

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/chatlog/internal/domain"
)

// EntryWriter is what a Queue drains into; *Manager satisfies it.
type EntryWriter interface {
	Write(ctx context.Context, entry *domain.LogEntry) error
}

// Queue serialises writes through a single worker so entries reach the
// stores in the order they were enqueued. A successful Enqueue means the
// write has been issued, not that it has been persisted.
type Queue struct {
	w       EntryWriter
	entries chan *domain.LogEntry
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

const DefaultQueueSize = 256

func NewQueue(w EntryWriter, size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	q := &Queue{
		w:       w,
		entries: make(chan *domain.LogEntry, size),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue blocks while the queue is full, until ctx is done.
func (q *Queue) Enqueue(ctx context.Context, entry *domain.LogEntry) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.entries <- entry:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting entries and waits for the queued ones to be written.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.entries)
	}
	q.mu.Unlock()

	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)

	for entry := range q.entries {
		if err := q.w.Write(context.Background(), entry); err != nil {
			log.Error().Err(err).Str("log_id", entry.LogID).Str("chat", entry.Key().String()).Msg("logmanager: queued write failed")
		}
	}
}
