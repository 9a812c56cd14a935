package channel_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gosuda/chatlog/internal/channel"
	"github.com/gosuda/chatlog/internal/domain"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

var errLookup = errors.New("lookup failed")

// journal records enqueues and acknowledgements in the order they happen.
type journal struct {
	mu  sync.Mutex
	ops []string
}

func (j *journal) add(op string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ops = append(j.ops, op)
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.ops...)
}

// memWriter never persists anything; it only remembers what was issued.
type memWriter struct {
	j       *journal
	mu      sync.Mutex
	entries []*domain.LogEntry
	err     error
}

func (w *memWriter) Enqueue(_ context.Context, e *domain.LogEntry) error {
	if w.err != nil {
		return w.err
	}
	w.mu.Lock()
	w.entries = append(w.entries, e)
	w.mu.Unlock()
	if e.PendingID != nil {
		w.j.add(fmt.Sprintf("enqueue:%d", *e.PendingID))
	} else {
		w.j.add("enqueue:" + string(e.Signal))
	}
	return nil
}

func (w *memWriter) all() []*domain.LogEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*domain.LogEntry(nil), w.entries...)
}

type fakeConn struct {
	self     channel.Contact
	selfErr  error
	contacts map[string]channel.Contact

	mu      sync.Mutex
	lookups map[string]int
}

func newConn() *fakeConn {
	return &fakeConn{
		self: channel.Contact{ID: "me@example.com", Alias: "Me"},
		contacts: map[string]channel.Contact{
			"bob@example.com":   {ID: "bob@example.com", Alias: "Bob"},
			"carol@example.com": {ID: "carol@example.com", Alias: "Carol"},
		},
		lookups: make(map[string]int),
	}
}

func (c *fakeConn) SelfContact(context.Context) (channel.Contact, error) {
	return c.self, c.selfErr
}

func (c *fakeConn) LookupContact(_ context.Context, id string) (channel.Contact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups[id]++
	contact, ok := c.contacts[id]
	if !ok {
		return channel.Contact{}, errLookup
	}
	return contact, nil
}

func (c *fakeConn) lookupCount(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookups[id]
}

type fakeText struct {
	j       *journal
	pending []channel.Message
	events  chan channel.TextEvent
	subErr  error

	mu    sync.Mutex
	acked []uint32
}

func newText(j *journal, pending ...channel.Message) *fakeText {
	return &fakeText{j: j, pending: pending, events: make(chan channel.TextEvent, 16)}
}

func (f *fakeText) Subscribe(context.Context) (<-chan channel.TextEvent, func(), error) {
	if f.subErr != nil {
		return nil, nil, f.subErr
	}
	return f.events, func() {}, nil
}

func (f *fakeText) PendingMessages(context.Context) ([]channel.Message, error) {
	return f.pending, nil
}

func (f *fakeText) Acknowledge(_ context.Context, ids ...uint32) error {
	f.mu.Lock()
	f.acked = append(f.acked, ids...)
	f.mu.Unlock()
	for _, id := range ids {
		f.j.add(fmt.Sprintf("ack:%d", id))
	}
	return nil
}

func (f *fakeText) ackedIDs() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.acked...)
}

type fakeCall struct {
	members []string
	events  chan channel.CallEvent
}

func (f *fakeCall) Members(context.Context) ([]string, error) { return f.members, nil }

func (f *fakeCall) Subscribe(context.Context) (<-chan channel.CallEvent, func(), error) {
	return f.events, func() {}, nil
}

// start runs l and waits for the preparation outcome.
func start(t *testing.T, l channel.Logger) error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ready := make(chan error, 1)
	l.Start(ctx, func(err error) { ready <- err })

	select {
	case err := <-ready:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("logger never became ready")
		return nil
	}
}

func waitDone(t *testing.T, l channel.Logger) {
	t.Helper()
	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("logger did not stop")
	}
}

func requireEntries(t *testing.T, w *memWriter, n int) []*domain.LogEntry {
	t.Helper()
	require.Eventually(t, func() bool { return len(w.all()) >= n }, 2*time.Second, 5*time.Millisecond)
	return w.all()
}
