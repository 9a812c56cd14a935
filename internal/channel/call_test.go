package channel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/chatlog/internal/channel"
	"github.com/gosuda/chatlog/internal/domain"
)

func callHandover(conn channel.Connection, src channel.CallSource, initiator string) channel.Handover {
	return channel.Handover{
		Kind:        channel.KindCall,
		Path:        "/org/call/1",
		Account:     "acc",
		TargetID:    "bob@example.com",
		TargetType:  channel.HandleContact,
		InitiatorID: initiator,
		Connection:  conn,
		Call:        src,
	}
}

func TestCallLogger_AcceptedCall(t *testing.T) {
	t.Parallel()

	w := &memWriter{j: &journal{}}
	src := &fakeCall{members: []string{"bob@example.com"}, events: make(chan channel.CallEvent, 4)}
	l, err := channel.New(callHandover(newConn(), src, "bob@example.com"), w)
	require.NoError(t, err)
	require.NoError(t, start(t, l))

	src.events <- channel.CallEvent{Kind: channel.CallAccepted, Timestamp: 1000}
	src.events <- channel.CallEvent{Kind: channel.CallEnded, ActorID: "me@example.com", Reason: "user_requested", Timestamp: 1060}
	waitDone(t, l)

	entries := w.all()
	require.Len(t, entries, 1)
	e := entries[0]
	require.NoError(t, e.Validate())
	assert.Equal(t, domain.SignalCallEnded, e.Signal)
	assert.Equal(t, domain.DirectionIncoming, e.Direction)
	assert.Equal(t, "bob@example.com", e.Sender.ID)
	assert.Equal(t, "me@example.com", e.Receiver.ID)
	require.NotNil(t, e.Call)
	assert.EqualValues(t, 60, e.Call.Duration)
	assert.Equal(t, "user_requested", e.Call.EndReason)
	assert.Equal(t, domain.EntitySelf, e.Call.EndActor.Kind)
}

func TestCallLogger_NeverAccepted(t *testing.T) {
	t.Parallel()

	w := &memWriter{j: &journal{}}
	src := &fakeCall{events: make(chan channel.CallEvent, 4)}
	l, err := channel.New(callHandover(newConn(), src, "me@example.com"), w)
	require.NoError(t, err)
	require.NoError(t, start(t, l))

	src.events <- channel.CallEvent{Kind: channel.CallEnded, ActorID: "bob@example.com", Reason: "no_answer", Timestamp: 50}
	waitDone(t, l)

	entries := w.all()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.EqualValues(t, -1, e.Call.Duration)
	assert.Equal(t, domain.DirectionOutgoing, e.Direction)
	assert.Equal(t, "me@example.com", e.Sender.ID)
	assert.Equal(t, "bob@example.com", e.Receiver.ID)
	assert.Equal(t, "Bob", e.Call.EndActor.Alias)
}

func TestCallLogger_ChannelClosedWithoutEnd(t *testing.T) {
	t.Parallel()

	w := &memWriter{j: &journal{}}
	src := &fakeCall{events: make(chan channel.CallEvent, 4)}
	l, err := channel.New(callHandover(newConn(), src, ""), w)
	require.NoError(t, err)
	require.NoError(t, start(t, l))

	close(src.events)
	waitDone(t, l)

	entries := w.all()
	require.Len(t, entries, 1)
	assert.Equal(t, channel.EndReasonChannelClosed, entries[0].Call.EndReason)
	assert.Equal(t, domain.EntityUnknown, entries[0].Call.EndActor.Kind)
	assert.Equal(t, "bob@example.com", entries[0].Sender.ID, "initiator defaults to the target")
}

func TestCallLogger_ClosedWhileActive(t *testing.T) {
	t.Parallel()

	w := &memWriter{j: &journal{}}
	src := &fakeCall{members: []string{"bob@example.com"}, events: make(chan channel.CallEvent, 4)}
	l, err := channel.New(callHandover(newConn(), src, "bob@example.com"), w)
	require.NoError(t, err)
	require.NoError(t, start(t, l))

	l.Close()
	waitDone(t, l)

	entries := w.all()
	require.Len(t, entries, 1, "a call cut off by shutdown is still recorded")
	assert.Equal(t, domain.SignalCallEnded, entries[0].Signal)
	assert.Equal(t, channel.EndReasonChannelClosed, entries[0].Call.EndReason)
	assert.EqualValues(t, -1, entries[0].Call.Duration)
}

func TestCallLogger_UnsupportedTarget(t *testing.T) {
	t.Parallel()

	w := &memWriter{j: &journal{}}
	h := callHandover(newConn(), &fakeCall{events: make(chan channel.CallEvent)}, "")
	h.TargetType = channel.HandleList
	l, err := channel.New(h, w)
	require.NoError(t, err)

	require.ErrorIs(t, start(t, l), channel.ErrNotHandled)
	assert.Empty(t, w.all())
}
