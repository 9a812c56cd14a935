package domain

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// DateLayout is the day format shared by every store ("20240102").
const DateLayout = "20060102"

type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

type SignalKind string

const (
	SignalMessage       SignalKind = "message"
	SignalSent          SignalKind = "sent"
	SignalSendError     SignalKind = "send_error"
	SignalLostMessage   SignalKind = "lost_message"
	SignalStatusChanged SignalKind = "status_changed"
	SignalCallEnded     SignalKind = "call_ended"
)

// RequiresSender reports whether entries of this kind must name a sender.
func (s SignalKind) RequiresSender() bool {
	switch s {
	case SignalMessage, SignalSent, SignalSendError:
		return true
	default:
		return false
	}
}

type MessageType string

const (
	MessageNormal         MessageType = "normal"
	MessageAction         MessageType = "action"
	MessageNotice         MessageType = "notice"
	MessageAutoReply      MessageType = "auto_reply"
	MessageDeliveryReport MessageType = "delivery_report"
)

// ChatKey addresses one conversation of one account.
type ChatKey struct {
	Account    string `json:"account"`
	ChatID     string `json:"chat_id"`
	IsChatroom bool   `json:"is_chatroom"`
}

func (k ChatKey) String() string {
	if k.IsChatroom {
		return k.Account + "#room:" + k.ChatID
	}
	return k.Account + "#" + k.ChatID
}

// CallDetails is carried by call_ended entries.
type CallDetails struct {
	Duration          int64  `json:"duration"` // seconds, -1 when the call was never accepted
	EndActor          Entity `json:"end_actor"`
	EndReason         string `json:"end_reason"`
	DetailedEndReason string `json:"detailed_end_reason,omitempty"`
}

// LogEntry is one loggable occurrence in a chat. Entries are built by a
// channel logger, handed to the log manager once and never mutated after.
type LogEntry struct {
	LogID       string       `json:"log_id"`
	Account     string       `json:"account"`
	ChatID      string       `json:"chat_id"`
	IsChatroom  bool         `json:"is_chatroom"`
	ChannelPath string       `json:"channel_path,omitempty"`
	Direction   Direction    `json:"direction"`
	Signal      SignalKind   `json:"signal"`
	Sender      *Entity      `json:"sender,omitempty"`
	Receiver    *Entity      `json:"receiver,omitempty"`
	Body        string       `json:"body,omitempty"`
	MessageType MessageType  `json:"message_type,omitempty"`
	Timestamp   int64        `json:"timestamp"` // unix seconds, UTC
	PendingID   *uint32      `json:"pending_id,omitempty"`
	Call        *CallDetails `json:"call,omitempty"`
}

// Key returns the conversation the entry belongs to.
func (e *LogEntry) Key() ChatKey {
	return ChatKey{Account: e.Account, ChatID: e.ChatID, IsChatroom: e.IsChatroom}
}

// Time returns the entry timestamp in UTC.
func (e *LogEntry) Time() time.Time {
	return time.Unix(e.Timestamp, 0).UTC()
}

// Date returns the UTC day the entry is filed under.
func (e *LogEntry) Date() string {
	return e.Time().Format(DateLayout)
}

// Validate checks the invariants every persisted entry must hold.
func (e *LogEntry) Validate() error {
	if e.Account == "" {
		return fmt.Errorf("domain.LogEntry.Validate: empty account: %w", ErrInvalidEntry)
	}
	if e.ChatID == "" {
		return fmt.Errorf("domain.LogEntry.Validate: empty chat id: %w", ErrInvalidEntry)
	}
	if e.Signal.RequiresSender() && e.Sender == nil {
		return fmt.Errorf("domain.LogEntry.Validate: %s without sender: %w", e.Signal, ErrInvalidEntry)
	}
	return nil
}

// NewLogID derives the stable identifier of an entry from the channel it was
// observed on, its timestamp and its per-channel sequence number.
func NewLogID(channelPath string, timestamp int64, seq uint64) string {
	h, _ := blake2b.New256(nil) // only fails for oversized keys
	_, _ = h.Write([]byte(channelPath))

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(timestamp)) //nolint:gosec // bit pattern only
	binary.BigEndian.PutUint64(buf[8:], seq)
	_, _ = h.Write(buf[:])

	return hex.EncodeToString(h.Sum(nil))[:40]
}

// ParseDate validates a day string produced by Date.
func ParseDate(date string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, date, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("domain.ParseDate(%q): %w", date, err)
	}
	return t, nil
}
