// Package ws streams newly logged entries to websocket clients.
package ws

import (
	"context"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/chatlog/internal/domain"
	"github.com/gosuda/chatlog/internal/server/middleware"
	redisstore "github.com/gosuda/chatlog/internal/store/redis"
)

// Subscriber delivers published payloads of one channel until cleanup is
// called. *redisstore.PubSub satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// Hub serves live entry feeds backed by the Redis store's publications.
type Hub struct {
	sub Subscriber
}

func NewHub(sub Subscriber) *Hub {
	return &Hub{sub: sub}
}

// ServeChat handles /ws/chat?account=&chat_id=&chatroom= and forwards every
// entry the Redis store writes for that chat as a JSON text frame.
func (h *Hub) ServeChat(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := domain.ChatKey{Account: q.Get("account"), ChatID: q.Get("chat_id")}
	if key.Account == "" || key.ChatID == "" {
		http.Error(w, "account and chat_id are required", http.StatusBadRequest)
		return
	}
	if raw := q.Get("chatroom"); raw != "" {
		room, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "invalid chatroom flag", http.StatusBadRequest)
			return
		}
		key.IsChatroom = room
	}
	if !middleware.CanRead(r.Context(), key.Account) {
		http.Error(w, "account not permitted", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles their control frames.
	ctx := conn.CloseRead(r.Context())

	messages, cleanup, err := h.sub.Subscribe(ctx, redisstore.EntryChannel(key))
	if err != nil {
		log.Error().Err(err).Str("chat", key.String()).Msg("websocket subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case msg, ok := <-messages:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				log.Debug().Err(err).Str("chat", key.String()).Msg("websocket write")
				return
			}
		}
	}
}
