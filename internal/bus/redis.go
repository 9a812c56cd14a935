package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/chatlog/internal/channel"
	"github.com/gosuda/chatlog/internal/domain"
	"github.com/gosuda/chatlog/internal/observer"
	redisstore "github.com/gosuda/chatlog/internal/store/redis"
)

// ErrUnknownConnection is returned when a handover names a connection that
// has not published its self contact.
var ErrUnknownConnection = errors.New("bus: unknown connection") //nolint:gochecknoglobals // sentinel error

// Redis resolves handovers to Redis-backed sources.
type Redis struct {
	client *goredis.Client
	ps     *redisstore.PubSub
}

var _ observer.SourceResolver = (*Redis)(nil)

func NewRedis(client *goredis.Client) *Redis {
	return &Redis{client: client, ps: redisstore.NewFromClient(client)}
}

// Resolve attaches the connection and the source matching h.Kind.
func (r *Redis) Resolve(ctx context.Context, h *channel.Handover) error {
	if h.ConnectionID == "" {
		return fmt.Errorf("bus.Redis.Resolve(%s): no connection: %w", h.Path, channel.ErrMalformedHandover)
	}

	n, err := r.client.Exists(ctx, SelfKey(h.ConnectionID)).Result()
	if err != nil {
		return fmt.Errorf("bus.Redis.Resolve(%s): %w", h.Path, err)
	}
	if n == 0 {
		return fmt.Errorf("bus.Redis.Resolve(%s): %q: %w", h.Path, h.ConnectionID, ErrUnknownConnection)
	}

	h.Connection = &connection{client: r.client, id: h.ConnectionID}
	switch h.Kind {
	case channel.KindText:
		h.Text = &textSource{r: r, path: h.Path}
	case channel.KindCall:
		h.Call = &callSource{r: r, path: h.Path}
	}
	return nil
}

type connection struct {
	client *goredis.Client
	id     string
}

func (c *connection) SelfContact(ctx context.Context) (channel.Contact, error) {
	raw, err := c.client.Get(ctx, SelfKey(c.id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return channel.Contact{}, fmt.Errorf("bus.connection.SelfContact(%s): %w", c.id, domain.ErrNotFound)
	}
	if err != nil {
		return channel.Contact{}, fmt.Errorf("bus.connection.SelfContact(%s): %w", c.id, err)
	}
	return decodeContact(raw)
}

func (c *connection) LookupContact(ctx context.Context, id string) (channel.Contact, error) {
	raw, err := c.client.HGet(ctx, ContactsKey(c.id), id).Bytes()
	if errors.Is(err, goredis.Nil) {
		return channel.Contact{}, fmt.Errorf("bus.connection.LookupContact(%s): %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return channel.Contact{}, fmt.Errorf("bus.connection.LookupContact(%s): %w", id, err)
	}
	return decodeContact(raw)
}

func decodeContact(raw []byte) (channel.Contact, error) {
	var c channel.Contact
	if err := json.Unmarshal(raw, &c); err != nil {
		return channel.Contact{}, fmt.Errorf("bus: decode contact: %w", err)
	}
	return c, nil
}

// subscribe decodes every payload of the channel's event stream into T.
func subscribe[T any](ctx context.Context, r *Redis, path string) (<-chan T, func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	raw, cleanup, err := r.ps.Subscribe(ctx, EventsChannel(path))
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("bus: subscribe %s: %w", path, err)
	}

	out := make(chan T, 16)
	go func() {
		defer close(out)
		for payload := range raw {
			var ev T
			if err := json.Unmarshal(payload, &ev); err != nil {
				log.Warn().Err(err).Str("channel", path).Msg("bus: undecodable event dropped")
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	stop := func() {
		cancel()
		cleanup()
	}
	return out, stop, nil
}

type textSource struct {
	r    *Redis
	path string
}

func (s *textSource) Subscribe(ctx context.Context) (<-chan channel.TextEvent, func(), error) {
	return subscribe[channel.TextEvent](ctx, s.r, s.path)
}

func (s *textSource) PendingMessages(ctx context.Context) ([]channel.Message, error) {
	all, err := s.r.client.HGetAll(ctx, PendingKey(s.path)).Result()
	if err != nil {
		return nil, fmt.Errorf("bus.textSource.PendingMessages(%s): %w", s.path, err)
	}

	out := make([]channel.Message, 0, len(all))
	for field, raw := range all {
		var m channel.Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			log.Warn().Err(err).Str("channel", s.path).Str("id", field).Msg("bus: undecodable pending message skipped")
			continue
		}
		if id, err := strconv.ParseUint(field, 10, 32); err == nil {
			m.ID = uint32(id)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *textSource) Acknowledge(ctx context.Context, ids ...uint32) error {
	if len(ids) == 0 {
		return nil
	}
	fields := make([]string, 0, len(ids))
	for _, id := range ids {
		fields = append(fields, strconv.FormatUint(uint64(id), 10))
	}
	if err := s.r.client.HDel(ctx, PendingKey(s.path), fields...).Err(); err != nil {
		return fmt.Errorf("bus.textSource.Acknowledge(%s): %w", s.path, err)
	}
	return nil
}

type callSource struct {
	r    *Redis
	path string
}

func (s *callSource) Members(ctx context.Context) ([]string, error) {
	ids, err := s.r.client.HKeys(ctx, MembersKey(s.path)).Result()
	if err != nil {
		return nil, fmt.Errorf("bus.callSource.Members(%s): %w", s.path, err)
	}
	return ids, nil
}

func (s *callSource) Subscribe(ctx context.Context) (<-chan channel.CallEvent, func(), error) {
	return subscribe[channel.CallEvent](ctx, s.r, s.path)
}
