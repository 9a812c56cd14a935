package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/chatlog/internal/auth"
	"github.com/gosuda/chatlog/internal/config"
	"github.com/gosuda/chatlog/internal/favourite"
	"github.com/gosuda/chatlog/internal/logmanager"
	"github.com/gosuda/chatlog/internal/query"
	"github.com/gosuda/chatlog/internal/server"
)

const secret = "server-test-secret-at-least-32-chars!"

func newServer(t *testing.T, jwtSecret string) http.Handler {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &config.Config{
		JWT: config.JWTConfig{Secret: jwtSecret, TTL: time.Hour},
		Server: config.ServerConfig{
			Addr:           "127.0.0.1:0",
			ReadTimeout:    time.Second,
			WriteTimeout:   time.Second,
			CORSOrigins:    []string{"http://localhost:5173"},
			RateLimitRPS:   1000,
			RateLimitBurst: 1000,
		},
	}
	m := logmanager.New()
	deps := server.Deps{
		History:    query.NewService(m),
		Clearer:    m,
		Favourites: favourite.Open(ctx, filepath.Join(t.TempDir(), favourite.FileName)),
	}
	return server.New(ctx, cfg, deps).Handler()
}

func get(h http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := get(newServer(t, secret), "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_AuthEnabled(t *testing.T) {
	t.Parallel()

	h := newServer(t, secret)
	token, err := auth.IssueToken(secret, "reader", []string{"acc"}, false, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, get(h, "/api/v1/chats?account=acc", "").Code)
	assert.Equal(t, http.StatusOK, get(h, "/api/v1/chats?account=acc", token).Code)
	assert.Equal(t, http.StatusForbidden, get(h, "/api/v1/chats?account=other", token).Code)
}

func TestServer_AuthDisabled(t *testing.T) {
	t.Parallel()

	h := newServer(t, "")

	rec := get(h, "/api/v1/history/dates?account=acc&chat_id=bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	assert.Equal(t, http.StatusOK, get(h, "/api/v1/favourites", "").Code)
}

func TestServer_NoLiveFeed(t *testing.T) {
	t.Parallel()

	rec := get(newServer(t, ""), "/ws/chat?account=acc&chat_id=bob", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
