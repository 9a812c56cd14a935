package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/chatlog/internal/bus"
	"github.com/gosuda/chatlog/internal/config"
	"github.com/gosuda/chatlog/internal/favourite"
	"github.com/gosuda/chatlog/internal/logmanager"
	"github.com/gosuda/chatlog/internal/observer"
	"github.com/gosuda/chatlog/internal/query"
	"github.com/gosuda/chatlog/internal/server"
	"github.com/gosuda/chatlog/internal/store"
	"github.com/gosuda/chatlog/internal/store/file"
	"github.com/gosuda/chatlog/internal/store/memory"
	"github.com/gosuda/chatlog/internal/store/postgres"
	redisstore "github.com/gosuda/chatlog/internal/store/redis"
	"github.com/gosuda/chatlog/internal/store/sqlite"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Log handed-over channels and serve the history API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var (
		pubsub *redisstore.PubSub
		client *goredis.Client
	)
	if cfg.NeedsRedis() {
		ps, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer ps.Close()
		pubsub, client = ps, ps.Client()
	}

	manager, closeStores := buildManager(ctx, cfg, client)
	defer closeStores()

	// Loggers write through a single ordered queue.
	queue := logmanager.NewQueue(manager, cfg.QueueSize)
	defer queue.Close()

	obs := observer.New(ctx, queue)
	defer obs.Close()

	if cfg.Bus.Enabled {
		sub, err := bus.NewHandoverSubscriber(client, cfg.Bus.Group, cfg.Bus.Consumer, bus.NewWatermillLogger(log.Logger))
		if err != nil {
			return err
		}
		defer sub.Close()

		go func() {
			log.Info().Str("topic", cfg.Bus.Topic).Msg("consuming channel handovers")
			if err := obs.Consume(ctx, sub, cfg.Bus.Topic, bus.NewRedis(client)); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("handover consumer stopped")
			}
		}()
	}

	deps := server.Deps{
		History:    query.NewService(manager),
		Clearer:    manager,
		Favourites: favourite.Open(ctx, cfg.FavouritesFile),
	}
	if pubsub != nil {
		deps.Live = pubsub
	}
	srv := server.New(ctx, cfg, deps)

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		if err := srv.Start(ctx); err != nil {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	log.Info().Msg("stopped")
	return nil
}

// buildManager registers every configured backend that can be built. The
// returned func closes the stores holding connections or files.
func buildManager(ctx context.Context, cfg *config.Config, client *goredis.Client) (*logmanager.Manager, func()) {
	reg := store.NewRegistry()
	reg.Register(store.KindFile, file.Factory(cfg.DataDir, cfg.RecentWindow))
	reg.Register(store.KindSQLite, sqlite.Factory(cfg.DataDir, cfg.RecentWindow))
	reg.Register(store.KindMemory, memory.Factory(cfg.RecentWindow))
	reg.Register(store.KindPostgres, postgres.Factory(cfg.Database.DSN(), int32(cfg.Database.MaxConns), cfg.RecentWindow)) //nolint:gosec // bounds checked by config
	if client != nil {
		reg.Register(store.KindRedis, redisstore.Factory(client, cfg.RecentWindow, cfg.Redis.TTL))
	}

	manager := logmanager.New(logmanager.WithEnabled(cfg.Enabled))
	var closers []func()
	var readable, writable int

	for _, spec := range cfg.Backends {
		s, err := reg.Build(ctx, spec)
		if err != nil {
			log.Error().Err(err).Str("backend", spec.String()).Strs("available", kinds(reg)).Msg("backend skipped")
			continue
		}
		manager.Register(s)
		log.Info().Str("backend", spec.String()).Msg("backend registered")

		if s.Readable() {
			readable++
		}
		if s.Writable() {
			writable++
		}
		switch c := s.(type) {
		case interface{ Close() error }:
			closers = append(closers, func() { _ = c.Close() })
		case interface{ Close() }:
			closers = append(closers, c.Close)
		}
	}

	if writable == 0 {
		log.Warn().Msg("no writable backend registered; nothing will be logged")
	}
	if readable == 0 {
		log.Warn().Msg("no readable backend registered; queries will return empty results")
	}

	return manager, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
}

func kinds(reg *store.Registry) []string {
	available := reg.Available()
	out := make([]string, 0, len(available))
	for _, k := range available {
		out = append(out, string(k))
	}
	return out
}
