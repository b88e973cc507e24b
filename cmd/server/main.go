package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/pointroom/pointroom/internal/config"
	"github.com/pointroom/pointroom/internal/gateway"
	"github.com/pointroom/pointroom/internal/room"
	"github.com/pointroom/pointroom/internal/roomid"
	"github.com/pointroom/pointroom/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := newStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up storage")
	}
	defer store.Close()

	var mirror *gateway.Mirror
	if cfg.NATSURL != "" {
		mirror, err = gateway.NewMirror(cfg.NATSURL, "room.updates")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect update mirror")
		}
		defer mirror.Close()
	}

	gwCfg := gateway.DefaultConfig()
	gwCfg.RateLimit = cfg.RateLimit
	gwCfg.EvictTTL = cfg.EvictTTL
	gwCfg.PingInterval = cfg.PingInterval

	opts := room.Options{
		BroadcastDelay:  cfg.BroadcastDelay,
		AutoRevealDelay: cfg.AutoRevealDelay,
	}

	gw := gateway.New(store, clockwork.NewRealClock(), gwCfg, opts, mirror)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.HandleRoomSocket)
	mux.HandleFunc("/rooms/new", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"room_id":%q}`, roomid.New())
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: cors.Default().Handler(mux),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		gw.Run(ctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server exited with error")
	}
	log.Info().Msg("server stopped")
}

func newStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "memory", "":
		return storage.NewMemoryStore(), nil
	case "postgres":
		return storage.NewPostgresStore(ctx, cfg.Storage.PostgresDSN)
	case "redis":
		return storage.NewRedisStore(ctx, cfg.Storage.RedisAddr, cfg.Storage.RedisPass, cfg.Storage.RedisDB)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
