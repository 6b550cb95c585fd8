package main

import (
	"context"
	"fmt"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/realtime"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/store"
)

const (
	tokenIssuer  = "roomchat"
	lastSeenTTL  = 30 * 24 * time.Hour
	startTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "roomchat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load() // load .env if present

	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel, cfg.Development)
	if err != nil {
		return errors.Wrap(err, "build logger")
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting RoomChat server...")

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	redisLastSeen, closeLastSeen, err := openLastSeen(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLastSeen()

	var (
		lastSeen store.LastSeen
		activity store.ActivityReader
	)
	if redisLastSeen != nil {
		lastSeen, activity = redisLastSeen, redisLastSeen
	}

	hub := realtime.NewHub(log)
	service := chat.NewService(st, lastSeen, hub, log)
	tokens := auth.NewTokens(auth.TokenConfig{Secret: cfg.JWTSecret, TTL: cfg.TokenTTL, Issuer: tokenIssuer})

	srv := server.New(cfg, server.Dependencies{
		Store:         st,
		Service:       service,
		Authenticator: auth.NewAuthenticator(tokens, st),
		Tokens:        tokens,
		Passwords:     auth.NewPasswordHasher(),
		Log:           log,
		Activity:      activity,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"roomchat": func(ctx context.Context) error {
			log.Info("Graceful shutdown initiated...")
			return srv.Shutdown(cfg.ShutdownTimeout)
		},
	})

	select {
	case err := <-errCh:
		return errors.Wrap(err, "serve")
	case exitCode := <-wait:
		if exitCode != 0 {
			return errors.Errorf("shutdown completed with exit code %d", exitCode)
		}
	}
	log.Info("Server stopped")
	return nil
}

// openStore connects to MongoDB when MONGO_URI is set and falls back to the
// in-memory store otherwise.
func openStore(ctx context.Context, cfg *server.Config, log *zap.SugaredLogger) (store.Store, func(), error) {
	if cfg.MongoURI == "" {
		log.Warn("MONGO_URI not set; using the in-memory store")
		return store.NewMemory(), func() {}, nil
	}

	client, err := store.NewMongoClient(ctx, cfg.MongoURI)
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect mongo")
	}
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			log.Warnf("Mongo disconnect failed: %v", err)
		}
	}

	st, err := store.NewMongo(ctx, client.Database(cfg.MongoDatabase), log)
	if err != nil {
		closeFn()
		return nil, nil, errors.Wrap(err, "prepare mongo")
	}
	log.Infof("Using MongoDB database %q", cfg.MongoDatabase)
	return st, closeFn, nil
}

// openLastSeen returns a Redis-backed activity recorder when REDIS_ADDR is
// set. Without one the chat service writes activity to the store.
func openLastSeen(ctx context.Context, cfg *server.Config, log *zap.SugaredLogger) (*store.RedisLastSeen, func(), error) {
	if cfg.RedisAddr == "" {
		return nil, func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, errors.Wrap(err, "connect redis")
	}
	log.Infof("Recording last-seen activity in Redis at %s", cfg.RedisAddr)
	return store.NewRedisLastSeen(rdb, tokenIssuer, lastSeenTTL), func() { _ = rdb.Close() }, nil
}
