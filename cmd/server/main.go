package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tetherchat/tether/internal/attach"
	"github.com/tetherchat/tether/internal/auth"
	"github.com/tetherchat/tether/internal/logging"
	"github.com/tetherchat/tether/internal/server"
	"github.com/tetherchat/tether/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		logging.New("info").Fatalw("loading configuration", "err", err)
	}
	server.SetConfig(cfg)

	log := logging.New(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := store.Connect(ctx, cfg.MongoURL, cfg.MongoDatabase)
	cancel()
	if err != nil {
		log.Fatalw("connecting to MongoDB", "err", err)
	}
	log.Infow("MongoDB connected", "database", cfg.MongoDatabase)

	users := store.NewUserStore(db)
	messages := store.NewMessageStore(db)
	if err := users.EnsureIndexes(context.Background()); err != nil {
		log.Warnw("creating indexes", "err", err)
	}

	blobs, err := attach.NewDirStore(cfg.UploadDir)
	if err != nil {
		log.Fatalw("preparing upload directory", "dir", cfg.UploadDir, "err", err)
	}

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	hub := server.NewHub(log)
	router := server.NewRouter(hub, messages, attach.NewMaterializer(blobs, log), log)
	gateway := server.NewGateway(hub, router, users, messages, tokens, blobs.Dir(), log)

	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(gateway))

	go hub.Run()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop

		log.Info("shutdown signal received")
		if err := server.ShutdownServer(httpServer, shutdownTimeout); err != nil {
			log.Warnw("HTTP shutdown", "err", err)
		}
		if err := hub.Shutdown(shutdownTimeout); err != nil {
			log.Warnw("hub shutdown", "err", err)
		}
	}()

	if err := server.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalw("server failed", "err", err)
	}
}
