package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tetherchat/tether/internal/auth"
	"github.com/tetherchat/tether/internal/config"
	"github.com/tetherchat/tether/internal/data"
	"github.com/tetherchat/tether/internal/db"
	"github.com/tetherchat/tether/internal/ratelimit"
	"github.com/tetherchat/tether/pkg/logger"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		fallback := logger.Init(logger.Options{})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.Init(logger.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	if cfg.JWTKeys == "" && cfg.JWTSecret == "" {
		log.Fatal().Msg("either JWT_SECRET or JWT_KEYS must be set")
	}

	// Connect to the backing store and make sure the indexes behind the
	// login lookup and the history queries exist.
	dbClient, err := db.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to DB")
	}
	defer func() {
		_ = dbClient.Close(context.Background())
	}()

	if err := dbClient.CreateIndexes(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to create indexes")
	}

	usersStore := data.NewUsersStore(dbClient.UsersCollection())
	msgsStore := data.NewMessagesStore(dbClient.MessagesCollection())

	// Resume-token manager. If JWT_KEYS is supplied we parse kid:secret
	// pairs so token rotation is possible; otherwise fall back to the
	// single JWT_SECRET value.
	var tokens *auth.TokenManager
	if cfg.JWTKeys != "" {
		keyMap := map[string]string{}
		for _, p := range strings.Split(cfg.JWTKeys, ",") {
			if p == "" {
				continue
			}
			parts := strings.SplitN(p, ":", 2)
			if len(parts) != 2 {
				log.Fatal().Str("entry", p).Msg("invalid JWT_KEYS entry")
			}
			keyMap[parts[0]] = parts[1]
		}
		tokens = auth.NewTokenManagerFromKeys(keyMap, cfg.JWTActiveKid, cfg.TokenTTL)
	} else {
		tokens = auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	}

	// Limiter for credential-bearing events (small burst to allow a couple
	// of quick retries).
	limiter := ratelimit.NewStore(cfg.AuthRateRPM, 3, 1*time.Minute)
	defer limiter.Stop()

	hub := NewHub()
	srv := newServer(usersStore, msgsStore, tokens, hub, limiter, log)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.routes(dbClient.Ping),
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("chat server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server exit")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down chat server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown did not complete cleanly")
	}
}
