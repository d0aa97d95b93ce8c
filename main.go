package main

import (
	"chatcord-backend/internal/calls"
	"chatcord-backend/internal/config"
	"chatcord-backend/internal/database"
	"chatcord-backend/internal/handlers"
	"chatcord-backend/internal/hub"
	"chatcord-backend/internal/jwt"
	"chatcord-backend/internal/keyValue"
	"chatcord-backend/internal/models"
	"chatcord-backend/internal/presence"
	"chatcord-backend/internal/snowflake"
	"chatcord-backend/internal/store"
	"chatcord-backend/internal/webhook"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupLogger(cfg *models.ConfigFile) (*zap.SugaredLogger, error) {
	config := zap.NewProductionConfig()
	if cfg.LogToFile {
		config.OutputPaths = []string{"app.log", "stdout"}
	}

	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	config.Level = level

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

func setupRedis(cfg *models.ConfigFile) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := rdb.Ping(ctx).Err()
	if err != nil {
		return nil, err
	}
	return rdb, nil
}

func main() {
	fmt.Println("Reading config file...")
	cfg, err := config.Load("config.json")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	fmt.Println("Setting up logger...")
	sugar, err := setupLogger(cfg)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer sugar.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sugar.Info("Connecting to database...")
	db, err := database.Setup(cfg, sugar)
	if err != nil {
		sugar.Fatal(err)
	}
	defer db.Close()

	var redisClient *redis.Client
	if !cfg.SelfContained {
		sugar.Info("Connecting to redis...")
		redisClient, err = setupRedis(cfg)
		if err != nil {
			sugar.Fatal(err)
		}
		defer redisClient.Close()
	}

	ids, err := snowflake.New(cfg.SnowflakeWorkerID)
	if err != nil {
		sugar.Fatal(err)
	}

	st := store.New(db, ids, cfg.SelfContained)

	kv := keyValue.New(sugar, redisClient)
	go kv.Run(ctx)

	var status *presence.Service
	chatHub := hub.New(sugar, redisClient, hub.Options{
		AllowAnyOrigin: cfg.Cors,
		OnConnect:      func(userID string) { status.Connected(userID) },
		OnDisconnect:   func(userID string) { status.Disconnected(userID) },
		OnHeartbeat:    func(userID string) { status.Heartbeat(userID) },
	})
	status = presence.New(sugar, st, chatHub, cfg.PresenceTTL)

	go func() {
		if err := chatHub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			sugar.Error(err)
		}
	}()

	if err := status.Start(); err != nil {
		sugar.Fatal(err)
	}
	defer status.Stop()

	auth, err := jwt.NewVerifier(cfg.AuthSecret, cfg.AuthPublicKey)
	if err != nil {
		sugar.Fatal(err)
	}

	var webhooks *webhook.Verifier
	if cfg.WebhookSecret != "" {
		webhooks, err = webhook.NewVerifier(cfg.WebhookSecret)
		if err != nil {
			sugar.Fatal(err)
		}
	} else {
		sugar.Warn("No webhook secret is set, users won't be synced")
	}

	var callProvider calls.Provider
	if lk := calls.NewLiveKit(cfg); lk != nil {
		callProvider = lk
	} else {
		sugar.Info("LiveKit isn't configured, calls are disabled")
	}

	h, err := handlers.New(handlers.Deps{
		Config:   cfg,
		Sugar:    sugar,
		Store:    st,
		KV:       kv,
		Hub:      chatHub,
		Presence: status,
		Auth:     auth,
		Webhooks: webhooks,
		Calls:    callProvider,
		IDs:      ids,
	})
	if err != nil {
		sugar.Fatal(err)
	}

	isHttps := cfg.TlsCert != "" && cfg.TlsKey != ""
	httpProtocol := "http"
	if isHttps {
		httpProtocol = "https"
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Address, cfg.Port),
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sugar.Infof("Server is running on %s://%s", httpProtocol, server.Addr)

		var err error
		if isHttps {
			err = server.ListenAndServeTLS(cfg.TlsCert, cfg.TlsKey)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Error(err)
			stop()
		}
	}()

	<-ctx.Done()
	sugar.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// websockets are hijacked, so Shutdown doesn't wait for them
	chatHub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Error(err)
	}
}
