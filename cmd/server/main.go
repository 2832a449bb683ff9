package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"docuchat/internal/app"
	"docuchat/internal/config"
	"docuchat/internal/ratelimit"
	"docuchat/internal/server"
	"docuchat/internal/usertoken"
	"docuchat/internal/util"
	"docuchat/internal/worker"
	"docuchat/pkg/ai"
	"docuchat/pkg/queue"
	"docuchat/pkg/storage"
	"docuchat/pkg/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)

	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		Secret:   cfg.Auth.TokenSecret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	})
	if err != nil {
		util.Fatal("failed to init token verifier", "err", err)
	}

	dataStore, err := store.NewGormStore(cfg.DatabaseURL, store.WithEmbeddingDim(ai.EmbeddingDim))
	if err != nil {
		util.Fatal("failed to init postgres store", "err", err)
	}

	objects, err := storage.NewMinioStore(
		cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.Bucket, cfg.Minio.UseSSL,
	)
	if err != nil {
		util.Fatal("failed to init object storage", "err", err)
	}

	jobQueue, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		Stream:   cfg.Queue.Stream,
		Group:    cfg.Queue.Group,
		Consumer: util.NewID(),
	})
	if err != nil {
		util.Fatal("failed to init job queue", "err", err)
	}

	chatLimiter, err := ratelimit.NewRedisFixedWindowLimiter(
		cfg.Redis.Addr, cfg.Redis.Password, "", cfg.RateLimit.Limit, cfg.RateLimitWindow(),
	)
	if err != nil {
		util.Fatal("failed to init rate limiter", "err", err)
	}
	trustedProxies, err := util.NewTrustedProxies(cfg.RateLimit.TrustedProxies)
	if err != nil {
		util.Fatal("failed to parse trusted proxies", "err", err)
	}

	router := ai.NewRouter(ai.RouterConfig{
		OpenAIAPIKey:      cfg.Providers.OpenAIAPIKey,
		OpenAIBaseURL:     cfg.Providers.OpenAIBaseURL,
		OpenRouterAPIKey:  cfg.Providers.OpenRouterAPIKey,
		OpenRouterBaseURL: cfg.Providers.OpenRouterBaseURL,
		AppURL:            cfg.Providers.AppURL,
		AppName:           cfg.Providers.AppName,
		OllamaBaseURL:     cfg.Providers.OllamaBaseURL,
	})
	embedder := ai.NewOllamaEmbedder(
		ai.NewOllamaClient(cfg.Providers.OllamaBaseURL),
		cfg.Providers.EmbeddingModel,
	)

	appCore := app.New(dataStore, objects, jobQueue, embedder, router)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	docWorker := worker.New(dataStore, objects, embedder, 0)
	docWorker.Start(rootCtx, jobQueue, cfg.Queue.Concurrency)

	httpServer := server.New(server.Config{
		App:            appCore,
		TokenVerifier:  tokenVerifier,
		ChatLimiter:    chatLimiter,
		TrustedProxies: trustedProxies,
		MaxUploadBytes: cfg.MaxUploadBytes(),
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 30 * time.Second,
		// Streaming completions may run for minutes on local inference.
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-rootCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("docuchat server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
