package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ethaniconic/Swalambh-mvp/internal/app/migrate"
	httpx "github.com/Ethaniconic/Swalambh-mvp/internal/http"
	"github.com/Ethaniconic/Swalambh-mvp/internal/repository"
	"github.com/Ethaniconic/Swalambh-mvp/internal/repository/postgres"
	"github.com/Ethaniconic/Swalambh-mvp/internal/repository/resettokens"
	"github.com/Ethaniconic/Swalambh-mvp/internal/service/analyze"
	"github.com/Ethaniconic/Swalambh-mvp/internal/service/auth"
	"github.com/Ethaniconic/Swalambh-mvp/internal/service/triage"
	"github.com/Ethaniconic/Swalambh-mvp/internal/storage"
	"github.com/Ethaniconic/Swalambh-mvp/pkg/config"
	"github.com/Ethaniconic/Swalambh-mvp/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", slog.LevelInfo)

	// A server with no signing secret must never come up.
	if strings.TrimSpace(cfg.SecretKey) == "" {
		log.Error("SECRET_KEY is not set; add it to .env or the environment")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)

	var resets repository.ResetTokenRepository
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisStore, err := resettokens.NewRedisStore(addr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Error("redis reset store unavailable", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		resets = redisStore
	} else {
		memStore := resettokens.NewMemoryStore()
		defer memStore.Close()
		resets = memStore
		log.Warn("REDIS_ADDR not set, reset tokens kept in process memory")
	}

	uploads, err := storage.NewDir(cfg.UploadDir)
	if err != nil {
		log.Error("failed to prepare upload directory", "error", err)
		os.Exit(1)
	}

	authSvc := auth.New(repo, resets, log, cfg)
	triageSvc := triage.New(repo, uploads, log)
	analyzeSvc := analyze.New(log, cfg)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, authSvc, triageSvc, analyzeSvc, limiter, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
