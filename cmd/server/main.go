package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/llm-gateway/internal/api"
	customMiddleware "github.com/Rrens/llm-gateway/internal/api/middleware"
	"github.com/Rrens/llm-gateway/internal/audit"
	"github.com/Rrens/llm-gateway/internal/config"
	"github.com/Rrens/llm-gateway/internal/domain"
	"github.com/Rrens/llm-gateway/internal/llm"
	"github.com/Rrens/llm-gateway/internal/logging"
	"github.com/Rrens/llm-gateway/internal/repository/postgres"
	"github.com/Rrens/llm-gateway/internal/repository/redis"
	"github.com/Rrens/llm-gateway/internal/repository/sqlite"
	"github.com/Rrens/llm-gateway/internal/security"
	"github.com/Rrens/llm-gateway/internal/service"
)

func main() {
	// Load .env file - try multiple locations
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			fmt.Printf("Loaded .env from: %s\n", p)
			break
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Setup(cfg.Logging)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("addr", cfg.Server.Addr()).
		Str("backend", cfg.Backend.URL).
		Str("driver", cfg.Database.Driver).
		Msg("Starting LLM gateway")

	auditWriter, err := logging.AuditWriter(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audit log")
	}
	sink := audit.NewSink(auditWriter, cfg.Gateway.LogRequests)

	ctx := context.Background()

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open conversation store")
	}
	defer store.Close()

	if _, err := store.ResolveOrCreateUser(ctx, cfg.Gateway.DefaultUser); err != nil {
		log.Fatal().Err(err).Msg("Failed to provision default user")
	}

	backend := llm.NewClient(cfg.Backend)

	var (
		modelsCache service.ModelsCache
		limiter     customMiddleware.Limiter
	)
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()

		modelsCache = redis.NewModelsCache(redisClient, cfg.Cache.ModelsTTL)
		if cfg.Security.RateLimit.Enabled {
			limiter = redis.NewRateLimiter(
				redisClient,
				cfg.Security.RateLimit.RequestsPerMinute,
				cfg.Security.RateLimit.Burst,
			)
		}
	} else if cfg.Security.RateLimit.Enabled {
		log.Warn().Msg("Rate limiting requires Redis; continuing without it")
	}

	backendService := service.NewBackendService(backend, modelsCache, store)

	router := api.NewRouter(api.Dependencies{
		Guard:             security.NewGuard(cfg.Gateway.APIKey, security.ParseAllowList(cfg.Gateway.AllowedIPList()), sink),
		Audit:             sink,
		Completions:       service.NewCompletionService(store, backend, sink, cfg.Gateway),
		Sessions:          service.NewSessionService(store, cfg.Gateway),
		Models:            backendService,
		Health:            backendService,
		RateLimiter:       limiter,
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// openStore opens the conversation store selected by cfg.Driver
func openStore(ctx context.Context, cfg config.DatabaseConfig) (domain.ConversationStore, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		if cfg.AutoMigrate {
			if err := postgres.RunMigrations(cfg.DSN()); err != nil {
				return nil, err
			}
		}

		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		db, err := postgres.NewDB(connectCtx, cfg)
		if err != nil {
			return nil, err
		}
		return postgres.NewStore(db), nil

	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
