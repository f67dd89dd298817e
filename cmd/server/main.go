// Package main - BeWo Chat application entry point
// Hexagonal wiring: config -> adapters -> core services -> HTTP
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"bewo-chat/internal/adapters/gateway"
	"bewo-chat/internal/adapters/handler"
	"bewo-chat/internal/adapters/lock"
	"bewo-chat/internal/adapters/metrics"
	"bewo-chat/internal/adapters/repository"
	"bewo-chat/internal/adapters/websocket"
	"bewo-chat/internal/config"
	"bewo-chat/internal/core/ports"
	"bewo-chat/internal/core/services"
)

const version = "1.0.0"

// store bundles the persistence ports one driver provides
type store interface {
	ports.ConversationStore
	ports.ScenarioStore
	ports.WebhookRepository
	ports.DeliveryRepository
	ports.UsageRepository
}

func main() {
	fmt.Println("=== BeWo Chat - Omnichannel Bot Initialization ===")

	// 1. Load Configuration from Environment
	fmt.Println("[1/7] Loading configuration...")
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	hub := websocket.NewEventHub(cfg.App.AdminKey)
	setupLogger(cfg.App, hub)
	fmt.Printf("✓ Config loaded (storage: %s, redis: %q, llm key: %t)\n",
		cfg.DB.Driver, cfg.Redis.Addr, cfg.LLM.HasLLMKey())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Storage
	fmt.Println("[2/7] Initializing storage...")
	health := map[string]handler.HealthCheck{}
	var st store
	switch cfg.DB.Driver {
	case config.StorageMariaDB:
		db := connectMariaDB(cfg.DB, 5, 2*time.Second)
		defer db.Close()
		repo := repository.NewMariaDBRepository(db)
		if cfg.DB.AutoMigrate {
			if err := repo.Migrate(ctx); err != nil {
				log.Fatalf("❌ Failed to migrate schema: %v", err)
			}
		}
		health["mariadb"] = repo.Ping
		st = repo
		fmt.Println("✓ MariaDB connection established")
	default:
		st = repository.NewMemoryStore()
		fmt.Println("✓ In-memory store ready (data is lost on restart)")
	}

	// 3. Dedup + per-conversation locking
	fmt.Println("[3/7] Initializing dedup and locks...")
	var (
		dedup  ports.DedupRepository
		locker ports.ConversationLocker
	)
	if cfg.Redis.Addr != "" {
		rdb := connectRedis(cfg.Redis, 5, 2*time.Second)
		defer rdb.Close()
		dedup = repository.NewRedisRepository(rdb)
		locker = lock.NewRedisLocker(rdb, lock.DefaultLockExpiry)
		health["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		fmt.Println("✓ Redis connection established")
	} else {
		memDedup, err := repository.NewMemoryDedup(repository.DefaultDedupCapacity)
		if err != nil {
			log.Fatalf("❌ Failed to create dedup cache: %v", err)
		}
		dedup = memDedup
		locker = lock.NewLocalLocker()
		fmt.Println("✓ In-process dedup and locks (single instance only)")
	}

	// 4. Outbound gateways
	fmt.Println("[4/7] Initializing gateways...")
	llm := gateway.NewLLMGateway(gateway.LLMGatewayConfig{
		Providers:       llmProviders(cfg.LLM),
		DefaultModel:    cfg.LLM.Model,
		Timeout:         cfg.LLM.Timeout,
		BreakerFailures: cfg.LLM.BreakerFailures,
		BreakerCooldown: cfg.LLM.BreakerCooldown,
	})
	if !llm.Configured() {
		slog.Warn("No LLM API key configured; LLM branches will answer with the fallback text")
	}

	var senders []ports.ChannelSender
	if cfg.Facebook.Enabled {
		senders = append(senders, gateway.NewFacebookClient(gateway.FacebookClientConfig{
			APIVersion:      cfg.Facebook.GraphVersion,
			PageAccessToken: cfg.Facebook.PageAccessToken,
		}))
	}
	if cfg.Zalo.Enabled {
		senders = append(senders, gateway.NewZaloClient(gateway.ZaloClientConfig{
			AppID:        cfg.Zalo.AppID,
			SecretKey:    cfg.Zalo.SecretKey,
			RefreshToken: cfg.Zalo.RefreshToken,
		}))
	}
	fmt.Printf("✓ Gateways initialized (%d providers, %d channel senders)\n", len(cfg.LLM.Providers), len(senders))

	// 5. Core services
	fmt.Println("[5/7] Initializing services...")
	llmSwitch := services.NewLLMSwitch()
	if !cfg.LLM.Enabled {
		llmSwitch.Disable("LLM_ENABLED=false at startup", "config")
	}
	scenarios := repository.NewCachedScenarioStore(st, cfg.ScenarioCacheTTL)

	orchestrator := services.NewOrchestrator(services.OrchestratorDeps{
		Conversations: st,
		Scenarios:     scenarios,
		LLM:           llm,
		Locker:        locker,
		Functions:     services.NewDefaultFunctionRegistry(st),
		Switch:        llmSwitch,
		Events:        hub,
		Usage:         st,
	}, services.OrchestratorConfig{
		Model:               cfg.LLM.Model,
		MaxTokens:           cfg.LLM.MaxTokens,
		Temperature:         cfg.LLM.Temperature,
		GeneralSystemPrompt: cfg.LLM.GeneralPrompt,
		FallbackText:        cfg.LLM.FallbackText,
		HistoryLimit:        cfg.LLM.HistoryLimit,
		LLMTimeout:          cfg.LLM.Timeout,
		InputCostPer1K:      cfg.LLM.InputCostPer1K,
		OutputCostPer1K:     cfg.LLM.OutputCostPer1K,
	})

	deliverer := services.NewDeliverer(st, hub, services.DeliveryConfig{
		MaxAttempts:     cfg.Delivery.MaxAttempts,
		InitialInterval: cfg.Delivery.InitialInterval,
		MaxInterval:     cfg.Delivery.MaxInterval,
		MaxElapsed:      cfg.Delivery.MaxElapsed,
	}, senders...)

	dispatcher := services.NewDispatcher(orchestrator, st, dedup, deliverer, cfg.DedupTTL)
	admin := services.NewAdminService(st, scenarios, st, deliverer, hub)

	watchdog := services.NewWatchdog(st, services.WatchdogConfig{
		Interval:      cfg.Watchdog.Interval,
		DiskPath:      cfg.Watchdog.DiskPath,
		DiskThreshold: cfg.Watchdog.DiskThreshold,
		Retention:     time.Duration(cfg.Watchdog.RetentionDays) * 24 * time.Hour,
	}, services.GopsutilDiskUsage)
	fmt.Println("✓ Services initialized")

	// 6. HTTP handlers
	fmt.Println("[6/7] Initializing HTTP handlers...")
	webhookHandler := handler.NewWebhookHandler(dispatcher, handler.WebhookConfig{
		FacebookAppSecret:   cfg.Facebook.AppSecret,
		FacebookVerifyToken: cfg.Facebook.VerifyToken,
		ZaloSecretKey:       cfg.Zalo.SecretKey,
		ProcessTimeout:      cfg.App.RequestTimeout,
	})
	dashboardHandler := handler.NewDashboardHandler(admin, dispatcher, llmSwitch, handler.DashboardConfig{
		Version:           version,
		DiskPath:          cfg.Watchdog.DiskPath,
		WatchdogThreshold: watchdog.Threshold(),
		Health:            health,
		LLMConfigured:     llm.Configured(),
		EventClients:      hub.ClientCount,
	})
	router := newRouter(cfg, webhookHandler, dashboardHandler, hub)
	fmt.Println("✓ Handlers initialized")

	// 7. Background workers + HTTP server
	fmt.Println("[7/7] Starting background workers...")
	go hub.Run(ctx)
	go watchdog.Run(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		fmt.Printf("[HTTP] Server listening on %s\n", srv.Addr)
		fmt.Println("[READY] Press Ctrl+C to stop")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutdown signal received, draining...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	if err := deliverer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Pending deliveries did not finish before shutdown", "error", err)
	}
	slog.Info("Bye")
}

func newRouter(cfg *config.Config, webhooks *handler.WebhookHandler, dashboard *handler.DashboardHandler, hub *websocket.EventHub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Web.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Admin-Key"},
		MaxAge:         300,
	}))

	// Health check endpoint
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"code":200,"message":"BeWo Chat is running","data":null}`)
	})
	r.Handle("/metrics", metrics.Handler())

	r.Get("/webhook/facebook", webhooks.HandleFacebookVerify)
	r.Post("/webhook/facebook", webhooks.HandleFacebookEvent)
	r.Post("/webhook/zalo", webhooks.HandleZaloEvent)
	r.Post("/widget/chat", webhooks.HandleWebChat)

	r.Get("/ws/events", hub.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(handler.AdminAuth(cfg.App.AdminKey))
		dashboard.Routes(r)
	})
	return r
}

// setupLogger installs the process-wide slog handler
func setupLogger(app config.AppConfig, hub *websocket.EventHub) {
	level, _ := config.ParseLogLevel(app.LogLevel)
	var out io.Writer = os.Stdout
	if app.MirrorLogs {
		out = io.MultiWriter(os.Stdout, hub)
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewJSONHandler(out, opts)
	if app.LogFormat == "text" {
		h = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(h))
}

func llmProviders(cfg config.LLMConfig) []gateway.LLMProvider {
	var providers []gateway.LLMProvider
	for _, name := range cfg.Providers {
		switch name {
		case "openrouter":
			providers = append(providers, gateway.LLMProvider{Name: name, BaseURL: cfg.OpenRouterBaseURL, APIKey: cfg.OpenRouterAPIKey})
		case "openai":
			providers = append(providers, gateway.LLMProvider{Name: name, BaseURL: cfg.OpenAIBaseURL, APIKey: cfg.OpenAIAPIKey})
		default:
			slog.Warn("Unknown LLM provider in LLM_PROVIDERS, ignoring", "provider", name)
		}
	}
	return providers
}

// connectMariaDB attempts to connect to MariaDB with retry logic
// Retries are necessary because Docker containers may still be initializing
func connectMariaDB(cfg config.DBConfig, maxRetries int, retryDelay time.Duration) *sql.DB {
	dsn := cfg.GetDSN()

	var db *sql.DB
	var err error

	for i := 1; i <= maxRetries; i++ {
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			log.Printf("  Attempt %d/%d: Failed to configure DB driver: %v", i, maxRetries, err)
			time.Sleep(retryDelay)
			continue
		}
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnLifetime)

		if err = db.Ping(); err == nil {
			return db
		}

		log.Printf("  Attempt %d/%d: Cannot ping MariaDB: %v", i, maxRetries, err)
		db.Close()

		if i < maxRetries {
			time.Sleep(retryDelay)
		}
	}

	log.Fatalf("❌ Cannot connect to MariaDB after %d attempts: %v", maxRetries, err)
	return nil // unreachable
}

// connectRedis attempts to connect to Redis with retry logic
func connectRedis(cfg config.RedisConfig, maxRetries int, retryDelay time.Duration) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx := context.Background()
	var err error

	for i := 1; i <= maxRetries; i++ {
		if err = rdb.Ping(ctx).Err(); err == nil {
			return rdb
		}

		log.Printf("  Attempt %d/%d: Cannot ping Redis: %v", i, maxRetries, err)

		if i < maxRetries {
			time.Sleep(retryDelay)
		}
	}

	log.Fatalf("❌ Cannot connect to Redis after %d attempts: %v", maxRetries, err)
	return nil // unreachable
}
