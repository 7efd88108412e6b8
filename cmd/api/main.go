package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"authgrid.org/internal/automation"
	"authgrid.org/internal/bus"
	"authgrid.org/internal/config"
	"authgrid.org/internal/entity"
	"authgrid.org/internal/events"
	"authgrid.org/internal/httpapi"
	"authgrid.org/internal/ledger"
	"authgrid.org/internal/obs"
	"authgrid.org/internal/rbac"
	pgstore "authgrid.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("AUTHGRID_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Stores: Postgres when a DSN is configured, in-memory otherwise.
	var (
		db          *sql.DB
		ledgerStore ledger.Store
		entityStore entity.Store
		rbacStore   rbac.Store
		eventStore  events.Store
		entityOpts  []entity.Option
		rbacOpts    []rbac.Option
	)
	if cfg.DatabaseURL != "" {
		store, err := pgstore.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		defer store.Close()
		db = store.DB()
		ledgerStore = store.Ledger()
		entityStore = store.Entities()
		rbacStore = store.RBAC()
		eventStore = store.Events()
		entityOpts = append(entityOpts, entity.WithTxRunner(store))
		rbacOpts = append(rbacOpts, rbac.WithTxRunner(store))
	} else {
		ledgerStore = ledger.NewInMemory()
		entityStore = entity.NewInMemory()
		rbacStore = rbac.NewInMemory()
		eventStore = events.NewInMemory()
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
		rbacOpts = append(rbacOpts, rbac.WithCache(rbac.NewCache(rdb, ttl)))
	}

	audit, err := ledger.NewService(ledgerStore)
	if err != nil {
		log.Fatalf("ledger service: %v", err)
	}

	eventBus := bus.New()
	dispatcher, err := events.NewDispatcher(eventStore, eventBus, events.WithAttempts(cfg.DeliveryAttempts))
	if err != nil {
		log.Fatalf("event dispatcher: %v", err)
	}

	entityOpts = append(entityOpts, entity.WithEventSink(dispatcher))
	entities, err := entity.NewService(entityStore, audit, entityOpts...)
	if err != nil {
		log.Fatalf("entity service: %v", err)
	}

	rbacOpts = append(rbacOpts, rbac.WithEventSink(dispatcher))
	rbacSvc, err := rbac.NewService(rbacStore, entities, audit, rbacOpts...)
	if err != nil {
		log.Fatalf("rbac service: %v", err)
	}

	baseline := cfg.BaselinePermissions
	if len(baseline) == 0 {
		baseline = rbac.BaselineActions()
	}
	if err := rbacSvc.EnsureBaseline(ctx, baseline); err != nil {
		log.Fatalf("seed permissions: %v", err)
	}
	if err := rbacSvc.EnsureSystemRoles(ctx, rbac.SystemRoles()); err != nil {
		log.Fatalf("seed system roles: %v", err)
	}

	// Automation consumes the same bus the dispatcher publishes to.
	router := automation.NewRouter(automation.Routes(entities, rbacSvc))
	if !cfg.AutomationEnabled {
		router.Disable()
	}
	autoSub, autoCancel := eventBus.Subscribe(64)
	defer autoCancel()
	go router.Run(ctx, autoSub)

	api := httpapi.New(httpapi.Deps{
		Entities: entities,
		RBAC:     rbacSvc,
		Audit:    audit,
		Events:   dispatcher,
		Ready:    httpapi.ReadyProbe{DB: db},
	}, httpapi.Config{
		Version:        version,
		JWTSecret:      cfg.JWTSecret,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		obs.LogEvent("server_started", map[string]any{
			"addr":    cfg.ListenAddr,
			"env":     cfg.Env,
			"version": version,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	obs.LogEvent("server_stopped", nil)
}
