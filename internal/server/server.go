package server

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/shopspring/decimal"

	"crashgame/internal/account"
	"crashgame/internal/cache"
	"crashgame/internal/config"
	"crashgame/internal/database"
	"crashgame/internal/game"
	"crashgame/internal/history"
	"crashgame/internal/metrics"
)

const CONNECT_TIMEOUT = 10 * time.Second

type FiberServer struct {
	*fiber.App

	cfg     *config.Config
	db      database.Service
	cache   cache.Service
	ledger  account.Ledger
	history history.Store
	pruner  *history.Pruner
	engine  *game.Engine
	gameHub *game.Hub
}

// backends holds the connections and stores the server is assembled from.
// db and cache are nil when the configured backends do not need them.
type backends struct {
	db        database.Service
	cache     cache.Service
	ledger    account.Ledger
	history   history.Store
	scheduler game.Scheduler
	seeds     game.SeedSource
}

// New connects every backend named in cfg and assembles the server. Nothing
// runs until Start is called.
func New(cfg *config.Config) (*FiberServer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), CONNECT_TIMEOUT)
	defer cancel()

	b, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	server, err := build(cfg, b)
	if err != nil {
		b.close()
		return nil, err
	}
	return server, nil
}

func connect(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}

	if cfg.Ledger.Backend == "postgres" || cfg.History.Backend == "postgres" {
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := database.RunMigrations(db.DB(), cfg.Database.MigrationsPath); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		b.db = db
	}

	redisService, err := cache.New(cfg.Redis)
	switch {
	case err == nil:
		b.cache = redisService
	case cfg.Ledger.Backend == "redis":
		b.close()
		return nil, fmt.Errorf("redis is required for the redis ledger: %w", err)
	default:
		log.Printf("[SERVER] Redis unavailable, history cache disabled: %v", err)
	}

	initial := decimal.NewFromFloat(cfg.Ledger.InitialBalance)
	switch cfg.Ledger.Backend {
	case "memory":
		b.ledger = account.NewMemoryLedger(initial)
	case "redis":
		b.ledger = account.NewRedisLedger(b.cache.GetClient(), initial)
	case "postgres":
		ledger, err := account.NewPostgresLedger(b.db.Pool(), initial)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("postgres ledger: %w", err)
		}
		b.ledger = ledger
	}

	var store history.Store
	switch cfg.History.Backend {
	case "postgres":
		store = history.NewPostgresStore(b.db.Pool())
	case "sqlite":
		sqliteStore, err := history.NewSQLiteStore(cfg.History.SQLitePath)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("sqlite history: %w", err)
		}
		store = sqliteStore
	default:
		store = history.Noop{}
	}
	if b.cache != nil && cfg.History.Backend != "none" {
		store = history.NewCachedStore(store, b.cache.GetClient(), history.RECENT_CACHE_TTL)
	}
	b.history = store

	log.Printf("[SERVER] Ledger: %s, history: %s", cfg.Ledger.Backend, cfg.History.Backend)
	return b, nil
}

func (b *backends) close() {
	if b.history != nil {
		if err := b.history.Close(); err != nil {
			log.Printf("[HISTORY] Close error: %v", err)
		}
	}
	if b.cache != nil {
		b.cache.Close()
	}
	if b.db != nil {
		b.db.Close()
	}
}

func build(cfg *config.Config, b *backends) (*FiberServer, error) {
	metrics.Init()

	var pruner *history.Pruner
	if cfg.History.Backend != "none" && cfg.History.PruneCron != "" {
		p, err := history.NewPruner(b.history, cfg.History.PruneCron, cfg.History.Retention)
		if err != nil {
			return nil, err
		}
		pruner = p
	}

	hub := game.NewHub()
	engine := game.NewEngine(game.OptionsFromConfig(cfg), game.Deps{
		Ledger:    b.ledger,
		Transport: hub,
		Scheduler: b.scheduler,
		Seeds:     b.seeds,
		Recorder:  b.history,
	})

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "crashgame",
			AppName:       "crashgame",
			ReadTimeout:   cfg.Server.ReadTimeout,
			WriteTimeout:  cfg.Server.WriteTimeout,
			IdleTimeout:   cfg.Server.IdleTimeout,
			StrictRouting: false,
		}),

		cfg:     cfg,
		db:      b.db,
		cache:   b.cache,
		ledger:  b.ledger,
		history: b.history,
		pruner:  pruner,
		engine:  engine,
		gameHub: hub,
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        cfg.Server.RateLimit,
		Expiration: 1 * time.Minute,
	}))

	return server, nil
}

// Start runs the hub, the round engine and the history pruner.
func (s *FiberServer) Start() {
	go s.gameHub.Run()
	s.engine.Start()
	if s.pruner != nil {
		s.pruner.Start()
	}
	log.Println("[SERVER] Game engine started")
}

// Shutdown stops the game components and closes every backend connection.
func (s *FiberServer) Shutdown() error {
	log.Println("[SERVER] Shutting down...")

	if err := s.App.ShutdownWithTimeout(5 * time.Second); err != nil {
		log.Printf("[SERVER] HTTP shutdown error: %v", err)
	}

	if s.pruner != nil {
		s.pruner.Stop()
	}
	s.engine.Stop()
	s.gameHub.Stop()

	if s.history != nil {
		if err := s.history.Close(); err != nil {
			log.Printf("[HISTORY] Close error: %v", err)
		}
	}
	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}

	return nil
}
