package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	History  HistoryConfig  `yaml:"history"`
	Game     GameConfig     `yaml:"game"`
	Policy   PolicyConfig   `yaml:"policy"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	RateLimit    int           `yaml:"rate_limit"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type DatabaseConfig struct {
	Host           string `yaml:"host"`
	Port           string `yaml:"port"`
	Name           string `yaml:"name"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	Schema         string `yaml:"schema"`
	MigrationsPath string `yaml:"migrations_path"`
}

// URL returns the postgres connection string for the pgx drivers.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.Schema)
}

type LedgerConfig struct {
	Backend        string  `yaml:"backend"` // memory, redis, postgres
	InitialBalance float64 `yaml:"initial_balance"`
}

type HistoryConfig struct {
	Backend    string        `yaml:"backend"` // postgres, sqlite, none
	SQLitePath string        `yaml:"sqlite_path"`
	PruneCron  string        `yaml:"prune_cron"`
	Retention  time.Duration `yaml:"retention"`
}

type GameConfig struct {
	CountdownSeconds int           `yaml:"countdown_seconds"`
	WaitingTick      time.Duration `yaml:"waiting_tick"`
	RunningTick      time.Duration `yaml:"running_tick"`
	MinBet           float64       `yaml:"min_bet"`
	MaxBet           float64       `yaml:"max_bet"`
	LedgerTimeout    time.Duration `yaml:"ledger_timeout"`
}

// PolicyConfig tunes the crash-point punishment and the risk score.
type PolicyConfig struct {
	PunishmentThreshold float64 `yaml:"punishment_threshold"`
	PunishmentSlope     float64 `yaml:"punishment_slope"`
	RiskyCashout        float64 `yaml:"risky_cashout"`
	RiskyWeight         float64 `yaml:"risky_weight"`
	WinWeight           float64 `yaml:"win_weight"`
	LossWeight          float64 `yaml:"loss_weight"`
	LossScale           float64 `yaml:"loss_scale"`
	ProfitWindow        int     `yaml:"profit_window"`
}

// Default returns the configuration used when neither file nor env set a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
			RateLimit:    100,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           "5432",
			Name:           "crashdb",
			User:           "postgres",
			Password:       "postgres",
			Schema:         "public",
			MigrationsPath: "./migrations",
		},
		Ledger: LedgerConfig{Backend: "redis", InitialBalance: 1000},
		History: HistoryConfig{
			Backend:    "postgres",
			SQLitePath: "data/rounds.db",
			PruneCron:  "0 */30 * * * *",
			Retention:  7 * 24 * time.Hour,
		},
		Game: GameConfig{
			CountdownSeconds: 5,
			WaitingTick:      time.Second,
			RunningTick:      100 * time.Millisecond,
			MinBet:           1,
			MaxBet:           10000,
			LedgerTimeout:    3 * time.Second,
		},
		Policy: PolicyConfig{
			PunishmentThreshold: 0.6,
			PunishmentSlope:     0.7,
			RiskyCashout:        1.05,
			RiskyWeight:         0.5,
			WinWeight:           0.4,
			LossWeight:          0.3,
			LossScale:           500,
			ProfitWindow:        10,
		},
	}
}

// Load reads config from a YAML file on top of the defaults, then applies
// environment variable overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.Server.Port = getEnvAsInt("PORT", cfg.Server.Port)

	cfg.Redis.Addr = getEnv("REDIS_URL", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)

	cfg.Database.Host = getEnv("BLUEPRINT_DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnv("BLUEPRINT_DB_PORT", cfg.Database.Port)
	cfg.Database.Name = getEnv("BLUEPRINT_DB_DATABASE", cfg.Database.Name)
	cfg.Database.User = getEnv("BLUEPRINT_DB_USERNAME", cfg.Database.User)
	cfg.Database.Password = getEnv("BLUEPRINT_DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Schema = getEnv("BLUEPRINT_DB_SCHEMA", cfg.Database.Schema)
	cfg.Database.MigrationsPath = getEnv("MIGRATIONS_PATH", cfg.Database.MigrationsPath)

	cfg.Ledger.Backend = getEnv("LEDGER_BACKEND", cfg.Ledger.Backend)
	cfg.History.Backend = getEnv("HISTORY_BACKEND", cfg.History.Backend)
	cfg.History.SQLitePath = getEnv("SQLITE_PATH", cfg.History.SQLitePath)
	cfg.History.PruneCron = getEnv("HISTORY_PRUNE_CRON", cfg.History.PruneCron)

	return cfg, nil
}

// Validate checks ranges that the game engine relies on.
func (c *Config) Validate() error {
	switch c.Ledger.Backend {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("ledger.backend %q must be memory, redis or postgres", c.Ledger.Backend)
	}
	switch c.History.Backend {
	case "postgres", "sqlite", "none":
	default:
		return fmt.Errorf("history.backend %q must be postgres, sqlite or none", c.History.Backend)
	}
	if c.Ledger.InitialBalance < 0 {
		return fmt.Errorf("ledger.initial_balance must not be negative")
	}
	if c.Game.CountdownSeconds < 1 {
		return fmt.Errorf("game.countdown_seconds must be at least 1")
	}
	if c.Game.WaitingTick <= 0 || c.Game.RunningTick <= 0 {
		return fmt.Errorf("game ticks must be positive")
	}
	if c.Game.MinBet <= 0 || c.Game.MaxBet < c.Game.MinBet {
		return fmt.Errorf("game bet bounds [%v, %v] are invalid", c.Game.MinBet, c.Game.MaxBet)
	}
	if c.Policy.PunishmentThreshold < 0 || c.Policy.PunishmentThreshold > 1 {
		return fmt.Errorf("policy.punishment_threshold must be in [0,1]")
	}
	if c.Policy.LossScale <= 0 {
		return fmt.Errorf("policy.loss_scale must be positive")
	}
	if c.Policy.ProfitWindow < 1 {
		return fmt.Errorf("policy.profit_window must be at least 1")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
