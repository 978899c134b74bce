package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Storage drivers.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

type Config struct {
	Debug bool `env:"DEBUG" envDefault:"false"`

	Server struct {
		Port         int           `env:"PORT" envDefault:"8080"`
		Origin       string        `env:"ORIGIN" envDefault:"http://localhost:3000"`
		ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
		WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"30s"`
	}

	Redis struct {
		Host     string `env:"REDIS_HOST" envDefault:"localhost"`
		Port     int    `env:"REDIS_PORT" envDefault:"6379"`
		Password string `env:"REDIS_PASSWORD" envDefault:""`
		DB       int    `env:"REDIS_DB" envDefault:"0"`
	}

	Telegram struct {
		BotToken    string        `env:"BOT_TOKEN"`
		InitDataTTL time.Duration `env:"INIT_DATA_TTL" envDefault:"24h"`
		AdminIDs    []int64       `env:"ADMIN_IDS" envSeparator:","`
	}

	// Storage selects the repository backend: memory or redis.
	Storage string `env:"STORAGE_DRIVER" envDefault:"memory"`

	Ledger struct {
		HoldWindow            time.Duration `env:"LEDGER_HOLD_WINDOW" envDefault:"10m"`
		SweepInterval         time.Duration `env:"LEDGER_SWEEP_INTERVAL" envDefault:"60s"`
		CloseInterval         time.Duration `env:"LEDGER_CLOSE_INTERVAL" envDefault:"30s"`
		RefundRetryInterval   time.Duration `env:"LEDGER_REFUND_RETRY_INTERVAL" envDefault:"5m"`
		MaxTicketsPerPurchase int64         `env:"LEDGER_MAX_TICKETS_PER_PURCHASE" envDefault:"100"`
	}

	Payment struct {
		Timeout     time.Duration `env:"PAYMENT_TIMEOUT" envDefault:"20s"`
		MaxRetries  int           `env:"PAYMENT_MAX_RETRIES" envDefault:"3"`
		RetryDelay  time.Duration `env:"PAYMENT_RETRY_DELAY" envDefault:"1s"`
		DeclineRate float64       `env:"PAYMENT_SANDBOX_DECLINE_RATE" envDefault:"0"`
	}

	Loyalty struct {
		ReferralBonus int64 `env:"LOYALTY_REFERRAL_BONUS" envDefault:"100"`
	}

	Events struct {
		Stream     string `env:"EVENTS_STREAM" envDefault:"raffle:events"`
		Group      string `env:"EVENTS_GROUP" envDefault:"raffle_notifications"`
		BufferSize int    `env:"EVENTS_BUFFER_SIZE" envDefault:"256"`
	}

	Cache struct {
		TTL       time.Duration `env:"CACHE_TTL" envDefault:"2s"`
		LocalSize int           `env:"CACHE_LOCAL_SIZE" envDefault:"1024"`
	}
}

// RedisAddr returns host:port of the Redis server.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// IsAdmin reports whether the Telegram user is listed in ADMIN_IDS.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Telegram.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageMemory, StorageRedis:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage)
	}
	if c.Ledger.HoldWindow <= 0 {
		return fmt.Errorf("LEDGER_HOLD_WINDOW must be positive")
	}
	if c.Ledger.SweepInterval <= 0 || c.Ledger.CloseInterval <= 0 {
		return fmt.Errorf("ledger intervals must be positive")
	}
	if c.Ledger.MaxTicketsPerPurchase <= 0 {
		return fmt.Errorf("LEDGER_MAX_TICKETS_PER_PURCHASE must be positive")
	}
	if c.Payment.Timeout <= 0 {
		return fmt.Errorf("PAYMENT_TIMEOUT must be positive")
	}
	if c.Payment.MaxRetries < 1 {
		return fmt.Errorf("PAYMENT_MAX_RETRIES must be at least 1")
	}
	if c.Loyalty.ReferralBonus <= 0 {
		return fmt.Errorf("LOYALTY_REFERRAL_BONUS must be positive")
	}
	return nil
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	// .env is optional; in production variables come from the environment.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
