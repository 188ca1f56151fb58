package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/marketplace-settlement/internal/payple"
	"github.com/xenking/marketplace-settlement/pkg/resilience"
)

// Config holds the complete application configuration, loadable from
// environment variables (SETTLE_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (SETTLE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL     string `usage:"Redis URL for the shared PG token cache; in-memory cache when empty (SETTLE_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (SETTLE_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Payple       payple.Config
	Breaker      resilience.BreakerConfig
	Retry        resilience.RetryConfig
	Settlement   SettlementConfig
	OrderLimit   OrderLimitConfig
	Graceful     GracefulConfig
}

// OrderLimitConfig rate limits order placement per buyer.
type OrderLimitConfig struct {
	Rate  float64 `default:"5"  usage:"Order requests per second allowed per buyer; 0 disables the limit" flag:"order-rate"`
	Burst int     `default:"10" usage:"Order request burst per buyer" flag:"order-burst"`
}

// SettlementConfig controls settlement cycles and the aggregation schedule.
type SettlementConfig struct {
	ScheduledDay int    `default:"10" usage:"Day of the following month a cycle is paid out" flag:"scheduled-day"`
	Timezone     string `default:"Asia/Seoul" usage:"Time zone of settlement cycle boundaries"`
	// DailySchedule re-aggregates the running cycle so that admins see
	// up-to-date PENDING settlements. Empty disables the job.
	DailySchedule string `default:"0 3 * * *" usage:"Cron spec of the daily aggregation of the current cycle" flag:"daily-schedule"`
	// MonthlySchedule closes the previous cycle.
	MonthlySchedule string        `default:"0 4 1 * *" usage:"Cron spec of the monthly aggregation of the previous cycle" flag:"monthly-schedule"`
	JobTimeout      time.Duration `default:"30m" usage:"Maximum duration of one aggregation run" flag:"job-timeout"`
}

// Location resolves Timezone. Korea has no daylight saving time, so a
// fixed +09:00 zone stands in when the tz database is unavailable.
func (c SettlementConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err == nil {
		return loc, nil
	}
	if c.Timezone == "Asia/Seoul" {
		return time.FixedZone("KST", 9*60*60), nil
	}
	return nil, errors.Wrapf(err, "load timezone %q", c.Timezone)
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SETTLE",
		Files:     []string{"config.yaml", "/etc/settlement/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set SETTLE_DATABASE_URL or DATABASE_URL")
	}
	if c.APIKeyPepper == "" {
		return errors.New("API key pepper is required: set SETTLE_API_KEY_PEPPER")
	}
	if d := c.Settlement.ScheduledDay; d < 1 || d > 31 {
		return errors.Errorf("scheduled day must be within 1..31, got %d", d)
	}
	if _, err := c.Settlement.Location(); err != nil {
		return err
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's SETTLE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.RedisURL == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.RedisURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
