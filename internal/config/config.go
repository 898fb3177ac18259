// Package config resolves the layered harvester configuration:
// runtime overrides take precedence over environment variables, which take
// precedence over persisted scheduler settings, which take precedence over
// compiled defaults.
package config

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/trendscope/trendscope/internal/errkind"
	"github.com/trendscope/trendscope/internal/proxy"
)

// Config is the resolved process configuration. Treat values as read-only
// after Load; reloads produce a fresh copy.
type Config struct {
	DBDSN string `envconfig:"DB_DSN"`

	ProxyList             string  `envconfig:"PROXY_LIST"`
	ProxyRotationStrategy string  `envconfig:"PROXY_ROTATION_STRATEGY" default:"health_based" validate:"oneof=health_based round_robin random"`
	RequireProxies        bool    `envconfig:"REQUIRE_PROXIES" default:"false"`
	CircuitThreshold      int     `envconfig:"CIRCUIT_BREAKER_THRESHOLD" default:"5" validate:"gte=1"`
	CircuitTimeoutSeconds int     `envconfig:"CIRCUIT_BREAKER_TIMEOUT_SECONDS" default:"300" validate:"gte=1"`
	MinProxyHealth        float64 `envconfig:"MIN_PROXY_HEALTH" default:"0.1" validate:"gte=0,lte=1"`

	FrequencyHours    float64 `envconfig:"FREQUENCY_HOURS" default:"6" validate:"gte=0.5,lte=24"`
	ScrapeIntervalMin float64 `envconfig:"SCRAPE_INTERVAL_MIN" default:"0.5" validate:"gte=0.5"`
	ScrapeIntervalMax float64 `envconfig:"SCRAPE_INTERVAL_MAX" default:"24" validate:"lte=24"`

	WorkerEnabled        bool          `envconfig:"WORKER_ENABLED" default:"true"`
	WorkerReloadInterval time.Duration `envconfig:"WORKER_RELOAD_INTERVAL" default:"300s"`
	SchedulerTick        time.Duration `envconfig:"SCHEDULER_TICK" default:"60s"`

	JSONLogging bool   `envconfig:"JSON_LOGGING" default:"true"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFile     string `envconfig:"LOG_FILE"`

	BrowserDriver string `envconfig:"BROWSER_DRIVER"`

	Headless  bool   `envconfig:"HEADLESS" default:"true"`
	Locale    string `envconfig:"LOCALE" default:"en-US"`
	Timezone  string `envconfig:"TIMEZONE" default:"UTC"`
	UserAgent string `envconfig:"USER_AGENT"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	DecayRateWeekly         float64 `envconfig:"DECAY_RATE_WEEKLY" default:"0.05" validate:"gte=0,lt=1"`
	InactiveDaysThreshold   int     `envconfig:"INACTIVE_DAYS_THRESHOLD" default:"7" validate:"gte=1"`
	ExpirationDaysThreshold int     `envconfig:"EXPIRATION_DAYS_THRESHOLD" default:"30" validate:"gte=1"`
	ArchiveEnabled          bool    `envconfig:"ARCHIVE_ENABLED" default:"true"`

	DedupeStrategy     string        `envconfig:"DEDUPE_STRATEGY" default:"update" validate:"oneof=update ignore error"`
	BatchSize          int           `envconfig:"BATCH_SIZE" default:"100" validate:"gte=1,lte=1000"`
	DiscoveryLimit     int           `envconfig:"DISCOVERY_LIMIT" default:"20" validate:"gte=1"`
	MinDiscoveryItems  int           `envconfig:"MIN_DISCOVERY_ITEMS" default:"3" validate:"gte=0"`
	MaxDiscoveryRetry  int           `envconfig:"MAX_DISCOVERY_RETRIES" default:"2" validate:"gte=0"`
	SampleLimit        int           `envconfig:"SAMPLE_LIMIT" default:"3" validate:"gte=1"`
	EnrichFanOut       int           `envconfig:"ENRICH_FAN_OUT" default:"6" validate:"gte=1"`
	NavigationTimeout  time.Duration `envconfig:"NAVIGATION_TIMEOUT" default:"30s"`
	SelectorTimeout    time.Duration `envconfig:"SELECTOR_TIMEOUT" default:"10s"`
	DBTimeout          time.Duration `envconfig:"DB_TIMEOUT" default:"15s"`
	QueueDrainInterval time.Duration `envconfig:"QUEUE_DRAIN_INTERVAL" default:"60s"`
	QueueMaxAttempts   int           `envconfig:"QUEUE_MAX_ATTEMPTS" default:"6" validate:"gte=1"`

	AdminAddr string `envconfig:"ADMIN_ADDR" default:":8080"`
}

var validate = validator.New()

// Load resolves configuration from a .env file (best effort) and the
// environment, then validates it.
func Load() (*Config, error) {
	_ = godotenv.Load() // absent .env is fine

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errkind.Wrap(errkind.Config, err, "process environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the option constraints of the config surface. Failures
// are CONFIG/invalid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errkind.Wrap(errkind.Config, err, "invalid configuration")
	}
	if c.ScrapeIntervalMin > c.ScrapeIntervalMax {
		return errkind.New(errkind.Config, "SCRAPE_INTERVAL_MIN %.2f exceeds SCRAPE_INTERVAL_MAX %.2f",
			c.ScrapeIntervalMin, c.ScrapeIntervalMax)
	}
	if _, err := proxy.ParseList(c.ProxyList); err != nil {
		return err
	}
	return nil
}

// ClampFrequency clamps an admin-supplied frequency into the accepted range.
func ClampFrequency(hours float64) float64 {
	if hours < 0.5 {
		return 0.5
	}
	if hours > 24 {
		return 24
	}
	return hours
}

// ProxyEntries parses the configured proxy list. An empty list is only an
// error when proxies are required.
func (c *Config) ProxyEntries() ([]*proxy.Entry, error) {
	entries, err := proxy.ParseList(c.ProxyList)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 && c.RequireProxies {
		return nil, errkind.New(errkind.Config, "REQUIRE_PROXIES is set but PROXY_LIST is empty")
	}
	return entries, nil
}

// PoolOptions maps the config into proxy pool options.
func (c *Config) PoolOptions() proxy.Options {
	opts := proxy.DefaultOptions()
	opts.Strategy = proxy.Strategy(c.ProxyRotationStrategy)
	opts.CircuitThreshold = c.CircuitThreshold
	opts.CircuitTimeout = time.Duration(c.CircuitTimeoutSeconds) * time.Second
	opts.MinHealth = c.MinProxyHealth
	return opts
}
