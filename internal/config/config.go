package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"order-scheduler/internal/engine"
	"order-scheduler/pkg/utils"
)

// Environment overrides
const (
	EnvHTTPAddr      = "ORDERSCHED_HTTP_ADDR"
	EnvLogLevel      = "ORDERSCHED_LOG_LEVEL"
	EnvLogFile       = "ORDERSCHED_LOG_FILE"
	EnvFeedURL       = "ORDERSCHED_FEED_URL"
	EnvStorePath     = "ORDERSCHED_STORE_PATH"
	EnvRateTolerance = "ORDERSCHED_RATE_TOLERANCE"
)

type HTTP struct {
	Addr string `yaml:"addr"`
}

type Engine struct {
	RateTolerance float64 `yaml:"rate_tolerance"`
}

// Feed configures the tick loop of the serve mode. An empty URL disables it.
type Feed struct {
	URL      string        `yaml:"url"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

type Store struct {
	Path string `yaml:"path"`
}

// Account seeds the ledger served over HTTP
type Account struct {
	Reference string             `yaml:"reference"`
	Balances  map[string]float64 `yaml:"balances"`
}

type Config struct {
	HTTP    HTTP            `yaml:"http"`
	Log     utils.LogConfig `yaml:"log"`
	Engine  Engine          `yaml:"engine"`
	Feed    Feed            `yaml:"feed"`
	Store   Store           `yaml:"store"`
	Account Account         `yaml:"account"`
}

func Default() Config {
	return Config{
		HTTP: HTTP{Addr: ":8080"},
		Log: utils.LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		},
		Engine: Engine{RateTolerance: engine.DefaultRateTolerance},
		Feed: Feed{
			Interval: time.Second,
			Timeout:  10 * time.Second,
		},
		Store:   Store{Path: "data/runs"},
		Account: Account{Reference: "EUR"},
	}
}

// Load builds the configuration from defaults, an optional YAML file, an optional
// .env file and the environment, later sources overriding earlier ones.
func Load(path, envPath string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse config %s", path)
		}
	}

	// .env is optional, existing environment variables win over it
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvHTTPAddr); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		cfg.Log.OutputFile = v
	}
	if v := os.Getenv(EnvFeedURL); v != "" {
		cfg.Feed.URL = v
	}
	if v := os.Getenv(EnvStorePath); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv(EnvRateTolerance); v != "" {
		tol, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Wrapf(err, "%s=%q", EnvRateTolerance, v)
		}
		cfg.Engine.RateTolerance = tol
	}
	return nil
}

func (c Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.Engine.RateTolerance < 0 {
		return errors.Errorf("engine.rate_tolerance must not be negative, got %v", c.Engine.RateTolerance)
	}
	if c.Feed.URL != "" && c.Feed.Interval <= 0 {
		return errors.Errorf("feed.interval must be positive when feed.url is set, got %v", c.Feed.Interval)
	}
	if c.Account.Reference == "" {
		return errors.New("account.reference is required")
	}
	for cur, amount := range c.Account.Balances {
		if amount < 0 {
			return errors.Errorf("account.balances.%s must not be negative, got %v", cur, amount)
		}
	}
	return nil
}
