package config

import (
	"fmt"
	"net"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
)

// Config is the service configuration, read from a YAML file or from the
// environment (optionally seeded by a .env file).
type Config struct {
	HostAddr   string         `yaml:"host" env:"HOST_ADDR" env-default:"0.0.0.0"`
	Port       string         `yaml:"port" env:"PORT" env-default:"5000"`
	OutputDir  string         `yaml:"output_dir" env:"OUTPUT_DIR" env-default:"./downloads"`
	LogLevel   string         `yaml:"log_level" env:"LOG_LEVEL" env-default:"INFO"`
	Store      StoreConfig    `yaml:"store"`
	Security   SecurityConfig `yaml:"security"`
	Jobs       JobConfig      `yaml:"jobs"`
	Strategies StrategyConfig `yaml:"strategies"`
}

// StoreConfig selects the status store backend. Driver is one of memory,
// sqlite3 or postgres; DSN is ignored for memory.
type StoreConfig struct {
	Driver string `yaml:"driver" env:"STORE_DRIVER" env-default:"memory"`
	DSN    string `yaml:"dsn" env:"STORE_DSN"`
}

// SecurityConfig holds the optional access controls. An empty AccessToken
// disables the token check; an empty AllowedHosts accepts any host.
type SecurityConfig struct {
	AccessToken  string   `yaml:"access_token" env:"ACCESS_TOKEN"`
	AllowedHosts []string `yaml:"allowed_hosts" env:"ALLOWED_HOSTS" env-separator:","`
}

// JobConfig bounds the execution of jobs.
type JobConfig struct {
	MaxConcurrent   int           `yaml:"max_concurrent" env:"MAX_CONCURRENT_JOBS" env-default:"4"`
	StrategyTimeout time.Duration `yaml:"strategy_timeout" env:"STRATEGY_TIMEOUT" env-default:"10m"`
	ResolveTimeout  time.Duration `yaml:"resolve_timeout" env:"RESOLVE_TIMEOUT" env-default:"15s"`
	MinMediaBytes   int64         `yaml:"min_media_bytes" env:"MIN_MEDIA_BYTES" env-default:"10240"`
	StrictSniff     bool          `yaml:"strict_sniff" env:"STRICT_SNIFF" env-default:"false"`
	FileRetention   time.Duration `yaml:"file_retention" env:"FILE_RETENTION" env-default:"0s"`
}

// StrategyConfig configures the retrieval strategies. The Apify and
// resolver strategies are only enabled when their credentials are set.
type StrategyConfig struct {
	YtDlpBinary      string `yaml:"ytdlp_binary" env:"YTDLP_BINARY" env-default:"yt-dlp"`
	CookiesFile      string `yaml:"cookies_file" env:"COOKIES_FILE" env-default:"cookies.txt"`
	ApifyToken       string `yaml:"apify_api_token" env:"APIFY_API_TOKEN"`
	ResolverEndpoint string `yaml:"resolver_endpoint" env:"RESOLVER_ENDPOINT"`
	ResolverAPIKey   string `yaml:"resolver_api_key" env:"RESOLVER_API_KEY"`
}

// Load reads the configuration. When path is empty the environment is used,
// after loading .env from the working directory if one exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load configuration from %s - %v", path, err)
		}
	} else {
		// A missing .env is fine; the environment may be set directly.
		_ = godotenv.Load()
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to load configuration from environment - %v", err)
		}
	}

	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalise() error {
	for _, p := range []*string{&c.OutputDir, &c.Strategies.CookiesFile, &c.Strategies.YtDlpBinary} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand %q: %w", *p, err)
		}
		*p = expanded
	}

	switch c.Store.Driver {
	case "memory", "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported store driver %q (expected memory, sqlite3 or postgres)", c.Store.Driver)
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		return fmt.Errorf("store driver %s requires STORE_DSN", c.Store.Driver)
	}
	if c.Jobs.MaxConcurrent < 1 {
		c.Jobs.MaxConcurrent = 1
	}
	return nil
}

// ListenAddr is the address the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.HostAddr, c.Port)
}
