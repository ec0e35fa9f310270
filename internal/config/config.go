// Package config loads the server configuration from POPIS_* environment
// variables and command-line flags. Flags win over the environment.
package config

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the server settings.
type Config struct {
	DBPath            string        `envconfig:"DB" default:"popis.sqlite3"`
	Addr              string        `envconfig:"ADDR" default:":8080"`
	AdminUser         string        `envconfig:"ADMIN_USER" default:"Admin"`
	LogPath           string        `envconfig:"LOG"`
	LowStockThreshold int           `envconfig:"LOW_STOCK_THRESHOLD" default:"0"`
	TokenTTL          time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
	LoginRate         float64       `envconfig:"LOGIN_RATE" default:"0.2"`
	LoginBurst        int           `envconfig:"LOGIN_BURST" default:"5"`
	OTLPEndpoint      string        `envconfig:"OTLP_ENDPOINT"`
	ServiceName       string        `envconfig:"SERVICE_NAME" default:"popis"`
}

const usage = `Usage: popis [flags]

Flags:
  -d, -db <path>               SQLite database path (default: popis.sqlite3)
  -a, -addr <host:port>        listen address (default: :8080)
  -u, -user <name>             admin username on first run (default: Admin)
  -l, -log <path>              log file path (default: no file, stdout/stderr only)
  -low-stock-threshold <n>     units below par before an item counts as low (default: 0)
  -token-ttl <duration>        login token lifetime (default: 24h)
  -otlp-endpoint <host:port>   export traces over OTLP/HTTP (default: off)
  -h, -help                    show this help and exit

Every flag can also be set with a POPIS_* environment variable, e.g. POPIS_DB,
POPIS_ADDR, POPIS_LOW_STOCK_THRESHOLD, POPIS_OTLP_ENDPOINT.
`

// Load reads the environment, then applies flags from args. It returns
// flag.ErrHelp when help was requested.
func Load(args []string, out io.Writer) (*Config, error) {
	var cfg Config
	if err := envconfig.Process("popis", &cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	fs := flag.NewFlagSet("popis", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() { fmt.Fprint(out, usage) }

	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "")
	fs.StringVar(&cfg.DBPath, "d", cfg.DBPath, "")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "")
	fs.StringVar(&cfg.Addr, "a", cfg.Addr, "")
	fs.StringVar(&cfg.AdminUser, "user", cfg.AdminUser, "")
	fs.StringVar(&cfg.AdminUser, "u", cfg.AdminUser, "")
	fs.StringVar(&cfg.LogPath, "log", cfg.LogPath, "")
	fs.StringVar(&cfg.LogPath, "l", cfg.LogPath, "")
	fs.IntVar(&cfg.LowStockThreshold, "low-stock-threshold", cfg.LowStockThreshold, "")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "")
	fs.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", cfg.OTLPEndpoint, "")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.DBPath == "":
		return fmt.Errorf("database path must not be empty")
	case c.AdminUser == "":
		return fmt.Errorf("admin username must not be empty")
	case c.LowStockThreshold < 0:
		return fmt.Errorf("low stock threshold must not be negative")
	case c.TokenTTL <= 0:
		return fmt.Errorf("token ttl must be positive")
	case c.LoginRate <= 0 || c.LoginBurst <= 0:
		return fmt.Errorf("login rate and burst must be positive")
	}
	return nil
}
