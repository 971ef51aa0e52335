/*
config.go - Process configuration

PURPOSE:
  Everything needed to start the server that is not a business setting.
  Business knobs (minimums, rates, maintenance) live in the settings
  document so admins can change them at runtime.

PRECEDENCE (later wins):
  1. Defaults()
  2. TOML file passed to Load (optional)
  3. Environment, prefix WALLETDESK_  e.g. WALLETDESK_HTTP_ADDR=:9090
  4. CLI flags applied by cmd/server

EXAMPLE walletdesk.toml:
  data_dir = "./data"
  backend  = "file"
  super_admin_id = 123456789

  [http]
  addr = ":8080"
  allowed_origins = ["http://localhost:5173"]

  [telegram]
  token = "..."

  [log]
  level  = "info"
  format = "json"
*/
package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const envPrefix = "WALLETDESK"

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

type Config struct {
	DataDir      string `toml:"data_dir" envconfig:"data_dir"`
	Backend      string `toml:"backend" envconfig:"backend"`
	SQLitePath   string `toml:"sqlite_path" envconfig:"sqlite_path"`
	SuperAdminID int64  `toml:"super_admin_id" envconfig:"super_admin_id"`

	HTTP     HTTP     `toml:"http" envconfig:"http"`
	Telegram Telegram `toml:"telegram" envconfig:"telegram"`
	Log      Log      `toml:"log" envconfig:"log"`
}

type HTTP struct {
	Addr           string   `toml:"addr" envconfig:"addr"`
	AllowedOrigins []string `toml:"allowed_origins" envconfig:"allowed_origins"`
}

type Telegram struct {
	Token string `toml:"token" envconfig:"token"`
}

type Log struct {
	Level  string `toml:"level" envconfig:"level"`
	Format string `toml:"format" envconfig:"format"`
}

func Defaults() Config {
	return Config{
		DataDir: "./data",
		Backend: BackendFile,
		HTTP: HTTP{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	if cfg.Backend == BackendSQLite && cfg.SQLitePath == "" {
		cfg.SQLitePath = filepath.Join(cfg.DataDir, "walletdesk.db")
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendFile:
		if c.DataDir == "" {
			errs = append(errs, errors.New("data_dir is required for the file backend"))
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite_path is required for the sqlite backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Logger builds the root logger described by c.Log.
func (c Config) Logger() *logrus.Logger {
	l := logrus.New()
	if lvl, err := logrus.ParseLevel(c.Log.Level); err == nil {
		l.SetLevel(lvl)
	}
	if c.Log.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}
