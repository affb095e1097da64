// Copyright 2019 Aporeto Inc.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//     http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"go.aporeto.io/armet/store/objstore"
	"go.aporeto.io/armet/store/sqlstore"
)

// Supported stores.
const (
	storeMemory   = "mem"
	storeSQLite   = "sqlite"
	storePostgres = "postgres"
	storeMinIO    = "minio"
)

// Supported http connectors.
const (
	connectorHTTP  = "http"
	connectorFiber = "fiber"
)

// Config holds the daemon configuration.
type Config struct {
	Listen       string  `toml:"listen"`
	Connector    string  `toml:"connector"`
	Prefix       string  `toml:"prefix"`
	Debug        bool    `toml:"debug"`
	ReadOnly     bool    `toml:"read-only"`
	MaxBodySize  int64   `toml:"max-body-size"`
	LogLevel     string  `toml:"log-level"`
	LogFormat    string  `toml:"log-format"`
	Store        string  `toml:"store"`
	SQLitePath   string  `toml:"sqlite-path"`
	NATSURL      string  `toml:"nats-url"`
	Topic        string  `toml:"topic"`
	HealthListen string  `toml:"health-listen"`
	CORSOrigin   string  `toml:"cors-origin"`
	RateLimit    float64 `toml:"rate-limit"`
	RateBurst    int     `toml:"rate-burst"`

	Database    sqlstore.DatabaseConfig `toml:"database"`
	ObjectStore objstore.Config         `toml:"object-store"`
}

func defaultConfig() Config {

	return Config{
		Listen:      ":8080",
		Connector:   connectorHTTP,
		MaxBodySize: 1 << 20,
		LogLevel:    "info",
		LogFormat:   "console",
		Store:       storeMemory,
		SQLitePath:  "armet.db",
		Topic:       "armet-events",
		RateBurst:   10,
		Database: sqlstore.DatabaseConfig{
			Port:    "5432",
			SSLMode: "disable",
		},
	}
}

// loadConfigFile reads the TOML file at the given path over the given config.
func loadConfigFile(path string, cfg *Config) error {

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("unable to read config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("unable to parse config file '%s': %w", path, err)
	}

	return nil
}

// applyEnv overrides the config with the ARMET_* environment variables.
func applyEnv(cfg *Config) error {

	strs := map[string]*string{
		"ARMET_LISTEN":        &cfg.Listen,
		"ARMET_CONNECTOR":     &cfg.Connector,
		"ARMET_PREFIX":        &cfg.Prefix,
		"ARMET_LOG_LEVEL":     &cfg.LogLevel,
		"ARMET_LOG_FORMAT":    &cfg.LogFormat,
		"ARMET_STORE":         &cfg.Store,
		"ARMET_SQLITE_PATH":   &cfg.SQLitePath,
		"ARMET_NATS_URL":      &cfg.NATSURL,
		"ARMET_TOPIC":         &cfg.Topic,
		"ARMET_HEALTH_LISTEN": &cfg.HealthListen,
		"ARMET_CORS_ORIGIN":   &cfg.CORSOrigin,
		"DB_HOST":             &cfg.Database.Host,
		"DB_PORT":             &cfg.Database.Port,
		"DB_USER":             &cfg.Database.User,
		"DB_PASSWORD":         &cfg.Database.Password,
		"DB_NAME":             &cfg.Database.Name,
		"DB_SSLMODE":          &cfg.Database.SSLMode,
		"MINIO_ENDPOINT":      &cfg.ObjectStore.Endpoint,
		"MINIO_ACCESS_KEY":    &cfg.ObjectStore.AccessKey,
		"MINIO_SECRET_KEY":    &cfg.ObjectStore.SecretKey,
		"MINIO_BUCKET":        &cfg.ObjectStore.Bucket,
	}

	for name, dest := range strs {
		if v, ok := os.LookupEnv(name); ok {
			*dest = v
		}
	}

	bools := map[string]*bool{
		"ARMET_DEBUG":     &cfg.Debug,
		"ARMET_READ_ONLY": &cfg.ReadOnly,
		"MINIO_USE_SSL":   &cfg.ObjectStore.UseSSL,
	}

	for name, dest := range bools {
		v, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", name, err)
		}
		*dest = b
	}

	return nil
}

// flagValues holds the values of the command line flags.
type flagValues struct {
	cfg        Config
	configFile string
}

func (f *flagValues) install(cmd *cobra.Command) {

	d := defaultConfig()
	flags := cmd.Flags()

	flags.StringVarP(&f.configFile, "config", "c", "", "Path to a TOML configuration file")
	flags.StringVar(&f.cfg.Listen, "listen", d.Listen, "Listening address of the api")
	flags.StringVar(&f.cfg.Connector, "connector", d.Connector, "HTTP connector to use: http or fiber")
	flags.StringVar(&f.cfg.Prefix, "prefix", d.Prefix, "Path prefix of the api")
	flags.BoolVar(&f.cfg.Debug, "debug", d.Debug, "Expose internal errors to clients")
	flags.BoolVar(&f.cfg.ReadOnly, "read-only", d.ReadOnly, "Refuse every write operation")
	flags.Int64Var(&f.cfg.MaxBodySize, "max-body-size", d.MaxBodySize, "Maximum size of request bodies in bytes")
	flags.StringVar(&f.cfg.LogLevel, "log-level", d.LogLevel, "Log level: debug, info, warn or error")
	flags.StringVar(&f.cfg.LogFormat, "log-format", d.LogFormat, "Log format: console or json")
	flags.StringVar(&f.cfg.Store, "store", d.Store, "Model connector to use: mem, sqlite, postgres or minio")
	flags.StringVar(&f.cfg.SQLitePath, "sqlite-path", d.SQLitePath, "Path of the SQLite database")
	flags.StringVar(&f.cfg.NATSURL, "nats-url", d.NATSURL, "NATS url used to publish events. Local pubsub is used if empty")
	flags.StringVar(&f.cfg.Topic, "topic", d.Topic, "Topic of the change events")
	flags.StringVar(&f.cfg.HealthListen, "health-listen", d.HealthListen, "Listening address of the health server")
	flags.StringVar(&f.cfg.CORSOrigin, "cors-origin", d.CORSOrigin, "Allowed CORS origin")
	flags.Float64Var(&f.cfg.RateLimit, "rate-limit", d.RateLimit, "Requests per second allowed per client. 0 disables it")
	flags.IntVar(&f.cfg.RateBurst, "rate-burst", d.RateBurst, "Burst of requests allowed per client")
}

// resolve builds the final configuration. The precedence is
// flags, then environment, then config file, then defaults.
func (f *flagValues) resolve(cmd *cobra.Command) (Config, error) {

	cfg := defaultConfig()

	if f.configFile != "" {
		if err := loadConfigFile(f.configFile, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	changed := func(name string) bool { return cmd.Flags().Changed(name) }

	if changed("listen") {
		cfg.Listen = f.cfg.Listen
	}
	if changed("connector") {
		cfg.Connector = f.cfg.Connector
	}
	if changed("prefix") {
		cfg.Prefix = f.cfg.Prefix
	}
	if changed("debug") {
		cfg.Debug = f.cfg.Debug
	}
	if changed("read-only") {
		cfg.ReadOnly = f.cfg.ReadOnly
	}
	if changed("max-body-size") {
		cfg.MaxBodySize = f.cfg.MaxBodySize
	}
	if changed("log-level") {
		cfg.LogLevel = f.cfg.LogLevel
	}
	if changed("log-format") {
		cfg.LogFormat = f.cfg.LogFormat
	}
	if changed("store") {
		cfg.Store = f.cfg.Store
	}
	if changed("sqlite-path") {
		cfg.SQLitePath = f.cfg.SQLitePath
	}
	if changed("nats-url") {
		cfg.NATSURL = f.cfg.NATSURL
	}
	if changed("topic") {
		cfg.Topic = f.cfg.Topic
	}
	if changed("health-listen") {
		cfg.HealthListen = f.cfg.HealthListen
	}
	if changed("cors-origin") {
		cfg.CORSOrigin = f.cfg.CORSOrigin
	}
	if changed("rate-limit") {
		cfg.RateLimit = f.cfg.RateLimit
	}
	if changed("rate-burst") {
		cfg.RateBurst = f.cfg.RateBurst
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {

	switch c.Connector {
	case connectorHTTP, connectorFiber:
	default:
		return fmt.Errorf("unsupported connector '%s'", c.Connector)
	}

	switch c.Store {
	case storeMemory, storeSQLite, storePostgres, storeMinIO:
	default:
		return fmt.Errorf("unsupported store '%s'", c.Store)
	}

	if c.Prefix != "" && !strings.HasPrefix(c.Prefix, "/") {
		return fmt.Errorf("prefix must start with '/'")
	}

	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must be positive")
	}

	return nil
}
