package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
	Proximity ProximityConfig `mapstructure:"proximity"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
	RateLimit    int `mapstructure:"rate_limit"` // requests per minute per IP
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ProximityConfig tunes the refresh engines. TTL is keyed by category;
// a missing or zero entry means results only go stale by movement.
type ProximityConfig struct {
	AccuracyTolerance    float64                  `mapstructure:"accuracy_tolerance"` // meters
	StaleAfter           time.Duration            `mapstructure:"stale_after"`
	MinMove              float64                  `mapstructure:"min_move"` // meters
	TTL                  map[string]time.Duration `mapstructure:"ttl"`
	ForceCooldown        time.Duration            `mapstructure:"force_cooldown"`
	PreemptTimeout       time.Duration            `mapstructure:"preempt_timeout"`
	StoreTimeout         time.Duration            `mapstructure:"store_timeout"`
	Limit                int                      `mapstructure:"limit"`
	Radius               float64                  `mapstructure:"radius"` // meters
	NotifyInterval       time.Duration            `mapstructure:"notify_interval"`
	CompassInterval      time.Duration            `mapstructure:"compass_interval"`
	CompassDelta         float64                  `mapstructure:"compass_delta"` // degrees
	FavoritePollInterval time.Duration            `mapstructure:"favorite_poll_interval"`
}

// IngestConfig lists the feeds read by the ingestor. Empty URLs are skipped.
type IngestConfig struct {
	GTFSBusURL    string        `mapstructure:"gtfs_bus_url"`
	GTFSSubwayURL string        `mapstructure:"gtfs_subway_url"`
	GBFSURL       string        `mapstructure:"gbfs_url"`
	Interval      time.Duration `mapstructure:"interval"`
	HTTPTimeout   time.Duration `mapstructure:"http_timeout"`
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.rate_limit", 120)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "nearby")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "nearby")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("proximity.accuracy_tolerance", 10.0)
	v.SetDefault("proximity.stale_after", "2m")
	v.SetDefault("proximity.min_move", 50.0)
	v.SetDefault("proximity.ttl.bus", "0s")
	v.SetDefault("proximity.ttl.subway", "0s")
	v.SetDefault("proximity.ttl.route_stop", "0s")
	v.SetDefault("proximity.ttl.bike", "10m") // dock availability changes
	v.SetDefault("proximity.force_cooldown", "5s")
	v.SetDefault("proximity.preempt_timeout", "1s")
	v.SetDefault("proximity.store_timeout", "15s")
	v.SetDefault("proximity.limit", 50)
	v.SetDefault("proximity.radius", 1500.0)
	v.SetDefault("proximity.notify_interval", "150ms")
	v.SetDefault("proximity.compass_interval", "250ms")
	v.SetDefault("proximity.compass_delta", 10.0)
	v.SetDefault("proximity.favorite_poll_interval", "30s")

	v.SetDefault("ingest.gtfs_bus_url", "")
	v.SetDefault("ingest.gtfs_subway_url", "")
	v.SetDefault("ingest.gbfs_url", "")
	v.SetDefault("ingest.interval", "0s")
	v.SetDefault("ingest.http_timeout", "30s")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: NEARBY_DATABASE_HOST → database.host
	v.SetEnvPrefix("NEARBY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Database.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
	}
	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.DBName == "" {
		errs = append(errs, "database.dbname is required")
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}

	p := c.Proximity
	if p.AccuracyTolerance < 0 {
		errs = append(errs, "proximity.accuracy_tolerance must not be negative")
	}
	if p.MinMove < 0 {
		errs = append(errs, "proximity.min_move must not be negative")
	}
	for cat, ttl := range p.TTL {
		if ttl < 0 {
			errs = append(errs, fmt.Sprintf("proximity.ttl.%s must not be negative", cat))
		}
	}
	if p.Limit < 0 || p.Limit > 200 {
		errs = append(errs, fmt.Sprintf("proximity.limit must be 0-200, got %d", p.Limit))
	}
	if p.Radius < 0 {
		errs = append(errs, "proximity.radius must not be negative")
	}
	if p.CompassDelta < 0 || p.CompassDelta > 180 {
		errs = append(errs, "proximity.compass_delta must be 0-180")
	}
	for name, d := range map[string]time.Duration{
		"stale_after":            p.StaleAfter,
		"force_cooldown":         p.ForceCooldown,
		"preempt_timeout":        p.PreemptTimeout,
		"store_timeout":          p.StoreTimeout,
		"notify_interval":        p.NotifyInterval,
		"compass_interval":       p.CompassInterval,
		"favorite_poll_interval": p.FavoritePollInterval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Sprintf("proximity.%s must not be negative", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
