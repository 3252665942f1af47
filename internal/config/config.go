package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/example/fleet-availability/internal/agenda"
	"github.com/example/fleet-availability/internal/models"
)

// EnvPrefix namespaces structured overrides, e.g. FA_SEARCH__FLEXIBLE_RADIUS_KM.
const EnvPrefix = "FA_"

// Config captures every tunable of the server and consumer processes.
// Defaults let the binary run locally with in-memory stores.
type Config struct {
	HTTP     HTTPConfig     `json:"http"`
	Redis    RedisConfig    `json:"redis"`
	Postgres PostgresConfig `json:"postgres"`
	Kafka    KafkaConfig    `json:"kafka"`
	Geocoder GeocoderConfig `json:"geocoder"`
	Timezone TimezoneConfig `json:"timezone"`
	Search   SearchConfig   `json:"search"`
	Windows  WindowsConfig  `json:"windows"`
	Notify   NotifyConfig   `json:"notify"`
	Log      LogConfig      `json:"log"`
}

type HTTPConfig struct {
	Addr            string        `json:"addr"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// RedisConfig enables the Redis geo index when Addr is set.
type RedisConfig struct {
	Addr      string `json:"addr"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	GeoPrefix string `json:"geo_prefix"`
}

// PostgresConfig enables the Postgres store when DSN is set.
type PostgresConfig struct {
	DSN     string `json:"dsn"`
	Migrate bool   `json:"migrate"`
}

type KafkaConfig struct {
	Brokers        []string `json:"brokers"`
	EventsTopic    string   `json:"events_topic"`
	PositionsTopic string   `json:"positions_topic"`
	GroupID        string   `json:"group_id"`
}

type GeocoderConfig struct {
	APIKey   string `json:"api_key"`
	Endpoint string `json:"endpoint"`
}

type TimezoneConfig struct {
	// Keywords extend or override the built-in address table.
	Keywords      map[string]string `json:"keywords"`
	LookupTimeout time.Duration     `json:"lookup_timeout"`
	CacheTTL      time.Duration     `json:"cache_ttl"`
}

type SearchConfig struct {
	FlexibleRadiusKm   float64 `json:"flexible_radius_km"`
	ZoneSearchRadiusKm float64 `json:"zone_search_radius_km"`
	IndexLimit         int     `json:"index_limit"`

	// IndexSyncInterval is how often the geo index is rebuilt from the store.
	IndexSyncInterval time.Duration `json:"index_sync_interval"`
}

type WindowsConfig struct {
	Policy string             `json:"policy"`
	Bands  []models.TimeRange `json:"bands"`
}

// WindowPolicy converts the section into the agenda window policy.
func (w WindowsConfig) WindowPolicy() agenda.WindowPolicy {
	return agenda.WindowPolicy{Mode: w.Policy, Bands: w.Bands}
}

type NotifyConfig struct {
	WebhookURL   string `json:"webhook_url"`
	WebhookToken string `json:"webhook_token"`
}

type LogConfig struct {
	Level string `json:"level"`
}

func defaults() map[string]any {
	bands := make([]any, 0, 3)
	for _, b := range agenda.DefaultBands() {
		bands = append(bands, map[string]any{"start_time": b.StartTime, "end_time": b.EndTime})
	}
	return map[string]any{
		"http.addr":                    ":8080",
		"http.read_timeout":            "5s",
		"http.write_timeout":           "10s",
		"http.idle_timeout":            "120s",
		"http.shutdown_timeout":        "15s",
		"redis.geo_prefix":             "fleet_geo",
		"kafka.events_topic":           "schedule-events",
		"kafka.positions_topic":        "vehicle-positions",
		"kafka.group_id":               "fleet-geo-updater",
		"timezone.lookup_timeout":      "3s",
		"timezone.cache_ttl":           "6h",
		"search.flexible_radius_km":    10.0,
		"search.zone_search_radius_km": 50.0,
		"search.index_limit":           50,
		"search.index_sync_interval":   "1m",
		"windows.policy":               agenda.WindowsSlotBounds,
		"windows.bands":                bands,
		"log.level":                    "info",
	}
}

// legacyEnv maps the flat variables older deployments set.
func legacyEnv() map[string]any {
	out := make(map[string]any)
	set := func(key, envKey string) {
		if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
			out[key] = v
		}
	}
	set("http.addr", "HTTP_ADDR")
	set("http.read_timeout", "HTTP_READ_TIMEOUT")
	set("http.write_timeout", "HTTP_WRITE_TIMEOUT")
	set("http.idle_timeout", "HTTP_IDLE_TIMEOUT")
	set("http.shutdown_timeout", "HTTP_SHUTDOWN_TIMEOUT")
	set("redis.addr", "REDIS_ADDR")
	set("redis.password", "REDIS_PASSWORD")
	set("postgres.dsn", "PG_DSN")
	set("geocoder.api_key", "GOOGLE_MAPS_API_KEY")
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		out["kafka.brokers"] = splitAndTrim(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		out["log.level"] = strings.ToLower(v)
	}
	if v := os.Getenv("MIGRATE"); v != "" {
		out["postgres.migrate"] = strings.EqualFold(v, "true")
	}
	return out
}

// Load reads configuration in increasing precedence: defaults, the
// optional file at path (YAML or JSON), legacy flat env vars, FA_ env vars.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, err
	}
	if path != "" {
		var parser koanf.Parser
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	if err := k.Load(confmap.Provider(legacyEnv(), "."), nil); err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	// FA_KAFKA__BROKERS arrives as one comma separated value
	if len(cfg.Kafka.Brokers) == 1 {
		cfg.Kafka.Brokers = splitAndTrim(cfg.Kafka.Brokers[0])
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	for name, d := range map[string]time.Duration{
		"http.read_timeout":          c.HTTP.ReadTimeout,
		"http.write_timeout":         c.HTTP.WriteTimeout,
		"timezone.lookup_timeout":    c.Timezone.LookupTimeout,
		"timezone.cache_ttl":         c.Timezone.CacheTTL,
		"search.index_sync_interval": c.Search.IndexSyncInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", name))
		}
	}
	if c.Search.FlexibleRadiusKm <= 0 {
		errs = append(errs, errors.New("search.flexible_radius_km must be > 0"))
	}
	if c.Search.ZoneSearchRadiusKm <= 0 {
		errs = append(errs, errors.New("search.zone_search_radius_km must be > 0"))
	}
	if c.Search.IndexLimit <= 0 {
		errs = append(errs, errors.New("search.index_limit must be > 0"))
	}
	if err := c.Windows.WindowPolicy().Validate(); err != nil {
		errs = append(errs, err)
	}
	for kw, zone := range c.Timezone.Keywords {
		if _, err := time.LoadLocation(zone); err != nil {
			errs = append(errs, fmt.Errorf("timezone.keywords[%s]: %w", kw, err))
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	return errors.Join(errs...)
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
