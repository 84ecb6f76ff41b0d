package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// DefaultMaproomBaseURL is the public IRI FbF maproom deployment.
const DefaultMaproomBaseURL = "https://iridl.ldeo.columbia.edu/fbfmaproom2"

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// CountriesFile is the YAML country document.
	CountriesFile string

	// Upstream maproom configuration. MaproomBaseURL is empty unless set in
	// the environment; see BaseURL.
	MaproomBaseURL   string
	MaproomTimeout   time.Duration
	MaproomCacheSize int
	MaproomCacheTTL  time.Duration

	// CacheDir holds the per-maproom admin unit CSV files. Empty disables it.
	CacheDir string

	CORSAllowedOrigins []string

	// Trigger snapshot feed.
	KafkaBrokers      []string
	KafkaTriggerTopic string
	KafkaEnabled      bool
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	maproomTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("MAPROOM_TIMEOUT", "30s"))
	if err != nil || maproomTimeout <= 0 {
		return nil, errors.New("invalid MAPROOM_TIMEOUT")
	}

	cacheTTL, err := time.ParseDuration(sharedcfg.EnvOrDefault("MAPROOM_CACHE_TTL", "15m"))
	if err != nil || cacheTTL < 0 {
		return nil, errors.New("invalid MAPROOM_CACHE_TTL")
	}

	var brokers []string
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = sharedcfg.ParseBrokers(v)
	}
	kafkaEnabled := len(brokers) > 0
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		CountriesFile: sharedcfg.EnvOrDefault("COUNTRIES_FILE", "config.yaml"),

		MaproomBaseURL:   strings.TrimRight(os.Getenv("MAPROOM_BASE_URL"), "/"),
		MaproomTimeout:   maproomTimeout,
		MaproomCacheSize: parseCacheSize(),
		MaproomCacheTTL:  cacheTTL,

		CacheDir: envOrDefaultAllowEmpty("CACHE_DIR", "data/cache"),

		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),

		KafkaBrokers:      brokers,
		KafkaTriggerTopic: sharedcfg.EnvOrDefault("KAFKA_TRIGGER_TOPIC", "trigger-snapshots"),
		KafkaEnabled:      kafkaEnabled,
	}

	if cfg.CountriesFile == "" {
		return nil, errors.New("COUNTRIES_FILE is required")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if cfg.KafkaEnabled && cfg.KafkaTriggerTopic == "" {
		return nil, errors.New("KAFKA_TRIGGER_TOPIC is required")
	}

	return cfg, nil
}

// BaseURL resolves the maproom root: the environment wins over the country
// document, which wins over DefaultMaproomBaseURL.
func (c *Config) BaseURL(doc *Document) string {
	if c.MaproomBaseURL != "" {
		return c.MaproomBaseURL
	}
	if doc != nil && doc.Upstream.BaseURL != "" {
		return doc.Upstream.BaseURL
	}
	return DefaultMaproomBaseURL
}

func parseCacheSize() int {
	if s := os.Getenv("MAPROOM_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 256
}

// envOrDefaultAllowEmpty distinguishes an explicitly empty variable from an
// unset one, so CACHE_DIR="" can turn the cache off.
func envOrDefaultAllowEmpty(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
