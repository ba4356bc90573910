package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// HTTP Configuration
	Port           string
	CORSOrigins    string
	TrustedProxies []string // peers allowed to set X-Forwarded-For; none by default

	// Dashboard behaviour
	MaxHistory      int
	AuthTimeout     time.Duration
	PermissivePush  bool
	AutoRestart     bool
	ResetToReady    bool
	ObserverBuffer  int
	ReportDir       string
	ReportRetention time.Duration

	// Enrichment
	EnrichTimeout          time.Duration
	EnrichCacheTTL         time.Duration
	EnrichCacheMax         int
	EnrichPurgeInterval    time.Duration
	GeoAccuracyThresholdKM float64
	GeoPreciseURL          string
	GeoFallbackURL         string
	GeoFallbackToken       string

	// Logging
	LogLevel  string
	LogFormat string
	LogDir    string

	// MQTT Configuration (bridge disabled when MQTTBroker is empty)
	MQTTBroker             string
	MQTTClientID           string
	MQTTUsername           string
	MQTTPassword           string
	MQTTTopicDeviceEvents  string
	MQTTTopicDeviceReplies string
	MQTTTopicState         string
	MQTTTopicStatus        string

	// ClickHouse Configuration (archive disabled when ClickHouseAddr is empty)
	ClickHouseAddr string
	ClickHouseDB   string
	ClickHouseUser string
	ClickHousePass string
}

func Load() *Config {
	return LoadFrom()
}

// LoadFrom reads the given env files before resolving the environment.
// Variables already set in the process take precedence. With no files,
// a .env in the working directory is used if it exists.
func LoadFrom(files ...string) *Config {
	if err := godotenv.Load(files...); err != nil && len(files) > 0 {
		slog.Warn("failed to load env file", "files", files, "error", err)
	}

	return &Config{
		Port:           getEnv("PORT", "10000"),
		CORSOrigins:    getEnv("CORS_ORIGINS", "*"),
		TrustedProxies: getEnvList("TRUSTED_PROXIES"),

		MaxHistory:      getEnvInt("MAX_HISTORY", 20),
		AuthTimeout:     getEnvDuration("AUTH_TIMEOUT", 5*time.Minute),
		PermissivePush:  getEnvBool("PERMISSIVE_PUSH", false),
		AutoRestart:     getEnvBool("AUTO_RESTART", false),
		ResetToReady:    getEnvBool("RESET_TO_READY", false),
		ObserverBuffer:  getEnvInt("OBSERVER_BUFFER", 64),
		ReportDir:       getEnv("REPORT_DIR", ""),
		ReportRetention: getEnvDuration("REPORT_RETENTION", 60*time.Second),

		EnrichTimeout:          getEnvDuration("ENRICH_TIMEOUT", 3*time.Second),
		EnrichCacheTTL:         getEnvDuration("ENRICH_CACHE_TTL", 5*time.Minute),
		EnrichCacheMax:         getEnvInt("ENRICH_CACHE_MAX", 4096),
		EnrichPurgeInterval:    getEnvDuration("ENRICH_PURGE_INTERVAL", 10*time.Minute),
		GeoAccuracyThresholdKM: getEnvFloat("GEO_ACCURACY_THRESHOLD_KM", 50),
		GeoPreciseURL:          getEnv("GEO_PRECISE_URL", "http://ip-api.com/json"),
		GeoFallbackURL:         getEnv("GEO_FALLBACK_URL", "https://ipinfo.io"),
		GeoFallbackToken:       getEnv("GEO_FALLBACK_TOKEN", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
		LogDir:    getEnv("LOG_DIR", ""),

		MQTTBroker:             getEnv("MQTT_BROKER", ""),
		MQTTClientID:           getEnv("MQTT_CLIENT_ID", "aerospin-backend"),
		MQTTUsername:           getEnv("MQTT_USERNAME", ""),
		MQTTPassword:           getEnv("MQTT_PASSWORD", ""),
		MQTTTopicDeviceEvents:  getEnv("MQTT_TOPIC_DEVICE_EVENTS", "aerospin/device/events"),
		MQTTTopicDeviceReplies: getEnv("MQTT_TOPIC_DEVICE_REPLIES", "aerospin/device/replies"),
		MQTTTopicState:         getEnv("MQTT_TOPIC_STATE", "aerospin/dashboard/state"),
		MQTTTopicStatus:        getEnv("MQTT_TOPIC_STATUS", "aerospin/dashboard/status"),

		ClickHouseAddr: getEnv("CLICKHOUSE_ADDR", ""),
		ClickHouseDB:   getEnv("CLICKHOUSE_DB", "aerospin"),
		ClickHouseUser: getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePass: getEnv("CLICKHOUSE_PASS", ""),
	}
}

// MQTTEnabled reports whether the MQTT bridge should start
func (c *Config) MQTTEnabled() bool { return c.MQTTBroker != "" }

// ArchiveEnabled reports whether sessions are exported to ClickHouse
func (c *Config) ArchiveEnabled() bool { return c.ClickHouseAddr != "" }

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvList splits a comma separated value, dropping blanks
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("failed to parse env var as int, using default", "key", key, "error", err)
		return defaultValue
	}
	return intValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		slog.Warn("failed to parse env var as float, using default", "key", key, "error", err)
		return defaultValue
	}
	return floatValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		slog.Warn("failed to parse env var as bool, using default", "key", key, "error", err)
		return defaultValue
	}
	return boolValue
}

// getEnvDuration accepts Go duration strings ("90s") or a bare number of seconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	secs, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("failed to parse env var as duration, using default", "key", key, "error", err)
		return defaultValue
	}
	return time.Duration(secs) * time.Second
}
