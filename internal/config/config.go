package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full runtime configuration, loaded from environment
// variables with development-friendly defaults. DATABASE_URL unset means the
// in-memory store; MQTT_BROKER unset disables the MQTT source.
type Config struct {
	Port            string
	CORSAllowOrigin string

	DatabaseURL string
	PGMaxConns  int

	MaxRetained         int
	VitalsSchemaVersion int

	RateLimitPerMinute int
	TrustProxyHeaders  bool

	LogLevel  string
	LogFormat string

	MQTT MQTTConfig
}

type MQTTConfig struct {
	Broker           string
	ClientID         string
	Username         string
	Password         string
	QoS              byte
	TemperatureTopic string
	VitalsTopic      string
	Timeout          time.Duration
}

func (c MQTTConfig) Enabled() bool { return c.Broker != "" }

func Load() Config {
	return Config{
		Port:            envOrDefault("PORT", "3000"),
		CORSAllowOrigin: envOrDefault("CORS_ALLOW_ORIGIN", "*"),

		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		PGMaxConns:  intOrDefault("PG_MAX_CONNS", 10),

		MaxRetained:         intOrDefault("MAX_RETAINED", 100),
		VitalsSchemaVersion: intOrDefault("VITALS_SCHEMA_VERSION", 2),

		RateLimitPerMinute: intOrDefault("RATE_LIMIT_PER_MINUTE", 0),
		TrustProxyHeaders:  boolOrDefault("TRUST_PROXY_HEADERS", false),

		LogLevel:  envOrDefault("LOG_LEVEL", "info"),
		LogFormat: envOrDefault("LOG_FORMAT", "json"),

		MQTT: MQTTConfig{
			Broker:           strings.TrimSpace(os.Getenv("MQTT_BROKER")),
			ClientID:         envOrDefault("MQTT_CLIENT_ID", "iot-sensor-relay"),
			Username:         os.Getenv("MQTT_USERNAME"),
			Password:         os.Getenv("MQTT_PASSWORD"),
			QoS:              byte(intOrDefault("MQTT_QOS", 1)),
			TemperatureTopic: envOrDefault("MQTT_TEMPERATURE_TOPIC", "sensors/temperature"),
			VitalsTopic:      envOrDefault("MQTT_VITALS_TOPIC", "sensors/vitals"),
			Timeout:          time.Duration(intOrDefault("MQTT_TIMEOUT_SECONDS", 5)) * time.Second,
		},
	}
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func intOrDefault(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}

	parsedValue, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsedValue
}

func boolOrDefault(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}

	parsedValue, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsedValue
}
