package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr        string
	WebRoot           string
	ResponseRetention time.Duration

	SMTPHost string
	SMTPPort int

	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string
	MQTTTopic    string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		ListenAddr:        envOrDefault("FALLWATCH_LISTEN_ADDR", ":8000"),
		WebRoot:           os.Getenv("FALLWATCH_WEB_ROOT"),
		ResponseRetention: time.Duration(ParsePositiveIntEnv("FALLWATCH_RETENTION_HOURS", 48)) * time.Hour,
		SMTPHost:          envOrDefault("FALLWATCH_SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:          ParsePositiveIntEnv("FALLWATCH_SMTP_PORT", 465),
		MQTTBroker:        os.Getenv("FALLWATCH_MQTT_BROKER"),
		MQTTClientID:      envOrDefault("FALLWATCH_MQTT_CLIENT_ID", "fallwatch"),
		MQTTUsername:      os.Getenv("FALLWATCH_MQTT_USERNAME"),
		MQTTPassword:      os.Getenv("FALLWATCH_MQTT_PASSWORD"),
		MQTTTopic:         envOrDefault("FALLWATCH_MQTT_TOPIC", "fallwatch/alerts"),
		MinioEndpoint:     os.Getenv("FALLWATCH_MINIO_ENDPOINT"),
		MinioAccessKey:    os.Getenv("FALLWATCH_MINIO_ACCESS_KEY"),
		MinioSecretKey:    os.Getenv("FALLWATCH_MINIO_SECRET_KEY"),
		MinioBucket:       envOrDefault("FALLWATCH_MINIO_BUCKET", "fallwatch-alerts"),
		MinioUseSSL:       envBool("FALLWATCH_MINIO_USE_SSL"),
	}

	if cfg.MinioEndpoint != "" && (cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "") {
		return Config{}, fmt.Errorf("FALLWATCH_MINIO_ACCESS_KEY and FALLWATCH_MINIO_SECRET_KEY are required when FALLWATCH_MINIO_ENDPOINT is set")
	}
	if cfg.MQTTBroker != "" && cfg.MQTTTopic == "" {
		return Config{}, fmt.Errorf("FALLWATCH_MQTT_TOPIC must not be empty when FALLWATCH_MQTT_BROKER is set")
	}
	if cfg.WebRoot != "" {
		info, err := os.Stat(cfg.WebRoot)
		if err != nil || !info.IsDir() {
			return Config{}, fmt.Errorf("FALLWATCH_WEB_ROOT %q is not a directory", cfg.WebRoot)
		}
	}
	return cfg, nil
}

func envOrDefault(k, v string) string {
	if raw := os.Getenv(k); raw != "" {
		return raw
	}
	return v
}

func envBool(k string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(k)), "true")
}

func ParsePositiveIntEnv(k string, d int) int {
	raw := os.Getenv(k)
	if raw == "" {
		return d
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return d
	}
	return n
}
