package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	OrderLink OrderLinkConfig `yaml:"orderlink"`
}

type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	WSURL   string `yaml:"ws_url"`
}

type KafkaConfig struct {
	Host                 string `yaml:"host"`
	Port                 int    `yaml:"port"`
	OrderEventsTopicName string `yaml:"order_events_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type OrderLinkConfig struct {
	HTTPAddr  string `yaml:"http_addr"`
	TokenPath string `yaml:"token_path"`

	// Reconnect policy: base delay doubles per attempt up to the cap;
	// after max attempts the manager gives up until an explicit reconnect.
	ReconnectBaseSeconds int `yaml:"reconnect_base_seconds"`
	ReconnectCapSeconds  int `yaml:"reconnect_cap_seconds"`
	ReconnectMaxAttempts int `yaml:"reconnect_max_attempts"`

	// Retention of in-memory order records and the session event log.
	RetentionTTLSeconds  int `yaml:"retention_ttl_seconds"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`

	// TTL for the projected order view cache in redis. 0 disables caching.
	ViewCacheTTLSeconds int `yaml:"view_cache_ttl_seconds"`

	// Optional event sinks.
	KafkaSinkEnabled   bool `yaml:"kafka_sink_enabled"`
	ArchiveSinkEnabled bool `yaml:"archive_sink_enabled"`

	HTTPTimeoutSeconds int `yaml:"http_timeout_seconds"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
