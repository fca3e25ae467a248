// Package config loads the worker's tunables from the environment, with an
// optional config.yaml overlay, the way the rest of the fleet uses viper.
package config

import (
	"fmt"
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds every setting the engine, alert merger, and transports need
// at startup. Nothing here is reloaded mid-run: WatchConfig only logs
// config file changes, and the returned Config is not updated.
type Config struct {
	DedupTable         string        `mapstructure:"alerts_dedup_table"`
	AnalysisAPIFQDN    string        `mapstructure:"analysis_api_fqdn"`
	AnalysisAPIPath    string        `mapstructure:"analysis_api_path"`
	S3Bucket           string        `mapstructure:"s3_bucket"`
	NotificationsTopic string        `mapstructure:"notifications_topic"`
	AWSRegion          string        `mapstructure:"aws_default_region"`
	RuleRefreshTTL     time.Duration `mapstructure:"rule_refresh_ttl"`
	BufferMaxBytes     int64         `mapstructure:"buffer_max_bytes"`
	KafkaBrokers       []string      `mapstructure:"kafka_brokers"`
	KafkaTopic         string        `mapstructure:"kafka_topic"`
	HTTPAddr           string        `mapstructure:"http_addr"`
	RedisAddr          string        `mapstructure:"redis_addr"`
	RedisPassword      string        `mapstructure:"redis_password"`
	RedisDB            int           `mapstructure:"redis_db"`
	EnableKafka        bool          `mapstructure:"enable_kafka"`
	SlackWebhookURL    string        `mapstructure:"slack_webhook_url"`
}

// Load binds the known environment variables and, if present, merges in
// config.yaml from the working directory or /etc/rules-engine/.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("rule_refresh_ttl", 5*time.Minute)
	v.SetDefault("buffer_max_bytes", int64(100_000_000))
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("kafka_topic", "rules-engine.envelopes")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("enable_kafka", false)

	v.SetEnvPrefix("")
	for _, key := range []string{
		"alerts_dedup_table", "analysis_api_fqdn", "analysis_api_path",
		"s3_bucket", "notifications_topic", "aws_default_region",
		"redis_addr", "redis_password", "slack_webhook_url",
	} {
		if err := v.BindEnv(key, envName(key)); err != nil {
			return nil, fmt.Errorf("failed to bind env var for %s: %w", key, err)
		}
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/rules-engine/")
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		log.Printf("config file changed: %s", e.Name)
	})
	v.WatchConfig()

	return &cfg, nil
}

// envName upper-cases a mapstructure key into its ALERTS_DEDUP_TABLE-style
// environment variable name.
func envName(key string) string {
	out := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
