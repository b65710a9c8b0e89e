package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/app/configs")

	viper.SetEnvPrefix("APP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Allow common env vars without APP_ prefix for Docker/VM deploys
	viper.BindEnv("http.port", "HTTP_PORT", "APP_HTTP_PORT")
	viper.BindEnv("database.url", "DATABASE_URL", "APP_DATABASE_URL")
	viper.BindEnv("redis.url", "REDIS_URL", "APP_REDIS_URL")
	viper.BindEnv("queue.url", "QUEUE_URL", "APP_QUEUE_URL")
	viper.BindEnv("jwt.secret", "JWT_SECRET", "APP_JWT_SECRET")
	viper.BindEnv("openai.api_key", "OPENAI_API_KEY", "APP_OPENAI_API_KEY")
	viper.BindEnv("speech.api_key", "SPEECH_API_KEY")
	viper.BindEnv("vault.address", "VAULT_ADDR")
	viper.BindEnv("vault.token", "VAULT_TOKEN")
	viper.BindEnv("app.environment", "APP_ENVIRONMENT")
	viper.BindEnv("logging.level", "LOG_LEVEL")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// no config file: env vars and defaults only
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Empirically tuned values carried as defaults, not hard invariants.
func setDefaults() {
	viper.SetDefault("queue.driver", "nats")
	viper.SetDefault("openai.model", "gpt-4o-mini")
	viper.SetDefault("openai.request_timeout", 10*time.Second)
	viper.SetDefault("openai.breaker.max_requests", 3)
	viper.SetDefault("openai.breaker.interval", 60*time.Second)
	viper.SetDefault("openai.breaker.timeout", 30*time.Second)
	viper.SetDefault("openai.breaker.min_requests", 5)
	viper.SetDefault("openai.breaker.failure_rate", 0.6)
	viper.SetDefault("speech.fade_out", 300*time.Millisecond)
	viper.SetDefault("session.timeout", 30*time.Second)
	viper.SetDefault("session.waiting_timeout", 60*time.Second)
	viper.SetDefault("session.history_capacity", 50)
	viper.SetDefault("session.recent_window", 20)
	viper.SetDefault("session.duplicate_threshold", 0.8)
	viper.SetDefault("recognition.llm_threshold", 0.6)
	viper.SetDefault("recognition.learned_ttl", 24*time.Hour)
	viper.SetDefault("recovery.max_retries", 3)
	viper.SetDefault("recovery.backoff_base", 500*time.Millisecond)
	viper.SetDefault("vault.mount", "secret")
}
