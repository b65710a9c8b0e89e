package config

import "time"

type Config struct {
	App           AppConfig           `mapstructure:"app"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Queue         QueueConfig         `mapstructure:"queue"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	OpenAI        OpenAIConfig        `mapstructure:"openai"`
	Speech        SpeechConfig        `mapstructure:"speech"`
	Session       SessionConfig       `mapstructure:"session"`
	Recognition   RecognitionConfig   `mapstructure:"recognition"`
	Recovery      RecoveryConfig      `mapstructure:"recovery"`
	Vault         VaultConfig         `mapstructure:"vault"`
	OpenTelemetry OpenTelemetryConfig `mapstructure:"opentelemetry"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type HTTPConfig struct {
	Port           int           `mapstructure:"port"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogQueries      bool          `mapstructure:"log_queries"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// QueueConfig selects and configures the message queue backend.
// Driver is "nats" or "rabbitmq".
type QueueConfig struct {
	Driver        string        `mapstructure:"driver"`
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

type JWTConfig struct {
	Secret   string `mapstructure:"secret"`
	Issuer   string `mapstructure:"issuer"`
	Audience string `mapstructure:"audience"`
}

type OpenAIConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Breaker        BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	MaxRequests uint32        `mapstructure:"max_requests"`
	Interval    time.Duration `mapstructure:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MinRequests uint32        `mapstructure:"min_requests"`
	FailureRate float64       `mapstructure:"failure_rate"`
}

type SpeechConfig struct {
	ASRStreamURL string        `mapstructure:"asr_stream_url"`
	APIKey       string        `mapstructure:"api_key"`
	Language     string        `mapstructure:"language"`
	Voice        string        `mapstructure:"voice"`
	FadeOut      time.Duration `mapstructure:"fade_out"`
}

type SessionConfig struct {
	// Timeout arms after user activity in Idle/Listening.
	Timeout time.Duration `mapstructure:"timeout"`
	// WaitingTimeout is the longer window armed in Waiting* states.
	WaitingTimeout time.Duration `mapstructure:"waiting_timeout"`
	// HistoryCapacity bounds the command history ring buffer.
	HistoryCapacity int `mapstructure:"history_capacity"`
	// RecentWindow is how many prior records feed disambiguation.
	RecentWindow int `mapstructure:"recent_window"`
	// DuplicateThreshold is the similarity score above which a new
	// transaction is held for confirmation.
	DuplicateThreshold float64 `mapstructure:"duplicate_threshold"`
}

type RecognitionConfig struct {
	// LLMThreshold: local layers below this confidence fall through to
	// the LLM recognizer.
	LLMThreshold float64 `mapstructure:"llm_threshold"`
	// LearnedTTL bounds the learned-intent cache entries.
	LearnedTTL time.Duration `mapstructure:"learned_ttl"`
}

type RecoveryConfig struct {
	MaxRetries  int           `mapstructure:"max_retries"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
}

type VaultConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"`
	Mount   string `mapstructure:"mount"`
}

type OpenTelemetryConfig struct {
	Enabled     bool         `mapstructure:"enabled"`
	ServiceName string       `mapstructure:"service_name"`
	Jaeger      JaegerConfig `mapstructure:"jaeger"`
}

type JaegerConfig struct {
	Endpoint     string  `mapstructure:"endpoint"`
	SamplerParam float64 `mapstructure:"sampler_param"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
