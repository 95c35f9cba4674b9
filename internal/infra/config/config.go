package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App          AppSettings          `mapstructure:"app"`
	Postgres     PostgresSettings     `mapstructure:"postgres"`
	Redis        RedisSettings        `mapstructure:"redis"`
	Kafka        KafkaSettings        `mapstructure:"kafka"`
	Credential   CredentialSettings   `mapstructure:"credential"`
	Verification VerificationSettings `mapstructure:"verification"`
	RateLimit    RateLimitSettings    `mapstructure:"rate_limit"`
	Telemetry    TelemetrySettings    `mapstructure:"telemetry"`
	CORS         CORSSettings         `mapstructure:"cors"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// IsDev reports whether development-only behaviour (code echo) is allowed.
func (s AppSettings) IsDev() bool {
	return s.Env != "production"
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures the Redis connection used for codes and rate limits.
type RedisSettings struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	CodePrefix string `mapstructure:"code_prefix"`
}

// KafkaSettings configures the consent event producer.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
}

// CredentialSettings configures the short-lived bearer credential issued on
// successful verification.
type CredentialSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// VerificationSettings configures one-time code issuance.
type VerificationSettings struct {
	CodeLength    int           `mapstructure:"code_length"`
	CodeTTL       time.Duration `mapstructure:"code_ttl"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	ReviewBaseURL string        `mapstructure:"review_base_url"`
}

// RateLimitSettings configures the sliding window applied to code requests.
type RateLimitSettings struct {
	WindowDuration  time.Duration `mapstructure:"window_duration"`
	SendMaxAttempts int           `mapstructure:"send_max_attempts"`
}

type TelemetrySettings struct {
	TracingEndpoint string  `mapstructure:"tracing_endpoint"`
	ServiceName     string  `mapstructure:"service_name"`
	SamplingRate    float64 `mapstructure:"sampling_rate"`
}

type CORSSettings struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("OPTIN")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.code_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"credential.secret",
		"credential.issuer",
		"credential.ttl",
		"verification.code_length",
		"verification.code_ttl",
		"verification.max_attempts",
		"verification.review_base_url",
		"rate_limit.window_duration",
		"rate_limit.send_max_attempts",
		"telemetry.tracing_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"cors.allowed_origins",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "optin-manager")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "optin")
	v.SetDefault("postgres.database", "optin")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.code_prefix", "optin:code")

	v.SetDefault("kafka.topic_prefix", "optin")

	v.SetDefault("credential.issuer", "optin-manager")
	v.SetDefault("credential.ttl", 30*time.Minute)

	v.SetDefault("verification.code_length", 6)
	v.SetDefault("verification.code_ttl", 10*time.Minute)
	v.SetDefault("verification.max_attempts", 5)

	v.SetDefault("rate_limit.window_duration", time.Minute)
	v.SetDefault("rate_limit.send_max_attempts", 3)

	v.SetDefault("telemetry.service_name", "optin-manager")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("cors.allowed_origins", []string{"*"})
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func (c *AppConfig) validate() error {
	if c.App.Env == "production" && strings.TrimSpace(c.Credential.Secret) == "" {
		return fmt.Errorf("credential.secret is required in production")
	}
	if c.Verification.CodeLength < 4 {
		return fmt.Errorf("verification.code_length must be at least 4")
	}
	if c.Verification.CodeTTL <= 0 {
		return fmt.Errorf("verification.code_ttl must be positive")
	}
	return nil
}
