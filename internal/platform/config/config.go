package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Protocols accepted for APPLICATION_PROTOCOL.
const (
	ProtocolHTTP  = "HTTP"
	ProtocolHTTPS = "HTTPS"
)

// Store backends accepted for STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	Protocol      string
	SSLCertFile   string
	SSLKeyFile    string
	AllowedOrigin string
	AdminToken    string
	StoreBackend  string
	Log           LogConfig
	Postgres      PostgresConfig
	Redis         RedisConfig
	Scorer        ScorerConfig
	Kafka         KafkaConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig is used when STORE_BACKEND=redis. An empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ScorerConfig configures the typing-biometrics scorer. APIKey is also the
// scorer key stamped on newly created identities.
type ScorerConfig struct {
	BaseURL          string
	APIKey           string
	APISecret        string
	ExtraCredentials map[string]string
	Quality          int
	Timeout          time.Duration
	FailureThreshold int
	SuccessThreshold int
}

// KafkaConfig enables the Kafka audit publisher when Brokers is non-empty.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ADDR", ":8000")
	v.SetDefault("APPLICATION_PROTOCOL", ProtocolHTTP)
	v.SetDefault("STORE_BACKEND", BackendMemory)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("DATABASE_URL", "postgres://localhost:5432/visitorid?sslmode=disable")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 20)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "30m")

	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 2)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	v.SetDefault("SCORER_BASE_URL", "https://api.typingdna.com")
	v.SetDefault("SCORER_QUALITY", 2)
	v.SetDefault("SCORER_TIMEOUT", "5s")
	v.SetDefault("SCORER_FAILURE_THRESHOLD", 5)
	v.SetDefault("SCORER_SUCCESS_THRESHOLD", 3)

	v.SetDefault("KAFKA_AUDIT_TOPIC", "visitorid.resolutions")
}

// Load reads configuration from the environment, after merging the optional
// dotenv file named by ENV_FILE (default ".env"). Real environment variables
// take precedence over the file.
func Load() (Server, error) {
	v := viper.New()
	setDefaults(v)

	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return Server{}, fmt.Errorf("read %s: %w", envFile, err)
		}
	}
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Server, error) {
	cfg := Server{
		Addr:          v.GetString("ADDR"),
		Protocol:      strings.ToUpper(v.GetString("APPLICATION_PROTOCOL")),
		SSLCertFile:   v.GetString("APPLICATION_SSL_CERTFILE"),
		SSLKeyFile:    v.GetString("APPLICATION_SSL_KEYFILE"),
		AllowedOrigin: v.GetString("ALLOWED_ORIGIN"),
		AdminToken:    v.GetString("AUTH_ACCESS_TOKEN"),
		StoreBackend:  strings.ToLower(v.GetString("STORE_BACKEND")),
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Postgres: PostgresConfig{
			URL:             v.GetString("DATABASE_URL"),
			MaxOpenConns:    v.GetInt("DATABASE_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DATABASE_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DATABASE_CONN_MAX_LIFETIME"),
		},
		Redis: RedisConfig{
			URL:          v.GetString("REDIS_URL"),
			PoolSize:     v.GetInt("REDIS_POOL_SIZE"),
			MinIdleConns: v.GetInt("REDIS_MIN_IDLE_CONNS"),
			DialTimeout:  v.GetDuration("REDIS_DIAL_TIMEOUT"),
			ReadTimeout:  v.GetDuration("REDIS_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("REDIS_WRITE_TIMEOUT"),
		},
		Scorer: ScorerConfig{
			BaseURL:          strings.TrimRight(v.GetString("SCORER_BASE_URL"), "/"),
			APIKey:           v.GetString("SCORER_API_KEY"),
			APISecret:        v.GetString("SCORER_API_SECRET"),
			Quality:          v.GetInt("SCORER_QUALITY"),
			Timeout:          v.GetDuration("SCORER_TIMEOUT"),
			FailureThreshold: v.GetInt("SCORER_FAILURE_THRESHOLD"),
			SuccessThreshold: v.GetInt("SCORER_SUCCESS_THRESHOLD"),
		},
		Kafka: KafkaConfig{
			Brokers:    splitList(v.GetString("KAFKA_BROKERS")),
			AuditTopic: v.GetString("KAFKA_AUDIT_TOPIC"),
		},
	}

	extra, err := parseCredentials(v.GetString("SCORER_EXTRA_CREDENTIALS"))
	if err != nil {
		return Server{}, err
	}
	cfg.Scorer.ExtraCredentials = extra

	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c Server) Validate() error {
	switch c.Protocol {
	case ProtocolHTTP:
	case ProtocolHTTPS:
		if c.SSLCertFile == "" || c.SSLKeyFile == "" {
			return errors.New("HTTPS requires APPLICATION_SSL_CERTFILE and APPLICATION_SSL_KEYFILE")
		}
	default:
		return fmt.Errorf("unknown protocol %q", c.Protocol)
	}

	switch c.StoreBackend {
	case BackendMemory, BackendPostgres:
	case BackendRedis:
		if c.Redis.URL == "" {
			return errors.New("STORE_BACKEND=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}

	if c.Scorer.Timeout <= 0 {
		return errors.New("SCORER_TIMEOUT must be positive")
	}
	return nil
}

// Credentials returns every configured scorer key with its secret.
func (c ScorerConfig) Credentials() map[string]string {
	out := make(map[string]string, len(c.ExtraCredentials)+1)
	for k, s := range c.ExtraCredentials {
		out[k] = s
	}
	if c.APIKey != "" {
		out[c.APIKey] = c.APISecret
	}
	return out
}

// parseCredentials reads "key:secret,key:secret".
func parseCredentials(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range splitList(raw) {
		key, secret, ok := strings.Cut(pair, ":")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid scorer credential %q, want key:secret", pair)
		}
		out[key] = secret
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
