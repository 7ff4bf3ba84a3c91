package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Server        ServerConfig
	Security      SecurityConfig
	Kafka         KafkaConfig
	Redis         RedisConfig
	Websocket     WebsocketConfig
	Notifications NotificationsConfig
	Logging       LoggingConfig
}

type ServerConfig struct {
	Port            string        `env:"PORT"                    env-default:"8081"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// SecurityConfig holds token validation settings. RS256 is used when a public key is set.
type SecurityConfig struct {
	JWTSecret      string `env:"JWT_SECRET"`
	JWTPublicKey   string `env:"JWT_PUBLIC_KEY"`
	InternalAPIKey string `env:"INTERNAL_API_KEY"`
}

type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" env-separator:","`
	GroupID string   `env:"KAFKA_GROUP_ID" env-default:"relief-alerts-ws"`
	Topics  []string `env:"KAFKA_TOPICS"   env-separator:"," env-default:"relief.events"`
}

// RedisConfig selects the durable store. Without a URL the service keeps notifications in memory.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE"      env-default:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" env-default:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT"   env-default:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT"   env-default:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT"  env-default:"3s"`
}

type WebsocketConfig struct {
	SendBuffer     int           `env:"WS_SEND_BUFFER"     env-default:"256"`
	CommandTimeout time.Duration `env:"WS_COMMAND_TIMEOUT" env-default:"10s"`
}

type NotificationsConfig struct {
	PublicFeedSize int `env:"PUBLIC_FEED_SIZE" env-default:"5"`
}

type LoggingConfig struct {
	Directory string `env:"LOG_DIR"    env-default:"./logs"`
	Level     string `env:"LOG_LEVEL"  env-default:"info"`
	Format    string `env:"LOG_FORMAT" env-default:"text"`
}

// Load reads the environment. Call godotenv first to honour a local .env file.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}
	cfg.Kafka.Brokers = compact(cfg.Kafka.Brokers)
	cfg.Kafka.Topics = compact(cfg.Kafka.Topics)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Port) == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if c.Websocket.SendBuffer <= 0 {
		return fmt.Errorf("WS_SEND_BUFFER must be positive, got %d", c.Websocket.SendBuffer)
	}
	if c.Notifications.PublicFeedSize <= 0 {
		return fmt.Errorf("PUBLIC_FEED_SIZE must be positive, got %d", c.Notifications.PublicFeedSize)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// AuthConfigured reports whether any token verification key is set. Without one every
// connection is anonymous.
func (c *Config) AuthConfigured() bool {
	return strings.TrimSpace(c.Security.JWTSecret) != "" || strings.TrimSpace(c.Security.JWTPublicKey) != ""
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
