package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrMissingSecret = errors.New("SIGNING_SECRET is required")

type Config struct {
	Server    ServerConfig
	Websocket WebsocketConfig
	AMQP      AMQPConfig
	Signing   SigningConfig
	Logging   LoggingConfig
	Kafka     KafkaConfig
	PIDFile   string
}

type ServerConfig struct {
	Host string
	Port string
}

// Addr returns the host:port the HTTP server listens on.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

type WebsocketConfig struct {
	SendBuffer   int
	ReadLimit    int64
	PingInterval time.Duration
	PongWait     time.Duration
}

type AMQPConfig struct {
	URL         string
	Host        string
	Port        int
	VirtualHost string
	Username    string
	Password    string
}

// DialURL returns the explicit URL when configured, otherwise one assembled from the parts.
func (c AMQPConfig) DialURL() string {
	if c.URL != "" {
		return c.URL
	}
	return amqp.URI{
		Scheme:   "amqp",
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		Vhost:    c.VirtualHost,
	}.String()
}

type SigningConfig struct {
	Salt   string
	Secret string
}

type LoggingConfig struct {
	Directory string
	Level     string
	Format    string
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
}

// Enabled reports whether the Kafka ingest forwarder should run.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0 && len(c.Topics) > 0
}

// Load reads the relay configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: envOr("WS_HOST", "127.0.0.1"),
			Port: envOr("WS_PORT", envOr("PORT", "8888")),
		},
		AMQP: AMQPConfig{
			URL:         strings.TrimSpace(os.Getenv("AMQP_URL")),
			Host:        envOr("AMQP_HOST", "127.0.0.1"),
			VirtualHost: envOr("AMQP_VHOST", "taiga"),
			Username:    envOr("AMQP_USERNAME", "guest"),
			Password:    envOr("AMQP_PASSWORD", "guest"),
		},
		Signing: SigningConfig{
			Salt:   envOr("SIGNING_SALT", "django.core.signing"),
			Secret: os.Getenv("SIGNING_SECRET"),
		},
		Logging: LoggingConfig{
			Directory: envOr("LOG_DIR", "./logs"),
			Level:     envOr("LOG_LEVEL", "info"),
			Format:    envOr("LOG_FORMAT", "text"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			GroupID: envOr("KAFKA_GROUP_ID", "events-relay"),
			Topics:  splitList(os.Getenv("KAFKA_TOPICS")),
		},
	}

	// An explicitly empty PID_FILE disables the pid file.
	if v, ok := os.LookupEnv("PID_FILE"); ok {
		cfg.PIDFile = strings.TrimSpace(v)
	} else {
		cfg.PIDFile = "/tmp/taiga-events.pid"
	}

	var err error
	if cfg.AMQP.Port, err = envInt("AMQP_PORT", 5672); err != nil {
		return nil, err
	}
	sendBuffer, err := envInt("WS_SEND_BUFFER", 16)
	if err != nil {
		return nil, err
	}
	cfg.Websocket.SendBuffer = sendBuffer
	readLimit, err := envInt("WS_READ_LIMIT", 1<<16)
	if err != nil {
		return nil, err
	}
	cfg.Websocket.ReadLimit = int64(readLimit)
	if cfg.Websocket.PingInterval, err = envDuration("WS_PING_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.Websocket.PongWait, err = envDuration("WS_PONG_WAIT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.Websocket.PingInterval >= cfg.Websocket.PongWait {
		return nil, fmt.Errorf("WS_PING_INTERVAL (%s) must be shorter than WS_PONG_WAIT (%s)", cfg.Websocket.PingInterval, cfg.Websocket.PongWait)
	}

	if strings.TrimSpace(cfg.Signing.Secret) == "" {
		return nil, ErrMissingSecret
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s: expected a positive integer, got %q", key, raw)
	}
	return v, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s: expected a positive duration, got %q", key, raw)
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
