package internal

import (
	"chat-relay/domain"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Host                 string        `env:"HOST,default=localhost"`
	Port                 int           `env:"PORT,default=8080"`
	HealthPort           int           `env:"HEALTH_PORT,default=0"`
	LogLevel             string        `env:"LOG_LEVEL,required=true"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH,required=true"`
	JWTSecret            string        `env:"JWT_SECRET,required=true"`
	AuthTokenDuration    time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`
	AuthTimeout          time.Duration `env:"AUTH_TIMEOUT,default=10s"`
	OutboundBufferSize   int           `env:"OUTBOUND_BUFFER_SIZE,default=256"`
	DeliveryTimeout      time.Duration `env:"DELIVERY_TIMEOUT,default=2s"`
	WriteTimeout         time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	ReadLimit            int64         `env:"READ_LIMIT,default=1048576"`
	PingInterval         time.Duration `env:"PING_INTERVAL,default=30s"`
	DuplicateLoginPolicy string        `env:"DUPLICATE_LOGIN_POLICY,default=evict-old"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	StatsInterval        time.Duration `env:"STATS_INTERVAL,default=5s"`
	ShutdownTimeout      time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	AllowedOrigins       string        `env:"ALLOWED_ORIGINS,default=*"`
}

// LoadDotenv reads .env style files into the environment without
// overriding variables already set. Missing files are ignored.
func LoadDotenv(files ...string) error {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !isNotExist(err) {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// Validate checks the values go-env cannot check on its own.
func (c Config) Validate() error {
	if _, err := domain.ParseDuplicateLoginPolicy(c.DuplicateLoginPolicy); err != nil {
		return err
	}
	switch {
	case c.AuthTimeout <= 0:
		return fmt.Errorf("AUTH_TIMEOUT must be positive, got %s", c.AuthTimeout)
	case c.OutboundBufferSize <= 0:
		return fmt.Errorf("OUTBOUND_BUFFER_SIZE must be positive, got %d", c.OutboundBufferSize)
	case c.DeliveryTimeout <= 0:
		return fmt.Errorf("DELIVERY_TIMEOUT must be positive, got %s", c.DeliveryTimeout)
	case c.WriteTimeout <= 0:
		return fmt.Errorf("WRITE_TIMEOUT must be positive, got %s", c.WriteTimeout)
	case len(c.JWTSecret) < 16:
		return fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}
	return nil
}

func (c Config) Policy() domain.DuplicateLoginPolicy {
	policy, _ := domain.ParseDuplicateLoginPolicy(c.DuplicateLoginPolicy)
	return policy
}

func (c Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
