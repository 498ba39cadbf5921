// Package config loads server configuration from the environment.
package config

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds every runtime knob the server reads. Values come from
// environment variables via go-envconfig.
type Config struct {
	// Addr is the listen address of the HTTP/WebSocket server.
	Addr string `env:"ADDR, default=:8080"`

	// JWTSecret signs session-resume tokens. Required unless JWTKeys is set.
	JWTSecret string `env:"JWT_SECRET"`
	// JWTKeys optionally supplies rotatable signing keys in the form
	// kid:secret,kid2:secret2. When set it takes precedence over JWTSecret.
	JWTKeys string `env:"JWT_KEYS"`
	// JWTActiveKid selects which entry of JWTKeys signs new tokens.
	JWTActiveKid string `env:"JWT_ACTIVE_KID"`
	// TokenTTL is how long issued resume tokens stay valid.
	TokenTTL time.Duration `env:"TOKEN_TTL, default=24h"`

	// AuthRateRPM limits login/signup/setup attempts per key per minute.
	AuthRateRPM int `env:"AUTH_RATE_RPM, default=10"`

	LogLevel  string `env:"LOG_LEVEL, default=info"`
	LogPretty bool   `env:"LOG_PRETTY, default=false"`

	Mongo MongoConfig
}

// MongoConfig holds the backing store connection settings.
type MongoConfig struct {
	URI      string `env:"MONGO_URI, default=mongodb://localhost:27017"`
	Database string `env:"MONGO_DB, default=tether"`
}

// Load reads configuration from the process environment.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
