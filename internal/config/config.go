// Package config loads the relay's runtime settings from defaults, an optional
// .env file and PRATTLE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "PRATTLE_"

// Config holds every tunable of the relay.
type Config struct {
	Port      int
	Host      string
	AdminAddr string

	PoolSize           int
	TickInterval       time.Duration
	AcceptWait         time.Duration
	MaxMessagesPerTick int

	BufferSize          int
	MaxSendAttempts     int
	WriteAttemptTimeout time.Duration
	StallTimeout        time.Duration

	ShutdownTimeout time.Duration
	LogLevel        slog.Level
}

// Default returns the settings the relay runs with when nothing overrides
// them. Port has no default and must be supplied.
func Default() *Config {
	return &Config{
		AdminAddr:           ":9090",
		PoolSize:            20,
		TickInterval:        200 * time.Millisecond,
		AcceptWait:          50 * time.Millisecond,
		MaxMessagesPerTick:  256,
		BufferSize:          64 * 1024,
		MaxSendAttempts:     100,
		WriteAttemptTimeout: 10 * time.Millisecond,
		StallTimeout:        30 * time.Second,
		ShutdownTimeout:     5 * time.Second,
		LogLevel:            slog.LevelInfo,
	}
}

// Addr is the chat listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}
	if c.PoolSize <= 0 {
		errs = append(errs, errors.New("pool size must be positive"))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, errors.New("tick interval must be positive"))
	}
	if c.AcceptWait <= 0 {
		errs = append(errs, errors.New("accept wait must be positive"))
	}
	if c.MaxMessagesPerTick <= 0 {
		errs = append(errs, errors.New("max messages per tick must be positive"))
	}
	if c.BufferSize < 64 {
		errs = append(errs, errors.New("buffer size must be at least 64 bytes"))
	}
	if c.MaxSendAttempts <= 0 {
		errs = append(errs, errors.New("max send attempts must be positive"))
	}
	if c.WriteAttemptTimeout <= 0 {
		errs = append(errs, errors.New("write attempt timeout must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}
	return errors.Join(errs...)
}

// Load layers an optional .env file and the environment over Default. A
// missing envFile is not an error; an unreadable one is. Load does not
// validate, since the port may still come from the command line.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := Default()
	var errs []error
	intVar := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	durationVar := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	intVar("PORT", &cfg.Port)
	if v, ok := lookup("HOST"); ok {
		cfg.Host = v
	}
	if v, ok := os.LookupEnv(envPrefix + "ADMIN_ADDR"); ok {
		// Set but empty disables the admin listener.
		cfg.AdminAddr = v
	}
	intVar("POOL_SIZE", &cfg.PoolSize)
	durationVar("TICK_INTERVAL", &cfg.TickInterval)
	durationVar("ACCEPT_WAIT", &cfg.AcceptWait)
	intVar("MAX_MESSAGES_PER_TICK", &cfg.MaxMessagesPerTick)
	intVar("BUFFER_SIZE", &cfg.BufferSize)
	intVar("MAX_SEND_ATTEMPTS", &cfg.MaxSendAttempts)
	durationVar("WRITE_ATTEMPT_TIMEOUT", &cfg.WriteAttemptTimeout)
	durationVar("STALL_TIMEOUT", &cfg.StallTimeout)
	durationVar("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)
	if v, ok := lookup("LOG_LEVEL"); ok {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			errs = append(errs, fmt.Errorf("%sLOG_LEVEL: %w", envPrefix, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func lookup(key string) (string, bool) {
	v := os.Getenv(envPrefix + key)
	return v, v != ""
}
