package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/depositledger/internal/apperrors"
	"github.com/nkiryanov/depositledger/internal/logger"
)

// Record store backends
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

const (
	defaultListenAddr     = "localhost:8000"
	defaultLoggingLevel   = logger.LevelInfo
	defaultEnvironment    = logger.EnvProduction
	defaultStorage        = StoragePostgres
	defaultGatewayAddr    = "https://api.paystack.co"
	defaultGatewayTimeout = 5 * time.Second
	defaultSweepInterval  = time.Minute
	defaultSweepThreshold = 30 * time.Minute
	defaultVerifyInterval = 30 * time.Second
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the service will be run
	ListenAddr string

	// Environment
	Environment string

	// Record store backend: memory, postgres or redis
	Storage string

	// Database to connect to, postgres storage only
	DatabaseDSN string

	// Redis address, redis storage only
	RedisAddr string

	// Comma separated Kafka brokers. Events are not published if empty
	KafkaBrokers string

	// Secret key to verify client access tokens
	SecretKey string

	// Payment gateway API address and merchant secret.
	// The secret signs webhooks too
	GatewayAddr    string
	GatewaySecret  string
	GatewayTimeout time.Duration

	// Where the gateway sends the payer after payment
	CallbackURL string

	// Staleness sweep: how often and which deposits are stale
	SweepInterval  time.Duration
	SweepThreshold time.Duration

	// How often pending deposits are verified with the gateway. Zero disables polling
	VerifyInterval time.Duration
}

func NewConfig() *Config {
	return &Config{
		LogLevel:       defaultLoggingLevel,
		ListenAddr:     defaultListenAddr,
		Environment:    defaultEnvironment,
		Storage:        defaultStorage,
		GatewayAddr:    defaultGatewayAddr,
		GatewayTimeout: defaultGatewayTimeout,
		SweepInterval:  defaultSweepInterval,
		SweepThreshold: defaultSweepThreshold,
		VerifyInterval: defaultVerifyInterval,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}

	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":          setString(&c.ListenAddr),
		"LOG_LEVEL":            setString(&c.LogLevel),
		"ENVIRONMENT":          setString(&c.Environment),
		"STORAGE":              setString(&c.Storage),
		"DATABASE_URI":         setString(&c.DatabaseDSN),
		"REDIS_ADDRESS":        setString(&c.RedisAddr),
		"KAFKA_BROKERS":        setString(&c.KafkaBrokers),
		"SECRET_KEY":           setString(&c.SecretKey),
		"GATEWAY_ADDRESS":      setString(&c.GatewayAddr),
		"GATEWAY_SECRET":       setString(&c.GatewaySecret),
		"GATEWAY_TIMEOUT":      setDuration(&c.GatewayTimeout),
		"PAYMENT_CALLBACK_URL": setString(&c.CallbackURL),
		"SWEEP_INTERVAL":       setDuration(&c.SweepInterval),
		"SWEEP_THRESHOLD":      setDuration(&c.SweepThreshold),
		"VERIFY_INTERVAL":      setDuration(&c.VerifyInterval),
	}

	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	return nil
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("depositledger", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVar(&c.Storage, "storage", c.Storage, "Record store (memory, postgres, redis)")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVar(&c.RedisAddr, "redis", c.RedisAddr, "Redis address")
	fs.StringVar(&c.KafkaBrokers, "kafka", c.KafkaBrokers, "Comma separated Kafka brokers")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key for access tokens")
	fs.StringVarP(&c.GatewayAddr, "gateway", "g", c.GatewayAddr, "Payment gateway API address")
	fs.StringVar(&c.GatewaySecret, "gateway-secret", c.GatewaySecret, "Payment gateway secret key")
	fs.DurationVar(&c.GatewayTimeout, "gateway-timeout", c.GatewayTimeout, "Payment gateway request timeout")
	fs.StringVar(&c.CallbackURL, "callback-url", c.CallbackURL, "Where the payer returns after payment")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "How often stale deposits are cancelled")
	fs.DurationVar(&c.SweepThreshold, "sweep-threshold", c.SweepThreshold, "Deposit age after which it is stale")
	fs.DurationVar(&c.VerifyInterval, "verify-interval", c.VerifyInterval, "How often pending deposits are verified, 0 disables")

	return fs.Parse(args)
}

// Check options required to start
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseDSN == "" {
			errs = append(errs, errors.New("database DSN is required for postgres storage"))
		}
	case StorageRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis address is required for redis storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage %q", c.Storage))
	}

	if c.SecretKey == "" {
		errs = append(errs, errors.New("secret key is required"))
	}
	if c.GatewaySecret == "" {
		errs = append(errs, errors.New("gateway secret is required"))
	}
	if c.SweepInterval <= 0 || c.SweepThreshold <= 0 {
		errs = append(errs, errors.New("sweep interval and threshold must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", apperrors.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

func (c *Config) Brokers() []string {
	var brokers []string
	for b := range strings.SplitSeq(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
