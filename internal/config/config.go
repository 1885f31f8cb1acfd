// Package config loads the service configuration. Sources, from strongest to
// weakest: command-line flags, environment, a .env file in the working
// directory and the envDefault tags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	env "github.com/caarlos0/env/v6"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	RunAddr             string        `env:"SERVER_ADDRESS" envDefault:":8000" validate:"hostname_port"`
	ShortURLBase        string        `env:"API_BASE_URL" envDefault:"http://localhost:8000" validate:"url"`
	LogLevel            string        `env:"LOG_LEVEL" envDefault:"info" validate:"loglevel"`
	DBFileName          string        `env:"FILE_STORAGE_PATH" validate:"omitempty,filepath"`
	DatabaseDSN         string        `env:"DB_URI"`
	DBConnectionTimeout time.Duration `env:"DB_CONNECTION_TIMEOUT" envDefault:"10s" validate:"gt=0"`

	ClientID         string        `env:"CLIENT_ID"`
	ClientSecret     string        `env:"CLIENT_SECRET"`
	AuthCallbackURL  string        `env:"AUTH_CALLBACK_URL" envDefault:"http://localhost:8000/callback" validate:"url"`
	OAuthStateSecret string        `env:"OAUTH_STATE_SECRET"`
	OAuthStateTTL    time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m" validate:"gt=0"`

	IDGenerator        string        `env:"ID_GENERATOR" envDefault:"random" validate:"oneof=random clock"`
	ClickCounting      bool          `env:"CLICK_COUNTING" envDefault:"true"`
	ClickFlushInterval time.Duration `env:"CLICK_FLUSH_INTERVAL" envDefault:"2s" validate:"gt=0"`
	ClickQueueCapacity int           `env:"CLICK_QUEUE_CAPACITY" envDefault:"1024" validate:"gt=0"`

	TrustedSubnet  string   `env:"TRUSTED_SUBNET" validate:"omitempty,cidr"`
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:"," validate:"dive,cidr"`

	RedisAddr         string        `env:"REDIS_ADDR"`
	RedisPassword     string        `env:"REDIS_PASSWORD"`
	RedisDB           int           `env:"REDIS_DB" envDefault:"0" validate:"gte=0"`
	RateLimitRequests int           `env:"RATELIMIT_REQUESTS" envDefault:"30" validate:"gte=0"`
	RateLimitWindow   time.Duration `env:"RATELIMIT_WINDOW" envDefault:"1m" validate:"gt=0"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," validate:"dive,url"`

	OTLPEndpoint string `env:"OTLP_ENDPOINT"`
	ServiceName  string `env:"SERVICE_NAME" envDefault:"tokenshrt"`
}

func validateFilePath(fieldLevel validator.FieldLevel) bool {
	path := fieldLevel.Field().String()
	_, err := os.Stat(path)

	return err == nil || errors.Is(err, fs.ErrNotExist)
}

func validateLogLevel(fieldLevel validator.FieldLevel) bool {
	value := fieldLevel.Field().String()

	allowedLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}

	return allowedLogLevels[value]
}

func (c *Config) validate() error {
	validate := validator.New()

	err := validate.RegisterValidation("loglevel", validateLogLevel)
	if err != nil {
		return err
	}

	err = validate.RegisterValidation("filepath", validateFilePath)
	if err != nil {
		return err
	}

	return validate.Struct(c)
}

type InitOption func(*initOptions)

type initOptions struct {
	disableFlagsParsing bool
	args                []string
	envFile             string
}

func WithDisableFlagsParsing(disableFlagsParsing bool) InitOption {
	return func(options *initOptions) {
		options.disableFlagsParsing = disableFlagsParsing
	}
}

// WithArgs parses args instead of os.Args[1:].
func WithArgs(args []string) InitOption {
	return func(options *initOptions) {
		options.args = args
	}
}

// WithEnvFile loads fileName instead of ./.env.
func WithEnvFile(fileName string) InitOption {
	return func(options *initOptions) {
		options.envFile = fileName
	}
}

func New(optionsProto ...InitOption) (*Config, error) {
	options := &initOptions{
		disableFlagsParsing: false,
		args:                os.Args[1:],
		envFile:             ".env",
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	// godotenv never overrides variables that are already set
	if err := godotenv.Load(options.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("in internal/config/config.go/New(): error while `godotenv.Load()` calling: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("in internal/config/config.go/New(): error while `env.Parse()` calling: %w", err)
	}

	if !options.disableFlagsParsing {
		if err := cfg.parseFlags(options.args); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) parseFlags(args []string) error {
	flags := flag.NewFlagSet("shortener", flag.ContinueOnError)
	flags.StringVar(&c.RunAddr, "a", c.RunAddr, "address and port to run server")
	flags.StringVar(&c.ShortURLBase, "b", c.ShortURLBase, "base address of the resulting shortened URL")
	flags.StringVar(&c.LogLevel, "l", c.LogLevel, "logger level")
	flags.StringVar(&c.DBFileName, "f", c.DBFileName, "JSON file name with database")
	flags.StringVar(&c.DatabaseDSN, "d", c.DatabaseDSN, "A string with the database connection details")

	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("in internal/config/config.go/parseFlags(): error while `flags.Parse()` calling: %w", err)
	}

	return nil
}
