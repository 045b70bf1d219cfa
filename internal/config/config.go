// Package config reads process configuration from the environment. A .env
// file in the working directory is loaded first when present; variables that
// are already set take precedence over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"voice-checkout/internal/domain"
)

const (
	SessionBackendMemory   = "memory"
	SessionBackendDynamoDB = "dynamodb"

	// Parameter names under PARAM_PREFIX, or keys of the static parameter set.
	ParamStripeSecretKey      = "stripe-secret-key"
	ParamStripePublishableKey = "stripe-publishable-key"

	defaultPort = "8080"
)

// Getenv looks up one variable; os.Getenv in production.
type Getenv func(key string) string

type Server struct {
	Port                 string        `validate:"required,numeric"`
	StripeSecretKey      string        `validate:"required_without=ParamPrefix"`
	StripePublishableKey string        `validate:"required_without=ParamPrefix"`
	StripeBackendURL     string        `validate:"omitempty,url"`
	ParamPrefix          string        `validate:"omitempty,startswith=/"`
	SessionBackend       string        `validate:"oneof=memory dynamodb"`
	SessionTable         string        `validate:"required_if=SessionBackend dynamodb"`
	ProcessorTimeout     time.Duration `validate:"gt=0"`
	Shipping             domain.ShippingInfo
	LogLevel             slog.Level
}

type Agent struct {
	ServerURL      string        `validate:"required,url"`
	RequestTimeout time.Duration `validate:"gt=0"`
	LogLevel       slog.Level
}

// LoadDotEnv loads ./.env when it exists.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: load .env: %w", err)
	}
	return nil
}

func LoadServer(getenv Getenv) (Server, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	env := envReader{getenv: getenv}
	cfg := Server{
		Port:                 env.str("PORT", defaultPort),
		StripeSecretKey:      env.str("STRIPE_SECRET_KEY", ""),
		StripePublishableKey: env.str("STRIPE_PUBLISHABLE_KEY", ""),
		StripeBackendURL:     env.str("STRIPE_BACKEND_URL", ""),
		ParamPrefix:          env.str("PARAM_PREFIX", ""),
		SessionBackend:       strings.ToLower(env.str("SESSION_BACKEND", SessionBackendMemory)),
		SessionTable:         env.str("SESSION_TABLE", ""),
		ProcessorTimeout:     env.duration("PROCESSOR_TIMEOUT", 15*time.Second),
		Shipping: domain.ShippingInfo{
			Price:    env.integer("SHIPPING_PRICE", 1000),
			TimeDays: int(env.integer("SHIPPING_TIME_DAYS", 2)),
			Taxes:    env.integer("SHIPPING_TAXES", 100),
		},
		LogLevel: env.level("LOG_LEVEL"),
	}
	if err := errors.Join(env.errs...); err != nil {
		return Server{}, err
	}
	if cfg.Shipping.Price < 0 || cfg.Shipping.TimeDays < 0 || cfg.Shipping.Taxes < 0 {
		return Server{}, errors.New("config: shipping values must not be negative")
	}
	if err := validate(cfg); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// StaticParams exposes env-provided keys under the parameter names used with SSM.
func (s Server) StaticParams() map[string]string {
	return map[string]string{
		ParamStripeSecretKey:      s.StripeSecretKey,
		ParamStripePublishableKey: s.StripePublishableKey,
	}
}

func LoadAgent(getenv Getenv) (Agent, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	env := envReader{getenv: getenv}
	cfg := Agent{
		ServerURL:      env.str("SERVER_URL", "http://localhost:"+env.str("PORT", defaultPort)),
		RequestTimeout: env.duration("REQUEST_TIMEOUT", 10*time.Second),
		LogLevel:       env.level("LOG_LEVEL"),
	}
	if err := errors.Join(env.errs...); err != nil {
		return Agent{}, err
	}
	if err := validate(cfg); err != nil {
		return Agent{}, err
	}
	return cfg, nil
}

func validate(cfg any) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// envReader collects parse errors so every malformed variable is reported at once.
type envReader struct {
	getenv Getenv
	errs   []error
}

func (r *envReader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *envReader) integer(key string, def int64) int64 {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return n
}

// duration accepts Go durations ("15s") or a bare number of seconds.
func (r *envReader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return d
}

func (r *envReader) level(key string) slog.Level {
	v := r.str(key, "")
	if v == "" {
		return slog.LevelInfo
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s: %w", key, err))
		return slog.LevelInfo
	}
	return lvl
}
