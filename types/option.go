package types

import (
	"context"

	"github.com/mcuadros/go-defaults"
)

func NewEngineOptions() *EngineOptions {
	opts := &EngineOptions{Ctx: context.Background()}
	defaults.SetDefaults(opts)
	return opts
}

type EngineOptions struct {
	Ctx context.Context
	/**
	 * default: 1024
	 * the engine steps at most this many requests per RunOnce.
	 */
	MaxConcurrency int `default:"1024"`
	/**
	 * default: true, can set it to false and *important*
	 * caller should call Engine.RunOnce() looply.
	 */
	AutoStart bool `default:"true"`
	/**
	 * default: false. If true, every runnable request is stepped in a
	 * worker pool goroutine, so after RunOnce a step may still be running.
	 * Nodes of one request are always processed one at a time.
	 */
	TaskRunAsync bool `default:"false"`
	/**
	 * default: false. If true, requests pause before nodes flagged as
	 * breakpoints. Resuming skips the flagged node.
	 */
	BreakOnBreakpoints bool `default:"false"`
	/**
	 * default: false, only set it to true when doing testing or developing.
	 */
	MemStore bool `default:"false"`

	// If both MemStore and PostgresConfig are set, PostgresConfig takes precedence
	PostgresConfig *PostgresConfig
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // disable, require, verify-ca, verify-full
}

type EngineOption func(*EngineOptions)

func WithContext(ctx context.Context) EngineOption {
	return func(opts *EngineOptions) {
		opts.Ctx = ctx
	}
}

func SetMaxConcurrency(concurrency int) EngineOption {
	return func(opts *EngineOptions) {
		opts.MaxConcurrency = concurrency
	}
}

func DisableAutoStart() EngineOption {
	return func(opts *EngineOptions) {
		opts.AutoStart = false
	}
}

func EnableTaskRunAsync() EngineOption {
	return func(opts *EngineOptions) {
		opts.TaskRunAsync = true
	}
}

func EnableBreakpoints() EngineOption {
	return func(opts *EngineOptions) {
		opts.BreakOnBreakpoints = true
	}
}

func EnableMemStore() EngineOption {
	return func(opts *EngineOptions) {
		opts.MemStore = true
	}
}

// WithPostgresConfig stores traces and request status in PostgreSQL
func WithPostgresConfig(config *PostgresConfig) EngineOption {
	return func(opts *EngineOptions) {
		opts.PostgresConfig = config
	}
}
