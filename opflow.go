// Package opflow wires an Engine to its store.
package opflow

import (
	"github.com/juju/errors"
	"github.com/warriorguo/opflow/runtime"
	"github.com/warriorguo/opflow/store"
	"github.com/warriorguo/opflow/store/mem"
	"github.com/warriorguo/opflow/store/postgres"
	"github.com/warriorguo/opflow/types"
)

// NewEngine creates an engine with the given options. Traces and request
// status go to PostgreSQL when a PostgresConfig is set, to memory otherwise.
func NewEngine(opts ...types.EngineOption) (runtime.Engine, error) {
	options := types.NewEngineOptions()
	for _, opt := range opts {
		opt(options)
	}

	s, err := newStore(options)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return runtime.NewEngine(s, options), nil
}

func newStore(options *types.EngineOptions) (store.Store, error) {
	// PostgresConfig takes precedence over MemStore
	if options.PostgresConfig != nil {
		s, err := postgres.NewPostgresStore(options.Ctx, (*postgres.Config)(options.PostgresConfig))
		if err != nil {
			return nil, errors.Annotatef(err, "failed to create PostgreSQL store")
		}
		return s, nil
	}
	return mem.NewMemStore(), nil
}
