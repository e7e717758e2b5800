package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/juju/errors"
	_ "github.com/lib/pq"
	"github.com/spf13/cast"
	"github.com/warriorguo/opflow/store"
	"github.com/warriorguo/opflow/types"
)

var (
	_ store.Store = &pgStore{}
)

const (
	createTableQuery = `
		CREATE TABLE IF NOT EXISTS opflow_store (
			prefix VARCHAR(255) NOT NULL,
			key VARCHAR(255) NOT NULL,
			value BYTEA,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (prefix, key)
		);

		CREATE INDEX IF NOT EXISTS idx_opflow_store_prefix ON opflow_store(prefix);
	`
	getQuery = `SELECT value FROM opflow_store WHERE prefix = $1 AND key = $2`
	setQuery = `
		INSERT INTO opflow_store (prefix, key, value, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (prefix, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = CURRENT_TIMESTAMP
	`
	removeQuery = `DELETE FROM opflow_store WHERE prefix = $1 AND key = $2`
	listQuery   = `SELECT key FROM opflow_store WHERE prefix = $1 ORDER BY key`
)

// Config holds PostgreSQL connection configuration
type Config types.PostgresConfig

func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "opflow",
		SSLMode:  "disable",
	}
}

// pgStore keeps every prefix/key pair as one row of opflow_store.
type pgStore struct {
	db *sql.DB
}

// NewPostgresStore connects with config, or DefaultConfig if nil, and
// creates the table if needed. The returned store implements io.Closer.
func NewPostgresStore(ctx context.Context, config *Config) (store.Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, errors.Annotatef(err, "failed to open postgres connection")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Annotatef(err, "failed to ping postgres")
	}

	s, err := NewPostgresStoreWithDB(ctx, db)
	if err != nil {
		db.Close()
		return nil, errors.Trace(err)
	}
	return s, nil
}

// NewPostgresStoreWithDB uses an existing connection pool, which the store
// then owns.
func NewPostgresStoreWithDB(ctx context.Context, db *sql.DB) (store.Store, error) {
	if db == nil {
		return nil, errors.NotValidf("nil db")
	}

	s := &pgStore{db: db}
	if _, err := s.db.ExecContext(ctx, createTableQuery); err != nil {
		return nil, errors.Annotatef(err, "failed to initialize table")
	}
	return s, nil
}

// Get returns nil without error for a missing key.
func (p *pgStore) Get(ctx context.Context, prefix, key string) ([]byte, error) {
	var value []byte
	err := p.db.QueryRowContext(ctx, getQuery, prefix, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Annotatef(err, "failed to get value for prefix=%s, key=%s", prefix, key)
	}
	return value, nil
}

func (p *pgStore) Set(ctx context.Context, prefix, key string, value []byte) error {
	if _, err := p.db.ExecContext(ctx, setQuery, prefix, key, value); err != nil {
		return errors.Annotatef(err, "failed to set value for prefix=%s, key=%s", prefix, key)
	}
	return nil
}

func (p *pgStore) Remove(ctx context.Context, prefix, key string) error {
	if _, err := p.db.ExecContext(ctx, removeQuery, prefix, key); err != nil {
		return errors.Annotatef(err, "failed to remove value for prefix=%s, key=%s", prefix, key)
	}
	return nil
}

// List reads every key before calling iterator, so iterator may use the
// store.
func (p *pgStore) List(ctx context.Context, prefix string, iterator func(key string) bool) error {
	keys, err := p.listKeys(ctx, prefix)
	if err != nil {
		return errors.Trace(err)
	}
	for _, key := range keys {
		if !iterator(key) {
			break
		}
	}
	return nil
}

func (p *pgStore) listKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, listQuery, prefix)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to list keys for prefix=%s", prefix)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Annotatef(err, "failed to scan key")
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Annotatef(err, "error iterating rows")
	}
	return keys, nil
}

func (p *pgStore) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Validate checks the configuration, an empty SSLMode becomes disable.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.NotValidf("empty host")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.NotValidf("port %d", c.Port)
	}
	if c.User == "" {
		return errors.NotValidf("empty user")
	}
	if c.Database == "" {
		return errors.NotValidf("empty database")
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	switch c.SSLMode {
	case "disable", "require", "verify-ca", "verify-full":
		return nil
	}
	return errors.NotValidf("sslmode %s", c.SSLMode)
}

// ParseDSN parses a key=value connection string such as
// "host=localhost port=5432 user=postgres password=secret dbname=opflow sslmode=disable".
// Keys left out keep their DefaultConfig values.
func ParseDSN(dsn string) (*Config, error) {
	config := DefaultConfig()

	for _, part := range strings.Fields(dsn) {
		key, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		switch key {
		case "host":
			config.Host = value
		case "port":
			port, err := cast.ToIntE(value)
			if err != nil {
				return nil, errors.NotValidf("port %q", value)
			}
			config.Port = port
		case "user":
			config.User = value
		case "password":
			config.Password = value
		case "dbname":
			config.Database = value
		case "sslmode":
			config.SSLMode = value
		}
	}

	return config, config.Validate()
}
