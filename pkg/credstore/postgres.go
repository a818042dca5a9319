package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// DBConfig holds database connection configuration.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// NewDB creates a database connection for the durable backend.
func NewDB(cfg DBConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// PostgresBackend is a durable storage scope persisted in a single
// key-value table:
//
//	CREATE TABLE credential_store (
//	    scope      TEXT NOT NULL,
//	    key        TEXT NOT NULL,
//	    value      TEXT NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    PRIMARY KEY (scope, key)
//	);
type PostgresBackend struct {
	db    *sql.DB
	scope Scope
}

// NewPostgresBackend creates a Postgres-backed storage scope.
func NewPostgresBackend(db *sql.DB, scope Scope) *PostgresBackend {
	return &PostgresBackend{db: db, scope: scope}
}

// Get returns the value for key, or "" if absent.
func (b *PostgresBackend) Get(ctx context.Context, key string) (string, error) {
	query := `
		SELECT value FROM credential_store
		WHERE scope = $1 AND key = $2
	`
	var value string
	err := b.db.QueryRowContext(ctx, query, b.scope, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// Set stores the value for key.
func (b *PostgresBackend) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO credential_store (scope, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (scope, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	_, err := b.db.ExecContext(ctx, query, b.scope, key, value)
	return err
}

// Delete removes the key.
func (b *PostgresBackend) Delete(ctx context.Context, key string) error {
	query := `
		DELETE FROM credential_store
		WHERE scope = $1 AND key = $2
	`
	_, err := b.db.ExecContext(ctx, query, b.scope, key)
	return err
}
