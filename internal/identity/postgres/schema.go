// Package postgres provides the PostgreSQL-backed identity store for
// deployments with a DATABASE_URL. Users and API keys live in two tables;
// permissions are serialized to JSON text only at this edge and surfaced
// as [types.PermissionSet] everywhere else.
//
// Usage:
//
//	store, err := postgres.New(ctx, dsn, salt)
//	if err != nil { … }
//	defer store.Close()
//
//	principal, err := store.VerifyAPIKey(ctx, bearer)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlUsers = `
CREATE TABLE IF NOT EXISTS users (
    id          TEXT         PRIMARY KEY,
    user_id     TEXT         NOT NULL UNIQUE,
    username    TEXT         NOT NULL DEFAULT '',
    email       TEXT         NOT NULL DEFAULT '',
    is_active   BOOLEAN      NOT NULL DEFAULT TRUE,
    is_admin    BOOLEAN      NOT NULL DEFAULT FALSE,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    last_login  TIMESTAMPTZ
);
`

const ddlAPIKeys = `
CREATE TABLE IF NOT EXISTS api_keys (
    id            TEXT         PRIMARY KEY,
    user_id       TEXT         NOT NULL REFERENCES users (user_id) ON DELETE CASCADE,
    api_key_hash  TEXT         NOT NULL UNIQUE,
    permissions   TEXT         NOT NULL DEFAULT '["read"]',
    is_active     BOOLEAN      NOT NULL DEFAULT TRUE,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    last_used     TIMESTAMPTZ,
    expires_at    TIMESTAMPTZ,
    usage_count   BIGINT       NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_api_keys_user_id
    ON api_keys (user_id);
`

// Migrate creates the identity tables. It is idempotent (CREATE TABLE IF
// NOT EXISTS throughout) and safe to run on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlUsers, ddlAPIKeys} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
