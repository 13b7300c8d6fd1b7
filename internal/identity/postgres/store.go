package postgres

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ttskit/ttskit/internal/identity"
	"github.com/ttskit/ttskit/pkg/types"
)

var _ identity.Store = (*Store)(nil)

// Store implements [identity.Store] over a single [pgxpool.Pool].
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
	salt string
}

// New connects to the database at dsn, verifies the connection and runs
// [Migrate] so the identity tables exist. salt feeds the key digest.
func New(ctx context.Context, dsn, salt string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("identity store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("identity store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("identity store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("identity store: migrate: %w", err)
	}
	return &Store{pool: pool, salt: salt}, nil
}

// Pool exposes the underlying pool for health checks.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// CreateUser implements [identity.Store].
func (s *Store) CreateUser(ctx context.Context, u identity.User) error {
	if u.UserID == "" {
		return fmt.Errorf("identity store: create user: empty user id")
	}
	if u.ID == "" {
		u.ID = uuid.New().String()
	}

	const q = `
		INSERT INTO users (id, user_id, username, email, is_active, is_admin)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, q, u.ID, u.UserID, u.Username, u.Email, u.IsActive, u.IsAdmin)
	if err != nil {
		return fmt.Errorf("identity store: create user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", identity.ErrUserExists, u.UserID)
	}
	return nil
}

// GetUser implements [identity.Store].
func (s *Store) GetUser(ctx context.Context, userID string) (identity.User, error) {
	const q = `
		SELECT id, user_id, username, email, is_active, is_admin, created_at, updated_at, last_login
		FROM   users
		WHERE  user_id = $1`

	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return identity.User{}, fmt.Errorf("identity store: get user: %w", err)
	}
	u, err := pgx.CollectOneRow(rows, scanUser)
	if errors.Is(err, pgx.ErrNoRows) {
		return identity.User{}, fmt.Errorf("%w: %q", identity.ErrUserNotFound, userID)
	}
	if err != nil {
		return identity.User{}, fmt.Errorf("identity store: get user: %w", err)
	}
	return u, nil
}

// ListUsers implements [identity.Store]. Users are returned oldest first.
func (s *Store) ListUsers(ctx context.Context) ([]identity.User, error) {
	const q = `
		SELECT id, user_id, username, email, is_active, is_admin, created_at, updated_at, last_login
		FROM   users
		ORDER  BY created_at, user_id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("identity store: list users: %w", err)
	}
	users, err := pgx.CollectRows(rows, scanUser)
	if err != nil {
		return nil, fmt.Errorf("identity store: list users: %w", err)
	}
	return users, nil
}

// UpdateUser implements [identity.Store].
func (s *Store) UpdateUser(ctx context.Context, u identity.User) error {
	const q = `
		UPDATE users
		SET    username = $2, email = $3, is_active = $4, is_admin = $5, updated_at = now()
		WHERE  user_id = $1`

	tag, err := s.pool.Exec(ctx, q, u.UserID, u.Username, u.Email, u.IsActive, u.IsAdmin)
	if err != nil {
		return fmt.Errorf("identity store: update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", identity.ErrUserNotFound, u.UserID)
	}
	return nil
}

// DeleteUser implements [identity.Store]. Owned keys cascade.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("identity store: delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", identity.ErrUserNotFound, userID)
	}
	return nil
}

// CreateAPIKey implements [identity.Store].
func (s *Store) CreateAPIKey(ctx context.Context, userID string, perms types.PermissionSet, expiresAt *time.Time) (string, identity.APIKey, error) {
	plain, key, err := identity.MintAPIKey(s.salt, userID, perms, expiresAt)
	if err != nil {
		return "", identity.APIKey{}, err
	}

	const q = `
		INSERT INTO api_keys (id, user_id, api_key_hash, permissions, is_active, expires_at)
		VALUES ($1, $2, $3, $4, TRUE, $5)
		RETURNING created_at, updated_at`

	err = s.pool.QueryRow(ctx, q,
		key.ID, key.UserID, key.Hash,
		identity.EncodePermissionsJSON(key.Permissions),
		key.ExpiresAt,
	).Scan(&key.CreatedAt, &key.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return "", identity.APIKey{}, fmt.Errorf("%w: %q", identity.ErrUserNotFound, userID)
		}
		return "", identity.APIKey{}, fmt.Errorf("identity store: create api key: %w", err)
	}
	return plain, key, nil
}

// ListAPIKeys implements [identity.Store]. Keys are returned oldest first;
// an empty userID lists every key.
func (s *Store) ListAPIKeys(ctx context.Context, userID string) ([]identity.APIKey, error) {
	const q = `
		SELECT id, user_id, api_key_hash, permissions, is_active, created_at, updated_at, last_used, expires_at, usage_count
		FROM   api_keys
		WHERE  $1 = '' OR user_id = $1
		ORDER  BY created_at, id`

	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("identity store: list api keys: %w", err)
	}
	keys, err := pgx.CollectRows(rows, scanKey)
	if err != nil {
		return nil, fmt.Errorf("identity store: list api keys: %w", err)
	}
	return keys, nil
}

// DeleteAPIKey implements [identity.Store].
func (s *Store) DeleteAPIKey(ctx context.Context, keyID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, keyID)
	if err != nil {
		return fmt.Errorf("identity store: delete api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", identity.ErrKeyNotFound, keyID)
	}
	return nil
}

// VerifyAPIKey implements [identity.Store]. The row is found by digest;
// the stored hash is still compared in constant time before any state
// changes.
func (s *Store) VerifyAPIKey(ctx context.Context, plain string) (*types.Principal, error) {
	digest := identity.HashKey(s.salt, plain)

	const q = `
		SELECT k.id, k.api_key_hash, k.permissions, k.is_active, k.expires_at,
		       u.id, u.user_id, u.is_active, u.is_admin
		FROM   api_keys k
		JOIN   users u ON u.user_id = k.user_id
		WHERE  k.api_key_hash = $1`

	var (
		key   identity.APIKey
		perms string
		owner identity.User
	)
	err := s.pool.QueryRow(ctx, q, digest).Scan(
		&key.ID, &key.Hash, &perms, &key.IsActive, &key.ExpiresAt,
		&owner.ID, &owner.UserID, &owner.IsActive, &owner.IsAdmin,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, identity.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("identity store: verify api key: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(key.Hash), []byte(digest)) != 1 {
		return nil, identity.ErrKeyNotFound
	}
	if !key.IsActive {
		return nil, identity.ErrKeyRevoked
	}
	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return nil, identity.ErrKeyExpired
	}
	if !owner.IsActive {
		return nil, identity.ErrUserInactive
	}

	const bump = `
		UPDATE api_keys
		SET    usage_count = usage_count + 1, last_used = now(), updated_at = now()
		WHERE  id = $1`
	if _, err := s.pool.Exec(ctx, bump, key.ID); err != nil {
		return nil, fmt.Errorf("identity store: bump key usage: %w", err)
	}

	key.UserID = owner.UserID
	key.Permissions = identity.ParsePermissionsJSON(perms)
	return identity.BuildPrincipal(owner, key), nil
}

// Close implements [identity.Store].
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanUser(row pgx.CollectableRow) (identity.User, error) {
	var u identity.User
	err := row.Scan(&u.ID, &u.UserID, &u.Username, &u.Email,
		&u.IsActive, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt, &u.LastLogin)
	return u, err
}

func scanKey(row pgx.CollectableRow) (identity.APIKey, error) {
	var (
		k     identity.APIKey
		perms string
	)
	err := row.Scan(&k.ID, &k.UserID, &k.Hash, &perms, &k.IsActive,
		&k.CreatedAt, &k.UpdatedAt, &k.LastUsed, &k.ExpiresAt, &k.UsageCount)
	if err != nil {
		return identity.APIKey{}, err
	}
	k.Permissions = identity.ParsePermissionsJSON(perms)
	return k, nil
}

// isForeignKeyViolation detects the 23503 SQLSTATE raised when a key is
// inserted for a user that does not exist.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
