// Package identity stores users and their API keys and authenticates
// bearer credentials to a [types.Principal].
//
// Two implementations exist: an in-memory store (the default, and the
// backend for bootstrap keys) and a PostgreSQL store under
// identity/postgres for deployments with a DATABASE_URL. Only the salted
// SHA-256 digest of a key is ever persisted; the plain key is returned
// exactly once, at creation.
package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ttskit/ttskit/pkg/types"
)

var (
	ErrUserExists   = errors.New("identity: user already exists")
	ErrUserNotFound = errors.New("identity: user not found")
	ErrUserInactive = errors.New("identity: user inactive")
	ErrKeyNotFound  = errors.New("identity: api key not found")
	ErrKeyRevoked   = errors.New("identity: api key revoked")
	ErrKeyExpired   = errors.New("identity: api key expired")
)

// User is an account that can own API keys. UserID is the external
// identifier (a Telegram id or an operator-chosen name) and is unique.
type User struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Username  string     `json:"username,omitempty"`
	Email     string     `json:"email,omitempty"`
	IsActive  bool       `json:"is_active"`
	IsAdmin   bool       `json:"is_admin"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

// APIKey is the stored metadata of one credential. Hash is the salted
// SHA-256 hex digest; the plain key is never stored.
type APIKey struct {
	ID          string              `json:"id"`
	UserID      string              `json:"user_id"`
	Hash        string              `json:"-"`
	Permissions types.PermissionSet `json:"permissions"`
	IsActive    bool                `json:"is_active"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	LastUsed    *time.Time          `json:"last_used,omitempty"`
	ExpiresAt   *time.Time          `json:"expires_at,omitempty"`
	UsageCount  int64               `json:"usage_count"`
}

// Store is the identity port consumed by the REST auth middleware and the
// bot's admin commands.
type Store interface {
	// CreateUser adds a user. A duplicate UserID fails with ErrUserExists.
	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, userID string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	// UpdateUser rewrites the mutable fields (username, email, active and
	// admin flags) of an existing user.
	UpdateUser(ctx context.Context, u User) error
	// DeleteUser removes the user and every key it owns.
	DeleteUser(ctx context.Context, userID string) error

	// CreateAPIKey mints a credential for userID and returns the plain key
	// exactly once. An empty permission set defaults to read-only. A nil
	// expiresAt never expires.
	CreateAPIKey(ctx context.Context, userID string, perms types.PermissionSet, expiresAt *time.Time) (string, APIKey, error)
	// ListAPIKeys returns the keys owned by userID, oldest first. An empty
	// userID lists keys across all users.
	ListAPIKeys(ctx context.Context, userID string) ([]APIKey, error)
	DeleteAPIKey(ctx context.Context, keyID string) error

	// VerifyAPIKey authenticates a plain bearer key: digest lookup,
	// constant-time hash comparison, key active and unexpired, owner
	// active. Success bumps the key's usage counter and last-use stamp.
	// Admin owners receive the admin permission on top of the key's own
	// grants.
	VerifyAPIKey(ctx context.Context, plain string) (*types.Principal, error)

	Close() error
}

const keyPrefix = "tk_"

// newPlainKey mints a `tk_<32 hex>` credential from crypto/rand.
func newPlainKey() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("identity: generate key: %w", err)
	}
	return keyPrefix + hex.EncodeToString(raw[:]), nil
}

// MintAPIKey generates a plain credential and the metadata to persist for
// it. An empty permission set defaults to read-only. Timestamps are left
// zero for the backend to fill.
func MintAPIKey(salt, userID string, perms types.PermissionSet, expiresAt *time.Time) (string, APIKey, error) {
	plain, err := newPlainKey()
	if err != nil {
		return "", APIKey{}, err
	}
	if len(perms) == 0 {
		perms = types.NewPermissionSet(types.PermissionRead)
	}
	return plain, APIKey{
		ID:          uuid.New().String(),
		UserID:      userID,
		Hash:        HashKey(salt, plain),
		Permissions: perms,
		IsActive:    true,
		ExpiresAt:   expiresAt,
	}, nil
}

// HashKey returns the digest persisted for a plain key: hex SHA-256 over
// salt followed by the key.
func HashKey(salt, plain string) string {
	sum := sha256.Sum256([]byte(salt + plain))
	return hex.EncodeToString(sum[:])
}

// EncodePermissionsJSON serializes a set to the JSON text stored in the
// api_keys table.
func EncodePermissionsJSON(s types.PermissionSet) string {
	b, err := json.Marshal(s.Strings())
	if err != nil {
		return `["read"]`
	}
	return string(b)
}

// ParsePermissionsJSON decodes the persisted JSON form. Malformed or empty
// input degrades to read-only instead of failing verification.
func ParsePermissionsJSON(raw string) types.PermissionSet {
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return types.NewPermissionSet(types.PermissionRead)
	}
	s := make(types.PermissionSet, len(names))
	for _, n := range names {
		s.Add(types.Permission(n))
	}
	if len(s) == 0 {
		return types.NewPermissionSet(types.PermissionRead)
	}
	return s
}

// BuildPrincipal builds the Principal returned by VerifyAPIKey. The key's
// grants are copied; admin owners additionally carry admin.
func BuildPrincipal(u User, k APIKey) *types.Principal {
	perms := make(types.PermissionSet, len(k.Permissions)+1)
	for p := range k.Permissions {
		perms[p] = struct{}{}
	}
	if u.IsAdmin {
		perms.Add(types.PermissionAdmin)
	}
	return &types.Principal{
		UserID:      u.UserID,
		IsAdmin:     u.IsAdmin,
		Permissions: perms,
	}
}
