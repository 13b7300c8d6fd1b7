package identity

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ttskit/ttskit/pkg/types"
)

// Memory is the in-process identity store. It is the default backend when
// no DATABASE_URL is configured and the seat of bootstrap keys from
// TTSKIT_API_KEYS. Safe for concurrent use.
type Memory struct {
	salt string
	now  func() time.Time

	mu    sync.Mutex
	users map[string]User   // keyed by external UserID
	keys  map[string]APIKey // keyed by key id
}

// NewMemory builds an empty store hashing keys with salt.
func NewMemory(salt string) *Memory {
	return &Memory{
		salt:  salt,
		now:   time.Now,
		users: make(map[string]User),
		keys:  make(map[string]APIKey),
	}
}

// CreateUser implements [Store].
func (m *Memory) CreateUser(_ context.Context, u User) error {
	if u.UserID == "" {
		return fmt.Errorf("identity: create user: empty user id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.UserID]; ok {
		return fmt.Errorf("%w: %q", ErrUserExists, u.UserID)
	}
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	now := m.now()
	u.CreatedAt = now
	u.UpdatedAt = now
	m.users[u.UserID] = u
	return nil
}

// GetUser implements [Store].
func (m *Memory) GetUser(_ context.Context, userID string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return User{}, fmt.Errorf("%w: %q", ErrUserNotFound, userID)
	}
	return u, nil
}

// ListUsers implements [Store]. Users are returned oldest first.
func (m *Memory) ListUsers(_ context.Context) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// UpdateUser implements [Store]. Identity fields (ID, UserID, CreatedAt)
// are preserved from the stored record.
func (m *Memory) UpdateUser(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.users[u.UserID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUserNotFound, u.UserID)
	}
	cur.Username = u.Username
	cur.Email = u.Email
	cur.IsActive = u.IsActive
	cur.IsAdmin = u.IsAdmin
	cur.UpdatedAt = m.now()
	m.users[u.UserID] = cur
	return nil
}

// DeleteUser implements [Store]. The user's keys are removed with it.
func (m *Memory) DeleteUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return fmt.Errorf("%w: %q", ErrUserNotFound, userID)
	}
	delete(m.users, userID)
	for id, k := range m.keys {
		if k.UserID == userID {
			delete(m.keys, id)
		}
	}
	return nil
}

// CreateAPIKey implements [Store].
func (m *Memory) CreateAPIKey(_ context.Context, userID string, perms types.PermissionSet, expiresAt *time.Time) (string, APIKey, error) {
	plain, key, err := MintAPIKey(m.salt, userID, perms, expiresAt)
	if err != nil {
		return "", APIKey{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return "", APIKey{}, fmt.Errorf("%w: %q", ErrUserNotFound, userID)
	}
	now := m.now()
	key.CreatedAt = now
	key.UpdatedAt = now
	m.keys[key.ID] = key
	return plain, key, nil
}

// Seed installs a key with a caller-chosen plain value, creating the owner
// if needed. Used for TTSKIT_API_KEYS bootstrap credentials; not part of
// the Store port.
func (m *Memory) Seed(_ context.Context, userID, plain string, perms types.PermissionSet) error {
	if userID == "" || plain == "" {
		return fmt.Errorf("identity: seed: empty user id or key")
	}
	if len(perms) == 0 {
		perms = types.NewPermissionSet(types.PermissionRead, types.PermissionWrite)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if _, ok := m.users[userID]; !ok {
		m.users[userID] = User{
			ID:        uuid.New().String(),
			UserID:    userID,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	key := APIKey{
		ID:          uuid.New().String(),
		UserID:      userID,
		Hash:        HashKey(m.salt, plain),
		Permissions: perms,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.keys[key.ID] = key
	return nil
}

// ListAPIKeys implements [Store]. Keys are returned oldest first.
func (m *Memory) ListAPIKeys(_ context.Context, userID string) ([]APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []APIKey
	for _, k := range m.keys {
		if userID == "" || k.UserID == userID {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteAPIKey implements [Store].
func (m *Memory) DeleteAPIKey(_ context.Context, keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[keyID]; !ok {
		return fmt.Errorf("%w: %q", ErrKeyNotFound, keyID)
	}
	delete(m.keys, keyID)
	return nil
}

// VerifyAPIKey implements [Store]. Every stored digest is compared in
// constant time; the scan does not stop at the first match, so timing does
// not reveal which slot held the key.
func (m *Memory) VerifyAPIKey(_ context.Context, plain string) (*types.Principal, error) {
	digest := []byte(HashKey(m.salt, plain))

	m.mu.Lock()
	defer m.mu.Unlock()

	matchID := ""
	for id, k := range m.keys {
		if subtle.ConstantTimeCompare([]byte(k.Hash), digest) == 1 {
			matchID = id
		}
	}
	if matchID == "" {
		return nil, ErrKeyNotFound
	}

	key := m.keys[matchID]
	now := m.now()
	if !key.IsActive {
		return nil, ErrKeyRevoked
	}
	if key.ExpiresAt != nil && now.After(*key.ExpiresAt) {
		return nil, ErrKeyExpired
	}
	owner, ok := m.users[key.UserID]
	if !ok || !owner.IsActive {
		return nil, ErrUserInactive
	}

	key.UsageCount++
	key.LastUsed = &now
	key.UpdatedAt = now
	m.keys[matchID] = key

	return BuildPrincipal(owner, key), nil
}

// Close implements [Store].
func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
