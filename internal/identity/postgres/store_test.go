package postgres_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ttskit/ttskit/internal/identity"
	"github.com/ttskit/ttskit/internal/identity/postgres"
	"github.com/ttskit/ttskit/pkg/types"
)

const testSalt = "integration-salt"

// testDSN returns the test database DSN from the environment, or skips the
// test if TTSKIT_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TTSKIT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TTSKIT_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] over a clean schema and
// registers cleanup to close it.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	store, err := postgres.New(ctx, dsn, testSalt)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// dropSchema removes the identity tables in reverse dependency order.
func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS api_keys CASCADE",
		"DROP TABLE IF EXISTS users CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("dropSchema %q: %v", stmt, err)
		}
	}
}

func TestUserLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateUser(ctx, identity.User{UserID: "alice", Username: "Alice", IsActive: true}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := store.CreateUser(ctx, identity.User{UserID: "alice"}); !errors.Is(err, identity.ErrUserExists) {
		t.Errorf("duplicate CreateUser error = %v, want ErrUserExists", err)
	}

	got, err := store.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Username != "Alice" || !got.IsActive || got.CreatedAt.IsZero() {
		t.Errorf("stored user = %+v", got)
	}

	if err := store.UpdateUser(ctx, identity.User{UserID: "alice", Username: "Alice A.", IsActive: true, IsAdmin: true}); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	got, _ = store.GetUser(ctx, "alice")
	if got.Username != "Alice A." || !got.IsAdmin {
		t.Errorf("update not applied: %+v", got)
	}

	if err := store.CreateUser(ctx, identity.User{UserID: "bob", IsActive: true}); err != nil {
		t.Fatalf("CreateUser(bob): %v", err)
	}
	users, err := store.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 || users[0].UserID != "alice" || users[1].UserID != "bob" {
		t.Errorf("ListUsers = %+v, want alice then bob", users)
	}

	if err := store.DeleteUser(ctx, "bob"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if err := store.DeleteUser(ctx, "bob"); !errors.Is(err, identity.ErrUserNotFound) {
		t.Errorf("second DeleteUser error = %v, want ErrUserNotFound", err)
	}
	if _, err := store.GetUser(ctx, "bob"); !errors.Is(err, identity.ErrUserNotFound) {
		t.Errorf("GetUser(deleted) error = %v, want ErrUserNotFound", err)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateUser(ctx, identity.User{UserID: "alice", IsActive: true}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	plain, meta, err := store.CreateAPIKey(ctx, "alice", types.NewPermissionSet(types.PermissionRead, types.PermissionWrite), nil)
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if !strings.HasPrefix(plain, "tk_") || len(plain) != 35 {
		t.Errorf("plain key %q does not match tk_<32 hex>", plain)
	}
	if meta.CreatedAt.IsZero() {
		t.Error("CreateAPIKey did not return database timestamps")
	}

	pr, err := store.VerifyAPIKey(ctx, plain)
	if err != nil {
		t.Fatalf("VerifyAPIKey: %v", err)
	}
	if pr.UserID != "alice" || !pr.Can(types.PermissionWrite) {
		t.Errorf("principal = %+v", pr)
	}

	keys, err := store.ListAPIKeys(ctx, "alice")
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(keys) != 1 || keys[0].UsageCount != 1 || keys[0].LastUsed == nil {
		t.Errorf("keys after verify = %+v, want one key with usage 1", keys)
	}
	if !keys[0].Permissions.Has(types.PermissionWrite) {
		t.Errorf("persisted permissions = %v", keys[0].Permissions.Strings())
	}

	if err := store.DeleteAPIKey(ctx, meta.ID); err != nil {
		t.Fatalf("DeleteAPIKey: %v", err)
	}
	if _, err := store.VerifyAPIKey(ctx, plain); !errors.Is(err, identity.ErrKeyNotFound) {
		t.Errorf("verify after delete error = %v, want ErrKeyNotFound", err)
	}

	if _, _, err := store.CreateAPIKey(ctx, "ghost", nil, nil); !errors.Is(err, identity.ErrUserNotFound) {
		t.Errorf("CreateAPIKey(ghost) error = %v, want ErrUserNotFound", err)
	}
}

func TestVerifyAPIKeyRejections(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateUser(ctx, identity.User{UserID: "alice", IsActive: true}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	t.Run("revoked", func(t *testing.T) {
		plain, meta, err := store.CreateAPIKey(ctx, "alice", nil, nil)
		if err != nil {
			t.Fatalf("CreateAPIKey: %v", err)
		}
		if _, err := store.Pool().Exec(ctx, "UPDATE api_keys SET is_active = FALSE WHERE id = $1", meta.ID); err != nil {
			t.Fatalf("revoke: %v", err)
		}
		if _, err := store.VerifyAPIKey(ctx, plain); !errors.Is(err, identity.ErrKeyRevoked) {
			t.Errorf("error = %v, want ErrKeyRevoked", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		past := time.Now().Add(-time.Minute)
		plain, _, err := store.CreateAPIKey(ctx, "alice", nil, &past)
		if err != nil {
			t.Fatalf("CreateAPIKey: %v", err)
		}
		if _, err := store.VerifyAPIKey(ctx, plain); !errors.Is(err, identity.ErrKeyExpired) {
			t.Errorf("error = %v, want ErrKeyExpired", err)
		}
	})

	t.Run("inactive owner", func(t *testing.T) {
		if err := store.CreateUser(ctx, identity.User{UserID: "mallory", IsActive: false}); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		plain, _, err := store.CreateAPIKey(ctx, "mallory", nil, nil)
		if err != nil {
			t.Fatalf("CreateAPIKey: %v", err)
		}
		if _, err := store.VerifyAPIKey(ctx, plain); !errors.Is(err, identity.ErrUserInactive) {
			t.Errorf("error = %v, want ErrUserInactive", err)
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		if _, err := store.VerifyAPIKey(ctx, "tk_00000000000000000000000000000000"); !errors.Is(err, identity.ErrKeyNotFound) {
			t.Errorf("error = %v, want ErrKeyNotFound", err)
		}
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// A second migration over a populated schema must not fail or wipe data.
	if err := store.CreateUser(ctx, identity.User{UserID: "alice", IsActive: true}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := postgres.Migrate(ctx, store.Pool()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if _, err := store.GetUser(ctx, "alice"); err != nil {
		t.Errorf("data lost after re-migrate: %v", err)
	}
}
