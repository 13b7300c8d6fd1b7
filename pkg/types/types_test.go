package types_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ttskit/ttskit/pkg/types"
)

func TestAudioFormat(t *testing.T) {
	tests := []struct {
		format      types.AudioFormat
		valid       bool
		contentType string
	}{
		{types.FormatOGG, true, "audio/ogg"},
		{types.FormatMP3, true, "audio/mpeg"},
		{types.FormatWAV, true, "audio/wav"},
		{types.AudioFormat("flac"), false, "application/octet-stream"},
		{types.AudioFormat(""), false, "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := tt.format.IsValid(); got != tt.valid {
			t.Errorf("%q.IsValid() = %v, want %v", tt.format, got, tt.valid)
		}
		if got := tt.format.ContentType(); got != tt.contentType {
			t.Errorf("%q.ContentType() = %q, want %q", tt.format, got, tt.contentType)
		}
	}
}

func TestPermissionSet(t *testing.T) {
	s := types.NewPermissionSet(types.PermissionWrite, types.PermissionRead, types.PermissionRead)
	if !s.Has(types.PermissionRead) || !s.Has(types.PermissionWrite) {
		t.Fatalf("set missing granted permissions: %v", s.Strings())
	}
	if s.Has(types.PermissionAdmin) {
		t.Fatal("set should not contain admin")
	}

	// Unknown values are dropped on construction and Add.
	s = types.NewPermissionSet(types.Permission("root"))
	if len(s) != 0 {
		t.Fatalf("unknown permission kept: %v", s.Strings())
	}
	s.Add(types.Permission("wheel"))
	if len(s) != 0 {
		t.Fatalf("unknown permission added: %v", s.Strings())
	}

	s = types.NewPermissionSet(types.PermissionWrite, types.PermissionAdmin, types.PermissionRead)
	got := s.Strings()
	want := []string{"admin", "read", "write"}
	if len(got) != len(want) {
		t.Fatalf("Strings() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Strings()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPrincipalCan(t *testing.T) {
	user := &types.Principal{
		UserID:      "u1",
		Permissions: types.NewPermissionSet(types.PermissionRead),
	}
	if !user.Can(types.PermissionRead) {
		t.Error("read principal denied read")
	}
	if user.Can(types.PermissionWrite) {
		t.Error("read principal allowed write")
	}

	admin := &types.Principal{UserID: "a1", IsAdmin: true}
	for _, p := range []types.Permission{types.PermissionRead, types.PermissionWrite, types.PermissionAdmin} {
		if !admin.Can(p) {
			t.Errorf("admin denied %q", p)
		}
	}

	var nobody *types.Principal
	if nobody.Can(types.PermissionRead) {
		t.Error("nil principal allowed read")
	}
}

func TestEngineCapabilitiesSupportsLanguage(t *testing.T) {
	caps := types.EngineCapabilities{Languages: []string{"en", "fa", "pt-br"}}
	for _, lang := range []string{"en", "EN", "Pt-BR"} {
		if !caps.SupportsLanguage(lang) {
			t.Errorf("SupportsLanguage(%q) = false, want true", lang)
		}
	}
	if caps.SupportsLanguage("de") {
		t.Error("SupportsLanguage(de) = true, want false")
	}
}

func TestKindError(t *testing.T) {
	base := errors.New("boom")
	err := types.WrapKind(types.KindEngineTransient, base)

	if got := types.KindOf(err); got != types.KindEngineTransient {
		t.Fatalf("KindOf = %q, want %q", got, types.KindEngineTransient)
	}
	if !errors.Is(err, base) {
		t.Fatal("wrapped error lost its cause")
	}
	if !types.IsKind(err, types.KindEngineTransient) {
		t.Fatal("IsKind = false, want true")
	}

	// Wrapping further with %w must not hide the kind.
	outer := fmt.Errorf("router: attempt 2: %w", err)
	if got := types.KindOf(outer); got != types.KindEngineTransient {
		t.Fatalf("KindOf(wrapped) = %q, want %q", got, types.KindEngineTransient)
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if got := types.KindOf(errors.New("plain")); got != types.KindInternal {
		t.Fatalf("KindOf(plain) = %q, want %q", got, types.KindInternal)
	}
	if got := types.KindOf(nil); got != "" {
		t.Fatalf("KindOf(nil) = %q, want empty", got)
	}
}

func TestRetryAfterOf(t *testing.T) {
	err := &types.KindError{
		Kind:       types.KindRateLimited,
		Err:        errors.New("bucket empty"),
		RetryAfter: 1500 * time.Millisecond,
	}
	d, ok := types.RetryAfterOf(fmt.Errorf("synth: %w", err))
	if !ok {
		t.Fatal("RetryAfterOf ok = false, want true")
	}
	if d != 1500*time.Millisecond {
		t.Fatalf("RetryAfterOf = %v, want 1.5s", d)
	}

	if _, ok := types.RetryAfterOf(errors.New("plain")); ok {
		t.Fatal("RetryAfterOf(plain) ok = true, want false")
	}
}

func TestWrapKindNil(t *testing.T) {
	if err := types.WrapKind(types.KindInternal, nil); err != nil {
		t.Fatalf("WrapKind(nil) = %v, want nil", err)
	}
}
