package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ttskit/ttskit/internal/identity"
	"github.com/ttskit/ttskit/pkg/types"
)

// ─── Routing policy ──────────────────────────────────────────────────────────

type policyBody struct {
	Language string   `json:"language"`
	Engines  []string `json:"engines,omitempty"`

	// Reset drops the override for Language; with an empty Language it
	// drops every override.
	Reset bool `json:"reset,omitempty"`
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var body policyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeKindError(w, r, types.KindTextValidation, "malformed request body: %v", err)
		return
	}

	if body.Reset {
		s.router.ResetPolicy(body.Language)
	} else if err := s.router.SetPolicy(body.Language, body.Engines); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"language":  body.Language,
		"policy":    s.router.SelectPolicy(body.Language),
		"overrides": s.router.Overrides(),
	})
}

// ─── Users ───────────────────────────────────────────────────────────────────

type createUserBody struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	IsActive *bool  `json:"is_active,omitempty"`
	IsAdmin  *bool  `json:"is_admin,omitempty"`
}

type patchUserBody struct {
	Username *string `json:"username,omitempty"`
	Email    *string `json:"email,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
	IsAdmin  *bool   `json:"is_admin,omitempty"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var body createUserBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeKindError(w, r, types.KindTextValidation, "malformed request body: %v", err)
		return
	}
	if body.UserID == "" {
		writeKindError(w, r, types.KindTextValidation, "user_id is required")
		return
	}

	u := identity.User{
		UserID:   body.UserID,
		Username: body.Username,
		Email:    body.Email,
		IsActive: true,
	}
	if body.IsActive != nil {
		u.IsActive = *body.IsActive
	}
	if body.IsAdmin != nil {
		u.IsAdmin = *body.IsAdmin
	}

	if err := s.identity.CreateUser(r.Context(), u); err != nil {
		writeIdentityError(w, r, err)
		return
	}
	created, err := s.identity.GetUser(r.Context(), body.UserID)
	if err != nil {
		writeIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.identity.ListUsers(r.Context())
	if err != nil {
		writeIdentityError(w, r, err)
		return
	}
	if users == nil {
		users = []identity.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.identity.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var body patchUserBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeKindError(w, r, types.KindTextValidation, "malformed request body: %v", err)
		return
	}

	userID := chi.URLParam(r, "userID")
	u, err := s.identity.GetUser(r.Context(), userID)
	if err != nil {
		writeIdentityError(w, r, err)
		return
	}
	if body.Username != nil {
		u.Username = *body.Username
	}
	if body.Email != nil {
		u.Email = *body.Email
	}
	if body.IsActive != nil {
		u.IsActive = *body.IsActive
	}
	if body.IsAdmin != nil {
		u.IsAdmin = *body.IsAdmin
	}

	if err := s.identity.UpdateUser(r.Context(), u); err != nil {
		writeIdentityError(w, r, err)
		return
	}
	updated, err := s.identity.GetUser(r.Context(), userID)
	if err != nil {
		writeIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.identity.DeleteUser(r.Context(), chi.URLParam(r, "userID")); err != nil {
		writeIdentityError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── API keys ────────────────────────────────────────────────────────────────

type createKeyBody struct {
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions,omitempty"`

	// ExpiresInHours of zero mints a key that never expires.
	ExpiresInHours int `json:"expires_in_hours,omitempty"`
}

func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var body createKeyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeKindError(w, r, types.KindTextValidation, "malformed request body: %v", err)
		return
	}
	if body.UserID == "" {
		writeKindError(w, r, types.KindTextValidation, "user_id is required")
		return
	}

	perms := make([]types.Permission, 0, len(body.Permissions))
	for _, name := range body.Permissions {
		p := types.Permission(name)
		if !p.IsValid() {
			writeKindError(w, r, types.KindTextValidation, "unknown permission %q", name)
			return
		}
		perms = append(perms, p)
	}

	var expiresAt *time.Time
	if body.ExpiresInHours > 0 {
		t := time.Now().Add(time.Duration(body.ExpiresInHours) * time.Hour)
		expiresAt = &t
	}

	plain, key, err := s.identity.CreateAPIKey(r.Context(), body.UserID, types.NewPermissionSet(perms...), expiresAt)
	if err != nil {
		writeIdentityError(w, r, err)
		return
	}
	// The plain key is shown here and never again.
	writeJSON(w, http.StatusCreated, map[string]any{
		"api_key": plain,
		"key":     key,
	})
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.identity.ListAPIKeys(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		writeIdentityError(w, r, err)
		return
	}
	if keys == nil {
		keys = []identity.APIKey{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	if err := s.identity.DeleteAPIKey(r.Context(), chi.URLParam(r, "keyID")); err != nil {
		writeIdentityError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeIdentityError maps the identity sentinels onto HTTP statuses.
func writeIdentityError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	var kind string
	switch {
	case errors.Is(err, identity.ErrUserNotFound):
		status, kind = http.StatusNotFound, "USER_NOT_FOUND"
	case errors.Is(err, identity.ErrKeyNotFound):
		status, kind = http.StatusNotFound, "KEY_NOT_FOUND"
	case errors.Is(err, identity.ErrUserExists):
		status, kind = http.StatusConflict, "USER_EXISTS"
	case errors.Is(err, identity.ErrUserInactive):
		status, kind = http.StatusConflict, "USER_INACTIVE"
	default:
		status, kind = http.StatusInternalServerError, string(types.KindInternal)
		slog.Error("identity operation failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: apiError{Kind: kind, Message: err.Error()}})
}
