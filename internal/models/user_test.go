package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		input string
		want  Role
		ok    bool
	}{
		{"standard", RoleStandard, true},
		{"moderator", RoleModerator, true},
		{"admin", RoleAdmin, true},
		{"Admin", RoleAdmin, true},
		{"  ADMIN  ", RoleAdmin, true},
		{"superuser", "", false},
		{"", "", false},
		{"admins", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseRole(tt.input)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseRole(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestRoleIn(t *testing.T) {
	if !RoleAdmin.In(RoleAdmin, RoleModerator) {
		t.Error("admin should be in {admin, moderator}")
	}
	if RoleStandard.In(RoleAdmin, RoleModerator) {
		t.Error("standard should not be in {admin, moderator}")
	}
	if RoleStandard.In() {
		t.Error("no role is in the empty set")
	}
}

func TestUserJSONHidesSecrets(t *testing.T) {
	digest := "reset-digest"
	expires := time.Now()
	user := User{
		ID:                "u1",
		Email:             "alice@example.com",
		PasswordHash:      "$2a$10$secret",
		ResetTokenHash:    &digest,
		ResetTokenExpires: &expires,
	}

	b, err := json.Marshal(user)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	for _, key := range []string{"password_hash", "PasswordHash", "ResetTokenHash", "reset_token_hash"} {
		if _, leaked := out[key]; leaked {
			t.Errorf("Field %s must never serialize", key)
		}
	}
}

func TestRefreshTokenExpired(t *testing.T) {
	now := time.Now()
	rt := RefreshToken{ExpiresAt: now.Add(time.Hour)}

	if rt.Expired(now) {
		t.Error("Token should be live before its expiry")
	}
	if !rt.Expired(now.Add(time.Hour)) {
		t.Error("Token expires exactly at its expiry instant")
	}
	if !rt.Expired(now.Add(2 * time.Hour)) {
		t.Error("Token should be expired after its expiry")
	}
}
