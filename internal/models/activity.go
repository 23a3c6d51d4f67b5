package models

import "time"

// Activity log actions.
const (
	ActionSignup            = "auth.signup"
	ActionLogin             = "auth.login"
	ActionRefresh           = "auth.refresh"
	ActionLogout            = "auth.logout"
	ActionForgotPassword    = "auth.forgot_password"
	ActionResetPassword     = "auth.reset_password"
	ActionUserUpdate        = "users.update"
	ActionUserDelete        = "users.delete"
	ActionUserChangeRole    = "users.change_role"
	ActionUserResetPassword = "users.reset_password"
	ActionProfileUpdate     = "profile.update"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

type ActivityEntry struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id,omitempty"`
	Action    string         `json:"action"`
	Result    string         `json:"result"`
	Detail    string         `json:"detail,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
