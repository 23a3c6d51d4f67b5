// Package audit records security-relevant actions to the activity log.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/userhub/userhub/internal/models"
)

type Repository interface {
	LogActivity(ctx context.Context, entry *models.ActivityEntry) error
}

type Logger struct {
	repo Repository
}

func NewLogger(repo Repository) *Logger {
	return &Logger{repo: repo}
}

// Log writes one activity entry. Audit failures are logged, never surfaced:
// a broken activity log must not take the auth path down with it.
func (l *Logger) Log(ctx context.Context, userID, action, result, detail, ipAddress, userAgent string, metadata map[string]any) {
	id, err := uuid.NewV7()
	if err != nil {
		slog.Warn("audit: failed to generate entry id", "error", err)
		return
	}

	entry := &models.ActivityEntry{
		ID:        id.String(),
		UserID:    userID,
		Action:    action,
		Result:    result,
		Detail:    detail,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	if err := l.repo.LogActivity(ctx, entry); err != nil {
		slog.Warn("audit: failed to record activity", "action", action, "error", err)
	}
}
