// Package audit records security-relevant events (logins, rotations,
// revocations, link operations) for later review.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"identity-gateway/internal/audit/domain"
	auditrepo "identity-gateway/internal/audit/repository"
	"identity-gateway/internal/platform/rbac"
)

// IPExtractor returns the client IP from the request context (e.g. gRPC peer info).
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event with explicit action/resource.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID, action, resource, metadata string)
}

// Logger implements AuditLogger using the audit repository and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor for client IP.
// ipExtractor may be nil; then IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor) *Logger {
	return &Logger{repo: repo, ipExtractor: ipExtractor}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, userID, action, resource, metadata string) {
	if l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		ip = l.ipExtractor(ctx)
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		log.Printf("audit: failed to log event %s/%s: %v", action, resource, err)
	}
}

const maxListLimit = 100

// ListForUser returns a page of a user's audit trail, newest first. The caller
// must be an authenticated admin.
func (l *Logger) ListForUser(ctx context.Context, targetUserID string, limit, offset int32) ([]*domain.AuditLog, error) {
	if _, err := rbac.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return l.repo.ListByUser(ctx, targetUserID, limit, offset)
}
