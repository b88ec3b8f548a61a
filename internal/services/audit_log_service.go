package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/hearthside/api/internal/domain"
	"github.com/hearthside/api/internal/repositories"
)

const defaultAuditSeverity = "info"

// AuditLogServiceDeps bundles constructor inputs for the audit writer.
type AuditLogServiceDeps struct {
	Repository repositories.AuditLogRepository
	Clock      func() time.Time
	Logger     func(ctx context.Context, msg string, fields map[string]any)
}

type auditLogService struct {
	repo   repositories.AuditLogRepository
	clock  func() time.Time
	logger func(ctx context.Context, msg string, fields map[string]any)
}

// NewAuditLogService creates an audit writer backed by the supplied
// repository.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditRecorder, error) {
	if deps.Repository == nil {
		return nil, errors.New("audit log service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &auditLogService{
		repo:   deps.Repository,
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

// Record persists an audit entry. Repository failures are logged but never
// bubble up, so the primary mutation flow is not interrupted.
func (s *auditLogService) Record(ctx context.Context, record AuditRecord) {
	entry := domain.AuditLogEntry{
		Actor:     sanitizeAuditText(record.Actor, 160),
		Action:    sanitizeAuditText(record.Action, 120),
		TargetRef: sanitizeAuditText(record.TargetRef, 200),
		Severity:  normalizeAuditSeverity(record.Severity),
		Metadata:  record.Metadata,
		CreatedAt: s.clock(),
	}
	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger(ctx, "audit log append failed", map[string]any{
			"action": entry.Action,
			"error":  err.Error(),
		})
	}
}

func normalizeAuditSeverity(severity string) string {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "warn", "warning":
		return "warn"
	case "error":
		return "error"
	default:
		return defaultAuditSeverity
	}
}

func sanitizeAuditText(input string, limit int) string {
	input = strings.TrimSpace(input)
	if len(input) > limit {
		input = input[:limit]
	}
	return input
}
