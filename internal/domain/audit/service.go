package audit

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/labcore/lims/internal/platform/apperr"
	"github.com/labcore/lims/internal/platform/auth"
)

// SystemUsername attributes entries written without an interactive user,
// e.g. bootstrap accounts created from the CLI.
const SystemUsername = "system"

// Recorder is how other services write the audit entry of an operation. It
// must be called with the operation's transactional context so the entry and
// the state change commit together.
type Recorder interface {
	Record(ctx context.Context, actor *auth.Actor, action Action, entityType, entityID, details string) error
}

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (s *Service) Record(ctx context.Context, actor *auth.Actor, action Action, entityType, entityID, details string) error {
	if action == "" {
		return apperr.Validation("audit action is required")
	}
	if strings.TrimSpace(details) == "" {
		return apperr.Validation("audit details are required")
	}
	e := &Entry{
		ID:         uuid.New(),
		Timestamp:  s.now().UTC(),
		Username:   SystemUsername,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
	}
	if actor != nil {
		e.Username = actor.Username
		if actor.ID != uuid.Nil {
			id := actor.ID
			e.UserID = &id
		}
	}
	return s.repo.Append(ctx, e)
}

func (s *Service) List(ctx context.Context, actor *auth.Actor, f Filter, limit, offset int) ([]*Entry, int, error) {
	if err := auth.Authorize(actor, auth.PermViewAuditLog); err != nil {
		return nil, 0, err
	}
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return nil, 0, apperr.Validation("from must be before to")
	}
	return s.repo.List(ctx, f, limit, offset)
}
