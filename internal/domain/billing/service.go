package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/labcore/lims/internal/domain/catalog"
	"github.com/labcore/lims/internal/domain/ledger"
	"github.com/labcore/lims/internal/platform/apperr"
	"github.com/labcore/lims/internal/platform/auth"
)

// TemplateSource resolves active catalog templates in request order.
type TemplateSource interface {
	ActiveTemplates(ctx context.Context, ids []uuid.UUID) ([]*catalog.TestTemplate, error)
}

// ClientSource reads clients and their price overrides.
type ClientSource interface {
	LookupClient(ctx context.Context, id uuid.UUID) (*ledger.Client, error)
	PriceOverrides(ctx context.Context, clientID uuid.UUID, templateIDs []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error)
}

type Service struct {
	templates TemplateSource
	clients   ClientSource
}

func NewService(templates TemplateSource, clients ClientSource) *Service {
	return &Service{templates: templates, clients: clients}
}

// Quote prices the given tests for an optional client. The result is what a
// visit registered now would be charged.
func (s *Service) Quote(ctx context.Context, clientID *uuid.UUID, templateIDs []uuid.UUID) (*Quote, error) {
	templates, err := s.templates.ActiveTemplates(ctx, templateIDs)
	if err != nil {
		return nil, err
	}

	q := &Quote{Lines: make([]Line, 0, len(templates))}
	clientType := ledger.ClientPatient
	var overrides map[uuid.UUID]decimal.Decimal
	if clientID != nil {
		c, err := s.clients.LookupClient(ctx, *clientID)
		if err != nil {
			return nil, err
		}
		if !c.IsActive {
			return nil, apperr.ValidationFields("client is inactive", map[string]string{"client_id": c.ID.String()})
		}
		q.Client = c
		clientType = c.Type
		if c.Type.Billable() {
			if overrides, err = s.clients.PriceOverrides(ctx, c.ID, templateIDs); err != nil {
				return nil, err
			}
		}
	}

	for _, t := range templates {
		var override *decimal.Decimal
		if p, ok := overrides[t.ID]; ok {
			override = &p
		}
		q.Lines = append(q.Lines, Line{
			Template:   t,
			TemplateID: t.ID,
			Code:       t.Code,
			Name:       t.Name,
			Price:      ResolvePrice(t.Price, t.B2BPrice, clientType, override),
		})
	}
	q.Total = Total(q.Lines)
	return q, nil
}

// PreviewQuote is Quote for the reception desk.
func (s *Service) PreviewQuote(ctx context.Context, actor *auth.Actor, clientID *uuid.UUID, templateIDs []uuid.UUID) (*Quote, error) {
	if err := auth.AuthorizeAny(actor, auth.PermCreateVisit, auth.PermViewReception); err != nil {
		return nil, err
	}
	return s.Quote(ctx, clientID, templateIDs)
}
