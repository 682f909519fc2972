package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Repository interface {
	CreateClient(ctx context.Context, c *Client) error
	GetClient(ctx context.Context, id uuid.UUID) (*Client, error)
	ListClients(ctx context.Context, f ClientFilter, limit, offset int) ([]*Client, int, error)
	// ApplyDelta adds delta to the client's balance in one statement and
	// returns the new balance.
	ApplyDelta(ctx context.Context, clientID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error)

	AppendEntry(ctx context.Context, e *Entry) error
	// ListEntries returns a client's entries oldest first.
	ListEntries(ctx context.Context, clientID uuid.UUID) ([]*Entry, error)
	Sums(ctx context.Context, clientID uuid.UUID) (debits, credits decimal.Decimal, err error)

	ReplacePrices(ctx context.Context, clientID uuid.UUID, prices []ClientPrice) error
	ListPrices(ctx context.Context, clientID uuid.UUID) ([]ClientPrice, error)
	PricesFor(ctx context.Context, clientID uuid.UUID, templateIDs []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error)
}
