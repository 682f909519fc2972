package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/labcore/lims/internal/platform/apperr"
	"github.com/labcore/lims/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const clientCols = `id, name, type, balance, is_active, created_at, updated_at`

func (r *repoPG) CreateClient(ctx context.Context, c *Client) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO clients (id, name, type, balance, is_active) VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at`,
		c.ID, c.Name, c.Type, c.Balance, c.IsActive,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert client: %w", db.MapError(err))
	}
	return nil
}

func (r *repoPG) GetClient(ctx context.Context, id uuid.UUID) (*Client, error) {
	var c Client
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+clientCols+` FROM clients WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Type, &c.Balance, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("client", id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repoPG) ListClients(ctx context.Context, f ClientFilter, limit, offset int) ([]*Client, int, error) {
	var where []string
	var args []interface{}
	if f.Type != "" {
		args = append(args, f.Type)
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if f.ActiveOnly {
		where = append(where, "is_active")
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		where = append(where, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM clients`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count clients: %w", err)
	}
	n := len(args)
	args = append(args, limit, offset)
	rows, err := q.Query(ctx,
		fmt.Sprintf(`SELECT `+clientCols+` FROM clients%s ORDER BY name LIMIT $%d OFFSET $%d`, clause, n+1, n+2),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var out []*Client
	for rows.Next() {
		var c Client
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.Balance, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &c)
	}
	return out, total, rows.Err()
}

func (r *repoPG) ApplyDelta(ctx context.Context, clientID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE clients SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1 RETURNING balance`,
		clientID, delta,
	).Scan(&balance)
	if db.IsNoRows(err) {
		return decimal.Zero, apperr.NotFound("client", clientID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("apply balance delta: %w", db.MapError(err))
	}
	return balance, nil
}

func (r *repoPG) AppendEntry(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO ledger_entries (id, client_id, visit_id, type, amount, description, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		e.ID, e.ClientID, e.VisitID, e.Type, e.Amount, e.Description, e.CreatedBy,
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", db.MapError(err))
	}
	return nil
}

func (r *repoPG) ListEntries(ctx context.Context, clientID uuid.UUID) ([]*Entry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, client_id, visit_id, type, amount, description, created_by, created_at
		FROM ledger_entries WHERE client_id = $1 ORDER BY created_at, seq`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ClientID, &e.VisitID, &e.Type, &e.Amount, &e.Description, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *repoPG) Sums(ctx context.Context, clientID uuid.UUID) (decimal.Decimal, decimal.Decimal, error) {
	var debits, credits decimal.Decimal
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount) FILTER (WHERE type = 'DEBIT'), 0),
		       COALESCE(SUM(amount) FILTER (WHERE type = 'CREDIT'), 0)
		FROM ledger_entries WHERE client_id = $1`, clientID).Scan(&debits, &credits)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("sum ledger entries: %w", err)
	}
	return debits, credits, nil
}

func (r *repoPG) ReplacePrices(ctx context.Context, clientID uuid.UUID, prices []ClientPrice) error {
	q := db.Conn(ctx, r.pool)
	if _, err := q.Exec(ctx, `DELETE FROM client_prices WHERE client_id = $1`, clientID); err != nil {
		return fmt.Errorf("clear client prices: %w", err)
	}
	for _, p := range prices {
		if _, err := q.Exec(ctx,
			`INSERT INTO client_prices (client_id, test_template_id, price) VALUES ($1,$2,$3)`,
			clientID, p.TestTemplateID, p.Price); err != nil {
			return fmt.Errorf("insert client price: %w", db.MapError(err))
		}
	}
	return nil
}

func (r *repoPG) ListPrices(ctx context.Context, clientID uuid.UUID) ([]ClientPrice, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT client_id, test_template_id, price FROM client_prices WHERE client_id = $1`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list client prices: %w", err)
	}
	defer rows.Close()

	var out []ClientPrice
	for rows.Next() {
		var p ClientPrice
		if err := rows.Scan(&p.ClientID, &p.TestTemplateID, &p.Price); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repoPG) PricesFor(ctx context.Context, clientID uuid.UUID, templateIDs []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT test_template_id, price FROM client_prices
		WHERE client_id = $1 AND test_template_id = ANY($2)`, clientID, templateIDs)
	if err != nil {
		return nil, fmt.Errorf("get client prices: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]decimal.Decimal)
	for rows.Next() {
		var id uuid.UUID
		var price decimal.Decimal
		if err := rows.Scan(&id, &price); err != nil {
			return nil, err
		}
		out[id] = price
	}
	return out, rows.Err()
}
