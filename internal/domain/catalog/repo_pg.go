package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labcore/lims/internal/platform/apperr"
	"github.com/labcore/lims/internal/platform/db"
)

// -- Test templates --

type templateRepoPG struct {
	pool *pgxpool.Pool
}

func NewTemplateRepo(pool *pgxpool.Pool) TemplateRepository {
	return &templateRepoPG{pool: pool}
}

const templateCols = `id, code, name, category, price, b2b_price, is_active, report_type,
	fields, default_antibiotic_ids, created_at, updated_at`

func (r *templateRepoPG) Create(ctx context.Context, t *TestTemplate) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Fields == nil {
		t.Fields = []ResultField{}
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO test_templates (id, code, name, category, price, b2b_price, is_active, report_type, fields, default_antibiotic_ids)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		t.ID, t.Code, t.Name, t.Category, t.Price, t.B2BPrice, t.IsActive, t.ReportType, t.Fields, t.DefaultAntibioticIDs,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert test template: %w", db.MapError(err))
	}
	return nil
}

func (r *templateRepoPG) Update(ctx context.Context, t *TestTemplate) error {
	if t.Fields == nil {
		t.Fields = []ResultField{}
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE test_templates SET
			code=$2, name=$3, category=$4, price=$5, b2b_price=$6, is_active=$7,
			report_type=$8, fields=$9, default_antibiotic_ids=$10, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		t.ID, t.Code, t.Name, t.Category, t.Price, t.B2BPrice, t.IsActive, t.ReportType, t.Fields, t.DefaultAntibioticIDs,
	).Scan(&t.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.NotFound("test template", t.ID)
	}
	if err != nil {
		return fmt.Errorf("update test template: %w", db.MapError(err))
	}
	return nil
}

func (r *templateRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TestTemplate, error) {
	t, err := scanTemplate(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+templateCols+` FROM test_templates WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("test template", id)
	}
	return t, err
}

func (r *templateRepoPG) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*TestTemplate, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+templateCols+` FROM test_templates WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get test templates: %w", err)
	}
	defer rows.Close()
	out, _, err := collectTemplates(rows, 0)
	return out, err
}

func (r *templateRepoPG) List(ctx context.Context, f TemplateFilter, limit, offset int) ([]*TestTemplate, int, error) {
	var where []string
	var args []interface{}
	if f.ActiveOnly {
		where = append(where, "is_active")
	}
	if f.Category != "" {
		args = append(args, f.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR code ILIKE $%d)", len(args), len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM test_templates`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count test templates: %w", err)
	}
	n := len(args)
	args = append(args, limit, offset)
	rows, err := q.Query(ctx,
		fmt.Sprintf(`SELECT `+templateCols+` FROM test_templates%s ORDER BY category, name LIMIT $%d OFFSET $%d`, clause, n+1, n+2),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list test templates: %w", err)
	}
	defer rows.Close()
	return collectTemplates(rows, total)
}

func (r *templateRepoPG) UpdatePrices(ctx context.Context, updates []PriceUpdate) (int, error) {
	q := db.Conn(ctx, r.pool)
	n := 0
	for _, u := range updates {
		tag, err := q.Exec(ctx,
			`UPDATE test_templates SET price=$2, b2b_price=$3, updated_at=NOW() WHERE id = $1`,
			u.TemplateID, u.Price, u.B2BPrice)
		if err != nil {
			return n, fmt.Errorf("update price of %s: %w", u.TemplateID, db.MapError(err))
		}
		if tag.RowsAffected() == 0 {
			return n, apperr.NotFound("test template", u.TemplateID)
		}
		n++
	}
	return n, nil
}

func scanTemplate(row pgx.Row) (*TestTemplate, error) {
	var t TestTemplate
	err := row.Scan(&t.ID, &t.Code, &t.Name, &t.Category, &t.Price, &t.B2BPrice, &t.IsActive, &t.ReportType,
		&t.Fields, &t.DefaultAntibioticIDs, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func collectTemplates(rows pgx.Rows, total int) ([]*TestTemplate, int, error) {
	var out []*TestTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// -- Antibiotics --

type antibioticRepoPG struct {
	pool *pgxpool.Pool
}

func NewAntibioticRepo(pool *pgxpool.Pool) AntibioticRepository {
	return &antibioticRepoPG{pool: pool}
}

const antibioticCols = `id, name, abbreviation, is_active, created_at, updated_at`

func (r *antibioticRepoPG) Create(ctx context.Context, a *Antibiotic) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO antibiotics (id, name, abbreviation, is_active) VALUES ($1,$2,$3,$4)
		RETURNING created_at, updated_at`,
		a.ID, a.Name, a.Abbreviation, a.IsActive,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert antibiotic: %w", db.MapError(err))
	}
	return nil
}

func (r *antibioticRepoPG) Update(ctx context.Context, a *Antibiotic) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE antibiotics SET name=$2, abbreviation=$3, is_active=$4, updated_at=NOW()
		WHERE id = $1 RETURNING updated_at`,
		a.ID, a.Name, a.Abbreviation, a.IsActive,
	).Scan(&a.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.NotFound("antibiotic", a.ID)
	}
	if err != nil {
		return fmt.Errorf("update antibiotic: %w", db.MapError(err))
	}
	return nil
}

func (r *antibioticRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Antibiotic, error) {
	var a Antibiotic
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+antibioticCols+` FROM antibiotics WHERE id = $1`, id).
		Scan(&a.ID, &a.Name, &a.Abbreviation, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("antibiotic", id)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *antibioticRepoPG) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Antibiotic, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+antibioticCols+` FROM antibiotics WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get antibiotics: %w", err)
	}
	defer rows.Close()
	return collectAntibiotics(rows)
}

func (r *antibioticRepoPG) List(ctx context.Context, activeOnly bool) ([]*Antibiotic, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+antibioticCols+` FROM antibiotics WHERE is_active OR NOT $1 ORDER BY name`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list antibiotics: %w", err)
	}
	defer rows.Close()
	return collectAntibiotics(rows)
}

func collectAntibiotics(rows pgx.Rows) ([]*Antibiotic, error) {
	var out []*Antibiotic
	for rows.Next() {
		var a Antibiotic
		if err := rows.Scan(&a.ID, &a.Name, &a.Abbreviation, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// -- Referral doctors --

type doctorRepoPG struct {
	pool *pgxpool.Pool
}

func NewDoctorRepo(pool *pgxpool.Pool) DoctorRepository {
	return &doctorRepoPG{pool: pool}
}

const doctorCols = `id, name, designation, phone, is_active, created_at, updated_at`

func (r *doctorRepoPG) Create(ctx context.Context, d *ReferralDoctor) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO referral_doctors (id, name, designation, phone, is_active) VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at`,
		d.ID, d.Name, d.Designation, d.Phone, d.IsActive,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert referral doctor: %w", db.MapError(err))
	}
	return nil
}

func (r *doctorRepoPG) Update(ctx context.Context, d *ReferralDoctor) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE referral_doctors SET name=$2, designation=$3, phone=$4, is_active=$5, updated_at=NOW()
		WHERE id = $1 RETURNING updated_at`,
		d.ID, d.Name, d.Designation, d.Phone, d.IsActive,
	).Scan(&d.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.NotFound("referral doctor", d.ID)
	}
	if err != nil {
		return fmt.Errorf("update referral doctor: %w", db.MapError(err))
	}
	return nil
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ReferralDoctor, error) {
	var d ReferralDoctor
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+doctorCols+` FROM referral_doctors WHERE id = $1`, id).
		Scan(&d.ID, &d.Name, &d.Designation, &d.Phone, &d.IsActive, &d.CreatedAt, &d.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("referral doctor", id)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *doctorRepoPG) List(ctx context.Context, activeOnly bool) ([]*ReferralDoctor, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+doctorCols+` FROM referral_doctors WHERE is_active OR NOT $1 ORDER BY name`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list referral doctors: %w", err)
	}
	defer rows.Close()

	var out []*ReferralDoctor
	for rows.Next() {
		var d ReferralDoctor
		if err := rows.Scan(&d.ID, &d.Name, &d.Designation, &d.Phone, &d.IsActive, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
