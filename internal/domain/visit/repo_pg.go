package visit

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/labcore/lims/internal/domain/billing"
	"github.com/labcore/lims/internal/platform/apperr"
	"github.com/labcore/lims/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) NextSequence(ctx context.Context, year int) (int, error) {
	var seq int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO visit_code_counters (year, last_seq) VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET last_seq = visit_code_counters.last_seq + 1
		RETURNING last_seq`, year).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next visit sequence: %w", db.MapError(err))
	}
	return seq, nil
}

// -- Patients --

const patientCols = `id, salutation, name, age_years, age_months, age_days, sex, guardian_name, phone, address, email, clinical_history, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Salutation, &p.Name, &p.AgeYears, &p.AgeMonths, &p.AgeDays, &p.Sex,
		&p.GuardianName, &p.Phone, &p.Address, &p.Email, &p.ClinicalHistory, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) UpsertPatient(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patients (id, salutation, name, age_years, age_months, age_days, sex, guardian_name, phone, address, email, clinical_history)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (phone) DO UPDATE SET
			salutation = EXCLUDED.salutation,
			name = EXCLUDED.name,
			age_years = EXCLUDED.age_years,
			age_months = EXCLUDED.age_months,
			age_days = EXCLUDED.age_days,
			sex = EXCLUDED.sex,
			guardian_name = EXCLUDED.guardian_name,
			address = EXCLUDED.address,
			email = EXCLUDED.email,
			clinical_history = EXCLUDED.clinical_history,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		p.ID, p.Salutation, p.Name, p.AgeYears, p.AgeMonths, p.AgeDays, p.Sex,
		p.GuardianName, p.Phone, p.Address, p.Email, p.ClinicalHistory,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert patient: %w", db.MapError(err))
	}
	return nil
}

func (r *repoPG) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("patient", id)
	}
	return p, err
}

func (r *repoPG) FindPatientByPhone(ctx context.Context, phone string) (*Patient, error) {
	p, err := scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE phone = $1`, phone))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("patient", phone)
	}
	return p, err
}

// -- Visits --

const visitCols = `id, visit_code, patient_id, referred_doctor_id, other_ref_doctor, client_id, other_ref_customer,
	registration_datetime, total_cost, amount_paid, payment_mode, created_by, created_at, updated_at`

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	err := row.Scan(&v.ID, &v.VisitCode, &v.PatientID, &v.ReferredDoctorID, &v.OtherRefDoctor, &v.ClientID,
		&v.OtherRefCustomer, &v.RegisteredAt, &v.TotalCost, &v.AmountPaid, &v.PaymentMode, &v.CreatedBy,
		&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	v.DueAmount = billing.Due(v.TotalCost, v.AmountPaid)
	return &v, nil
}

func (r *repoPG) CreateVisit(ctx context.Context, v *Visit) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO visits (id, visit_code, patient_id, referred_doctor_id, other_ref_doctor, client_id, other_ref_customer,
			registration_datetime, total_cost, amount_paid, payment_mode, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		v.ID, v.VisitCode, v.PatientID, v.ReferredDoctorID, v.OtherRefDoctor, v.ClientID, v.OtherRefCustomer,
		v.RegisteredAt, v.TotalCost, v.AmountPaid, v.PaymentMode, v.CreatedBy,
	).Scan(&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert visit: %w", db.MapError(err))
	}
	return nil
}

func (r *repoPG) GetVisit(ctx context.Context, id uuid.UUID) (*Visit, error) {
	q := db.Conn(ctx, r.pool)
	v, err := scanVisit(q.QueryRow(ctx, `SELECT `+visitCols+` FROM visits WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("visit", id)
	}
	if err != nil {
		return nil, err
	}
	v.Patient, err = r.GetPatient(ctx, v.PatientID)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `SELECT `+testCols+` FROM visit_tests vt
		JOIN visits v ON v.id = vt.visit_id JOIN patients p ON p.id = v.patient_id
		WHERE vt.visit_id = $1 ORDER BY vt.position`, id)
	if err != nil {
		return nil, fmt.Errorf("list visit tests: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, err
		}
		v.Tests = append(v.Tests, t)
	}
	return v, rows.Err()
}

func (r *repoPG) ListVisits(ctx context.Context, f Filter, limit, offset int) ([]*Visit, int, error) {
	var where []string
	var args []interface{}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(v.visit_code ILIKE $%d OR p.name ILIKE $%d OR p.phone ILIKE $%d)", n, n, n))
	}
	if f.ClientID != nil {
		args = append(args, *f.ClientID)
		where = append(where, fmt.Sprintf("v.client_id = $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where = append(where, fmt.Sprintf("v.registration_datetime >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where = append(where, fmt.Sprintf("v.registration_datetime < $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	q := db.Conn(ctx, r.pool)
	from := ` FROM visits v JOIN patients p ON p.id = v.patient_id`
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*)`+from+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count visits: %w", err)
	}
	n := len(args)
	args = append(args, limit, offset)
	rows, err := q.Query(ctx, `SELECT `+prefixed(visitCols, "v")+`, `+prefixed(patientCols, "p")+from+clause+
		fmt.Sprintf(" ORDER BY v.registration_datetime DESC, v.visit_code DESC LIMIT $%d OFFSET $%d", n+1, n+2), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list visits: %w", err)
	}
	defer rows.Close()

	var out []*Visit
	for rows.Next() {
		var v Visit
		var p Patient
		if err := rows.Scan(&v.ID, &v.VisitCode, &v.PatientID, &v.ReferredDoctorID, &v.OtherRefDoctor, &v.ClientID,
			&v.OtherRefCustomer, &v.RegisteredAt, &v.TotalCost, &v.AmountPaid, &v.PaymentMode, &v.CreatedBy,
			&v.CreatedAt, &v.UpdatedAt,
			&p.ID, &p.Salutation, &p.Name, &p.AgeYears, &p.AgeMonths, &p.AgeDays, &p.Sex,
			&p.GuardianName, &p.Phone, &p.Address, &p.Email, &p.ClinicalHistory, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		v.DueAmount = billing.Due(v.TotalCost, v.AmountPaid)
		v.Patient = &p
		out = append(out, &v)
	}
	return out, total, rows.Err()
}

func (r *repoPG) UpdatePayment(ctx context.Context, visitID uuid.UUID, expectedPaid, newPaid decimal.Decimal, mode billing.PaymentMode) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE visits SET amount_paid = $3, payment_mode = $4, updated_at = NOW()
		WHERE id = $1 AND amount_paid = $2`,
		visitID, expectedPaid, newPaid, mode)
	if err != nil {
		return fmt.Errorf("update visit payment: %w", db.MapError(err))
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("visit %s payment changed concurrently", visitID)
	}
	return nil
}

// prefixed qualifies every column of a column list with a table alias.
func prefixed(cols, alias string) string {
	parts := strings.Split(cols, ",")
	for i, c := range parts {
		parts[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}

// -- Visit tests --

const testCols = `vt.id, vt.visit_id, v.visit_code, p.name, vt.position, vt.template, vt.status,
	vt.collected_by, vt.collected_at, vt.specimen_type, vt.results, vt.culture_result,
	vt.entered_by, vt.entered_at, vt.approved_by, vt.approved_at, vt.version, vt.created_at, vt.updated_at`

func scanTest(row pgx.Row) (*VisitTest, error) {
	var t VisitTest
	err := row.Scan(&t.ID, &t.VisitID, &t.VisitCode, &t.PatientName, &t.Position, &t.Template, &t.Status,
		&t.CollectedBy, &t.CollectedAt, &t.SpecimenType, &t.Results, &t.CultureResult,
		&t.EnteredBy, &t.EnteredAt, &t.ApprovedBy, &t.ApprovedAt, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repoPG) CreateTest(ctx context.Context, t *VisitTest) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO visit_tests (id, visit_id, position, template_id, template, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING version, created_at, updated_at`,
		t.ID, t.VisitID, t.Position, t.Template.TemplateID, t.Template, t.Status,
	).Scan(&t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert visit test: %w", db.MapError(err))
	}
	return nil
}

func (r *repoPG) GetTest(ctx context.Context, id uuid.UUID) (*VisitTest, error) {
	t, err := scanTest(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+testCols+` FROM visit_tests vt
		JOIN visits v ON v.id = vt.visit_id JOIN patients p ON p.id = v.patient_id
		WHERE vt.id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("visit test", id)
	}
	return t, err
}

func (r *repoPG) ListTestsByStatus(ctx context.Context, statuses []Status, limit, offset int) ([]*VisitTest, int, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM visit_tests WHERE status = ANY($1)`, names).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count visit tests: %w", err)
	}
	rows, err := q.Query(ctx, `SELECT `+testCols+` FROM visit_tests vt
		JOIN visits v ON v.id = vt.visit_id JOIN patients p ON p.id = v.patient_id
		WHERE vt.status = ANY($1)
		ORDER BY v.registration_datetime, vt.position LIMIT $2 OFFSET $3`, names, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list visit tests: %w", err)
	}
	defer rows.Close()
	var out []*VisitTest
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

func (r *repoPG) UpdateTest(ctx context.Context, t *VisitTest, expected Status) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE visit_tests SET status = $3, collected_by = $4, collected_at = $5, specimen_type = $6,
			results = $7, culture_result = $8, entered_by = $9, entered_at = $10,
			approved_by = $11, approved_at = $12, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status = $2 AND version = $13
		RETURNING version, updated_at`,
		t.ID, expected, t.Status, t.CollectedBy, t.CollectedAt, t.SpecimenType,
		t.Results, t.CultureResult, t.EnteredBy, t.EnteredAt, t.ApprovedBy, t.ApprovedAt, t.Version,
	).Scan(&t.Version, &t.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.Conflict("visit test %s was updated concurrently", t.ID)
	}
	if err != nil {
		return fmt.Errorf("update visit test: %w", db.MapError(err))
	}
	return nil
}
