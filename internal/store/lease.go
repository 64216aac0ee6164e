package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/stayvia/internal/model"
)

type LeaseStore struct {
	db  *sql.DB
	loc *time.Location
}

func NewLeaseStore(db *sql.DB, loc *time.Location) *LeaseStore {
	return &LeaseStore{db: db, loc: loc}
}

const leaseCols = `id, tenant_id, landlord_id, property_title, rental_start_date, rental_end_date,
	payment_day_of_month, monthly_rent_amount, confirmed, created_at, updated_at`

func (s *LeaseStore) scanLease(scanner interface{ Scan(...any) error }) (*model.Lease, error) {
	var l model.Lease
	var start, end string
	var confirmed int
	err := scanner.Scan(&l.ID, &l.TenantID, &l.LandlordID, &l.PropertyTitle, &start, &end,
		&l.PaymentDay, &l.MonthlyAmount, &confirmed, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if l.StartDate, err = parseDate(start, s.loc); err != nil {
		return nil, fmt.Errorf("parse start date: %w", err)
	}
	if l.EndDate, err = parseDate(end, s.loc); err != nil {
		return nil, fmt.Errorf("parse end date: %w", err)
	}
	l.Confirmed = confirmed != 0
	return &l, nil
}

func (s *LeaseStore) Create(ctx context.Context, l *model.Lease) (*model.Lease, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leases (id, tenant_id, landlord_id, property_title, rental_start_date, rental_end_date,
		 payment_day_of_month, monthly_rent_amount, confirmed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.TenantID, l.LandlordID, l.PropertyTitle, formatDate(l.StartDate), formatDate(l.EndDate),
		l.PaymentDay, l.MonthlyAmount, boolInt(l.Confirmed),
	)
	if err != nil {
		return nil, fmt.Errorf("insert lease: %w", err)
	}
	return s.GetByID(ctx, l.ID)
}

func (s *LeaseStore) GetByID(ctx context.Context, id string) (*model.Lease, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leaseCols+` FROM leases WHERE id = ?`, id)
	l, err := s.scanLease(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lease: %w", err)
	}
	return l, nil
}

// UpdateTerms rewrites the administrative fields of a lease.
func (s *LeaseStore) UpdateTerms(ctx context.Context, l *model.Lease) (*model.Lease, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE leases SET property_title = ?, rental_start_date = ?, rental_end_date = ?,
		 payment_day_of_month = ?, monthly_rent_amount = ?
		 WHERE id = ?`,
		l.PropertyTitle, formatDate(l.StartDate), formatDate(l.EndDate), l.PaymentDay, l.MonthlyAmount, l.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update lease: %w", err)
	}
	return s.GetByID(ctx, l.ID)
}

func (s *LeaseStore) Confirm(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE leases SET confirmed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("confirm lease: %w", err)
	}
	return nil
}

// ListByUser returns leases where the user is tenant or landlord.
func (s *LeaseStore) ListByUser(ctx context.Context, userID string) ([]model.Lease, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leaseCols+` FROM leases
		 WHERE tenant_id = ? OR landlord_id = ?
		 ORDER BY rental_start_date ASC`,
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list leases by user: %w", err)
	}
	defer rows.Close()
	return s.scanLeases(rows)
}

// ListActiveByUser returns confirmed leases of the user that have not ended
// before asOf.
func (s *LeaseStore) ListActiveByUser(ctx context.Context, userID string, asOf time.Time) ([]model.Lease, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leaseCols+` FROM leases
		 WHERE (tenant_id = ? OR landlord_id = ?) AND confirmed = 1 AND rental_end_date >= ?
		 ORDER BY rental_start_date ASC`,
		userID, userID, formatDate(asOf),
	)
	if err != nil {
		return nil, fmt.Errorf("list active leases: %w", err)
	}
	defer rows.Close()
	return s.scanLeases(rows)
}

// ListUserIDsWithActive returns every tenant and landlord with a confirmed
// lease that has not ended before asOf.
func (s *LeaseStore) ListUserIDsWithActive(ctx context.Context, asOf time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id FROM leases WHERE confirmed = 1 AND rental_end_date >= ?
		 UNION
		 SELECT landlord_id FROM leases WHERE confirmed = 1 AND rental_end_date >= ?`,
		formatDate(asOf), formatDate(asOf),
	)
	if err != nil {
		return nil, fmt.Errorf("list active lease users: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (s *LeaseStore) scanLeases(rows *sql.Rows) ([]model.Lease, error) {
	var leases []model.Lease
	for rows.Next() {
		l, err := s.scanLease(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lease: %w", err)
		}
		leases = append(leases, *l)
	}
	return leases, rows.Err()
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(model.DateLayout, s, loc)
}

func formatDate(t time.Time) string {
	return t.Format(model.DateLayout)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
