package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/stayvia/internal/model"
)

type PaymentStore struct {
	db  *sql.DB
	loc *time.Location
}

func NewPaymentStore(db *sql.DB, loc *time.Location) *PaymentStore {
	return &PaymentStore{db: db, loc: loc}
}

// tierColumns returns the flag and handle columns for a reminder tier.
func tierColumns(t model.ReminderTier) (flag, handle string, err error) {
	switch t {
	case model.Tier3Day:
		return "reminder_3day_sent", "notification_3day_id", nil
	case model.Tier1Day:
		return "reminder_1day_sent", "notification_1day_id", nil
	case model.TierDueDate:
		return "reminder_duedate_sent", "notification_duedate_id", nil
	}
	return "", "", fmt.Errorf("unknown reminder tier %d", int(t))
}

const paymentCols = `id, lease_id, tenant_id, landlord_id, property_title, due_date, amount, status,
	paid_date, payment_method, notes,
	reminder_3day_sent, reminder_1day_sent, reminder_duedate_sent, overdue_notif_sent,
	notification_3day_id, notification_1day_id, notification_duedate_id,
	created_at, updated_at`

func (s *PaymentStore) scanPayment(scanner interface{ Scan(...any) error }) (*model.Payment, error) {
	var p model.Payment
	var due string
	var paid sql.NullString
	var r3, r1, r0, overdue int
	var h3, h1, h0 sql.NullString
	err := scanner.Scan(&p.ID, &p.LeaseID, &p.TenantID, &p.LandlordID, &p.PropertyTitle, &due, &p.Amount, &p.Status,
		&paid, &p.PaymentMethod, &p.Notes,
		&r3, &r1, &r0, &overdue,
		&h3, &h1, &h0,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if p.DueDate, err = parseDate(due, s.loc); err != nil {
		return nil, fmt.Errorf("parse due date: %w", err)
	}
	if paid.Valid && paid.String != "" {
		t, err := parseDate(paid.String, s.loc)
		if err != nil {
			return nil, fmt.Errorf("parse paid date: %w", err)
		}
		p.PaidDate = &t
	}
	p.Reminder3DaySent = r3 != 0
	p.Reminder1DaySent = r1 != 0
	p.ReminderDueDateSent = r0 != 0
	p.OverdueNotified = overdue != 0
	p.Notification3DayID = nullStringPtr(h3)
	p.Notification1DayID = nullStringPtr(h1)
	p.NotificationDueDateID = nullStringPtr(h0)
	return &p, nil
}

func (s *PaymentStore) scanPayments(rows *sql.Rows) ([]model.Payment, error) {
	var payments []model.Payment
	for rows.Next() {
		p, err := s.scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// InsertPayments stores a batch of generated payments in one transaction.
func (s *PaymentStore) InsertPayments(ctx context.Context, payments []model.Payment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO payments (id, lease_id, tenant_id, landlord_id, property_title, due_date, amount, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert payment: %w", err)
	}
	defer stmt.Close()

	for _, p := range payments {
		status := p.Status
		if status == "" {
			status = model.PaymentUnpaid
		}
		_, err := stmt.ExecContext(ctx, p.ID, p.LeaseID, p.TenantID, p.LandlordID, p.PropertyTitle,
			formatDate(p.DueDate), p.Amount, status)
		if err != nil {
			return fmt.Errorf("insert payment %s: %w", formatDate(p.DueDate), err)
		}
	}
	return tx.Commit()
}

func (s *PaymentStore) GetByID(ctx context.Context, id string) (*model.Payment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+paymentCols+` FROM payments WHERE id = ?`, id)
	p, err := s.scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

func (s *PaymentStore) ListByLease(ctx context.Context, leaseID string) ([]model.Payment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE lease_id = ? ORDER BY due_date ASC`, leaseID)
	if err != nil {
		return nil, fmt.Errorf("list payments by lease: %w", err)
	}
	defer rows.Close()
	return s.scanPayments(rows)
}

// ListByUser returns payments where the user is tenant or landlord.
func (s *PaymentStore) ListByUser(ctx context.Context, userID string) ([]model.Payment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentCols+` FROM payments
		 WHERE tenant_id = ? OR landlord_id = ?
		 ORDER BY due_date ASC`,
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list payments by user: %w", err)
	}
	defer rows.Close()
	return s.scanPayments(rows)
}

// ListReminderCandidates returns the user's unpaid payments due on the given
// date whose tier reminder is not sent and not covered by a schedule. A
// handle stops covering its tier once the queued notification lapses: it
// came due without being dispatched, reached no device, or was cancelled.
func (s *PaymentStore) ListReminderCandidates(ctx context.Context, userID string, tier model.ReminderTier, due, now time.Time) ([]model.Payment, error) {
	flag, handle, err := tierColumns(tier)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentCols+` FROM payments
		 WHERE (tenant_id = ? OR landlord_id = ?)
		   AND status = 'unpaid'
		   AND due_date = ?
		   AND `+flag+` = 0
		   AND (`+handle+` IS NULL OR EXISTS (
		       SELECT 1 FROM scheduled_notifications sn
		       WHERE sn.id = payments.`+handle+`
		         AND (sn.state IN ('undelivered', 'cancelled')
		              OR (sn.state = 'pending' AND sn.fire_at <= ?))))
		 ORDER BY id`,
		userID, userID, formatDate(due), now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list %s reminder candidates: %w", tier, err)
	}
	defer rows.Close()
	return s.scanPayments(rows)
}

// ListOverdueCandidates returns the user's unpaid payments due before today
// that have not had an overdue notice.
func (s *PaymentStore) ListOverdueCandidates(ctx context.Context, userID string, today time.Time) ([]model.Payment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentCols+` FROM payments
		 WHERE (tenant_id = ? OR landlord_id = ?)
		   AND status = 'unpaid'
		   AND due_date < ?
		   AND overdue_notif_sent = 0
		 ORDER BY due_date ASC`,
		userID, userID, formatDate(today),
	)
	if err != nil {
		return nil, fmt.Errorf("list overdue candidates: %w", err)
	}
	defer rows.Close()
	return s.scanPayments(rows)
}

// ListUsersWithUnpaid returns every tenant and landlord that has at least
// one unpaid payment.
func (s *PaymentStore) ListUsersWithUnpaid(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id FROM payments WHERE status = 'unpaid'
		 UNION
		 SELECT landlord_id FROM payments WHERE status = 'unpaid'`)
	if err != nil {
		return nil, fmt.Errorf("list users with unpaid: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// SetHandle persists the tenant-facing schedule handle for a tier.
func (s *PaymentStore) SetHandle(ctx context.Context, paymentID string, tier model.ReminderTier, handle string) error {
	_, col, err := tierColumns(tier)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE payments SET `+col+` = ? WHERE id = ?`, handle, paymentID)
	if err != nil {
		return fmt.Errorf("set %s handle: %w", tier, err)
	}
	return nil
}

// ClearHandles removes every schedule handle from a payment.
func (s *PaymentStore) ClearHandles(ctx context.Context, paymentID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE payments SET notification_3day_id = NULL, notification_1day_id = NULL, notification_duedate_id = NULL
		 WHERE id = ?`, paymentID)
	if err != nil {
		return fmt.Errorf("clear handles: %w", err)
	}
	return nil
}

// ClaimReminder flips the tier flag from unsent to sent. It reports true only
// for the caller that performed the flip.
func (s *PaymentStore) ClaimReminder(ctx context.Context, paymentID string, tier model.ReminderTier) (bool, error) {
	flag, _, err := tierColumns(tier)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE payments SET `+flag+` = 1 WHERE id = ? AND `+flag+` = 0`, paymentID)
	if err != nil {
		return false, fmt.Errorf("claim %s reminder: %w", tier, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim %s reminder: %w", tier, err)
	}
	return n == 1, nil
}

// ClaimOverdue flips the overdue flag from unsent to sent.
func (s *PaymentStore) ClaimOverdue(ctx context.Context, paymentID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE payments SET overdue_notif_sent = 1 WHERE id = ? AND overdue_notif_sent = 0`, paymentID)
	if err != nil {
		return false, fmt.Errorf("claim overdue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim overdue: %w", err)
	}
	return n == 1, nil
}

// UpdateStatus records a landlord's status change.
func (s *PaymentStore) UpdateStatus(ctx context.Context, id string, status model.PaymentStatus, paidDate *time.Time, method, notes string) (*model.Payment, error) {
	var paid any
	if paidDate != nil {
		paid = formatDate(*paidDate)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE payments SET status = ?, paid_date = ?, payment_method = ?, notes = ? WHERE id = ?`,
		status, paid, method, notes, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update payment status: %w", err)
	}
	return s.GetByID(ctx, id)
}

// DeleteUnpaidByLease removes the lease's unpaid payments and returns how
// many were deleted.
func (s *PaymentStore) DeleteUnpaidByLease(ctx context.Context, leaseID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM payments WHERE lease_id = ? AND status = 'unpaid'`, leaseID)
	if err != nil {
		return 0, fmt.Errorf("delete unpaid payments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete unpaid payments: %w", err)
	}
	return n, nil
}

// Stats aggregates a landlord's payments by status. Amounts are summed as
// decimals rather than in SQL to keep exact totals.
func (s *PaymentStore) Stats(ctx context.Context, landlordID string) (*model.PaymentStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, amount FROM payments WHERE landlord_id = ?`, landlordID)
	if err != nil {
		return nil, fmt.Errorf("payment stats: %w", err)
	}
	defer rows.Close()

	stats := &model.PaymentStats{
		ByStatus: make(map[model.PaymentStatus]model.StatusTotal),
		Total:    model.StatusTotal{Amount: decimal.Zero},
	}
	for rows.Next() {
		var status model.PaymentStatus
		var amount decimal.Decimal
		if err := rows.Scan(&status, &amount); err != nil {
			return nil, fmt.Errorf("scan payment stats: %w", err)
		}
		st := stats.ByStatus[status]
		st.Count++
		st.Amount = st.Amount.Add(amount)
		stats.ByStatus[status] = st
		stats.Total.Count++
		stats.Total.Amount = stats.Total.Amount.Add(amount)
	}
	return stats, rows.Err()
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
