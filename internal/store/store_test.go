package store

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/stayvia/internal/database"
	"github.com/dukerupert/stayvia/internal/model"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	// modernc/sqlite may not honor the DSN pragma for :memory:
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func createTestLease(t *testing.T, db *sql.DB, id string) *model.Lease {
	t.Helper()
	ls := NewLeaseStore(db, time.UTC)
	l, err := ls.Create(context.Background(), &model.Lease{
		ID:            id,
		TenantID:      "tenant-1",
		LandlordID:    "landlord-1",
		PropertyTitle: "Sunny Loft",
		StartDate:     date(2024, 1, 10),
		EndDate:       date(2024, 4, 10),
		PaymentDay:    15,
		MonthlyAmount: decimal.RequireFromString("12500.50"),
		Confirmed:     true,
	})
	if err != nil {
		t.Fatalf("create lease: %v", err)
	}
	return l
}

func insertTestPayments(t *testing.T, db *sql.DB, leaseID string, dues ...time.Time) []model.Payment {
	t.Helper()
	ps := NewPaymentStore(db, time.UTC)
	var payments []model.Payment
	for i, d := range dues {
		payments = append(payments, model.Payment{
			ID:            fmt.Sprintf("%s-p%d", leaseID, i),
			LeaseID:       leaseID,
			TenantID:      "tenant-1",
			LandlordID:    "landlord-1",
			PropertyTitle: "Sunny Loft",
			DueDate:       d,
			Amount:        decimal.RequireFromString("12500.50"),
		})
	}
	if err := ps.InsertPayments(context.Background(), payments); err != nil {
		t.Fatalf("insert payments: %v", err)
	}
	return payments
}
