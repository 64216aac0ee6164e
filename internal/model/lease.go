package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Lease is a confirmed rental agreement between a tenant and a landlord.
// StartDate and EndDate are civil dates (midnight in the service location).
type Lease struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	LandlordID    string          `json:"landlord_id"`
	PropertyTitle string          `json:"property_title"`
	StartDate     time.Time       `json:"rental_start_date"`
	EndDate       time.Time       `json:"rental_end_date"`
	PaymentDay    int             `json:"payment_day_of_month"`
	MonthlyAmount decimal.Decimal `json:"monthly_rent_amount"`
	Confirmed     bool            `json:"confirmed"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// EffectivePaymentDay returns the configured payment day, falling back to
// the start date's day of month when unset.
func (l *Lease) EffectivePaymentDay() int {
	if l.PaymentDay > 0 {
		return l.PaymentDay
	}
	return l.StartDate.Day()
}
