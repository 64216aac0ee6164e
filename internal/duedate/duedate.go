// Package duedate generates the monthly due dates of a lease.
package duedate

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrMissingDates      = errors.New("lease start and end dates are required")
	ErrEndBeforeStart    = errors.New("lease end date is before start date")
	ErrNonPositiveAmount = errors.New("monthly amount must be positive")
	ErrInvalidPaymentDay = errors.New("payment day must be between 1 and 31")
)

// Due is a single generated obligation.
type Due struct {
	Date   time.Time
	Amount decimal.Decimal
}

// Terms are the lease parameters the generator works from.
type Terms struct {
	Start      time.Time
	End        time.Time
	PaymentDay int
	Amount     decimal.Decimal
}

// Validate rejects terms the generator cannot sensibly expand. A zero
// PaymentDay is allowed and means "same day as the start date".
func Validate(t Terms) error {
	if t.Start.IsZero() || t.End.IsZero() {
		return ErrMissingDates
	}
	if Civil(t.End, t.End.Location()).Before(Civil(t.Start, t.End.Location())) {
		return fmt.Errorf("%w: %s < %s", ErrEndBeforeStart, t.End.Format(time.DateOnly), t.Start.Format(time.DateOnly))
	}
	if t.PaymentDay < 0 || t.PaymentDay > 31 {
		return fmt.Errorf("%w: got %d", ErrInvalidPaymentDay, t.PaymentDay)
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrNonPositiveAmount, t.Amount.String())
	}
	return nil
}

// Generate returns the due dates of a lease in increasing order.
//
// The first due date is always start (payment on move-in). Each following
// month contributes one date on paymentDay, clamped to the month's length.
// When that date would fall after end, the final partial month is billed
// on end itself and generation stops. A paymentDay of zero or less uses
// start's day of month. Inputs are truncated to civil dates in start's
// location; amount is not validated here.
func Generate(start, end time.Time, paymentDay int, amount decimal.Decimal) []Due {
	loc := start.Location()
	start = Civil(start, loc)
	end = Civil(end, loc)
	if end.Before(start) {
		return nil
	}
	if paymentDay <= 0 {
		paymentDay = start.Day()
	}

	dues := []Due{{Date: start, Amount: amount}}

	for k := 1; ; k++ {
		monthStart := time.Date(start.Year(), start.Month()+time.Month(k), 1, 0, 0, 0, 0, loc)
		if monthStart.After(end) {
			break
		}

		year, month, _ := monthStart.Date()
		day := min(paymentDay, DaysInMonth(year, month))
		candidate := time.Date(year, month, day, 0, 0, 0, 0, loc)

		if candidate.After(end) {
			dues = append(dues, Due{Date: end, Amount: amount})
			break
		}
		dues = append(dues, Due{Date: candidate, Amount: amount})
	}

	return dues
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Civil truncates t to midnight of its calendar day in loc.
func Civil(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
