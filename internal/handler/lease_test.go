package handler

import (
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/stayvia/internal/lease"
	"github.com/dukerupert/stayvia/internal/model"
)

func TestLeaseCreate(t *testing.T) {
	f := newFixture(t)
	l := f.createLease(t)

	assert.Equal(t, "landlord-1", l.LandlordID)
	assert.True(t, l.Confirmed)
	assert.True(t, l.MonthlyAmount.Equal(decimal.NewFromInt(12500)))

	pub := f.hub.last()
	assert.Equal(t, "lease_created", pub.msg.Type)
	assert.Equal(t, []string{"tenant-1", "landlord-1"}, pub.users)
}

func TestLeaseCreateValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(map[string]any)
		raw    string
		want   int
	}{
		{name: "invalid JSON", raw: "{", want: http.StatusBadRequest},
		{name: "bad date", mutate: func(b map[string]any) { b["rental_start_date"] = "10/01/2024" }, want: http.StatusBadRequest},
		{name: "end before start", mutate: func(b map[string]any) { b["rental_end_date"] = "2023-12-01" }, want: http.StatusBadRequest},
		{name: "missing dates", mutate: func(b map[string]any) { delete(b, "rental_end_date") }, want: http.StatusBadRequest},
		{name: "zero amount", mutate: func(b map[string]any) { b["monthly_rent_amount"] = "0" }, want: http.StatusBadRequest},
		{name: "no tenant", mutate: func(b map[string]any) { b["tenant_id"] = " " }, want: http.StatusBadRequest},
		{name: "payment day", mutate: func(b map[string]any) { b["payment_day_of_month"] = 32 }, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body any = tt.raw
			if tt.mutate != nil {
				b := leaseBody(true)
				tt.mutate(b)
				body = b
			}
			rec := f.do(t, http.MethodPost, "/api/leases", "landlord-1", body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestLeaseGetAndList(t *testing.T) {
	f := newFixture(t)
	l := f.createLease(t)

	rec := f.do(t, http.MethodGet, "/api/leases/"+l.ID, "tenant-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	d := decode[lease.Detail](t, rec)
	assert.Equal(t, l.ID, d.Lease.ID)
	assert.Len(t, d.Payments, 3)

	rec = f.do(t, http.MethodGet, "/api/leases/"+l.ID, "stranger", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/leases/missing", "tenant-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/leases", "landlord-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Lease](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/api/leases", "stranger", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestLeaseConfirm(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/leases", "landlord-1", leaseBody(false))
	require.Equal(t, http.StatusCreated, rec.Code)
	l := decode[model.Lease](t, rec)
	assert.False(t, l.Confirmed)

	rec = f.do(t, http.MethodPost, "/api/leases/"+l.ID+"/confirm", "tenant-1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/leases/"+l.ID+"/confirm", "landlord-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[model.Lease](t, rec).Confirmed)
	assert.Equal(t, "lease_confirmed", f.hub.last().msg.Type)

	payments, err := f.payments.ListByLease(t.Context(), l.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 3)
}

func TestLeaseUpdate(t *testing.T) {
	f := newFixture(t)
	l := f.createLease(t)

	body := leaseBody(true)
	body["rental_end_date"] = "2024-04-20"
	rec := f.do(t, http.MethodPut, "/api/leases/"+l.ID, "landlord-1", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "lease_updated", f.hub.last().msg.Type)

	payments, err := f.payments.ListByLease(t.Context(), l.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 4)

	rec = f.do(t, http.MethodPut, "/api/leases/"+l.ID, "tenant-1", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
