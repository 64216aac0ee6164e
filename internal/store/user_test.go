package store

import (
	"context"
	"testing"
)

func TestUserUpsert(t *testing.T) {
	us := NewUserStore(setupTestDB(t))
	ctx := context.Background()

	u, err := us.Upsert(ctx, "user-1", "Alice", "alice@example.com")
	if err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	if u.Name != "Alice" || u.Email != "alice@example.com" {
		t.Errorf("user = %+v", u)
	}

	u, err = us.Upsert(ctx, "user-1", "Alice B", "alice@example.org")
	if err != nil {
		t.Fatalf("upsert user again: %v", err)
	}
	if u.Name != "Alice B" {
		t.Errorf("name = %q, want %q", u.Name, "Alice B")
	}
	if u.Email != "alice@example.org" {
		t.Errorf("email = %q, want %q", u.Email, "alice@example.org")
	}
}

func TestUserGetByIDNotFound(t *testing.T) {
	us := NewUserStore(setupTestDB(t))

	u, err := us.GetByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if u != nil {
		t.Errorf("expected nil, got %+v", u)
	}
}

func TestUserDisplayName(t *testing.T) {
	us := NewUserStore(setupTestDB(t))
	ctx := context.Background()

	if got := us.DisplayName(ctx, "nobody", "Tenant"); got != "Tenant" {
		t.Errorf("unknown user name = %q, want fallback", got)
	}
	if _, err := us.Upsert(ctx, "user-2", "", "x@example.com"); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	if got := us.DisplayName(ctx, "user-2", "Tenant"); got != "Tenant" {
		t.Errorf("empty name = %q, want fallback", got)
	}
	if _, err := us.Upsert(ctx, "user-3", "Bea", ""); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	if got := us.DisplayName(ctx, "user-3", "Tenant"); got != "Bea" {
		t.Errorf("name = %q, want %q", got, "Bea")
	}
}
