package store

import (
	"errors"
	"path/filepath"
	"testing"

	"storefront/internal/domain"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestProductRoundTrip(t *testing.T) {
	s := newTestStore(t)

	want := domain.Product{ID: "1", Name: "Earbuds", Category: "Electronics", Description: "wireless", Price: 99.99}
	if err := s.PutProduct(want); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetProduct("1")
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestGetProductNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetProduct("999")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutProductOverwrites(t *testing.T) {
	s := newTestStore(t)

	if err := s.PutProduct(domain.Product{ID: "1", Name: "Earbuds", Price: 99.99}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutProduct(domain.Product{ID: "1", Name: "Earbuds Pro", Price: 149.99}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetProduct("1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Earbuds Pro" || got.Price != 149.99 {
		t.Fatalf("overwrite did not take: %+v", got)
	}

	products, err := s.ListProducts()
	if err != nil {
		t.Fatal(err)
	}
	if len(products) != 1 {
		t.Fatalf("expected 1 product after overwrite, got %d", len(products))
	}
}

func TestDeleteProduct(t *testing.T) {
	s := newTestStore(t)

	if err := s.PutProduct(domain.Product{ID: "1", Name: "Earbuds"}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteProduct("1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetProduct("1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting again is a no-op.
	if err := s.DeleteProduct("1"); err != nil {
		t.Fatal(err)
	}
}

func TestNextProductIDIsMonotonic(t *testing.T) {
	s := newTestStore(t)

	first, err := s.NextProductID()
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.NextProductID()
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatalf("ids not unique: %s", first)
	}
}

func TestPutUserEnforcesUniqueEmail(t *testing.T) {
	s := newTestStore(t)

	if err := s.PutUser(domain.User{ID: "1", Email: "a@example.com", HashedPassword: "x", Active: true}); err != nil {
		t.Fatal(err)
	}

	err := s.PutUser(domain.User{ID: "2", Email: "a@example.com", HashedPassword: "y", Active: true})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	// Re-putting the same user is allowed.
	if err := s.PutUser(domain.User{ID: "1", Email: "a@example.com", HashedPassword: "z", Active: false}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetUserByEmail("a@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "1" || got.HashedPassword != "z" || got.Active {
		t.Fatalf("unexpected user after update: %+v", got)
	}
}

func TestGetUserByEmailNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetUserByEmail("missing@example.com")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOrdersIndexedByUser(t *testing.T) {
	s := newTestStore(t)

	for _, o := range []domain.Order{
		{ID: "o1", UserID: "u1", TotalAmount: 10, Status: "Pending"},
		{ID: "o2", UserID: "u2", TotalAmount: 20, Status: "Pending"},
		{ID: "o3", UserID: "u1", TotalAmount: 30, Status: "Pending"},
	} {
		if err := s.PutOrder(o); err != nil {
			t.Fatal(err)
		}
	}

	orders, err := s.ListOrdersByUser("u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders for u1, got %d", len(orders))
	}
	for _, o := range orders {
		if o.UserID != "u1" {
			t.Fatalf("foreign order in listing: %+v", o)
		}
	}

	got, err := s.GetOrder("o2")
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != "u2" || got.TotalAmount != 20 {
		t.Fatalf("unexpected order: %+v", got)
	}

	none, err := s.ListOrdersByUser("u3")
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no orders for u3, got %+v", none)
	}
}

func TestReopenPreservesData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.PutProduct(domain.Product{ID: "1", Name: "Earbuds", Price: 99.99}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, err := reopened.GetProduct("1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Earbuds" {
		t.Fatalf("data lost across reopen: %+v", got)
	}
}
