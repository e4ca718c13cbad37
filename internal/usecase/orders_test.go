package usecase

import (
	"errors"
	"path/filepath"
	"testing"

	"storefront/internal/adapter/store"
	"storefront/internal/domain"
)

func newOrderFixture(t *testing.T) (*OrderUseCase, *store.BoltStore) {
	t.Helper()
	s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	for _, p := range []domain.Product{
		{ID: "1", Name: "Earbuds", Category: "Electronics", Description: "wireless", Price: 99.99},
		{ID: "2", Name: "Mouse", Category: "Peripherals", Description: "ergonomic", Price: 45.50},
	} {
		if err := s.PutProduct(p); err != nil {
			t.Fatal(err)
		}
	}
	return NewOrderUseCase(s, s), s
}

func TestPlaceOrderCapturesPriceAtPurchase(t *testing.T) {
	orders, s := newOrderFixture(t)

	placed, err := orders.Place("u1", []OrderItemRequest{
		{ProductID: "1", Quantity: 2},
		{ProductID: "2", Quantity: 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	if placed.ID == "" {
		t.Fatal("expected a generated order id")
	}
	if placed.Status != "Pending" {
		t.Fatalf("expected status Pending, got %q", placed.Status)
	}
	want := 2*99.99 + 45.50
	if placed.TotalAmount != want {
		t.Fatalf("expected total %.2f, got %.2f", want, placed.TotalAmount)
	}
	if placed.Items[0].PriceAtPurchase != 99.99 {
		t.Fatalf("expected captured price 99.99, got %v", placed.Items[0].PriceAtPurchase)
	}

	// A later price change must not affect the stored order.
	if err := s.PutProduct(domain.Product{ID: "1", Name: "Earbuds", Category: "Electronics", Description: "wireless", Price: 149.99}); err != nil {
		t.Fatal(err)
	}
	stored, err := orders.GetForUser("u1", placed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Items[0].PriceAtPurchase != 99.99 {
		t.Fatalf("price at purchase drifted: %v", stored.Items[0].PriceAtPurchase)
	}
	if stored.TotalAmount != want {
		t.Fatalf("order total drifted: %v", stored.TotalAmount)
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	orders, _ := newOrderFixture(t)

	if _, err := orders.Place("u1", nil); !errors.Is(err, ErrEmptyOrder) {
		t.Fatalf("expected ErrEmptyOrder, got %v", err)
	}
	if _, err := orders.Place("u1", []OrderItemRequest{{ProductID: "1", Quantity: 0}}); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := orders.Place("u1", []OrderItemRequest{{ProductID: "999", Quantity: 1}}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown product, got %v", err)
	}
}

func TestOrdersAreScopedToUser(t *testing.T) {
	orders, _ := newOrderFixture(t)

	mine, err := orders.Place("u1", []OrderItemRequest{{ProductID: "1", Quantity: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := orders.Place("u2", []OrderItemRequest{{ProductID: "2", Quantity: 1}}); err != nil {
		t.Fatal(err)
	}

	listed, err := orders.ListForUser("u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 || listed[0].ID != mine.ID {
		t.Fatalf("expected only u1's order, got %+v", listed)
	}

	// Another user's order id must not be readable.
	if _, err := orders.GetForUser("u2", mine.ID); err == nil {
		t.Fatal("expected error reading another user's order")
	}
}
