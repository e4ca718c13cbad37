package usecase

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"storefront/internal/domain"
	"storefront/internal/port"
)

// ErrEmptyOrder is returned when an order has no items.
var ErrEmptyOrder = errors.New("order has no items")

// ErrInvalidQuantity is returned when an item quantity is not positive.
var ErrInvalidQuantity = errors.New("item quantity must be positive")

// OrderItemRequest is one requested line of a new order.
type OrderItemRequest struct {
	ProductID string
	Quantity  int
}

// OrderUseCase places and reads orders.
type OrderUseCase struct {
	products port.ProductStore
	orders   port.OrderStore
}

// NewOrderUseCase creates an order use case.
func NewOrderUseCase(products port.ProductStore, orders port.OrderStore) *OrderUseCase {
	return &OrderUseCase{products: products, orders: orders}
}

// Place creates an order for the user. Each item's price is captured at
// purchase time and the total is computed server-side.
func (u *OrderUseCase) Place(userID string, items []OrderItemRequest) (domain.Order, error) {
	if len(items) == 0 {
		return domain.Order{}, ErrEmptyOrder
	}

	var total float64
	orderItems := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			return domain.Order{}, fmt.Errorf("%w: product %s", ErrInvalidQuantity, item.ProductID)
		}
		product, err := u.products.GetProduct(item.ProductID)
		if err != nil {
			return domain.Order{}, fmt.Errorf("product %s: %w", item.ProductID, err)
		}

		total += product.Price * float64(item.Quantity)
		orderItems = append(orderItems, domain.OrderItem{
			ProductID:       product.ID,
			Quantity:        item.Quantity,
			PriceAtPurchase: product.Price,
		})
	}

	order := domain.Order{
		ID:          uuid.NewString(),
		UserID:      userID,
		OrderDate:   time.Now().UTC(),
		TotalAmount: total,
		Status:      "Pending",
		Items:       orderItems,
	}

	if err := u.orders.PutOrder(order); err != nil {
		return domain.Order{}, fmt.Errorf("failed to store order: %w", err)
	}
	return order, nil
}

// ListForUser returns all orders placed by the user.
func (u *OrderUseCase) ListForUser(userID string) ([]domain.Order, error) {
	return u.orders.ListOrdersByUser(userID)
}

// GetForUser returns one of the user's orders by id. Orders belonging to
// other users are reported as not found.
func (u *OrderUseCase) GetForUser(userID, orderID string) (domain.Order, error) {
	order, err := u.orders.GetOrder(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.UserID != userID {
		return domain.Order{}, fmt.Errorf("order %s not found for user", orderID)
	}
	return order, nil
}
