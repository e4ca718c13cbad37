package port

import "storefront/internal/domain"

// ProductStore is the durable catalog of record for products.
type ProductStore interface {
	PutProduct(p domain.Product) error

	GetProduct(id string) (domain.Product, error)

	ListProducts() ([]domain.Product, error)

	// NextProductID reserves a new sequential product id.
	NextProductID() (string, error)
}

// UserStore holds registered users keyed by id, with a unique email index.
type UserStore interface {
	PutUser(u domain.User) error

	GetUserByEmail(email string) (domain.User, error)
}

// OrderStore holds placed orders.
type OrderStore interface {
	PutOrder(o domain.Order) error

	GetOrder(id string) (domain.Order, error)

	ListOrdersByUser(userID string) ([]domain.Order, error)
}
