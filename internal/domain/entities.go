package domain

import "time"

type Product struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Category    string  `json:"category"`
	Stock       int     `json:"stock"`
}

// EmbeddingText is the text a product is embedded from. The field set and
// separator must stay stable for the lifetime of an index; changing them
// requires a full reindex.
func (p Product) EmbeddingText() string {
	return p.Name + " " + p.Category + " " + p.Description
}

type User struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	HashedPassword string `json:"-"`
	Active         bool   `json:"active"`
}

type Order struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	OrderDate   time.Time   `json:"order_date"`
	TotalAmount float64     `json:"total_amount"`
	Status      string      `json:"status"`
	Items       []OrderItem `json:"items"`
}

type OrderItem struct {
	ProductID       string  `json:"product_id"`
	Quantity        int     `json:"quantity"`
	PriceAtPurchase float64 `json:"price_at_purchase"`
}

// IngestReport summarizes one ingestion batch.
type IngestReport struct {
	Added     int
	Skipped   int
	Persisted bool
	// PersistErr holds the snapshot failure when a snapshot was attempted
	// and did not complete. In-memory state is still valid.
	PersistErr error
}

// SearchHit is a resolved nearest-neighbor result. Distance is squared
// Euclidean; smaller is closer.
type SearchHit struct {
	Product  Product `json:"product"`
	Distance float32 `json:"distance"`
}
