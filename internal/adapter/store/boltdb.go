// Package store persists products, users and orders in a bbolt database.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.etcd.io/bbolt"

	"storefront/internal/domain"
)

var (
	bucketProducts   = []byte("products")
	bucketUsers      = []byte("users")
	bucketUserEmails = []byte("user_emails")
	bucketOrders     = []byte("orders")
	bucketUserOrders = []byte("user_orders")
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrEmailTaken is returned when registering an email that already has a
// user.
var ErrEmailTaken = errors.New("email already registered")

// BoltStore is the durable record store for products, users and orders.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{bucketProducts, bucketUsers, bucketUserEmails, bucketOrders, bucketUserOrders}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// PutProduct stores a product, overwriting any previous record with the
// same id.
func (s *BoltStore) PutProduct(p domain.Product) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketProducts).Put([]byte(p.ID), data)
	})
}

// GetProduct returns the product with the given id.
func (s *BoltStore) GetProduct(id string) (domain.Product, error) {
	var p domain.Product
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketProducts).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: product %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &p)
	})
	return p, err
}

// ListProducts returns all products in key order.
func (s *BoltStore) ListProducts() ([]domain.Product, error) {
	var products []domain.Product
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketProducts).ForEach(func(k, v []byte) error {
			var p domain.Product
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			products = append(products, p)
			return nil
		})
	})
	return products, err
}

// DeleteProduct removes a product record. Deleting a missing product is a
// no-op.
func (s *BoltStore) DeleteProduct(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketProducts).Delete([]byte(id))
	})
}

// NextProductID reserves a new sequential product id.
func (s *BoltStore) NextProductID() (string, error) {
	var id string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		seq, err := tx.Bucket(bucketProducts).NextSequence()
		if err != nil {
			return err
		}
		id = strconv.FormatUint(seq, 10)
		return nil
	})
	return id, err
}

// PutUser stores a user and indexes its email. A different user with the
// same email fails with ErrEmailTaken.
func (s *BoltStore) PutUser(u domain.User) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		emails := tx.Bucket(bucketUserEmails)
		if existing := emails.Get([]byte(u.Email)); existing != nil && string(existing) != u.ID {
			return fmt.Errorf("%w: %s", ErrEmailTaken, u.Email)
		}

		data, err := json.Marshal(userRecord{
			Email:          u.Email,
			HashedPassword: u.HashedPassword,
			Active:         u.Active,
		})
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketUsers).Put([]byte(u.ID), data); err != nil {
			return err
		}
		return emails.Put([]byte(u.Email), []byte(u.ID))
	})
}

// NextUserID reserves a new sequential user id.
func (s *BoltStore) NextUserID() (string, error) {
	var id string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		seq, err := tx.Bucket(bucketUsers).NextSequence()
		if err != nil {
			return err
		}
		id = strconv.FormatUint(seq, 10)
		return nil
	})
	return id, err
}

type userRecord struct {
	Email          string `json:"email"`
	HashedPassword string `json:"hashed_password"`
	Active         bool   `json:"active"`
}

// GetUserByEmail returns the user registered with the given email.
func (s *BoltStore) GetUserByEmail(email string) (domain.User, error) {
	var u domain.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketUserEmails).Get([]byte(email))
		if id == nil {
			return fmt.Errorf("%w: user %s", ErrNotFound, email)
		}
		data := tx.Bucket(bucketUsers).Get(id)
		if data == nil {
			return fmt.Errorf("%w: user %s", ErrNotFound, email)
		}
		var rec userRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		u = domain.User{
			ID:             string(id),
			Email:          rec.Email,
			HashedPassword: rec.HashedPassword,
			Active:         rec.Active,
		}
		return nil
	})
	return u, err
}

// PutOrder stores an order and indexes it by user.
func (s *BoltStore) PutOrder(o domain.Order) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(o)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketOrders).Put([]byte(o.ID), data); err != nil {
			return err
		}
		return tx.Bucket(bucketUserOrders).Put(userOrderKey(o.UserID, o.ID), nil)
	})
}

// GetOrder returns the order with the given id.
func (s *BoltStore) GetOrder(id string) (domain.Order, error) {
	var o domain.Order
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketOrders).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: order %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &o)
	})
	return o, err
}

// ListOrdersByUser returns all orders placed by the given user.
func (s *BoltStore) ListOrdersByUser(userID string) ([]domain.Order, error) {
	var orders []domain.Order
	err := s.db.View(func(tx *bbolt.Tx) error {
		ordersBkt := tx.Bucket(bucketOrders)
		c := tx.Bucket(bucketUserOrders).Cursor()
		prefix := []byte(userID + "/")
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			orderID := k[len(prefix):]
			data := ordersBkt.Get(orderID)
			if data == nil {
				continue
			}
			var o domain.Order
			if err := json.Unmarshal(data, &o); err != nil {
				return err
			}
			orders = append(orders, o)
		}
		return nil
	})
	return orders, err
}

func userOrderKey(userID, orderID string) []byte {
	return []byte(userID + "/" + orderID)
}
