// Package catalog maps vector index slots back to the products whose
// embeddings occupy them.
package catalog

import (
	"errors"
	"fmt"
	"sync"

	"storefront/internal/domain"
)

// ErrDuplicateProduct is returned when a product id is registered twice.
var ErrDuplicateProduct = errors.New("product already registered")

// ErrSlotOutOfRange indicates a slot with no registered product. It means
// the projection and the vector index have diverged and is never a user
// input error.
type ErrSlotOutOfRange struct {
	Slot  int
	Count int
}

func (e *ErrSlotOutOfRange) Error() string {
	return fmt.Sprintf("slot %d out of range: %d products registered", e.Slot, e.Count)
}

// Projection is an insertion-ordered product registry. Slot i resolves to
// the i-th product registered; the slot->id mapping is maintained directly
// and never derived from map iteration order.
//
// Projection is safe for concurrent use.
type Projection struct {
	mu      sync.RWMutex
	byID    map[string]domain.Product
	slotIDs []string
	idSlots map[string]int
}

// New creates an empty projection.
func New() *Projection {
	return &Projection{
		byID:    make(map[string]domain.Product),
		idSlots: make(map[string]int),
	}
}

// Restore rebuilds a projection from products in slot order.
func Restore(products []domain.Product) (*Projection, error) {
	p := New()
	for _, prod := range products {
		if err := p.Register(prod); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Register appends a product, assigning it the next slot.
func (p *Projection) Register(product domain.Product) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.byID[product.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateProduct, product.ID)
	}
	p.byID[product.ID] = product
	p.idSlots[product.ID] = len(p.slotIDs)
	p.slotIDs = append(p.slotIDs, product.ID)
	return nil
}

// Resolve returns the product occupying the given slot.
func (p *Projection) Resolve(slot int) (domain.Product, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if slot < 0 || slot >= len(p.slotIDs) {
		return domain.Product{}, &ErrSlotOutOfRange{Slot: slot, Count: len(p.slotIDs)}
	}
	return p.byID[p.slotIDs[slot]], nil
}

// Slot returns the slot occupied by the given product id.
func (p *Projection) Slot(id string) (int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	slot, ok := p.idSlots[id]
	return slot, ok
}

// Contains reports whether the product id has been registered.
func (p *Projection) Contains(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.byID[id]
	return ok
}

// Count returns the number of registered products.
func (p *Projection) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.slotIDs)
}

// Products returns all registered products in slot order.
func (p *Projection) Products() []domain.Product {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]domain.Product, len(p.slotIDs))
	for i, id := range p.slotIDs {
		out[i] = p.byID[id]
	}
	return out
}
