// Package orders holds order persistence and the HTTP client the customer
// tracker uses for baseline and fallback snapshot fetches.
package orders

import (
	"errors"
	"sync"

	"github.com/example/delivery-events/internal/models"
)

var ErrNotFound = errors.New("orders: not found")

// Store defines persistence operations for orders.
type Store interface {
	SaveOrder(o *models.Order) error
	UpdateOrder(o *models.Order) error
	GetOrder(id string) (*models.Order, error)
}

type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*models.Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]*models.Order)}
}

func (m *MemoryStore) SaveOrder(o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	return nil
}

func (m *MemoryStore) UpdateOrder(o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	return nil
}

func (m *MemoryStore) GetOrder(id string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}
