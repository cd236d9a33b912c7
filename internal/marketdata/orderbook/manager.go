package orderbook

import (
	"sync"

	"github.com/nanoexch/engine/internal/core"
)

// Manager owns the per-symbol display books. Creation is double-checked so
// the common path is a shared-lock map read.
type Manager struct {
	mu        sync.RWMutex
	books     map[uint32]*Book
	maxLevels int
}

// NewManager builds an empty manager whose books cap displayed depth at
// maxLevels per side.
func NewManager(maxLevels int) *Manager {
	return &Manager{
		books:     make(map[uint32]*Book),
		maxLevels: maxLevels,
	}
}

// Get returns the symbol's book or nil when none exists yet.
func (m *Manager) Get(symbol uint32) *Book {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.books[symbol]
}

// GetOrCreate returns the symbol's book, creating it on first use.
func (m *Manager) GetOrCreate(symbol uint32) *Book {
	m.mu.RLock()
	b := m.books[symbol]
	m.mu.RUnlock()
	if b != nil {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b = m.books[symbol]; b != nil {
		return b
	}
	b = NewBook(symbol, m.maxLevels)
	m.books[symbol] = b
	return b
}

// ProcessTick folds one tick into its symbol's book.
func (m *Manager) ProcessTick(tick core.Tick) {
	m.GetOrCreate(tick.Symbol).UpdateLevel(tick.Side, tick.Price, tick.Quantity)
}

// ActiveSymbols lists every symbol with a book.
func (m *Manager) ActiveSymbols() []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uint32, 0, len(m.books))
	for s := range m.books {
		out = append(out, s)
	}
	return out
}

// Count is the number of live books.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.books)
}
