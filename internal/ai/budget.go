package ai

import (
	"fmt"
	"sync"
)

// BudgetChecker checks and records token usage against a per-key budget.
type BudgetChecker interface {
	// Check returns true if key has budget remaining.
	Check(key string) (bool, error)
	// Record adds token usage for key.
	Record(key string, tokens int) error
	// Usage returns current usage and limit for key. A zero limit is unlimited.
	Usage(key string) (used int64, limit int64, err error)
}

// InMemoryBudget is an in-process token budget. Keys without an explicit
// budget fall back to the default limit; a zero limit means unlimited.
type InMemoryBudget struct {
	mu           sync.RWMutex
	defaultLimit int64
	budgets      map[string]int64 // key -> budget limit
	usage        map[string]int64 // key -> tokens used
}

// NewInMemoryBudget creates a budget tracker with the given default limit.
func NewInMemoryBudget(defaultLimit int64) *InMemoryBudget {
	return &InMemoryBudget{
		defaultLimit: defaultLimit,
		budgets:      make(map[string]int64),
		usage:        make(map[string]int64),
	}
}

// SetBudget overrides the limit for key.
func (b *InMemoryBudget) SetBudget(key string, tokens int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.budgets[key] = tokens
}

func (b *InMemoryBudget) limit(key string) int64 {
	if l, ok := b.budgets[key]; ok {
		return l
	}
	return b.defaultLimit
}

func (b *InMemoryBudget) Check(key string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	limit := b.limit(key)
	if limit <= 0 {
		return true, nil
	}
	return b.usage[key] < limit, nil
}

func (b *InMemoryBudget) Record(key string, tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("tokens must be non-negative, got %d", tokens)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.usage[key] += int64(tokens)
	return nil
}

func (b *InMemoryBudget) Usage(key string) (int64, int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.usage[key], b.limit(key), nil
}
