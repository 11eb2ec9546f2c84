// Package allocator picks concrete unit identifiers for a reservation.
//
// The allocator is a pure function over a snapshot of item state. It takes
// no locks and caches nothing; correctness under concurrent callers is
// entirely the ledger's CAS discipline.
package allocator

import (
	"errors"
	"fmt"
)

// ErrOutOfStock indicates fewer free units than requested. It is terminal:
// re-reading the ledger cannot manufacture capacity, so callers must not
// retry it.
var ErrOutOfStock = errors.New("allocator: out of stock")

// Allocate returns the quantity lowest-numbered free unit IDs for an item
// with unit IDs 1..capacity and the given occupied set. The result is
// ordered ascending.
func Allocate(capacity int, occupied []int, quantity int) ([]int, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("allocator: capacity must be positive, got %d", capacity)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("allocator: quantity must be positive, got %d", quantity)
	}
	taken := make(map[int]struct{}, len(occupied))
	for _, unit := range occupied {
		if unit < 1 || unit > capacity {
			return nil, fmt.Errorf("allocator: occupied unit %d outside 1..%d", unit, capacity)
		}
		taken[unit] = struct{}{}
	}
	if quantity > capacity-len(taken) {
		return nil, ErrOutOfStock
	}
	units := make([]int, 0, quantity)
	for unit := 1; unit <= capacity && len(units) < quantity; unit++ {
		if _, ok := taken[unit]; ok {
			continue
		}
		units = append(units, unit)
	}
	// len(taken) counted distinct units, so the scan always finds enough.
	return units, nil
}

// Free reports how many units remain unoccupied.
func Free(capacity int, occupied []int) int {
	seen := make(map[int]struct{}, len(occupied))
	for _, unit := range occupied {
		seen[unit] = struct{}{}
	}
	free := capacity - len(seen)
	if free < 0 {
		return 0
	}
	return free
}
