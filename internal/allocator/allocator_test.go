package allocator_test

import (
	"errors"
	"reflect"
	"testing"

	"pkt.systems/reservd/internal/allocator"
)

func TestAllocate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		capacity int
		occupied []int
		quantity int
		want     []int
		wantErr  error
	}{
		{name: "empty item lowest first", capacity: 5, quantity: 2, want: []int{1, 2}},
		{name: "skips occupied", capacity: 5, occupied: []int{1, 3}, quantity: 2, want: []int{2, 4}},
		{name: "reuses freed gap", capacity: 4, occupied: []int{2, 4}, quantity: 2, want: []int{1, 3}},
		{name: "exact fit", capacity: 3, occupied: []int{2}, quantity: 2, want: []int{1, 3}},
		{name: "full item", capacity: 2, occupied: []int{1, 2}, quantity: 1, wantErr: allocator.ErrOutOfStock},
		{name: "insufficient free", capacity: 40, occupied: []int{1, 2}, quantity: 39, wantErr: allocator.ErrOutOfStock},
		{name: "quantity equals capacity", capacity: 3, quantity: 3, want: []int{1, 2, 3}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := allocator.Allocate(tc.capacity, tc.occupied, tc.quantity)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("allocate: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestAllocateRejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := allocator.Allocate(0, nil, 1); err == nil {
		t.Fatal("expected error for zero capacity")
	}
	if _, err := allocator.Allocate(5, nil, 0); err == nil {
		t.Fatal("expected error for zero quantity")
	}
	if _, err := allocator.Allocate(5, []int{6}, 1); err == nil {
		t.Fatal("expected error for out-of-range occupied unit")
	}
	if _, err := allocator.Allocate(5, []int{0}, 1); err == nil {
		t.Fatal("expected error for unit below range")
	}
}

func TestFree(t *testing.T) {
	t.Parallel()

	if got := allocator.Free(5, []int{1, 2}); got != 3 {
		t.Fatalf("expected 3 free, got %d", got)
	}
	if got := allocator.Free(2, []int{1, 1, 2}); got != 0 {
		t.Fatalf("expected duplicate-tolerant count, got %d", got)
	}
	if got := allocator.Free(3, nil); got != 3 {
		t.Fatalf("expected 3 free on empty item, got %d", got)
	}
}
