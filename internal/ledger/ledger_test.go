package ledger

import (
	"reflect"
	"testing"
)

func TestNormalizeUnits(t *testing.T) {
	t.Parallel()

	got := NormalizeUnits([]int{3, 1, 3, 2, 1})
	if !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Fatalf("unexpected normalization: %v", got)
	}
	if NormalizeUnits(nil) != nil {
		t.Fatal("expected nil for empty input")
	}
}

func TestRemoveUnits(t *testing.T) {
	t.Parallel()

	got := RemoveUnits([]int{1, 2, 3, 4}, []int{2, 4})
	if !reflect.DeepEqual(got, []int{1, 3}) {
		t.Fatalf("unexpected removal result: %v", got)
	}
	got = RemoveUnits([]int{1, 2}, nil)
	if !reflect.DeepEqual(got, []int{1, 2}) {
		t.Fatalf("expected copy of occupied, got %v", got)
	}
}

func TestValidateOccupied(t *testing.T) {
	t.Parallel()

	if err := ValidateOccupied(3, []int{1, 3}); err != nil {
		t.Fatalf("valid set rejected: %v", err)
	}
	if err := ValidateOccupied(2, []int{1, 2, 3}); err == nil {
		t.Fatal("expected capacity violation")
	}
	if err := ValidateOccupied(3, []int{0}); err == nil {
		t.Fatal("expected range violation")
	}
	if err := ValidateOccupied(3, []int{2, 2}); err == nil {
		t.Fatal("expected ordering violation")
	}
}

func TestItemRecordCloneIsDeep(t *testing.T) {
	t.Parallel()

	rec := ItemRecord{ItemID: "bus-7", Capacity: 4, Occupied: []int{1, 2}, Version: 3}
	clone := rec.Clone()
	clone.Occupied[0] = 99
	if rec.Occupied[0] != 1 {
		t.Fatal("clone shares occupied slice with original")
	}
}

func TestGuardRecordCloneIsDeep(t *testing.T) {
	t.Parallel()

	rec := GuardRecord{
		RequestID: "req-1",
		State:     GuardStateTerminal,
		Outcome: &GuardOutcome{
			Code:        OutcomeReserved,
			Reservation: &ReservationRecord{ReservationID: "res-1", Units: []int{1}},
		},
	}
	clone := rec.Clone()
	clone.Outcome.Reservation.Units[0] = 42
	if rec.Outcome.Reservation.Units[0] != 1 {
		t.Fatal("clone shares reservation units with original")
	}
}
