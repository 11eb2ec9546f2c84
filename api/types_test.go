package api

import (
	"errors"
	"testing"

	"pkt.systems/reservd/internal/core"
)

func TestFromError(t *testing.T) {
	resp := FromError(core.Failure{
		Code:       core.CodeDeadlineExceeded,
		Detail:     "conflict retry budget exhausted",
		RetryAfter: 1,
	})
	if resp.Error != core.CodeDeadlineExceeded || resp.RetryAfter != 1 {
		t.Fatalf("failure mapping = %+v", resp)
	}

	resp = FromError(errors.New("disk full"))
	if resp.Error != "internal" || resp.Detail != "disk full" {
		t.Fatalf("internal mapping = %+v", resp)
	}
}

func TestFromReserveResultCopiesUnits(t *testing.T) {
	res := &core.ReserveResult{
		ReservationID: "res-1",
		ItemID:        "x",
		Units:         []int{1, 2},
		Version:       1,
	}
	resp := FromReserveResult(res)
	resp.Units[0] = 99
	if res.Units[0] != 1 {
		t.Fatalf("response mutation reached the coordinator result: %v", res.Units)
	}

	rel := &core.ReleaseResult{ReservationID: "res-1", ItemID: "x", Units: []int{1, 2}, Version: 2}
	relResp := FromReleaseResult(rel)
	relResp.Units[1] = 99
	if rel.Units[1] != 2 {
		t.Fatalf("response mutation reached the coordinator result: %v", rel.Units)
	}
}

func TestFromAvailabilityResult(t *testing.T) {
	resp := FromAvailabilityResult(&core.AvailabilityResult{
		ItemID:        "x",
		Capacity:      5,
		OccupiedCount: 3,
		Version:       7,
	})
	if resp.Free != 2 || resp.Occupied != 3 || resp.Version != 7 {
		t.Fatalf("availability mapping = %+v", resp)
	}
}
