package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"pkt.systems/reservd/api"
	"pkt.systems/reservd/internal/loggingutil"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(loggingutil.NoopLogger())
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLIReserveReleaseRoundTrip(t *testing.T) {
	store := "sqlite://" + filepath.Join(t.TempDir(), "ledger.db")

	if _, err := runCLI(t, "--store", store, "item", "create", "flight-42", "4"); err != nil {
		t.Fatalf("item create: %v", err)
	}

	out, err := runCLI(t, "--store", store, "reserve", "flight-42", "2", "--request-id", "o-1")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	var res struct {
		api.ReserveResponse
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("parse reserve output %q: %v", out, err)
	}
	if res.RequestID != "o-1" || len(res.Units) != 2 {
		t.Fatalf("reserve output = %+v", res)
	}

	out, err = runCLI(t, "--store", store, "avail", "flight-42")
	if err != nil {
		t.Fatalf("avail: %v", err)
	}
	var avail api.AvailabilityResponse
	if err := json.Unmarshal([]byte(out), &avail); err != nil {
		t.Fatalf("parse avail output %q: %v", out, err)
	}
	if avail.Free != 2 || avail.Occupied != 2 {
		t.Fatalf("avail output = %+v", avail)
	}

	out, err = runCLI(t, "--store", store, "release", res.ReservationID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	var rel api.ReleaseResponse
	if err := json.Unmarshal([]byte(out), &rel); err != nil {
		t.Fatalf("parse release output %q: %v", out, err)
	}
	if rel.ItemID != "flight-42" || len(rel.Units) != 2 {
		t.Fatalf("release output = %+v", rel)
	}

	if _, err := runCLI(t, "--store", store, "sweep"); err != nil {
		t.Fatalf("sweep: %v", err)
	}
}

func TestCLIGeneratesRequestID(t *testing.T) {
	store := "sqlite://" + filepath.Join(t.TempDir(), "ledger.db")
	if _, err := runCLI(t, "--store", store, "item", "create", "x", "2"); err != nil {
		t.Fatalf("item create: %v", err)
	}
	out, err := runCLI(t, "--store", store, "reserve", "x", "1")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	var res struct {
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("parse output %q: %v", out, err)
	}
	if strings.TrimSpace(res.RequestID) == "" {
		t.Fatalf("missing generated request id in %q", out)
	}
}

func TestCLIVersion(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "pkt.systems/reservd") {
		t.Fatalf("version output = %q", out)
	}
}
