// Package api defines the JSON wire shapes of the reservation engine. The
// engine itself carries no transport; these types are what the CLI prints
// and what any embedding service would serialize.
package api

import "pkt.systems/reservd/internal/core"

// ReserveRequest asks for quantity units of one item under an idempotency key.
type ReserveRequest struct {
	// RequestID is the caller-chosen idempotency key, unique per logical
	// attempt. Resending it replays the recorded outcome.
	RequestID string `json:"request_id"`
	// ItemID identifies the item to reserve from.
	ItemID string `json:"item_id"`
	// Quantity is the number of units requested, at least 1.
	Quantity int `json:"quantity"`
}

// ReserveResponse is returned when a reservation is committed or replayed.
type ReserveResponse struct {
	// ReservationID identifies the reservation for a later release.
	ReservationID string `json:"reservation_id"`
	// ItemID identifies the reserved item.
	ItemID string `json:"item_id"`
	// Units are the allocated unit numbers, ascending.
	Units []int `json:"units"`
	// Version is the item version stamped by the committing write.
	Version int64 `json:"version"`
	// Replayed is true when the response was served from the idempotency
	// record instead of a fresh allocation.
	Replayed bool `json:"replayed,omitempty"`
}

// ReleaseRequest frees a reservation's units.
type ReleaseRequest struct {
	// ReservationID identifies the reservation to release.
	ReservationID string `json:"reservation_id"`
}

// ReleaseResponse reports a completed release.
type ReleaseResponse struct {
	// ReservationID identifies the released reservation.
	ReservationID string `json:"reservation_id"`
	// ItemID identifies the item the units were returned to.
	ItemID string `json:"item_id"`
	// Units are the freed unit numbers.
	Units []int `json:"units"`
	// Version is the item version stamped by the releasing write.
	Version int64 `json:"version"`
}

// ItemRequest registers a new item.
type ItemRequest struct {
	// ItemID identifies the item.
	ItemID string `json:"item_id"`
	// Capacity is the fixed number of units, numbered 1..Capacity.
	Capacity int `json:"capacity"`
}

// AvailabilityResponse is a point-in-time view of one item.
type AvailabilityResponse struct {
	// ItemID identifies the item.
	ItemID string `json:"item_id"`
	// Capacity is the item's fixed unit count.
	Capacity int `json:"capacity"`
	// Occupied is how many units are currently reserved.
	Occupied int `json:"occupied"`
	// Free is Capacity minus Occupied.
	Free int `json:"free"`
	// Version is the item's current version.
	Version int64 `json:"version"`
}

// SweepResponse reports an idempotency-record sweep.
type SweepResponse struct {
	// Evicted is how many guard records were removed.
	Evicted int `json:"evicted"`
}

// ErrorResponse is the JSON rendering of a coordinator failure.
type ErrorResponse struct {
	// Error is the stable machine-readable failure code.
	Error string `json:"error"`
	// Detail is a human-readable elaboration.
	Detail string `json:"detail,omitempty"`
	// RetryAfter hints (in seconds) when a retry may succeed.
	RetryAfter int64 `json:"retry_after_seconds,omitempty"`
}

// FromReserveResult converts a coordinator result to its wire shape. Units
// are copied so the response never aliases coordinator state.
func FromReserveResult(res *core.ReserveResult) ReserveResponse {
	return ReserveResponse{
		ReservationID: res.ReservationID,
		ItemID:        res.ItemID,
		Units:         append([]int(nil), res.Units...),
		Version:       res.Version,
		Replayed:      res.Replayed,
	}
}

// FromReleaseResult converts a coordinator result to its wire shape.
func FromReleaseResult(res *core.ReleaseResult) ReleaseResponse {
	return ReleaseResponse{
		ReservationID: res.ReservationID,
		ItemID:        res.ItemID,
		Units:         append([]int(nil), res.Units...),
		Version:       res.Version,
	}
}

// FromAvailabilityResult converts a coordinator result to its wire shape.
func FromAvailabilityResult(res *core.AvailabilityResult) AvailabilityResponse {
	return AvailabilityResponse{
		ItemID:   res.ItemID,
		Capacity: res.Capacity,
		Occupied: res.OccupiedCount,
		Free:     res.Capacity - res.OccupiedCount,
		Version:  res.Version,
	}
}

// FromError converts any error to its wire shape. Coordinator failures keep
// their code and hints; everything else becomes an internal error.
func FromError(err error) ErrorResponse {
	var failure core.Failure
	if core.AsFailure(err, &failure) {
		return ErrorResponse{
			Error:      failure.Code,
			Detail:     failure.Detail,
			RetryAfter: failure.RetryAfter,
		}
	}
	return ErrorResponse{Error: "internal", Detail: err.Error()}
}
