// Package uuidv7 generates time-ordered UUIDs for reservation identifiers.
package uuidv7

import "github.com/google/uuid"

// New returns a UUIDv7 value or panics if generation fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString returns the string form of a fresh UUIDv7.
func NewString() string {
	return New().String()
}
