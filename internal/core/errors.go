package core

import (
	"errors"
	"fmt"
)

// Failure captures transport-neutral error details that adapters can map to
// HTTP, gRPC, or CLI exit codes. Every terminal caller-facing error in the
// engine is a Failure; infrastructure errors pass through unchanged.
type Failure struct {
	Code       string
	Detail     string
	RetryAfter int64 // seconds
	HTTPStatus int   // optional hint for HTTP adapters
}

func (f Failure) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("%s: %s", f.Code, f.Detail)
	}
	return f.Code
}

// Failure codes.
const (
	CodeInvalidRequest   = "invalid_request"
	CodeInvalidQuantity  = "invalid_quantity"
	CodeNotFound         = "not_found"
	CodeItemExists       = "item_exists"
	CodeOutOfStock       = "out_of_stock"
	CodeDeadlineExceeded = "deadline_exceeded"
	CodeRequestInFlight  = "request_in_flight"
	CodeAlreadyReleased  = "already_released"
)

// AsFailure unwraps err into target when it carries a Failure.
func AsFailure(err error, target *Failure) bool {
	return errors.As(err, target)
}

// IsFailureCode reports whether err is a Failure carrying code.
func IsFailureCode(err error, code string) bool {
	var f Failure
	return errors.As(err, &f) && f.Code == code
}
