// Package errors defines the machine-readable error taxonomy shared across
// the reservation, payment and ledger components.
package errors

// ErrorCode is a machine-readable error identifier for client responses and
// audit entries.
type ErrorCode string

// Inventory/reservation errors.
const (
	ErrCodeOutOfStock     ErrorCode = "out_of_stock"
	ErrCodeStockVanished  ErrorCode = "stock_vanished"
	ErrCodeReservationGone ErrorCode = "reservation_gone"
)

// Discount/coupon errors.
const (
	ErrCodeDiscountInvalid   ErrorCode = "discount_invalid"
	ErrCodeDiscountExhausted ErrorCode = "discount_exhausted"
	ErrCodeDiscountMismatch  ErrorCode = "discount_mismatch"
)

// Price oracle errors.
const (
	ErrCodeQuoteUnavailable ErrorCode = "quote_unavailable"
)

// Solana RPC errors.
const (
	ErrCodeRPCRateLimited ErrorCode = "rpc_rate_limited"
	ErrCodeRPCUnavailable ErrorCode = "rpc_unavailable"
	ErrCodeCorruptKey     ErrorCode = "corrupt_key"
)

// Settlement errors.
const (
	ErrCodeUnderpayment       ErrorCode = "underpayment"
	ErrCodeOverpayment        ErrorCode = "overpayment"
	ErrCodeFinalizeFailed     ErrorCode = "finalize_failed"
	ErrCodeCompensationFailed ErrorCode = "compensation_failed"
	ErrCodeDeliveryFailed     ErrorCode = "delivery_failed"
)

// Validation / system errors.
const (
	ErrCodeInvalidAmount  ErrorCode = "invalid_amount"
	ErrCodeInvalidRequest ErrorCode = "invalid_request"
	ErrCodeNotFound       ErrorCode = "not_found"
	ErrCodeInternalError  ErrorCode = "internal_error"
	ErrCodeDatabaseError  ErrorCode = "database_error"
)

// IsRetryable reports whether an error code represents a transient condition
// worth retrying locally (RPC hiccups, rate limiting) as opposed to a
// stateful error that must be surfaced to the user.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeRPCRateLimited, ErrCodeRPCUnavailable, ErrCodeDatabaseError:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the HTTP status code appropriate for this error when
// surfaced through the webhook/admin HTTP surface.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrCodeOutOfStock, ErrCodeStockVanished, ErrCodeReservationGone,
		ErrCodeDiscountInvalid, ErrCodeDiscountExhausted, ErrCodeDiscountMismatch,
		ErrCodeInvalidAmount, ErrCodeInvalidRequest:
		return 400
	case ErrCodeNotFound:
		return 404
	case ErrCodeQuoteUnavailable, ErrCodeRPCRateLimited, ErrCodeRPCUnavailable:
		return 503
	default:
		return 500
	}
}

// Severity classifies how loudly an error should be surfaced to operators.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityCritical
)

// SeverityOf returns the operator-facing severity for an error code, per the
// propagation policy in the payment/fulfillment error design: money-touching
// failures that cannot be silently retried are always critical.
func SeverityOf(code ErrorCode) Severity {
	switch code {
	case ErrCodeCompensationFailed, ErrCodeCorruptKey, ErrCodeFinalizeFailed, ErrCodeDeliveryFailed:
		return SeverityCritical
	case ErrCodeRPCRateLimited, ErrCodeRPCUnavailable, ErrCodeDatabaseError:
		return SeverityWarn
	default:
		return SeverityInfo
	}
}
