package model

import "strings"

// PaymentState is the canonical payment status vocabulary, distinct from the
// raw provider status strings.
type PaymentState string

const (
	PaymentStateUnknown   PaymentState = "UNKNOWN"
	PaymentStatePending   PaymentState = "PENDING"
	PaymentStateApproved  PaymentState = "APPROVED"
	PaymentStateCompleted PaymentState = "COMPLETED"
	PaymentStateFailed    PaymentState = "FAILED"
	PaymentStateCancelled PaymentState = "CANCELLED"
	PaymentStateError     PaymentState = "ERROR" // provider unreachable, not a payment outcome
)

// CanonicalState maps a raw PayPal order or capture status onto the canonical
// vocabulary. Unrecognised strings map to UNKNOWN, not ERROR: ERROR is
// reserved for failed provider round-trips.
func CanonicalState(raw string) PaymentState {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "CREATED", "SAVED", "PAYER_ACTION_REQUIRED", "PENDING":
		return PaymentStatePending
	case "APPROVED":
		return PaymentStateApproved
	case "COMPLETED":
		return PaymentStateCompleted
	case "DECLINED", "DENIED", "FAILED":
		return PaymentStateFailed
	case "VOIDED", "CANCELLED", "REVERSED", "REFUNDED":
		return PaymentStateCancelled
	default:
		return PaymentStateUnknown
	}
}
