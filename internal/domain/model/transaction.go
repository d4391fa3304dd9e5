package model

import "time"

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"   // checkout created; order exists at provider
	TransactionStatusApproved  TransactionStatus = "approved"  // buyer approved at provider; awaiting capture
	TransactionStatusCompleted TransactionStatus = "completed" // capture confirmed; funds moved
	TransactionStatusFailed    TransactionStatus = "failed"    // declined, denied or expired
)

// Transaction records one attempted purchase against the payment provider.
//
// OrderID is the provider's checkout order id (one per checkout); PaymentID is
// the capture id, populated only after a successful capture. A completed
// transaction always carries a non-nil PaymentID.
type Transaction struct {
	ID                string  // UUID
	UserID            string  // UUID of the buying user
	PlanID            string  // UUID of the target plan
	OrderID           *string // provider order id; nil for legacy rows
	PaymentID         *string // provider capture id; nil until captured
	Amount            int64   // minor units (cents), integer to avoid float errors
	Currency          string  // ISO code, e.g. "USD"
	Status            TransactionStatus
	IsUpgrade         bool    // true when this purchase replaces another plan
	UpgradeFromPlanID *string // set when IsUpgrade
	ErrorMessage      *string // provider decline reason or sweep expiry note
	CreatedAt         time.Time
	CompletedAt       *time.Time // set when status becomes completed
}

// Completed reports whether the transaction has durably finished with a
// capture id. Local completed state is authoritative over later provider
// round-trips.
func (t *Transaction) Completed() bool {
	return t.Status == TransactionStatusCompleted && t.PaymentID != nil && *t.PaymentID != ""
}
