// Package payments holds the collection domain: the transaction lifecycle
// and the reconciliation of gateway signals against pending transactions.
package payments

import (
	"fmt"
	"time"

	"paycollect/internal/common/money"
)

// PaymentStatus represents the lifecycle state of a transaction.
type PaymentStatus string

const (
	StatusPending PaymentStatus = "Pending"
	StatusSuccess PaymentStatus = "Success"
	StatusFailed  PaymentStatus = "Failed"
)

// IsTerminal reports whether the status permits no further transition.
func (s PaymentStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Transaction is one initiated payment. CheckoutRequestID is the gateway's
// correlation key; every later signal locates the row through it.
type Transaction struct {
	ID                string        `json:"id"`
	CheckoutRequestID string        `json:"checkout_request_id"`
	MerchantRequestID string        `json:"merchant_request_id,omitempty"`
	PhoneNumber       string        `json:"phone_number"`
	Amount            money.Money   `json:"amount"`
	Status            PaymentStatus `json:"payment_status"`
	ReceiptNumber     string        `json:"receipt_number,omitempty"`
	ResultCode        string        `json:"result_code,omitempty"`
	ResultDesc        string        `json:"result_desc,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// SuccessRecord is the append-only record written exactly once when a
// transaction reaches Success.
type SuccessRecord struct {
	ID                string      `json:"id"`
	CheckoutRequestID string      `json:"checkout_request_id"`
	PhoneNumber       string      `json:"phone_number"`
	Amount            money.Money `json:"amount"`
	ReceiptNumber     string      `json:"receipt_number"`
	CreatedAt         time.Time   `json:"created_at"`
}

// Metadata item names carried on successful callbacks.
const (
	MetaReceiptNumber   = "MpesaReceiptNumber"
	MetaAmount          = "Amount"
	MetaPhoneNumber     = "PhoneNumber"
	MetaTransactionDate = "TransactionDate"
)

// Signal is the normalized form of either a callback payload or a poll
// response. Metadata is present only on successful callbacks.
type Signal struct {
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Metadata          map[string]any
}

// ReceiptNumber extracts the receipt from signal metadata.
func (s Signal) ReceiptNumber() (string, bool) {
	v, ok := s.Metadata[MetaReceiptNumber]
	if !ok {
		return "", false
	}
	receipt, ok := v.(string)
	if !ok || receipt == "" {
		return "", false
	}
	return receipt, true
}

// OutcomeKind enumerates what applying a signal did.
type OutcomeKind string

const (
	OutcomeNotFound          OutcomeKind = "not_found"
	OutcomeAlreadyTerminal   OutcomeKind = "already_terminal"
	OutcomeMalformed         OutcomeKind = "malformed"
	OutcomePromotedToSuccess OutcomeKind = "promoted_to_success"
	OutcomePromotedToFailed  OutcomeKind = "promoted_to_failed"
	OutcomeStillPending      OutcomeKind = "still_pending"
)

// Outcome is the result of applying a signal. Status carries the
// transaction's status where one exists.
type Outcome struct {
	Kind   OutcomeKind
	Status PaymentStatus
}

func (o Outcome) String() string {
	if o.Status == "" {
		return string(o.Kind)
	}
	return fmt.Sprintf("%s (%s)", o.Kind, o.Status)
}
