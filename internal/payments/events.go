package payments

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"paycollect/internal/common/money"
)

// NATS subjects for payment events
const (
	SubjectPaymentInitiated = "payments.initiated"
	SubjectPaymentSettled   = "payments.settled"
	SubjectPaymentFailed    = "payments.failed"
)

// EventType identifies the type of payment event.
type EventType string

const (
	EventPaymentInitiated EventType = "payment.initiated"
	EventPaymentSettled   EventType = "payment.settled"
	EventPaymentFailed    EventType = "payment.failed"
)

// Envelope wraps all events with common metadata.
type Envelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	CorrelationID string          `json:"correlation_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Data          json.RawMessage `json:"data"`
}

// NewEnvelope creates a new event envelope. correlationID is the
// checkout request id the event relates to.
func NewEnvelope(eventType EventType, correlationID string, data any) (*Envelope, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		ID:            ulid.Make().String(),
		Type:          eventType,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		Data:          jsonData,
	}, nil
}

// PaymentInitiatedEvent is published when a push request is accepted.
type PaymentInitiatedEvent struct {
	TransactionID     string      `json:"transaction_id"`
	CheckoutRequestID string      `json:"checkout_request_id"`
	PhoneNumber       string      `json:"phone_number"`
	Amount            money.Money `json:"amount"`
}

// PaymentSettledEvent is published when a transaction reaches Success.
type PaymentSettledEvent struct {
	TransactionID     string      `json:"transaction_id"`
	CheckoutRequestID string      `json:"checkout_request_id"`
	PhoneNumber       string      `json:"phone_number"`
	Amount            money.Money `json:"amount"`
	ReceiptNumber     string      `json:"receipt_number"`
	SettledAt         time.Time   `json:"settled_at"`
}

// PaymentFailedEvent is published when a transaction reaches Failed.
type PaymentFailedEvent struct {
	TransactionID     string      `json:"transaction_id"`
	CheckoutRequestID string      `json:"checkout_request_id"`
	PhoneNumber       string      `json:"phone_number"`
	Amount            money.Money `json:"amount"`
	ResultCode        string      `json:"result_code"`
	ResultDesc        string      `json:"result_desc"`
}
