package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"paycollect/internal/common/database"
	"paycollect/internal/common/money"
)

// ErrInvalidAmount is returned when an amount cannot be collected.
var ErrInvalidAmount = errors.New("invalid amount")

// PushResult is what the gateway returns for an accepted push request.
type PushResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	CustomerMessage   string
}

// QueryResult is the gateway's answer to a synchronous status query.
type QueryResult struct {
	ResultCode string
	ResultDesc string
}

// Gateway is the payment gateway collaborator.
type Gateway interface {
	InitiatePush(ctx context.Context, phone string, amount int64) (*PushResult, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (*QueryResult, error)
}

// Publisher publishes events to NATS.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// Service owns the payment lifecycle: initiation, signal reconciliation
// and reads for the transaction dashboard.
type Service struct {
	store     Store
	gateway   Gateway
	publisher Publisher
	logger    *slog.Logger
}

// NewService creates a new payments service. publisher may be nil when
// no broker is configured.
func NewService(store Store, gateway Gateway, publisher Publisher, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		gateway:   gateway,
		publisher: publisher,
		logger:    logger,
	}
}

// InitiatePayment validates and normalizes the request, submits the push
// to the gateway and creates the Pending transaction keyed by the
// gateway's checkout request id. This is the only writer that creates
// transactions.
func (s *Service) InitiatePayment(ctx context.Context, phone string, amount money.Money) (*Transaction, string, error) {
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return nil, "", err
	}

	if amount.Currency != money.KES {
		return nil, "", fmt.Errorf("%w: only KES is supported", ErrInvalidAmount)
	}
	whole, ok := amount.WholeMajor()
	if !ok {
		return nil, "", fmt.Errorf("%w: must be whole shillings", ErrInvalidAmount)
	}
	if whole < 1 {
		return nil, "", fmt.Errorf("%w: must be at least 1 KES", ErrInvalidAmount)
	}

	push, err := s.gateway.InitiatePush(ctx, normalized, whole)
	if err != nil {
		return nil, "", fmt.Errorf("initiate push: %w", err)
	}

	now := time.Now().UTC()
	tx := &Transaction{
		ID:                ulid.Make().String(),
		CheckoutRequestID: push.CheckoutRequestID,
		MerchantRequestID: push.MerchantRequestID,
		PhoneNumber:       normalized,
		Amount:            amount,
		Status:            StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.store.CreatePending(ctx, tx); err != nil {
		return nil, "", fmt.Errorf("create pending transaction: %w", err)
	}

	s.logger.Info("payment initiated",
		"transaction_id", tx.ID,
		"checkout_request_id", tx.CheckoutRequestID,
		"amount", amount.String(),
	)

	s.publishInitiated(ctx, tx)

	return tx, push.CustomerMessage, nil
}

// PollStatus queries the gateway for a still-Pending transaction and
// funnels the response through ApplySignal. Terminal transactions
// short-circuit without touching the gateway.
func (s *Service) PollStatus(ctx context.Context, checkoutRequestID string) (*Transaction, Outcome, error) {
	tx, err := s.store.GetByCheckoutID(ctx, checkoutRequestID)
	if err != nil {
		if isNotFound(err) {
			return nil, Outcome{Kind: OutcomeNotFound}, nil
		}
		return nil, Outcome{}, fmt.Errorf("load transaction: %w", err)
	}

	if tx.Status.IsTerminal() {
		return tx, Outcome{Kind: OutcomeAlreadyTerminal, Status: tx.Status}, nil
	}

	res, err := s.gateway.QueryStatus(ctx, checkoutRequestID)
	if err != nil {
		return nil, Outcome{}, fmt.Errorf("query status: %w", err)
	}

	outcome, err := s.ApplySignal(ctx, querySignal(checkoutRequestID, res))
	if err != nil {
		return nil, Outcome{}, err
	}

	current, err := s.store.GetByCheckoutID(ctx, checkoutRequestID)
	if err != nil {
		return nil, Outcome{}, fmt.Errorf("reload transaction: %w", err)
	}

	return current, outcome, nil
}

// querySignal normalizes a poll response into a Signal. A non-numeric or
// absent result code classifies as inconclusive downstream.
func querySignal(checkoutRequestID string, res *QueryResult) Signal {
	code, err := strconv.Atoi(res.ResultCode)
	if err != nil {
		code = -1
	}
	return Signal{
		CheckoutRequestID: checkoutRequestID,
		ResultCode:        code,
		ResultDesc:        res.ResultDesc,
	}
}

// GetTransaction returns a transaction by its checkout request id.
func (s *Service) GetTransaction(ctx context.Context, checkoutRequestID string) (*Transaction, error) {
	return s.store.GetByCheckoutID(ctx, checkoutRequestID)
}

// ListTransactions returns transactions ordered most recent first.
func (s *Service) ListTransactions(ctx context.Context, limit int) ([]*Transaction, error) {
	return s.store.List(ctx, limit)
}

func (s *Service) publishInitiated(ctx context.Context, tx *Transaction) {
	if s.publisher == nil {
		return
	}

	event := &PaymentInitiatedEvent{
		TransactionID:     tx.ID,
		CheckoutRequestID: tx.CheckoutRequestID,
		PhoneNumber:       tx.PhoneNumber,
		Amount:            tx.Amount,
	}
	env, err := NewEnvelope(EventPaymentInitiated, tx.CheckoutRequestID, event)
	if err != nil {
		s.logger.Error("failed to create initiated envelope", "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, SubjectPaymentInitiated, env); err != nil {
		s.logger.Error("failed to publish initiated event", "error", err)
	}
}

func isNotFound(err error) bool {
	return database.IsNotFound(err)
}
