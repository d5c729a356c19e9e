package payments

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
)

// ApplySignal is the single authority for applying a gateway signal
// (callback payload or poll response) to a transaction. Both ingress
// paths funnel through here so they can never diverge.
//
// It classifies every signal into an Outcome; the only error it returns
// is storage unavailability, which the caller decides how to surface.
func (s *Service) ApplySignal(ctx context.Context, sig Signal) (Outcome, error) {
	tx, err := s.store.GetByCheckoutID(ctx, sig.CheckoutRequestID)
	if err != nil {
		if isNotFound(err) {
			s.logger.Warn("signal for unknown transaction",
				"checkout_request_id", sig.CheckoutRequestID,
				"result_code", sig.ResultCode,
			)
			return Outcome{Kind: OutcomeNotFound}, nil
		}
		return Outcome{}, fmt.Errorf("load transaction: %w", err)
	}

	if tx.Status.IsTerminal() {
		return s.applyDuplicate(ctx, tx, sig)
	}

	switch classify(sig.ResultCode, sig.ResultDesc) {
	case classifySuccess:
		return s.applySuccess(ctx, tx, sig)
	case classifyFailure:
		return s.applyFailure(ctx, tx, sig)
	default:
		return s.applyInconclusive(ctx, tx, sig)
	}
}

// applyDuplicate handles a signal for an already-terminal transaction.
// Terminal status and diagnostics are never rewritten. A duplicate
// success signal re-runs the idempotent success-record insert, which
// repairs the record if a crash separated the two success writes but can
// never create a second one.
func (s *Service) applyDuplicate(ctx context.Context, tx *Transaction, sig Signal) (Outcome, error) {
	if tx.Status == StatusSuccess && sig.ResultCode == CodeSuccess {
		receipt := tx.ReceiptNumber
		if receipt == "" {
			receipt, _ = sig.ReceiptNumber()
		}
		if receipt != "" {
			created, err := s.store.CreateSuccessRecordIfAbsent(ctx, s.successRecord(tx, receipt))
			if err != nil {
				return Outcome{}, fmt.Errorf("ensure success record: %w", err)
			}
			if created {
				s.logger.Warn("success record backfilled on duplicate signal",
					"checkout_request_id", tx.CheckoutRequestID,
				)
			}
		}
	}

	s.logger.Info("duplicate signal ignored",
		"checkout_request_id", tx.CheckoutRequestID,
		"status", tx.Status,
		"result_code", sig.ResultCode,
	)

	return Outcome{Kind: OutcomeAlreadyTerminal, Status: tx.Status}, nil
}

func (s *Service) applySuccess(ctx context.Context, tx *Transaction, sig Signal) (Outcome, error) {
	receipt, ok := sig.ReceiptNumber()
	if !ok {
		// A success signal without a receipt violates the gateway
		// contract; leave the transaction untouched.
		s.logger.Error("success signal missing receipt number",
			"checkout_request_id", tx.CheckoutRequestID,
		)
		return Outcome{Kind: OutcomeMalformed, Status: tx.Status}, nil
	}

	promoted, err := s.store.TransitionIfPending(ctx, tx.CheckoutRequestID, StatusSuccess, TransitionFields{
		ReceiptNumber: receipt,
		ResultCode:    strconv.Itoa(sig.ResultCode),
		ResultDesc:    sig.ResultDesc,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("promote to success: %w", err)
	}
	if !promoted {
		// Lost the race to a concurrent signal.
		current, err := s.store.GetByCheckoutID(ctx, tx.CheckoutRequestID)
		if err != nil {
			return Outcome{}, fmt.Errorf("reload transaction: %w", err)
		}
		return Outcome{Kind: OutcomeAlreadyTerminal, Status: current.Status}, nil
	}

	if _, err := s.store.CreateSuccessRecordIfAbsent(ctx, s.successRecord(tx, receipt)); err != nil {
		// The status write is durable; a replayed signal repairs the
		// record via applyDuplicate.
		return Outcome{}, fmt.Errorf("create success record: %w", err)
	}

	s.logger.Info("payment settled",
		"checkout_request_id", tx.CheckoutRequestID,
		"receipt_number", receipt,
		"amount", tx.Amount.String(),
	)

	s.publishSettled(ctx, tx, receipt)

	return Outcome{Kind: OutcomePromotedToSuccess, Status: StatusSuccess}, nil
}

func (s *Service) applyFailure(ctx context.Context, tx *Transaction, sig Signal) (Outcome, error) {
	code := strconv.Itoa(sig.ResultCode)
	promoted, err := s.store.TransitionIfPending(ctx, tx.CheckoutRequestID, StatusFailed, TransitionFields{
		ResultCode: code,
		ResultDesc: sig.ResultDesc,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("promote to failed: %w", err)
	}
	if !promoted {
		current, err := s.store.GetByCheckoutID(ctx, tx.CheckoutRequestID)
		if err != nil {
			return Outcome{}, fmt.Errorf("reload transaction: %w", err)
		}
		return Outcome{Kind: OutcomeAlreadyTerminal, Status: current.Status}, nil
	}

	s.logger.Info("payment failed",
		"checkout_request_id", tx.CheckoutRequestID,
		"result_code", code,
		"result_desc", sig.ResultDesc,
	)

	s.publishFailed(ctx, tx, code, sig.ResultDesc)

	return Outcome{Kind: OutcomePromotedToFailed, Status: StatusFailed}, nil
}

// applyInconclusive refreshes diagnostics only; the transaction stays
// Pending. The conditional update keeps a racing terminal transition from
// being overwritten.
func (s *Service) applyInconclusive(ctx context.Context, tx *Transaction, sig Signal) (Outcome, error) {
	updated, err := s.store.UpdateDiagnosticsIfPending(ctx, tx.CheckoutRequestID,
		strconv.Itoa(sig.ResultCode), sig.ResultDesc)
	if err != nil {
		return Outcome{}, fmt.Errorf("update diagnostics: %w", err)
	}
	if !updated {
		current, err := s.store.GetByCheckoutID(ctx, tx.CheckoutRequestID)
		if err != nil {
			return Outcome{}, fmt.Errorf("reload transaction: %w", err)
		}
		return Outcome{Kind: OutcomeAlreadyTerminal, Status: current.Status}, nil
	}

	s.logger.Info("payment still pending",
		"checkout_request_id", tx.CheckoutRequestID,
		"result_code", sig.ResultCode,
		"result_desc", sig.ResultDesc,
	)

	return Outcome{Kind: OutcomeStillPending, Status: StatusPending}, nil
}

func (s *Service) successRecord(tx *Transaction, receipt string) *SuccessRecord {
	return &SuccessRecord{
		ID:                ulid.Make().String(),
		CheckoutRequestID: tx.CheckoutRequestID,
		PhoneNumber:       tx.PhoneNumber,
		Amount:            tx.Amount,
		ReceiptNumber:     receipt,
		CreatedAt:         time.Now().UTC(),
	}
}

func (s *Service) publishSettled(ctx context.Context, tx *Transaction, receipt string) {
	if s.publisher == nil {
		return
	}

	event := &PaymentSettledEvent{
		TransactionID:     tx.ID,
		CheckoutRequestID: tx.CheckoutRequestID,
		PhoneNumber:       tx.PhoneNumber,
		Amount:            tx.Amount,
		ReceiptNumber:     receipt,
		SettledAt:         time.Now().UTC(),
	}
	env, err := NewEnvelope(EventPaymentSettled, tx.CheckoutRequestID, event)
	if err != nil {
		s.logger.Error("failed to create settled envelope", "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, SubjectPaymentSettled, env); err != nil {
		s.logger.Error("failed to publish settled event", "error", err)
	}
}

func (s *Service) publishFailed(ctx context.Context, tx *Transaction, code, desc string) {
	if s.publisher == nil {
		return
	}

	event := &PaymentFailedEvent{
		TransactionID:     tx.ID,
		CheckoutRequestID: tx.CheckoutRequestID,
		PhoneNumber:       tx.PhoneNumber,
		Amount:            tx.Amount,
		ResultCode:        code,
		ResultDesc:        desc,
	}
	env, err := NewEnvelope(EventPaymentFailed, tx.CheckoutRequestID, event)
	if err != nil {
		s.logger.Error("failed to create failed envelope", "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, SubjectPaymentFailed, env); err != nil {
		s.logger.Error("failed to publish failed event", "error", err)
	}
}
