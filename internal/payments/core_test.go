package payments

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paycollect/internal/common/money"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(store *fakeStore, gateway *fakeGateway, pub *fakePublisher) *Service {
	var p Publisher
	if pub != nil {
		p = pub
	}
	var g Gateway
	if gateway != nil {
		g = gateway
	}
	return NewService(store, g, p, testLogger())
}

func seedPending(t *testing.T, store *fakeStore, checkoutID string) *Transaction {
	t.Helper()
	now := time.Now().UTC()
	tx := &Transaction{
		ID:                ulid.Make().String(),
		CheckoutRequestID: checkoutID,
		MerchantRequestID: "29115-34620561-1",
		PhoneNumber:       "254712345678",
		Amount:            money.NewFromMajor(100, money.KES),
		Status:            StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, store.CreatePending(context.Background(), tx))
	return tx
}

func successSignal(checkoutID, receipt string) Signal {
	return Signal{
		CheckoutRequestID: checkoutID,
		ResultCode:        CodeSuccess,
		ResultDesc:        "The service request is processed successfully.",
		Metadata: map[string]any{
			MetaReceiptNumber: receipt,
			MetaAmount:        float64(100),
			MetaPhoneNumber:   float64(254712345678),
		},
	}
}

func TestApplySignal_SuccessPromotion(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newTestService(store, nil, pub)
	seedPending(t, store, "ws_CO_1")

	outcome, err := svc.ApplySignal(context.Background(), successSignal("ws_CO_1", "NLJ7RT61SV"))
	require.NoError(t, err)
	assert.Equal(t, OutcomePromotedToSuccess, outcome.Kind)
	assert.Equal(t, StatusSuccess, outcome.Status)

	tx, err := store.GetByCheckoutID(context.Background(), "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, tx.Status)
	assert.Equal(t, "NLJ7RT61SV", tx.ReceiptNumber)
	assert.Equal(t, "0", tx.ResultCode)

	rec, err := store.GetSuccessRecord(context.Background(), "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, "NLJ7RT61SV", rec.ReceiptNumber)
	assert.Equal(t, tx.PhoneNumber, rec.PhoneNumber)
	assert.True(t, rec.Amount.Equal(money.NewFromMajor(100, money.KES)))

	assert.Equal(t, []string{SubjectPaymentSettled}, pub.published())
}

func TestApplySignal_DuplicateSuccessIsIdempotent(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil, nil)
	seedPending(t, store, "ws_CO_1")

	sig := successSignal("ws_CO_1", "NLJ7RT61SV")

	outcome, err := svc.ApplySignal(context.Background(), sig)
	require.NoError(t, err)
	require.Equal(t, OutcomePromotedToSuccess, outcome.Kind)

	// Replayed callback: no second transition, no second record.
	outcome, err = svc.ApplySignal(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyTerminal, outcome.Kind)
	assert.Equal(t, StatusSuccess, outcome.Status)
	assert.Equal(t, 1, store.successCount())

	tx, err := store.GetByCheckoutID(context.Background(), "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, "NLJ7RT61SV", tx.ReceiptNumber)
}

func TestApplySignal_DuplicateSuccessBackfillsRecord(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil, nil)
	seedPending(t, store, "ws_CO_1")

	// Simulate a crash between the status write and the record insert.
	promoted, err := store.TransitionIfPending(context.Background(), "ws_CO_1", StatusSuccess, TransitionFields{
		ReceiptNumber: "NLJ7RT61SV",
		ResultCode:    "0",
	})
	require.NoError(t, err)
	require.True(t, promoted)
	require.Equal(t, 0, store.successCount())

	outcome, err := svc.ApplySignal(context.Background(), successSignal("ws_CO_1", "NLJ7RT61SV"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyTerminal, outcome.Kind)
	assert.Equal(t, 1, store.successCount())
}

func TestApplySignal_FailurePromotion(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newTestService(store, nil, pub)
	seedPending(t, store, "ws_CO_1")

	outcome, err := svc.ApplySignal(context.Background(), Signal{
		CheckoutRequestID: "ws_CO_1",
		ResultCode:        CodeCancelledByUser,
		ResultDesc:        "Request cancelled by user",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomePromotedToFailed, outcome.Kind)
	assert.Equal(t, StatusFailed, outcome.Status)

	tx, err := store.GetByCheckoutID(context.Background(), "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, tx.Status)
	assert.Equal(t, "1032", tx.ResultCode)
	assert.Equal(t, "Request cancelled by user", tx.ResultDesc)
	assert.Empty(t, tx.ReceiptNumber)

	assert.Equal(t, 0, store.successCount())
	assert.Equal(t, []string{SubjectPaymentFailed}, pub.published())
}

func TestApplySignal_PushTimeoutStaysPending(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil, nil)
	seedPending(t, store, "ws_CO_1")

	outcome, err := svc.ApplySignal(context.Background(), Signal{
		CheckoutRequestID: "ws_CO_1",
		ResultCode:        CodePushTimeout,
		ResultDesc:        "DS timeout user cannot be reached",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStillPending, outcome.Kind)
	assert.Equal(t, StatusPending, outcome.Status)

	tx, err := store.GetByCheckoutID(context.Background(), "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, tx.Status)
	assert.Equal(t, "1037", tx.ResultCode)
	assert.Equal(t, "DS timeout user cannot be reached", tx.ResultDesc)
}

func TestApplySignal_SuccessWithoutReceiptIsMalformed(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil, nil)
	seedPending(t, store, "ws_CO_1")

	outcome, err := svc.ApplySignal(context.Background(), Signal{
		CheckoutRequestID: "ws_CO_1",
		ResultCode:        CodeSuccess,
		ResultDesc:        "The service request is processed successfully.",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeMalformed, outcome.Kind)

	tx, err := store.GetByCheckoutID(context.Background(), "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, tx.Status)
	assert.Equal(t, 0, store.successCount())
}

func TestApplySignal_UnknownTransaction(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil, nil)

	outcome, err := svc.ApplySignal(context.Background(), successSignal("ws_CO_missing", "NLJ7RT61SV"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, outcome.Kind)
	assert.Equal(t, 0, store.successCount())
	assert.Equal(t, 0, store.transitionCalls)
}

func TestApplySignal_StoreErrorPropagates(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil, nil)
	store.failGet = errStoreDown

	_, err := svc.ApplySignal(context.Background(), successSignal("ws_CO_1", "NLJ7RT61SV"))
	require.ErrorIs(t, err, errStoreDown)
}

func TestApplySignal_FailureAfterSuccessIgnored(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil, nil)
	seedPending(t, store, "ws_CO_1")

	_, err := svc.ApplySignal(context.Background(), successSignal("ws_CO_1", "NLJ7RT61SV"))
	require.NoError(t, err)

	// A late failure signal must not demote the settled transaction.
	outcome, err := svc.ApplySignal(context.Background(), Signal{
		CheckoutRequestID: "ws_CO_1",
		ResultCode:        CodeCancelledByUser,
		ResultDesc:        "Request cancelled by user",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyTerminal, outcome.Kind)
	assert.Equal(t, StatusSuccess, outcome.Status)

	tx, err := store.GetByCheckoutID(context.Background(), "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, tx.Status)
	assert.Equal(t, "NLJ7RT61SV", tx.ReceiptNumber)
}

func TestApplySignal_ConcurrentSignalsSingleTransition(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil, nil)
	seedPending(t, store, "ws_CO_1")

	const workers = 16
	outcomes := make([]Outcome, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = svc.ApplySignal(context.Background(), successSignal("ws_CO_1", "NLJ7RT61SV"))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	var promotions int
	for _, outcome := range outcomes {
		if outcome.Kind == OutcomePromotedToSuccess {
			promotions++
		} else {
			assert.Equal(t, OutcomeAlreadyTerminal, outcome.Kind)
		}
	}
	assert.Equal(t, 1, promotions)
	assert.Equal(t, 1, store.successCount())

	tx, err := store.GetByCheckoutID(context.Background(), "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, tx.Status)
}
