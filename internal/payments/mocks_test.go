package payments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"paycollect/internal/common/database"
)

// Common test errors
var (
	errStoreDown   = errors.New("store unavailable")
	errGatewayDown = errors.New("gateway down")
)

// fakeStore is an in-memory Store whose conditional writes are atomic
// under one mutex, mirroring the row-level guarantees of the real store.
type fakeStore struct {
	mu             sync.Mutex
	transactions   map[string]*Transaction
	successRecords map[string]*SuccessRecord

	failGet        error
	failTransition error
	failRecord     error

	transitionCalls int
	recordCalls     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		transactions:   make(map[string]*Transaction),
		successRecords: make(map[string]*SuccessRecord),
	}
}

func (s *fakeStore) CreatePending(ctx context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transactions[tx.CheckoutRequestID]; ok {
		return fmt.Errorf("transaction %s: %w", tx.CheckoutRequestID, database.ErrAlreadyExists)
	}
	cp := *tx
	s.transactions[tx.CheckoutRequestID] = &cp
	return nil
}

func (s *fakeStore) GetByCheckoutID(ctx context.Context, id string) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failGet != nil {
		return nil, s.failGet
	}
	tx, ok := s.transactions[id]
	if !ok {
		return nil, fmt.Errorf("transaction: %w", database.ErrNotFound)
	}
	cp := *tx
	return &cp, nil
}

func (s *fakeStore) TransitionIfPending(ctx context.Context, id string, newStatus PaymentStatus, fields TransitionFields) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transitionCalls++
	if s.failTransition != nil {
		return false, s.failTransition
	}
	tx, ok := s.transactions[id]
	if !ok || tx.Status != StatusPending {
		return false, nil
	}

	tx.Status = newStatus
	if fields.ReceiptNumber != "" {
		tx.ReceiptNumber = fields.ReceiptNumber
	}
	if fields.ResultCode != "" {
		tx.ResultCode = fields.ResultCode
	}
	if fields.ResultDesc != "" {
		tx.ResultDesc = fields.ResultDesc
	}
	tx.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *fakeStore) UpdateDiagnosticsIfPending(ctx context.Context, id, resultCode, resultDesc string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok || tx.Status != StatusPending {
		return false, nil
	}
	tx.ResultCode = resultCode
	tx.ResultDesc = resultDesc
	tx.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *fakeStore) CreateSuccessRecordIfAbsent(ctx context.Context, rec *SuccessRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recordCalls++
	if s.failRecord != nil {
		return false, s.failRecord
	}
	if _, ok := s.successRecords[rec.CheckoutRequestID]; ok {
		return false, nil
	}
	cp := *rec
	s.successRecords[rec.CheckoutRequestID] = &cp
	return true, nil
}

func (s *fakeStore) GetSuccessRecord(ctx context.Context, id string) (*SuccessRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.successRecords[id]
	if !ok {
		return nil, fmt.Errorf("success record %s: %w", id, database.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeStore) List(ctx context.Context, limit int) ([]*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var txs []*Transaction
	for _, tx := range s.transactions {
		cp := *tx
		txs = append(txs, &cp)
	}
	sort.Slice(txs, func(i, j int) bool {
		return txs[i].CreatedAt.After(txs[j].CreatedAt)
	})
	if limit > 0 && len(txs) > limit {
		txs = txs[:limit]
	}
	return txs, nil
}

func (s *fakeStore) successCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.successRecords)
}

// fakeGateway is an in-memory Gateway.
type fakeGateway struct {
	mu sync.Mutex

	pushResult *PushResult
	pushErr    error
	pushCalls  int
	lastPhone  string
	lastAmount int64

	queryResult *QueryResult
	queryErr    error
	queryCalls  int
}

func (g *fakeGateway) InitiatePush(ctx context.Context, phone string, amount int64) (*PushResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.pushCalls++
	g.lastPhone = phone
	g.lastAmount = amount
	if g.pushErr != nil {
		return nil, g.pushErr
	}
	if g.pushResult != nil {
		return g.pushResult, nil
	}
	return &PushResult{
		MerchantRequestID: fmt.Sprintf("merchant-%d", g.pushCalls),
		CheckoutRequestID: fmt.Sprintf("ws_CO_%d", g.pushCalls),
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

func (g *fakeGateway) QueryStatus(ctx context.Context, checkoutRequestID string) (*QueryResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.queryCalls++
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	if g.queryResult != nil {
		return g.queryResult, nil
	}
	return &QueryResult{ResultCode: "0", ResultDesc: "The service request is processed successfully."}, nil
}

// fakePublisher records published envelopes.
type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *fakePublisher) Publish(ctx context.Context, subject string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *fakePublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.subjects...)
}
