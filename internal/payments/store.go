package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"paycollect/internal/common/database"
	"paycollect/internal/common/money"
)

// TransitionFields are the fields written alongside a status transition.
type TransitionFields struct {
	ReceiptNumber string
	ResultCode    string
	ResultDesc    string
}

// Store persists transactions and success records.
//
// TransitionIfPending and CreateSuccessRecordIfAbsent are the two
// serialization points: both must be atomic conditional writes so that
// racing signals cannot double-apply a terminal transition.
type Store interface {
	CreatePending(ctx context.Context, tx *Transaction) error
	GetByCheckoutID(ctx context.Context, checkoutRequestID string) (*Transaction, error)

	// TransitionIfPending moves the row to newStatus only if it is still
	// Pending, returning whether this caller performed the transition.
	TransitionIfPending(ctx context.Context, checkoutRequestID string, newStatus PaymentStatus, fields TransitionFields) (bool, error)

	// UpdateDiagnosticsIfPending refreshes result_code/result_desc on a
	// still-Pending row without touching the status.
	UpdateDiagnosticsIfPending(ctx context.Context, checkoutRequestID, resultCode, resultDesc string) (bool, error)

	// CreateSuccessRecordIfAbsent inserts the success record unless one
	// already exists for the checkout id, returning whether it inserted.
	CreateSuccessRecordIfAbsent(ctx context.Context, rec *SuccessRecord) (bool, error)

	GetSuccessRecord(ctx context.Context, checkoutRequestID string) (*SuccessRecord, error)
	List(ctx context.Context, limit int) ([]*Transaction, error)
}

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreatePending inserts a new Pending transaction.
func (s *PostgresStore) CreatePending(ctx context.Context, tx *Transaction) error {
	query := `
		INSERT INTO transactions (
			id, checkout_request_id, merchant_request_id,
			phone_number, amount_minor, currency, payment_status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.Exec(ctx, query,
		tx.ID,
		tx.CheckoutRequestID,
		nullableString(tx.MerchantRequestID),
		tx.PhoneNumber,
		tx.Amount.AmountMinor,
		string(tx.Amount.Currency),
		tx.Status,
		tx.CreatedAt,
		tx.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("transaction %s: %w", tx.CheckoutRequestID, database.ErrAlreadyExists)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}

	return nil
}

const transactionColumns = `
	id, checkout_request_id, merchant_request_id,
	phone_number, amount_minor, currency, payment_status,
	receipt_number, result_code, result_desc,
	created_at, updated_at
`

// GetByCheckoutID retrieves a transaction by its gateway correlation key.
func (s *PostgresStore) GetByCheckoutID(ctx context.Context, checkoutRequestID string) (*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE checkout_request_id = $1`

	row := s.db.QueryRow(ctx, query, checkoutRequestID)
	return scanTransaction(row)
}

// TransitionIfPending performs the conditional terminal transition. The
// WHERE clause guard makes concurrent signals race safely: exactly one
// caller observes rows_affected = 1.
func (s *PostgresStore) TransitionIfPending(ctx context.Context, checkoutRequestID string, newStatus PaymentStatus, fields TransitionFields) (bool, error) {
	query := `
		UPDATE transactions
		SET payment_status = $2,
		    receipt_number = COALESCE($3, receipt_number),
		    result_code = COALESCE($4, result_code),
		    result_desc = COALESCE($5, result_desc),
		    updated_at = $6
		WHERE checkout_request_id = $1 AND payment_status = 'Pending'
	`

	tag, err := s.db.Exec(ctx, query,
		checkoutRequestID,
		newStatus,
		nullableString(fields.ReceiptNumber),
		nullableString(fields.ResultCode),
		nullableString(fields.ResultDesc),
		time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("transition transaction: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// UpdateDiagnosticsIfPending refreshes diagnostics without a transition.
func (s *PostgresStore) UpdateDiagnosticsIfPending(ctx context.Context, checkoutRequestID, resultCode, resultDesc string) (bool, error) {
	query := `
		UPDATE transactions
		SET result_code = $2, result_desc = $3, updated_at = $4
		WHERE checkout_request_id = $1 AND payment_status = 'Pending'
	`

	tag, err := s.db.Exec(ctx, query, checkoutRequestID, resultCode, resultDesc, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("update transaction diagnostics: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// CreateSuccessRecordIfAbsent inserts the success record idempotently,
// keyed by the unique checkout_request_id constraint.
func (s *PostgresStore) CreateSuccessRecordIfAbsent(ctx context.Context, rec *SuccessRecord) (bool, error) {
	query := `
		INSERT INTO success_transactions (
			id, checkout_request_id, phone_number,
			amount_minor, currency, receipt_number, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (checkout_request_id) DO NOTHING
	`

	tag, err := s.db.Exec(ctx, query,
		rec.ID,
		rec.CheckoutRequestID,
		rec.PhoneNumber,
		rec.Amount.AmountMinor,
		string(rec.Amount.Currency),
		rec.ReceiptNumber,
		rec.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert success record: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// GetSuccessRecord retrieves the success record for a checkout id.
func (s *PostgresStore) GetSuccessRecord(ctx context.Context, checkoutRequestID string) (*SuccessRecord, error) {
	query := `
		SELECT id, checkout_request_id, phone_number,
		       amount_minor, currency, receipt_number, created_at
		FROM success_transactions
		WHERE checkout_request_id = $1
	`

	var rec SuccessRecord
	var amountMinor int64
	var currency string

	err := s.db.QueryRow(ctx, query, checkoutRequestID).Scan(
		&rec.ID,
		&rec.CheckoutRequestID,
		&rec.PhoneNumber,
		&amountMinor,
		&currency,
		&rec.ReceiptNumber,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("success record %s: %w", checkoutRequestID, database.ErrNotFound)
		}
		return nil, fmt.Errorf("scan success record: %w", err)
	}

	rec.Amount = money.New(amountMinor, money.Currency(currency))
	return &rec, nil
}

// List returns transactions ordered most recent first.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions ORDER BY created_at DESC LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var txs []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var tx Transaction
	var merchantRequestID, receiptNumber, resultCode, resultDesc *string
	var amountMinor int64
	var currency string

	err := row.Scan(
		&tx.ID,
		&tx.CheckoutRequestID,
		&merchantRequestID,
		&tx.PhoneNumber,
		&amountMinor,
		&currency,
		&tx.Status,
		&receiptNumber,
		&resultCode,
		&resultDesc,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("transaction: %w", database.ErrNotFound)
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	tx.Amount = money.New(amountMinor, money.Currency(currency))
	if merchantRequestID != nil {
		tx.MerchantRequestID = *merchantRequestID
	}
	if receiptNumber != nil {
		tx.ReceiptNumber = *receiptNumber
	}
	if resultCode != nil {
		tx.ResultCode = *resultCode
	}
	if resultDesc != nil {
		tx.ResultDesc = *resultDesc
	}

	return &tx, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
