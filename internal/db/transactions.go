package db

import (
	"context"
	"time"

	"boost-service/internal/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const transactionColumns = `external_trx_id, internal_trx_id, subscriber_id, event_id, payer_id, amount::text,
	currency, status, status_code, status_detail, notification_received, settled_outcome, needs_review,
	review_reason, version, created_at, updated_at, settled_at`

type TransactionRepository struct {
	pool *pgxpool.Pool
}

func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

func (r *TransactionRepository) Insert(ctx context.Context, t *ledger.Transaction) error {
	query := `INSERT INTO transactions (external_trx_id, internal_trx_id, subscriber_id, event_id, payer_id, amount,
	          currency, status, status_code, status_detail, notification_received, settled_outcome, needs_review,
	          review_reason, version, created_at, updated_at, settled_at)
	          VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12, $13, $14, 1, $15, $16, $17)`

	_, err := r.pool.Exec(ctx, query, t.ExternalTrxID, t.InternalTrxID, t.SubscriberID, t.EventID, t.PayerID,
		t.Amount.String(), t.Currency, t.Status, t.StatusCode, t.StatusDetail, t.NotificationReceived,
		t.SettledOutcome, t.NeedsReview, t.ReviewReason, t.CreatedAt, t.UpdatedAt, t.SettledAt)
	if isUniqueViolation(err) {
		return ledger.ErrDuplicateKey
	}
	if err != nil {
		return errors.Wrapf(err, "inserting transaction %s", t.ExternalTrxID)
	}

	t.Version = 1
	return nil
}

func (r *TransactionRepository) Get(ctx context.Context, externalTrxID string) (*ledger.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE external_trx_id = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, externalTrxID))
}

// Update locks the row with SELECT ... FOR UPDATE for the duration of mutate.
func (r *TransactionRepository) Update(ctx context.Context, externalTrxID string, mutate func(t *ledger.Transaction) (bool, error)) (*ledger.Transaction, error) {
	var result *ledger.Transaction

	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		query := `SELECT ` + transactionColumns + ` FROM transactions WHERE external_trx_id = $1 FOR UPDATE`
		t, err := scanTransaction(tx.QueryRow(ctx, query, externalTrxID))
		if err != nil {
			return err
		}

		changed, err := mutate(t)
		if err != nil {
			return err
		}
		result = t
		if !changed {
			return nil
		}

		update := `UPDATE transactions SET internal_trx_id = $2, status = $3, status_code = $4, status_detail = $5,
		           notification_received = $6, settled_outcome = $7, needs_review = $8, review_reason = $9,
		           version = version + 1, updated_at = $10, settled_at = $11
		           WHERE external_trx_id = $1 RETURNING version`
		return tx.QueryRow(ctx, update, t.ExternalTrxID, t.InternalTrxID, t.Status, t.StatusCode, t.StatusDetail,
			t.NotificationReceived, t.SettledOutcome, t.NeedsReview, t.ReviewReason, t.UpdatedAt, t.SettledAt).
			Scan(&t.Version)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *TransactionRepository) ListUnsettled(ctx context.Context, createdBefore time.Time, limit int) ([]*ledger.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
	          WHERE notification_received = false AND created_at < $1
	          ORDER BY created_at LIMIT NULLIF($2, 0)`

	rows, err := r.pool.Query(ctx, query, createdBefore, limit)
	if err != nil {
		return nil, errors.Wrap(err, "listing unsettled transactions")
	}
	defer rows.Close()

	var items []*ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *TransactionRepository) ListPaid(ctx context.Context, updatedAfter time.Time, limit int) ([]*ledger.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
	          WHERE status IN ($1, $2) AND updated_at > $3
	          ORDER BY updated_at LIMIT NULLIF($4, 0)`

	rows, err := r.pool.Query(ctx, query, string(ledger.StatusSuccess), string(ledger.StatusConfirmed), updatedAfter, limit)
	if err != nil {
		return nil, errors.Wrap(err, "listing paid transactions")
	}
	defer rows.Close()

	var items []*ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func scanTransaction(row pgx.Row) (*ledger.Transaction, error) {
	var (
		t      ledger.Transaction
		amount string
	)
	err := row.Scan(&t.ExternalTrxID, &t.InternalTrxID, &t.SubscriberID, &t.EventID, &t.PayerID, &amount,
		&t.Currency, &t.Status, &t.StatusCode, &t.StatusDetail, &t.NotificationReceived, &t.SettledOutcome,
		&t.NeedsReview, &t.ReviewReason, &t.Version, &t.CreatedAt, &t.UpdatedAt, &t.SettledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scanning transaction")
	}

	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	return &t, nil
}
