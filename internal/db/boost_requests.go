package db

import (
	"context"

	"boost-service/internal/boost"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const boostRequestColumns = `id, event_id, payer_id, payment_id, amount::text, currency, event_title, requested_at,
	status, needs_review, review_reason, decided_at, updated_at`

type BoostRequestRepository struct {
	pool *pgxpool.Pool
}

func NewBoostRequestRepository(pool *pgxpool.Pool) *BoostRequestRepository {
	return &BoostRequestRepository{pool: pool}
}

// CreateIfAbsent relies on the unique constraint on payment_id; a conflicting
// insert is skipped and the existing row is returned instead.
func (r *BoostRequestRepository) CreateIfAbsent(ctx context.Context, req *boost.BoostRequest) (*boost.BoostRequest, bool, error) {
	query := `INSERT INTO boost_requests (id, event_id, payer_id, payment_id, amount, currency, event_title,
	          requested_at, status, needs_review, review_reason, decided_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13)
	          ON CONFLICT (payment_id) DO NOTHING`

	tag, err := r.pool.Exec(ctx, query, req.ID, req.EventID, req.PayerID, req.PaymentID, req.Amount.String(),
		req.Currency, req.EventTitle, req.RequestedAt, req.Status, req.NeedsReview, req.ReviewReason,
		req.DecidedAt, req.UpdatedAt)
	if err != nil {
		return nil, false, errors.Wrapf(err, "inserting boost request for payment %s", req.PaymentID)
	}

	if tag.RowsAffected() == 1 {
		created := *req
		return &created, true, nil
	}

	existing, err := r.GetByPaymentID(ctx, req.PaymentID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *BoostRequestRepository) Get(ctx context.Context, id string) (*boost.BoostRequest, error) {
	query := `SELECT ` + boostRequestColumns + ` FROM boost_requests WHERE id = $1`
	return scanBoostRequest(r.pool.QueryRow(ctx, query, id))
}

func (r *BoostRequestRepository) GetByPaymentID(ctx context.Context, paymentID string) (*boost.BoostRequest, error) {
	query := `SELECT ` + boostRequestColumns + ` FROM boost_requests WHERE payment_id = $1`
	return scanBoostRequest(r.pool.QueryRow(ctx, query, paymentID))
}

func (r *BoostRequestRepository) Update(ctx context.Context, id string, mutate func(r *boost.BoostRequest) (bool, error)) (*boost.BoostRequest, error) {
	var result *boost.BoostRequest

	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		query := `SELECT ` + boostRequestColumns + ` FROM boost_requests WHERE id = $1 FOR UPDATE`
		req, err := scanBoostRequest(tx.QueryRow(ctx, query, id))
		if err != nil {
			return err
		}

		changed, err := mutate(req)
		if err != nil {
			return err
		}
		result = req
		if !changed {
			return nil
		}

		update := `UPDATE boost_requests SET event_title = $2, status = $3, needs_review = $4, review_reason = $5,
		           decided_at = $6, updated_at = $7 WHERE id = $1`
		_, err = tx.Exec(ctx, update, req.ID, req.EventTitle, req.Status, req.NeedsReview, req.ReviewReason,
			req.DecidedAt, req.UpdatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *BoostRequestRepository) List(ctx context.Context, status boost.Status, limit int) ([]*boost.BoostRequest, error) {
	query := `SELECT ` + boostRequestColumns + ` FROM boost_requests
	          WHERE ($1 = '' OR status = $1)
	          ORDER BY requested_at LIMIT NULLIF($2, 0)`

	rows, err := r.pool.Query(ctx, query, string(status), limit)
	if err != nil {
		return nil, errors.Wrap(err, "listing boost requests")
	}
	defer rows.Close()

	items := []*boost.BoostRequest{}
	for rows.Next() {
		req, err := scanBoostRequest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, req)
	}
	return items, rows.Err()
}

func scanBoostRequest(row pgx.Row) (*boost.BoostRequest, error) {
	var (
		req    boost.BoostRequest
		amount string
	)
	err := row.Scan(&req.ID, &req.EventID, &req.PayerID, &req.PaymentID, &amount, &req.Currency, &req.EventTitle,
		&req.RequestedAt, &req.Status, &req.NeedsReview, &req.ReviewReason, &req.DecidedAt, &req.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, boost.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scanning boost request")
	}

	if req.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	return &req, nil
}
