package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReceiptStore guards against submitting the same period twice. A pending
// reservation is taken before calling HMRC and completed with the receipt, or
// released if the call fails.
type ReceiptStore interface {
	Reserve(ctx context.Context, shop, vrn, periodKey string, requestBody json.RawMessage) (*Receipt, error)
	Complete(ctx context.Context, id int64, c ReceiptCompletion) (*Receipt, error)
	Release(ctx context.Context, id int64) error
	List(ctx context.Context, shop, vrn string) ([]Receipt, error)
}

// ReceiptCompletion is what HMRC returned for an accepted return.
type ReceiptCompletion struct {
	Body             json.RawMessage
	CorrelationID    string
	ProcessingDate   *time.Time
	FormBundleNumber string
}

type receiptStore struct {
	pool *pgxpool.Pool
}

func NewReceiptStore(pool *pgxpool.Pool) ReceiptStore {
	return &receiptStore{pool: pool}
}

const receiptColumns = `id, shop_domain, vrn, period_key, status, request_body, receipt, COALESCE(correlation_id, ''),
	processing_date, COALESCE(form_bundle_number, ''), created_at, submitted_at`

func scanReceipt(row pgx.Row) (*Receipt, error) {
	var r Receipt
	var status string
	var body, receipt []byte
	if err := row.Scan(&r.ID, &r.ShopDomain, &r.VRN, &r.PeriodKey, &status, &body, &receipt, &r.CorrelationID,
		&r.ProcessingDate, &r.FormBundleNumber, &r.CreatedAt, &r.SubmittedAt); err != nil {
		return nil, err
	}
	r.Status = ReceiptStatus(status)
	r.RequestBody = json.RawMessage(body)
	if len(receipt) > 0 {
		r.Receipt = json.RawMessage(receipt)
	}
	return &r, nil
}

func (s *receiptStore) Reserve(ctx context.Context, shop, vrn, periodKey string, requestBody json.RawMessage) (*Receipt, error) {
	r, err := scanReceipt(s.pool.QueryRow(ctx, `
		INSERT INTO hmrc_receipts (shop_domain, vrn, period_key, status, request_body)
		VALUES ($1, $2, $3, 'pending', $4::jsonb)
		ON CONFLICT (shop_domain, vrn, period_key) DO NOTHING
		RETURNING `+receiptColumns, shop, vrn, periodKey, string(requestBody)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("period %s for VRN %s: %w", periodKey, vrn, ErrDuplicateSubmission)
		}
		return nil, fmt.Errorf("failed to reserve submission: %w", err)
	}
	return r, nil
}

func (s *receiptStore) Complete(ctx context.Context, id int64, c ReceiptCompletion) (*Receipt, error) {
	var body any
	if len(c.Body) > 0 {
		body = string(c.Body)
	}
	r, err := scanReceipt(s.pool.QueryRow(ctx, `
		UPDATE hmrc_receipts
		SET status = 'submitted', receipt = $2::jsonb, correlation_id = NULLIF($3, ''), processing_date = $4,
		    form_bundle_number = NULLIF($5, ''), submitted_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+receiptColumns, id, body, c.CorrelationID, c.ProcessingDate, c.FormBundleNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("pending receipt %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to complete receipt %d: %w", id, err)
	}
	return r, nil
}

func (s *receiptStore) Release(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM hmrc_receipts WHERE id = $1 AND status = 'pending'", id); err != nil {
		return fmt.Errorf("failed to release receipt %d: %w", id, err)
	}
	return nil
}

func (s *receiptStore) List(ctx context.Context, shop, vrn string) ([]Receipt, error) {
	q := "SELECT " + receiptColumns + " FROM hmrc_receipts WHERE shop_domain = $1"
	args := []any{shop}
	if vrn != "" {
		args = append(args, vrn)
		q += fmt.Sprintf(" AND vrn = $%d", len(args))
	}
	q += " ORDER BY created_at DESC, id DESC"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	receipts := []Receipt{}
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		receipts = append(receipts, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating receipts: %w", err)
	}
	return receipts, nil
}
