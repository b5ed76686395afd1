package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"vatpilot/internal/vat"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// VatStore persists engine results. Recomputing an order replaces its lines.
type VatStore interface {
	SaveComputation(ctx context.Context, shop string, taxesIncluded bool, summary *vat.VatSummary, raw json.RawMessage) (*StoredOrder, error)
	GetOrder(ctx context.Context, shop, orderID string) (*StoredOrder, error)
	// ListOrderResults returns the per-order Box 1 and Box 6 contributions of
	// orders computed inside r.
	ListOrderResults(ctx context.Context, shop string, r vat.DateRange) ([]vat.OrderResult, error)
	// ListLines returns every stored line of orders computed inside r, ordered
	// by computation time then line id.
	ListLines(ctx context.Context, shop string, r vat.DateRange) ([]ExportLine, error)
}

type vatStore struct {
	pool *pgxpool.Pool
}

func NewVatStore(pool *pgxpool.Pool) VatStore {
	return &vatStore{pool: pool}
}

func (s *vatStore) SaveComputation(ctx context.Context, shop string, taxesIncluded bool, summary *vat.VatSummary, raw json.RawMessage) (*StoredOrder, error) {
	if summary == nil {
		return nil, fmt.Errorf("summary is required")
	}
	// Re-check the per-line identity before anything reaches the table constraint.
	for _, l := range summary.Lines {
		if l.GrossMinor != l.NetMinor+l.VatMinor {
			return nil, fmt.Errorf("%w: line %s gross %d != net %d + vat %d",
				vat.ErrInvariantViolation, l.SourceID, l.GrossMinor, l.NetMinor, l.VatMinor)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var rawArg any
	if len(raw) > 0 {
		rawArg = string(raw)
	}

	stored := &StoredOrder{
		ShopDomain:    shop,
		OrderID:       summary.OrderID,
		Currency:      summary.Currency,
		TaxesIncluded: taxesIncluded,
		Totals:        summary.Totals,
		Box1VatMinor:  summary.Boxes.VatDueSales,
		Box6NetMinor:  summary.Boxes.TotalValueSalesExVAT,
		Lines:         summary.Lines,
		RawOrder:      raw,
	}

	var vatOrderID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO vat_orders (shop_domain, order_id, currency, taxes_included, net_minor, vat_minor, gross_minor,
		                        box1_vat_minor, box6_net_minor, raw_order, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, NOW())
		ON CONFLICT (shop_domain, order_id) DO UPDATE SET
			currency       = EXCLUDED.currency,
			taxes_included = EXCLUDED.taxes_included,
			net_minor      = EXCLUDED.net_minor,
			vat_minor      = EXCLUDED.vat_minor,
			gross_minor    = EXCLUDED.gross_minor,
			box1_vat_minor = EXCLUDED.box1_vat_minor,
			box6_net_minor = EXCLUDED.box6_net_minor,
			raw_order      = EXCLUDED.raw_order,
			computed_at    = EXCLUDED.computed_at
		RETURNING id, computed_at
	`, shop, summary.OrderID, summary.Currency, taxesIncluded,
		summary.Totals.NetMinor, summary.Totals.VatMinor, summary.Totals.GrossMinor,
		stored.Box1VatMinor, stored.Box6NetMinor, rawArg).Scan(&vatOrderID, &stored.ComputedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert vat order %s: %w", summary.OrderID, err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM vat_lines WHERE vat_order_id = $1", vatOrderID); err != nil {
		return nil, fmt.Errorf("failed to clear previous lines for order %s: %w", summary.OrderID, err)
	}

	for _, l := range summary.Lines {
		_, err := tx.Exec(ctx, `
			INSERT INTO vat_lines (vat_order_id, shop_domain, order_id, source_id, source, sku, title, quantity,
			                       rate_pct, scheme, net_minor, vat_minor, gross_minor, currency, country_of_supply, notes)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12, $13, $14, $15, NULLIF($16, ''))
		`, vatOrderID, shop, l.OrderID, l.SourceID, string(l.Source), l.SKU, l.Title, l.Quantity,
			l.Rate.String(), string(l.Scheme), l.NetMinor, l.VatMinor, l.GrossMinor, l.Currency, l.CountryOfSupply, l.Notes)
		if err != nil {
			return nil, fmt.Errorf("failed to insert vat line %s: %w", l.SourceID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return stored, nil
}

func (s *vatStore) GetOrder(ctx context.Context, shop, orderID string) (*StoredOrder, error) {
	o := &StoredOrder{ShopDomain: shop, OrderID: orderID}
	var id int64
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, currency, taxes_included, net_minor, vat_minor, gross_minor, box1_vat_minor, box6_net_minor,
		       raw_order, computed_at
		FROM vat_orders
		WHERE shop_domain = $1 AND order_id = $2
	`, shop, orderID).Scan(&id, &o.Currency, &o.TaxesIncluded, &o.Totals.NetMinor, &o.Totals.VatMinor,
		&o.Totals.GrossMinor, &o.Box1VatMinor, &o.Box6NetMinor, &raw, &o.ComputedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch order %s: %w", orderID, err)
	}
	if len(raw) > 0 {
		o.RawOrder = json.RawMessage(raw)
	}

	rows, err := s.pool.Query(ctx, lineSelect+" WHERE l.vat_order_id = $1 ORDER BY l.id", id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch lines for order %s: %w", orderID, err)
	}
	defer rows.Close()
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		o.Lines = append(o.Lines, l.VatLine)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lines: %w", err)
	}
	return o, nil
}

func (s *vatStore) ListOrderResults(ctx context.Context, shop string, r vat.DateRange) ([]vat.OrderResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT order_id, computed_at, box1_vat_minor, box6_net_minor
		FROM vat_orders
		WHERE shop_domain = $1 AND computed_at >= $2 AND computed_at < $3
		ORDER BY computed_at, order_id
	`, shop, r.From, r.To)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var results []vat.OrderResult
	for rows.Next() {
		var res vat.OrderResult
		if err := rows.Scan(&res.OrderID, &res.ComputedAt, &res.VatDueSales, &res.NetSalesExVAT); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order results: %w", err)
	}
	return results, nil
}

func (s *vatStore) ListLines(ctx context.Context, shop string, r vat.DateRange) ([]ExportLine, error) {
	rows, err := s.pool.Query(ctx, lineSelect+`
		WHERE o.shop_domain = $1 AND o.computed_at >= $2 AND o.computed_at < $3
		ORDER BY o.computed_at, l.id
	`, shop, r.From, r.To)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var lines []ExportLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lines: %w", err)
	}
	return lines, nil
}

const lineSelect = `
	SELECT l.order_id, l.source_id, l.source, COALESCE(l.sku, ''), l.title, l.quantity, l.rate_pct, l.scheme,
	       l.net_minor, l.vat_minor, l.gross_minor, l.currency, l.country_of_supply, COALESCE(l.notes, ''),
	       o.computed_at
	FROM vat_lines l
	JOIN vat_orders o ON o.id = l.vat_order_id`

func scanLine(rows pgx.Rows) (ExportLine, error) {
	var l ExportLine
	var source, scheme string
	var rate decimal.Decimal
	err := rows.Scan(&l.OrderID, &l.SourceID, &source, &l.SKU, &l.Title, &l.Quantity, &rate, &scheme,
		&l.NetMinor, &l.VatMinor, &l.GrossMinor, &l.Currency, &l.CountryOfSupply, &l.Notes, &l.ComputedAt)
	if err != nil {
		return l, fmt.Errorf("scan failed: %w", err)
	}
	l.Source = vat.LineSource(source)
	l.Scheme = vat.Scheme(scheme)
	if l.Rate, err = vat.RateFromDecimal(rate); err != nil {
		return l, fmt.Errorf("stored rate for line %s: %w", l.SourceID, err)
	}
	return l, nil
}
