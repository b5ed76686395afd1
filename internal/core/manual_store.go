package core

import (
	"context"
	"fmt"

	"vatpilot/internal/shopify"
	"vatpilot/internal/vat"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ManualStore keeps CSV-imported orders as raw rows for the manual draft
// path. Importing the same export twice is a no-op.
type ManualStore interface {
	ImportOrders(ctx context.Context, shop string, orders []shopify.ImportedOrder) (*ImportResult, error)
	ListRawOrders(ctx context.Context, shop string, r vat.DateRange) ([]vat.RawOrder, error)
	ListRawRefunds(ctx context.Context, shop string, r vat.DateRange) ([]vat.RawRefund, error)
}

type manualStore struct {
	pool *pgxpool.Pool
}

func NewManualStore(pool *pgxpool.Pool) ManualStore {
	return &manualStore{pool: pool}
}

func (s *manualStore) ImportOrders(ctx context.Context, shop string, orders []shopify.ImportedOrder) (*ImportResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	res := &ImportResult{}
	for _, o := range orders {
		inserted, err := insertImportedOrder(ctx, tx, shop, o)
		if err != nil {
			return nil, err
		}
		if inserted {
			res.Inserted++
		} else {
			res.Duplicates++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return res, nil
}

func insertImportedOrder(ctx context.Context, tx pgx.Tx, shop string, o shopify.ImportedOrder) (bool, error) {
	var orderID int64
	err := tx.QueryRow(ctx, `
		INSERT INTO imported_orders (shop_domain, external_id, created_at_src, destination_country, customer_email,
		                             taxes_included, discount_minor, shipping_minor, shipping_tax_minor)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)
		ON CONFLICT (shop_domain, external_id) DO NOTHING
		RETURNING id
	`, shop, o.ExternalID, o.CreatedAt, o.DestinationCountry, o.CustomerEmail, o.TaxesIncluded,
		o.DiscountMinor, o.ShippingMinor, o.ShippingTaxMinor).Scan(&orderID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert imported order %s: %w", o.ExternalID, err)
	}

	for _, l := range o.Lines {
		_, err := tx.Exec(ctx, `
			INSERT INTO imported_order_lines (imported_order_id, title, variant, sku, quantity, unit_minor,
			                                  discount_minor, rate_pct, tax_minor)
			VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9)
		`, orderID, l.Title, l.Variant, l.SKU, l.Quantity, l.UnitMinor, l.DiscountMinor, l.Rate.String(), l.TaxMinor)
		if err != nil {
			return false, fmt.Errorf("failed to insert line for imported order %s: %w", o.ExternalID, err)
		}
	}

	if net, v := o.RefundSplit(); net != 0 || v != 0 {
		_, err := tx.Exec(ctx, `
			INSERT INTO imported_refunds (imported_order_id, shop_domain, created_at_src, net_minor, vat_minor)
			VALUES ($1, $2, $3, $4, $5)
		`, orderID, shop, o.CreatedAt, net, v)
		if err != nil {
			return false, fmt.Errorf("failed to insert refund for imported order %s: %w", o.ExternalID, err)
		}
	}
	return true, nil
}

func (s *manualStore) ListRawOrders(ctx context.Context, shop string, r vat.DateRange) ([]vat.RawOrder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT o.id, o.external_id, o.created_at_src, o.taxes_included, o.discount_minor, o.shipping_minor,
		       o.shipping_tax_minor, l.quantity, l.unit_minor, l.discount_minor, l.rate_pct, l.tax_minor
		FROM imported_orders o
		JOIN imported_order_lines l ON l.imported_order_id = o.id
		WHERE o.shop_domain = $1 AND o.created_at_src >= $2 AND o.created_at_src < $3
		ORDER BY o.created_at_src, o.id, l.id
	`, shop, r.From, r.To)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	type shipping struct {
		amount int64
		tax    *int64
	}
	var orders []vat.RawOrder
	var ships []shipping
	index := map[int64]int{}
	for rows.Next() {
		var (
			id   int64
			o    vat.RawOrder
			ship shipping
			line vat.RawLine
			rate decimal.Decimal
		)
		if err := rows.Scan(&id, &o.ID, &o.CreatedAt, &o.TaxesIncluded, &o.OrderDiscountMinor, &ship.amount,
			&ship.tax, &line.Quantity, &line.UnitMinor, &line.DiscountMinor, &rate, &line.TaxMinor); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		if line.Rate, err = vat.RateFromDecimal(rate); err != nil {
			return nil, fmt.Errorf("stored rate for order %s: %w", o.ID, err)
		}
		line.Kind = vat.SourceLineItem

		i, ok := index[id]
		if !ok {
			i = len(orders)
			index[id] = i
			orders = append(orders, o)
			ships = append(ships, ship)
		}
		orders[i].Lines = append(orders[i].Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating imported orders: %w", err)
	}

	// Shipping goes last, taxed at the first line's rate when no tax was exported.
	for i := range orders {
		sh := ships[i]
		if sh.amount == 0 && sh.tax == nil {
			continue
		}
		sl := vat.RawLine{Kind: vat.SourceShipping, Quantity: 1, UnitMinor: sh.amount, TaxMinor: sh.tax}
		if sl.TaxMinor == nil && len(orders[i].Lines) > 0 {
			sl.Rate = orders[i].Lines[0].Rate
		}
		orders[i].Lines = append(orders[i].Lines, sl)
	}
	return orders, nil
}

func (s *manualStore) ListRawRefunds(ctx context.Context, shop string, r vat.DateRange) ([]vat.RawRefund, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT o.external_id, rf.created_at_src, rf.net_minor, rf.vat_minor
		FROM imported_refunds rf
		JOIN imported_orders o ON o.id = rf.imported_order_id
		WHERE rf.shop_domain = $1 AND rf.created_at_src >= $2 AND rf.created_at_src < $3
		ORDER BY rf.created_at_src, rf.id
	`, shop, r.From, r.To)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var refunds []vat.RawRefund
	for rows.Next() {
		var rf vat.RawRefund
		if err := rows.Scan(&rf.OrderID, &rf.CreatedAt, &rf.NetMinor, &rf.VatMinor); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		refunds = append(refunds, rf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating refunds: %w", err)
	}
	return refunds, nil
}
