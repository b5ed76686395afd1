package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vatpilot/internal/vat"
)

// ErrInvalidRange is returned for unparseable or empty period bounds.
var ErrInvalidRange = errors.New("invalid date range")

// ── Report types ──────────────────────────────────────────────────────────────

type PeriodMode string

const (
	// PeriodEngine sums stored engine results. This is the only figure set
	// that may be submitted.
	PeriodEngine PeriodMode = "engine"
	// PeriodManual builds a draft straight from imported CSV rows.
	PeriodManual PeriodMode = "manual"
)

// PeriodReport is the nine-box result for one date range.
type PeriodReport struct {
	ShopDomain string             `json:"shop_domain"`
	Mode       PeriodMode         `json:"mode"`
	From       time.Time          `json:"from"`
	To         time.Time          `json:"to"`
	Orders     int                `json:"orders"`
	Boxes      vat.NineBoxes      `json:"boxes_minor"`
	Formatted  vat.FormattedBoxes `json:"boxes"`
}

// ── Interface ─────────────────────────────────────────────────────────────────

// PeriodService aggregates orders into VAT return boxes.
type PeriodService interface {
	// NineBoxes sums the stored Box 1 and Box 6 contributions of orders
	// computed in [r.From, r.To). ext supplies the purchase and acquisition
	// boxes the engine never derives.
	NineBoxes(ctx context.Context, shop string, r vat.DateRange, ext vat.ExternalFigures) (*PeriodReport, error)
	// ManualDraft aggregates imported orders created in [r.From, r.To),
	// subtracting imported refunds and clamping Box 1 and Box 6 at zero.
	ManualDraft(ctx context.Context, shop string, r vat.DateRange) (*PeriodReport, error)
}

// ── Implementation ────────────────────────────────────────────────────────────

type periodService struct {
	orders VatStore
	manual ManualStore
}

// NewPeriodService constructs a PeriodService over the engine and manual stores.
func NewPeriodService(orders VatStore, manual ManualStore) PeriodService {
	return &periodService{orders: orders, manual: manual}
}

func (s *periodService) NineBoxes(ctx context.Context, shop string, r vat.DateRange, ext vat.ExternalFigures) (*PeriodReport, error) {
	if err := checkRange(r); err != nil {
		return nil, err
	}
	results, err := s.orders.ListOrderResults(ctx, shop, r)
	if err != nil {
		return nil, fmt.Errorf("failed to load order results: %w", err)
	}
	boxes := vat.AggregatePeriod(results, r, ext)
	return &PeriodReport{
		ShopDomain: shop,
		Mode:       PeriodEngine,
		From:       r.From,
		To:         r.To,
		Orders:     len(results),
		Boxes:      boxes,
		Formatted:  boxes.Format(),
	}, nil
}

func (s *periodService) ManualDraft(ctx context.Context, shop string, r vat.DateRange) (*PeriodReport, error) {
	if err := checkRange(r); err != nil {
		return nil, err
	}
	orders, err := s.manual.ListRawOrders(ctx, shop, r)
	if err != nil {
		return nil, fmt.Errorf("failed to load imported orders: %w", err)
	}
	refunds, err := s.manual.ListRawRefunds(ctx, shop, r)
	if err != nil {
		return nil, fmt.Errorf("failed to load imported refunds: %w", err)
	}
	boxes, err := vat.AggregateManual(orders, refunds, r)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate imported orders: %w", err)
	}
	return &PeriodReport{
		ShopDomain: shop,
		Mode:       PeriodManual,
		From:       r.From,
		To:         r.To,
		Orders:     len(orders),
		Boxes:      boxes,
		Formatted:  boxes.Format(),
	}, nil
}

func checkRange(r vat.DateRange) error {
	if r.From.IsZero() || r.To.IsZero() || !r.From.Before(r.To) {
		return fmt.Errorf("%w: from must be before to", ErrInvalidRange)
	}
	return nil
}

// ── Range parsing ─────────────────────────────────────────────────────────────

// ParseDateRange reads API or CLI bounds. Plain dates (2024-03-31) are whole
// UTC days and to is inclusive, matching how HMRC states period ends. RFC 3339
// timestamps are taken as given with to exclusive.
func ParseDateRange(from, to string) (vat.DateRange, error) {
	f, _, err := parseBound(from)
	if err != nil {
		return vat.DateRange{}, fmt.Errorf("%w: from: %v", ErrInvalidRange, err)
	}
	t, dateOnly, err := parseBound(to)
	if err != nil {
		return vat.DateRange{}, fmt.Errorf("%w: to: %v", ErrInvalidRange, err)
	}
	if dateOnly {
		t = t.AddDate(0, 0, 1)
	}
	r := vat.DateRange{From: f, To: t}
	if err := checkRange(r); err != nil {
		return vat.DateRange{}, err
	}
	return r, nil
}

func parseBound(s string) (time.Time, bool, error) {
	if s == "" {
		return time.Time{}, false, errors.New("missing")
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), true, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%q is neither YYYY-MM-DD nor RFC 3339", s)
	}
	return t.UTC(), false, nil
}
