package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"vatpilot/internal/core"
	"vatpilot/internal/hmrc"
	"vatpilot/internal/shopify"
	"vatpilot/internal/telemetry"
	"vatpilot/internal/vat"

	"go.uber.org/zap"
)

var (
	// ErrInvalidRequest is returned for missing or malformed request fields.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotFinalised is returned when a live submission is not marked final.
	ErrNotFinalised = errors.New("return must be finalised before submission")
)

var vrnPattern = regexp.MustCompile(`^\d{9}$`)

// HMRCAuthorizer runs the OAuth flow.
type HMRCAuthorizer interface {
	AuthCodeURL(shop, vrn string) (string, error)
	Exchange(ctx context.Context, code, state string) (*core.HMRCToken, error)
}

// HMRCGateway is the subset of the VAT API the service calls.
type HMRCGateway interface {
	Obligations(ctx context.Context, shop, vrn string, q hmrc.ObligationsQuery) (*hmrc.ObligationsResult, error)
	SubmitReturn(ctx context.Context, shop, vrn string, payload hmrc.ReturnPayload) (*hmrc.SubmitResult, error)
}

// Deps wires the service. Metrics and Logger may be nil.
type Deps struct {
	Shops    core.ShopService
	Orders   core.VatStore
	Manual   core.ManualStore
	Periods  core.PeriodService
	Tokens   core.TokenStore
	Receipts core.ReceiptStore
	Auth     HMRCAuthorizer
	HMRC     HMRCGateway
	Metrics  *telemetry.Metrics
	Logger   *zap.Logger
}

type appService struct {
	shops    core.ShopService
	orders   core.VatStore
	manual   core.ManualStore
	periods  core.PeriodService
	tokens   core.TokenStore
	receipts core.ReceiptStore
	auth     HMRCAuthorizer
	hmrc     HMRCGateway
	metrics  *telemetry.Metrics
	log      *zap.Logger
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(d Deps) ApplicationService {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	periods := d.Periods
	if periods == nil && d.Orders != nil && d.Manual != nil {
		periods = core.NewPeriodService(d.Orders, d.Manual)
	}
	return &appService{
		shops:    d.Shops,
		orders:   d.Orders,
		manual:   d.Manual,
		periods:  periods,
		tokens:   d.Tokens,
		receipts: d.Receipts,
		auth:     d.Auth,
		hmrc:     d.HMRC,
		metrics:  d.Metrics,
		log:      log,
	}
}

// ── Orders ────────────────────────────────────────────────────────────────────

// Compute converts a storefront order and runs the engine under vc.
func Compute(order shopify.Order, vc vat.VatContext) (*ComputeResult, error) {
	normalized, err := shopify.Convert(order)
	if err != nil {
		return nil, err
	}
	summary, err := vat.ComputeVatLines(normalized, vc)
	if err != nil {
		return nil, err
	}
	return &ComputeResult{Summary: summary, Boxes: summary.Boxes.Format()}, nil
}

func (s *appService) compute(ctx context.Context, shop string, order shopify.Order, mode string) (*ComputeResult, error) {
	if err := requireShop(shop); err != nil {
		return nil, err
	}
	vc, err := s.shops.TaxContext(ctx, shop)
	if err != nil {
		return nil, err
	}
	res, err := Compute(order, vc)
	if err != nil {
		return nil, err
	}
	s.metrics.OrderComputed(mode)
	for _, l := range res.Summary.Lines {
		s.metrics.LineProduced(string(l.Source), string(l.Scheme))
	}
	return res, nil
}

func (s *appService) PreviewOrder(ctx context.Context, shop string, order shopify.Order) (*ComputeResult, error) {
	return s.compute(ctx, shop, order, "preview")
}

func (s *appService) RecomputeOrder(ctx context.Context, shop string, order shopify.Order) (*ComputeResult, error) {
	res, err := s.compute(ctx, shop, order, "recompute")
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order: %w", err)
	}
	stored, err := s.orders.SaveComputation(ctx, shop, order.TaxesIncluded, res.Summary, raw)
	if err != nil {
		return nil, err
	}
	s.log.Info("order recomputed",
		zap.String("shop", shop),
		zap.String("order_id", res.Summary.OrderID),
		zap.Int("lines", len(res.Summary.Lines)),
		zap.Int64("vat_minor", res.Summary.Totals.VatMinor))
	res.Persisted = true
	res.ComputedAt = &stored.ComputedAt
	return res, nil
}

func (s *appService) GetOrderComputation(ctx context.Context, shop, orderID string) (*core.StoredOrder, error) {
	if err := requireShop(shop); err != nil {
		return nil, err
	}
	return s.orders.GetOrder(ctx, shop, strings.TrimSpace(orderID))
}

// ── Periods ───────────────────────────────────────────────────────────────────

func (s *appService) GetPeriodBoxes(ctx context.Context, req PeriodRequest) (*core.PeriodReport, error) {
	if err := requireShop(req.Shop); err != nil {
		return nil, err
	}
	r, err := core.ParseDateRange(req.From, req.To)
	if err != nil {
		return nil, err
	}
	return s.periods.NineBoxes(ctx, req.Shop, r, req.External)
}

func (s *appService) GetManualDraft(ctx context.Context, req PeriodRequest) (*core.PeriodReport, error) {
	if err := requireShop(req.Shop); err != nil {
		return nil, err
	}
	r, err := core.ParseDateRange(req.From, req.To)
	if err != nil {
		return nil, err
	}
	return s.periods.ManualDraft(ctx, req.Shop, r)
}

func (s *appService) ImportCSV(ctx context.Context, shop string, r io.Reader) (*ImportCSVResult, error) {
	if err := requireShop(shop); err != nil {
		return nil, err
	}
	batch, err := shopify.ParseCSV(r)
	if err != nil {
		return nil, err
	}
	res := &ImportCSVResult{Skipped: batch.Skipped}
	if res.Skipped == nil {
		res.Skipped = []shopify.SkippedOrder{}
	}
	if len(batch.Orders) > 0 {
		stored, err := s.manual.ImportOrders(ctx, shop, batch.Orders)
		if err != nil {
			return nil, err
		}
		res.Inserted, res.Duplicates = stored.Inserted, stored.Duplicates
	}
	s.metrics.CSVOrders("inserted", res.Inserted)
	s.metrics.CSVOrders("duplicate", res.Duplicates)
	s.metrics.CSVOrders("skipped", len(res.Skipped))
	s.log.Info("csv imported",
		zap.String("shop", shop),
		zap.Int("inserted", res.Inserted),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("skipped", len(res.Skipped)))
	return res, nil
}

func (s *appService) ExportLines(ctx context.Context, req PeriodRequest) (*ExportResult, error) {
	if err := requireShop(req.Shop); err != nil {
		return nil, err
	}
	r, err := core.ParseDateRange(req.From, req.To)
	if err != nil {
		return nil, err
	}
	lines, err := s.orders.ListLines(ctx, req.Shop, r)
	if err != nil {
		return nil, err
	}
	if lines == nil {
		lines = []core.ExportLine{}
	}
	return &ExportResult{ShopDomain: req.Shop, From: r.From, To: r.To, Lines: lines}, nil
}

// ── Settings ──────────────────────────────────────────────────────────────────

func (s *appService) GetTaxSettings(ctx context.Context, shop string) (*core.ShopSettings, error) {
	if err := requireShop(shop); err != nil {
		return nil, err
	}
	return s.shops.GetSettings(ctx, shop)
}

func (s *appService) UpdateTaxSettings(ctx context.Context, settings core.ShopSettings) (*core.ShopSettings, error) {
	if err := requireShop(settings.ShopDomain); err != nil {
		return nil, err
	}
	return s.shops.UpdateSettings(ctx, settings)
}

// ── HMRC ──────────────────────────────────────────────────────────────────────

func (s *appService) HMRCAuthURL(ctx context.Context, shop, vrn string) (string, error) {
	if err := requireShop(shop); err != nil {
		return "", err
	}
	if err := requireVRN(vrn); err != nil {
		return "", err
	}
	return s.auth.AuthCodeURL(shop, vrn)
}

func (s *appService) CompleteHMRCAuth(ctx context.Context, code, state string) (*HMRCConnection, error) {
	tok, err := s.auth.Exchange(ctx, code, state)
	if err != nil {
		return nil, err
	}
	s.log.Info("hmrc connected", zap.String("shop", tok.ShopDomain), zap.String("vrn", tok.VRN))
	return connectionFrom(tok), nil
}

func (s *appService) HMRCStatus(ctx context.Context, shop, vrn string) (*HMRCConnection, error) {
	if err := requireShop(shop); err != nil {
		return nil, err
	}
	if err := requireVRN(vrn); err != nil {
		return nil, err
	}
	tok, err := s.tokens.Latest(ctx, shop, vrn)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return &HMRCConnection{ShopDomain: shop, VRN: vrn}, nil
		}
		return nil, err
	}
	return connectionFrom(tok), nil
}

func connectionFrom(tok *core.HMRCToken) *HMRCConnection {
	exp := tok.ExpiresAt
	return &HMRCConnection{
		ShopDomain: tok.ShopDomain,
		VRN:        tok.VRN,
		Connected:  true,
		ExpiresAt:  &exp,
		Scope:      tok.Scope,
	}
}

func (s *appService) ListObligations(ctx context.Context, req ObligationsRequest) (*hmrc.ObligationsResult, error) {
	if err := requireShop(req.Shop); err != nil {
		return nil, err
	}
	if err := requireVRN(req.VRN); err != nil {
		return nil, err
	}
	return s.hmrc.Obligations(ctx, req.Shop, req.VRN, hmrc.ObligationsQuery{
		From:   req.From,
		To:     req.To,
		Status: req.Status,
	})
}

func (s *appService) SubmitReturn(ctx context.Context, req SubmitReturnRequest) (*SubmitReturnResult, error) {
	if err := requireShop(req.Shop); err != nil {
		return nil, err
	}
	if req.VRN == "" {
		settings, err := s.shops.GetSettings(ctx, req.Shop)
		if err != nil {
			return nil, err
		}
		req.VRN = settings.VRN
	}
	if err := requireVRN(req.VRN); err != nil {
		return nil, err
	}

	r, err := core.ParseDateRange(req.From, req.To)
	if err != nil {
		return nil, err
	}
	period, err := s.periods.NineBoxes(ctx, req.Shop, r, req.External)
	if err != nil {
		return nil, err
	}
	sub, err := vat.Package(period.Boxes, req.PeriodKey, req.Finalised)
	if err != nil {
		return nil, err
	}
	payload := hmrc.PayloadFromSubmission(sub)
	result := &SubmitReturnResult{DryRun: req.DryRun, Payload: payload, Period: period}

	if req.DryRun {
		s.metrics.Submission("dry_run")
		return result, nil
	}
	if !req.Finalised {
		return nil, ErrNotFinalised
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode return: %w", err)
	}
	reservation, err := s.receipts.Reserve(ctx, req.Shop, req.VRN, sub.PeriodKey, body)
	if err != nil {
		if errors.Is(err, core.ErrDuplicateSubmission) {
			s.metrics.Submission("duplicate")
		}
		return nil, err
	}

	resp, err := s.hmrc.SubmitReturn(ctx, req.Shop, req.VRN, payload)
	if err != nil {
		if errors.Is(err, core.ErrDuplicateSubmission) {
			// HMRC already holds a return for the period; keep the reservation.
			s.metrics.Submission("duplicate")
			return nil, err
		}
		s.metrics.Submission("failed")
		if relErr := s.receipts.Release(ctx, reservation.ID); relErr != nil {
			s.log.Error("failed to release submission reservation",
				zap.Int64("receipt_id", reservation.ID), zap.Error(relErr))
		}
		s.log.Warn("vat return submission failed",
			zap.String("shop", req.Shop), zap.String("period_key", sub.PeriodKey), zap.Error(err))
		return nil, err
	}

	processed := resp.ProcessingDate
	receipt, err := s.receipts.Complete(ctx, reservation.ID, core.ReceiptCompletion{
		Body:             resp.Raw,
		CorrelationID:    resp.CorrelationID,
		ProcessingDate:   &processed,
		FormBundleNumber: resp.FormBundleNumber,
	})
	if err != nil {
		// The return is filed; the receipt row stays pending with the request body.
		s.log.Error("vat return filed but receipt not stored",
			zap.String("shop", req.Shop),
			zap.String("period_key", sub.PeriodKey),
			zap.String("form_bundle_number", resp.FormBundleNumber),
			zap.Error(err))
		return nil, err
	}

	s.metrics.Submission("submitted")
	s.log.Info("vat return submitted",
		zap.String("shop", req.Shop),
		zap.String("vrn", req.VRN),
		zap.String("period_key", sub.PeriodKey),
		zap.String("form_bundle_number", resp.FormBundleNumber))
	result.Receipt = receipt
	result.Response = resp
	return result, nil
}

func (s *appService) ListReceipts(ctx context.Context, shop, vrn string) ([]core.Receipt, error) {
	if err := requireShop(shop); err != nil {
		return nil, err
	}
	if vrn != "" {
		if err := requireVRN(vrn); err != nil {
			return nil, err
		}
	}
	return s.receipts.List(ctx, shop, vrn)
}

func requireShop(shop string) error {
	if strings.TrimSpace(shop) == "" {
		return fmt.Errorf("%w: shop is required", ErrInvalidRequest)
	}
	return nil
}

func requireVRN(vrn string) error {
	if !vrnPattern.MatchString(vrn) {
		return fmt.Errorf("%w: vrn must be 9 digits", ErrInvalidRequest)
	}
	return nil
}
