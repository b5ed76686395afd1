package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"vatpilot/internal/app"
	"vatpilot/internal/core"
	"vatpilot/internal/hmrc"
	"vatpilot/internal/shopify"
	"vatpilot/internal/vat"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── Fakes ─────────────────────────────────────────────────────────────────────

type fakeShops struct {
	settings core.ShopSettings
}

func (f *fakeShops) GetSettings(_ context.Context, shop string) (*core.ShopSettings, error) {
	s := f.settings
	s.ShopDomain = shop
	return &s, nil
}

func (f *fakeShops) UpdateSettings(_ context.Context, s core.ShopSettings) (*core.ShopSettings, error) {
	f.settings = s
	return &s, nil
}

func (f *fakeShops) DestinationRates(context.Context) (map[string]vat.Rate, error) {
	return map[string]vat.Rate{}, nil
}

func (f *fakeShops) TaxContext(_ context.Context, _ string) (vat.VatContext, error) {
	return core.ContextFromSettings(f.settings), nil
}

type fakeOrders struct {
	saved   []*vat.VatSummary
	results []vat.OrderResult
}

func (f *fakeOrders) SaveComputation(_ context.Context, shop string, taxesIncluded bool, s *vat.VatSummary, raw json.RawMessage) (*core.StoredOrder, error) {
	f.saved = append(f.saved, s)
	return &core.StoredOrder{
		ShopDomain:    shop,
		OrderID:       s.OrderID,
		TaxesIncluded: taxesIncluded,
		Totals:        s.Totals,
		ComputedAt:    time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC),
		Lines:         s.Lines,
		RawOrder:      raw,
	}, nil
}

func (f *fakeOrders) GetOrder(context.Context, string, string) (*core.StoredOrder, error) {
	return nil, core.ErrNotFound
}

func (f *fakeOrders) ListOrderResults(context.Context, string, vat.DateRange) ([]vat.OrderResult, error) {
	return f.results, nil
}

func (f *fakeOrders) ListLines(context.Context, string, vat.DateRange) ([]core.ExportLine, error) {
	return nil, nil
}

type fakeManual struct {
	imported []shopify.ImportedOrder
}

func (f *fakeManual) ImportOrders(_ context.Context, _ string, orders []shopify.ImportedOrder) (*core.ImportResult, error) {
	f.imported = append(f.imported, orders...)
	return &core.ImportResult{Inserted: len(orders)}, nil
}

func (f *fakeManual) ListRawOrders(context.Context, string, vat.DateRange) ([]vat.RawOrder, error) {
	return nil, nil
}

func (f *fakeManual) ListRawRefunds(context.Context, string, vat.DateRange) ([]vat.RawRefund, error) {
	return nil, nil
}

type fakeReceipts struct {
	reserved  map[string]bool
	released  []int64
	completed []core.ReceiptCompletion
	nextID    int64
}

func newFakeReceipts() *fakeReceipts {
	return &fakeReceipts{reserved: map[string]bool{}}
}

func (f *fakeReceipts) Reserve(_ context.Context, shop, vrn, periodKey string, body json.RawMessage) (*core.Receipt, error) {
	key := shop + "|" + vrn + "|" + periodKey
	if f.reserved[key] {
		return nil, core.ErrDuplicateSubmission
	}
	f.reserved[key] = true
	f.nextID++
	return &core.Receipt{ID: f.nextID, ShopDomain: shop, VRN: vrn, PeriodKey: periodKey, Status: core.ReceiptPending, RequestBody: body}, nil
}

func (f *fakeReceipts) Complete(_ context.Context, id int64, c core.ReceiptCompletion) (*core.Receipt, error) {
	f.completed = append(f.completed, c)
	return &core.Receipt{ID: id, Status: core.ReceiptSubmitted, FormBundleNumber: c.FormBundleNumber}, nil
}

func (f *fakeReceipts) Release(_ context.Context, id int64) error {
	f.released = append(f.released, id)
	return nil
}

func (f *fakeReceipts) List(context.Context, string, string) ([]core.Receipt, error) {
	return nil, nil
}

type fakeTokens struct {
	tok *core.HMRCToken
}

func (f *fakeTokens) Latest(context.Context, string, string) (*core.HMRCToken, error) {
	if f.tok == nil {
		return nil, core.ErrNotFound
	}
	return f.tok, nil
}

func (f *fakeTokens) Upsert(_ context.Context, tok core.HMRCToken) error {
	f.tok = &tok
	return nil
}

func (f *fakeTokens) UpdateIfUnchanged(_ context.Context, tok core.HMRCToken, _ string) (bool, error) {
	f.tok = &tok
	return true, nil
}

type fakeGateway struct {
	submitted []hmrc.ReturnPayload
	err       error
}

func (f *fakeGateway) Obligations(context.Context, string, string, hmrc.ObligationsQuery) (*hmrc.ObligationsResult, error) {
	return &hmrc.ObligationsResult{}, nil
}

func (f *fakeGateway) SubmitReturn(_ context.Context, _, _ string, p hmrc.ReturnPayload) (*hmrc.SubmitResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.submitted = append(f.submitted, p)
	return &hmrc.SubmitResult{
		ProcessingDate:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		FormBundleNumber: "256660290587",
		CorrelationID:    "corr-1",
		Raw:              json.RawMessage(`{"formBundleNumber":"256660290587"}`),
	}, nil
}

type fixture struct {
	svc      app.ApplicationService
	orders   *fakeOrders
	manual   *fakeManual
	receipts *fakeReceipts
	gateway  *fakeGateway
	tokens   *fakeTokens
}

func newFixture() *fixture {
	f := &fixture{
		orders:   &fakeOrders{},
		manual:   &fakeManual{},
		receipts: newFakeReceipts(),
		gateway:  &fakeGateway{},
		tokens:   &fakeTokens{},
	}
	shops := &fakeShops{settings: core.ShopSettings{
		HomeCountry:          "GB",
		DomesticRate:         vat.Percent(20),
		ReverseChargeEnabled: true,
		VRN:                  "123456789",
	}}
	f.svc = app.NewAppService(app.Deps{
		Shops:    shops,
		Orders:   f.orders,
		Manual:   f.manual,
		Tokens:   f.tokens,
		Receipts: f.receipts,
		HMRC:     f.gateway,
	})
	return f
}

func domesticOrder() shopify.Order {
	return shopify.Order{
		ID:              "1001",
		Currency:        "GBP",
		ShippingAddress: &shopify.Address{CountryCode: "GB"},
		LineItems: []shopify.LineItem{
			{ID: "1", Title: "Mug", SKU: "MUG-1", Quantity: 1, Price: "10.00"},
		},
	}
}

// ── Orders ────────────────────────────────────────────────────────────────────

func TestPreviewOrder_DoesNotPersist(t *testing.T) {
	f := newFixture()

	res, err := f.svc.PreviewOrder(context.Background(), "shop.example", domesticOrder())
	require.NoError(t, err)
	assert.False(t, res.Persisted)
	assert.Nil(t, res.ComputedAt)
	require.Len(t, res.Summary.Lines, 1)
	assert.Equal(t, int64(200), res.Summary.Totals.VatMinor)
	assert.Equal(t, "2.00", res.Boxes.VatDueSales)
	assert.Empty(t, f.orders.saved)
}

func TestRecomputeOrder_Persists(t *testing.T) {
	f := newFixture()

	res, err := f.svc.RecomputeOrder(context.Background(), "shop.example", domesticOrder())
	require.NoError(t, err)
	assert.True(t, res.Persisted)
	require.NotNil(t, res.ComputedAt)
	require.Len(t, f.orders.saved, 1)
	assert.Equal(t, "1001", f.orders.saved[0].OrderID)
}

func TestRecomputeOrder_InvalidOrder(t *testing.T) {
	f := newFixture()
	order := domesticOrder()
	order.Currency = ""

	_, err := f.svc.RecomputeOrder(context.Background(), "shop.example", order)
	assert.ErrorIs(t, err, shopify.ErrInvalidOrder)
	assert.Empty(t, f.orders.saved)
}

func TestPreviewOrder_RequiresShop(t *testing.T) {
	f := newFixture()
	_, err := f.svc.PreviewOrder(context.Background(), " ", domesticOrder())
	assert.ErrorIs(t, err, app.ErrInvalidRequest)
}

func TestImportCSV_StoresParsedOrders(t *testing.T) {
	f := newFixture()
	csv := "Name,Created at,Lineitem name,Lineitem price,Lineitem quantity,Tax %,Shipping Country\n" +
		"#1,2024-02-03 10:15:00 +0000,Mug,10.00,1,20,GB\n"

	res, err := f.svc.ImportCSV(context.Background(), "shop.example", strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Empty(t, res.Skipped)
	require.Len(t, f.manual.imported, 1)
	assert.Equal(t, "#1", f.manual.imported[0].ExternalID)
}

// ── Submission ────────────────────────────────────────────────────────────────

func submitRequest() app.SubmitReturnRequest {
	return app.SubmitReturnRequest{
		Shop:      "shop.example",
		PeriodKey: "24A1",
		From:      "2024-01-01",
		To:        "2024-03-31",
		Finalised: true,
	}
}

func seededResults(f *fixture) {
	f.orders.results = []vat.OrderResult{
		{OrderID: "1", ComputedAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), VatDueSales: 2000, NetSalesExVAT: 10000},
	}
}

func TestSubmitReturn_DryRunSendsNothing(t *testing.T) {
	f := newFixture()
	seededResults(f)
	req := submitRequest()
	req.DryRun = true
	req.Finalised = false

	res, err := f.svc.SubmitReturn(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, json.Number("20.00"), res.Payload.VatDueSales)
	assert.Equal(t, int64(100), res.Payload.TotalValueSalesExVAT)
	assert.Empty(t, f.gateway.submitted)
	assert.Empty(t, f.receipts.reserved)
}

func TestSubmitReturn_FilesAndStoresReceipt(t *testing.T) {
	f := newFixture()
	seededResults(f)

	res, err := f.svc.SubmitReturn(context.Background(), submitRequest())
	require.NoError(t, err)
	require.Len(t, f.gateway.submitted, 1)
	assert.Equal(t, "24A1", f.gateway.submitted[0].PeriodKey)
	assert.Equal(t, json.Number("20.00"), f.gateway.submitted[0].NetVatDue)
	require.NotNil(t, res.Receipt)
	assert.Equal(t, core.ReceiptSubmitted, res.Receipt.Status)
	require.Len(t, f.receipts.completed, 1)
	assert.Equal(t, "corr-1", f.receipts.completed[0].CorrelationID)

	// A second submission for the same period is refused locally.
	_, err = f.svc.SubmitReturn(context.Background(), submitRequest())
	assert.ErrorIs(t, err, core.ErrDuplicateSubmission)
	assert.Len(t, f.gateway.submitted, 1)
}

func TestSubmitReturn_RequiresFinalised(t *testing.T) {
	f := newFixture()
	req := submitRequest()
	req.Finalised = false

	_, err := f.svc.SubmitReturn(context.Background(), req)
	assert.ErrorIs(t, err, app.ErrNotFinalised)
}

func TestSubmitReturn_RequiresPeriodKey(t *testing.T) {
	f := newFixture()
	req := submitRequest()
	req.PeriodKey = ""

	_, err := f.svc.SubmitReturn(context.Background(), req)
	assert.ErrorIs(t, err, vat.ErrMissingPeriodKey)
}

func TestSubmitReturn_RejectsBadVRN(t *testing.T) {
	f := newFixture()
	req := submitRequest()
	req.VRN = "GB123"

	_, err := f.svc.SubmitReturn(context.Background(), req)
	assert.ErrorIs(t, err, app.ErrInvalidRequest)
}

func TestSubmitReturn_ReleasesReservationOnFailure(t *testing.T) {
	f := newFixture()
	f.gateway.err = errors.New("connection reset")

	_, err := f.svc.SubmitReturn(context.Background(), submitRequest())
	require.Error(t, err)
	assert.Equal(t, []int64{1}, f.receipts.released)
}

func TestSubmitReturn_KeepsReservationOnHMRCDuplicate(t *testing.T) {
	f := newFixture()
	f.gateway.err = &hmrc.APIError{
		Status: 403,
		Code:   "BUSINESS_ERROR",
		Errors: []hmrc.APIErrorRef{{Code: "DUPLICATE_SUBMISSION"}},
	}

	_, err := f.svc.SubmitReturn(context.Background(), submitRequest())
	assert.ErrorIs(t, err, core.ErrDuplicateSubmission)
	assert.Empty(t, f.receipts.released)
}

// ── HMRC status ───────────────────────────────────────────────────────────────

func TestHMRCStatus(t *testing.T) {
	f := newFixture()

	st, err := f.svc.HMRCStatus(context.Background(), "shop.example", "123456789")
	require.NoError(t, err)
	assert.False(t, st.Connected)

	f.tokens.tok = &core.HMRCToken{
		ShopDomain: "shop.example",
		VRN:        "123456789",
		Scope:      "read:vat write:vat",
		ExpiresAt:  time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC),
	}
	st, err = f.svc.HMRCStatus(context.Background(), "shop.example", "123456789")
	require.NoError(t, err)
	assert.True(t, st.Connected)
	assert.Equal(t, "read:vat write:vat", st.Scope)
}
