package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"vatpilot/internal/core"
	"vatpilot/internal/db"
	"vatpilot/internal/shopify"
	"vatpilot/internal/vat"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

const testShop = "teapot.myshopify.com"

func setupTestDB(t *testing.T) *pgxpool.Pool {
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping the live app database.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE vat_lines, vat_orders, imported_refunds, imported_order_lines, imported_orders,
		               hmrc_receipts, hmrc_tokens, sku_tax_rates, shops CASCADE;
	`)
	if err != nil {
		t.Fatalf("Failed to clean test database: %v", err)
	}
	return pool
}

func domesticSummary(t *testing.T, orderID string) *vat.VatSummary {
	t.Helper()
	order := vat.OrderLike{
		ID: orderID, Currency: "GBP", TaxesIncluded: true, ShippingCountry: "GB",
		LineItems:     []vat.LineItem{{ID: "1", SKU: "MUG-1", Title: "Mug", Quantity: 1, Price: "4.50"}},
		ShippingLines: []vat.ShippingLine{{ID: "s", Title: "Post", Price: "1.20"}},
	}
	summary, err := vat.ComputeVatLines(order, vat.VatContext{})
	if err != nil {
		t.Fatalf("ComputeVatLines failed: %v", err)
	}
	return summary
}

func TestVatStore_SaveAndRecompute(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	store := core.NewVatStore(pool)
	ctx := context.Background()

	summary := domesticSummary(t, "1001")
	raw := json.RawMessage(`{"id":"1001"}`)
	if _, err := store.SaveComputation(ctx, testShop, true, summary, raw); err != nil {
		t.Fatalf("SaveComputation failed: %v", err)
	}
	// A second save replaces the lines rather than appending.
	if _, err := store.SaveComputation(ctx, testShop, true, summary, raw); err != nil {
		t.Fatalf("SaveComputation (recompute) failed: %v", err)
	}

	got, err := store.GetOrder(ctx, testShop, "1001")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if len(got.Lines) != len(summary.Lines) {
		t.Fatalf("Expected %d lines, got %d", len(summary.Lines), len(got.Lines))
	}
	if got.Box1VatMinor != summary.Boxes.VatDueSales {
		t.Errorf("Box 1: want %d, got %d", summary.Boxes.VatDueSales, got.Box1VatMinor)
	}
	if got.Lines[0].Rate != vat.Percent(20) {
		t.Errorf("Rate: want 20%%, got %s", got.Lines[0].Rate)
	}
	for _, l := range got.Lines {
		if l.GrossMinor != l.NetMinor+l.VatMinor {
			t.Errorf("line %s breaks gross = net + vat", l.SourceID)
		}
	}

	r := vat.DateRange{From: time.Now().Add(-time.Hour), To: time.Now().Add(time.Hour)}
	results, err := store.ListOrderResults(ctx, testShop, r)
	if err != nil {
		t.Fatalf("ListOrderResults failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 order result, got %d", len(results))
	}
	lines, err := store.ListLines(ctx, testShop, r)
	if err != nil {
		t.Fatalf("ListLines failed: %v", err)
	}
	if len(lines) != 2 {
		t.Errorf("Expected 2 export lines, got %d", len(lines))
	}

	if _, err := store.GetOrder(ctx, testShop, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestPeriodService_EngineBoxesFromDatabase(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	store := core.NewVatStore(pool)
	periods := core.NewPeriodService(store, core.NewManualStore(pool))
	ctx := context.Background()

	for _, id := range []string{"2001", "2002"} {
		if _, err := store.SaveComputation(ctx, testShop, true, domesticSummary(t, id), nil); err != nil {
			t.Fatalf("SaveComputation failed: %v", err)
		}
	}
	// Move one order out of the period.
	if _, err := pool.Exec(ctx, "UPDATE vat_orders SET computed_at = '2020-01-01' WHERE order_id = '2002'"); err != nil {
		t.Fatalf("Failed to backdate order: %v", err)
	}

	r := vat.DateRange{From: time.Now().Add(-time.Hour), To: time.Now().Add(time.Hour)}
	rep, err := periods.NineBoxes(ctx, testShop, r, vat.ExternalFigures{})
	if err != nil {
		t.Fatalf("NineBoxes failed: %v", err)
	}
	if rep.Orders != 1 {
		t.Errorf("Expected 1 order in period, got %d", rep.Orders)
	}
	// 4.50 + 1.20 inclusive at 20%: VAT 0.75 + 0.20.
	if rep.Boxes.VatDueSales != 95 {
		t.Errorf("Box 1: want 95, got %d", rep.Boxes.VatDueSales)
	}
}

func TestManualStore_ImportIsIdempotent(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	store := core.NewManualStore(pool)
	ctx := context.Background()

	tax := int64(200)
	orders := []shopify.ImportedOrder{{
		ExternalID:         "#5001",
		CreatedAt:          time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC),
		DestinationCountry: "GB",
		TaxesIncluded:      true,
		ShippingMinor:      500,
		RefundedMinor:      600,
		Lines: []shopify.ImportedLine{
			{Title: "Mug", Quantity: 1, UnitMinor: 1200, Rate: vat.Percent(20), TaxMinor: &tax},
		},
	}}

	res, err := store.ImportOrders(ctx, testShop, orders)
	if err != nil {
		t.Fatalf("ImportOrders failed: %v", err)
	}
	if res.Inserted != 1 || res.Duplicates != 0 {
		t.Errorf("First import: want 1/0, got %d/%d", res.Inserted, res.Duplicates)
	}
	res, err = store.ImportOrders(ctx, testShop, orders)
	if err != nil {
		t.Fatalf("ImportOrders (repeat) failed: %v", err)
	}
	if res.Inserted != 0 || res.Duplicates != 1 {
		t.Errorf("Repeat import: want 0/1, got %d/%d", res.Inserted, res.Duplicates)
	}

	feb := vat.DateRange{From: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), To: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	raws, err := store.ListRawOrders(ctx, testShop, feb)
	if err != nil {
		t.Fatalf("ListRawOrders failed: %v", err)
	}
	if len(raws) != 1 || len(raws[0].Lines) != 2 {
		t.Fatalf("Expected 1 order with item and shipping rows, got %+v", raws)
	}
	if raws[0].Lines[1].Kind != vat.SourceShipping || raws[0].Lines[1].Rate != vat.Percent(20) {
		t.Errorf("Shipping row not rebuilt at the first line's rate: %+v", raws[0].Lines[1])
	}

	refunds, err := store.ListRawRefunds(ctx, testShop, feb)
	if err != nil {
		t.Fatalf("ListRawRefunds failed: %v", err)
	}
	if len(refunds) != 1 || refunds[0].NetMinor != 500 || refunds[0].VatMinor != 100 {
		t.Errorf("Refund split: want 500/100, got %+v", refunds)
	}
}

func TestShopService_SettingsRoundTrip(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	svc := core.NewShopService(pool, core.ShopDefaults{HomeCountry: "GB", DomesticRate: vat.Percent(20)})
	ctx := context.Background()

	def, err := svc.GetSettings(ctx, testShop)
	if err != nil {
		t.Fatalf("GetSettings (defaults) failed: %v", err)
	}
	if def.HomeCountry != "GB" || !def.ReverseChargeEnabled {
		t.Errorf("Unexpected defaults: %+v", def)
	}

	shipRate := vat.Rate(0)
	saved, err := svc.UpdateSettings(ctx, core.ShopSettings{
		ShopDomain:     testShop,
		HomeCountry:    "gb",
		DomesticRate:   vat.Percent(20),
		OSSRegistered:  true,
		ShippingScheme: vat.SchemeZeroRated,
		ShippingRate:   &shipRate,
		VRN:            "123456789",
		SKURates:       []core.SKURate{{SKU: "BOOK-1", Scheme: vat.SchemeZeroRated}},
	})
	if err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	if saved.HomeCountry != "GB" || saved.VRN != "123456789" || len(saved.SKURates) != 1 {
		t.Errorf("Settings not persisted: %+v", saved)
	}

	vc, err := svc.TaxContext(ctx, testShop)
	if err != nil {
		t.Fatalf("TaxContext failed: %v", err)
	}
	if vc.DestinationRates["FI"] != vat.Rate(2550) {
		t.Errorf("FI destination rate: want 25.5%%, got %s", vc.DestinationRates["FI"])
	}

	_, err = svc.UpdateSettings(ctx, core.ShopSettings{ShopDomain: testShop, HomeCountry: "GBR"})
	if !errors.Is(err, core.ErrInvalidSettings) {
		t.Errorf("Expected ErrInvalidSettings, got %v", err)
	}
}

func TestTokenStore_ConditionalRefresh(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	store := core.NewTokenStore(pool)
	ctx := context.Background()

	tok := core.HMRCToken{ShopDomain: testShop, VRN: "123456789", AccessToken: "a1", RefreshToken: "r1",
		ExpiresAt: time.Now().Add(time.Hour)}
	if err := store.Upsert(ctx, tok); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	tok.AccessToken, tok.RefreshToken = "a2", "r2"
	ok, err := store.UpdateIfUnchanged(ctx, tok, "r1")
	if err != nil || !ok {
		t.Fatalf("First refresh should win: ok=%v err=%v", ok, err)
	}
	tok.AccessToken, tok.RefreshToken = "a3", "r3"
	ok, err = store.UpdateIfUnchanged(ctx, tok, "r1")
	if err != nil || ok {
		t.Fatalf("Stale refresh should lose: ok=%v err=%v", ok, err)
	}

	latest, err := store.Latest(ctx, testShop, "123456789")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.AccessToken != "a2" {
		t.Errorf("Expected a2, got %s", latest.AccessToken)
	}
}

func TestReceiptStore_ReservationBlocksDuplicates(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	store := core.NewReceiptStore(pool)
	ctx := context.Background()
	body := json.RawMessage(`{"periodKey":"24A1"}`)

	r, err := store.Reserve(ctx, testShop, "123456789", "24A1", body)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if _, err := store.Reserve(ctx, testShop, "123456789", "24A1", body); !errors.Is(err, core.ErrDuplicateSubmission) {
		t.Fatalf("Expected ErrDuplicateSubmission, got %v", err)
	}

	// Releasing a pending reservation frees the period again.
	if err := store.Release(ctx, r.ID); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	r, err = store.Reserve(ctx, testShop, "123456789", "24A1", body)
	if err != nil {
		t.Fatalf("Reserve after release failed: %v", err)
	}

	done, err := store.Complete(ctx, r.ID, core.ReceiptCompletion{
		Body:             json.RawMessage(`{"formBundleNumber":"256660290587"}`),
		CorrelationID:    "abc",
		FormBundleNumber: "256660290587",
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if done.Status != core.ReceiptSubmitted {
		t.Errorf("Expected submitted, got %s", done.Status)
	}
	// Submitted receipts cannot be released.
	if err := store.Release(ctx, r.ID); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	list, err := store.List(ctx, testShop, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 || list[0].FormBundleNumber != "256660290587" {
		t.Errorf("Unexpected receipts: %+v", list)
	}
}
