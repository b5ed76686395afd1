package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"vatpilot/internal/app"
	"vatpilot/internal/core"
	"vatpilot/internal/vat"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	app.ApplicationService
	lastPeriod app.PeriodRequest
}

func (f *fakeService) GetPeriodBoxes(_ context.Context, req app.PeriodRequest) (*core.PeriodReport, error) {
	f.lastPeriod = req
	boxes := vat.NineBoxes{VatDueSales: 2000, TotalValueSalesExVAT: 10050}.Derive()
	return &core.PeriodReport{
		ShopDomain: req.Shop,
		Mode:       core.PeriodEngine,
		From:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:         time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		Orders:     3,
		Boxes:      boxes,
		Formatted:  boxes.Format(),
	}, nil
}

func TestCompute_Offline(t *testing.T) {
	order := `{"id": 7, "currency": "GBP", "shipping_address": {"country_code": "GB"},
		"line_items": [{"id": 1, "title": "Mug", "quantity": 2, "price": "5.00"}]}`
	vc := core.ContextFromSettings(core.ShopSettings{HomeCountry: "GB", DomesticRate: vat.Percent(20)})

	var out bytes.Buffer
	require.NoError(t, Compute(strings.NewReader(order), &out, vc))

	var got app.ComputeResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "7", got.Summary.OrderID)
	assert.Equal(t, int64(200), got.Summary.Totals.VatMinor)
	assert.Equal(t, "2.00", got.Boxes.VatDueSales)
}

func TestCompute_BadJSON(t *testing.T) {
	err := Compute(strings.NewReader(`{`), &bytes.Buffer{}, vat.VatContext{})
	assert.ErrorContains(t, err, "invalid order JSON")
}

func TestExecute_Boxes(t *testing.T) {
	svc := &fakeService{}
	var out bytes.Buffer

	err := execute(context.Background(), svc, []string{"boxes", "demo", "2024-01-01", "2024-03-31"}, nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "demo", svc.lastPeriod.Shop)
	assert.Contains(t, out.String(), "Box 1")
	assert.Contains(t, out.String(), "20.00")
	assert.Contains(t, out.String(), "100")
}

func TestExecute_Usage(t *testing.T) {
	err := execute(context.Background(), &fakeService{}, []string{"boxes", "demo"}, nil, &bytes.Buffer{})
	assert.ErrorContains(t, err, "usage")

	err = execute(context.Background(), &fakeService{}, []string{"nope"}, nil, &bytes.Buffer{})
	assert.ErrorContains(t, err, "unknown command")
}
