package app

import (
	"context"
	"io"

	"vatpilot/internal/core"
	"vatpilot/internal/hmrc"
	"vatpilot/internal/shopify"
)

// ApplicationService is the single interface all UI adapters (CLI, Web) call.
// It decouples presentation from business logic. Implementations must contain
// no fmt.Println and no display logic of any kind.
type ApplicationService interface {
	// PreviewOrder runs the VAT engine over an order with the shop's settings
	// without storing anything.
	PreviewOrder(ctx context.Context, shop string, order shopify.Order) (*ComputeResult, error)

	// RecomputeOrder runs the engine and replaces the stored computation for
	// the order. Refunds added since the last run are picked up here.
	RecomputeOrder(ctx context.Context, shop string, order shopify.Order) (*ComputeResult, error)

	// GetOrderComputation returns the stored lines and totals for one order.
	GetOrderComputation(ctx context.Context, shop, orderID string) (*core.StoredOrder, error)

	// GetPeriodBoxes aggregates stored engine results into the nine boxes.
	GetPeriodBoxes(ctx context.Context, req PeriodRequest) (*core.PeriodReport, error)

	// GetManualDraft aggregates CSV-imported orders into draft boxes. Drafts
	// are for review only and are never submitted.
	GetManualDraft(ctx context.Context, req PeriodRequest) (*core.PeriodReport, error)

	// ImportCSV parses an orders export and stores new orders for the manual
	// draft path. Orders already imported are skipped.
	ImportCSV(ctx context.Context, shop string, r io.Reader) (*ImportCSVResult, error)

	// ExportLines returns the stored VAT lines of orders computed in range.
	ExportLines(ctx context.Context, req PeriodRequest) (*ExportResult, error)

	GetTaxSettings(ctx context.Context, shop string) (*core.ShopSettings, error)
	UpdateTaxSettings(ctx context.Context, settings core.ShopSettings) (*core.ShopSettings, error)

	// HMRCAuthURL returns the consent URL that starts the OAuth flow.
	HMRCAuthURL(ctx context.Context, shop, vrn string) (string, error)

	// CompleteHMRCAuth handles the OAuth callback.
	CompleteHMRCAuth(ctx context.Context, code, state string) (*HMRCConnection, error)

	// HMRCStatus reports whether tokens are stored for the shop and VRN.
	HMRCStatus(ctx context.Context, shop, vrn string) (*HMRCConnection, error)

	ListObligations(ctx context.Context, req ObligationsRequest) (*hmrc.ObligationsResult, error)

	// SubmitReturn packages the engine boxes for the period and files them.
	// With DryRun set the packaged payload is returned and nothing is reserved
	// or sent.
	SubmitReturn(ctx context.Context, req SubmitReturnRequest) (*SubmitReturnResult, error)

	ListReceipts(ctx context.Context, shop, vrn string) ([]core.Receipt, error)
}
