package app

import (
	"time"

	"vatpilot/internal/core"
	"vatpilot/internal/hmrc"
	"vatpilot/internal/shopify"
	"vatpilot/internal/vat"
)

// ComputeResult is returned by PreviewOrder and RecomputeOrder.
type ComputeResult struct {
	Summary    *vat.VatSummary    `json:"summary"`
	Boxes      vat.FormattedBoxes `json:"boxes"`
	Persisted  bool               `json:"persisted"`
	ComputedAt *time.Time         `json:"computed_at,omitempty"`
}

// ImportCSVResult is returned by ImportCSV.
type ImportCSVResult struct {
	Inserted   int                    `json:"inserted"`
	Duplicates int                    `json:"duplicates"`
	Skipped    []shopify.SkippedOrder `json:"skipped"`
}

// ExportResult is returned by ExportLines.
type ExportResult struct {
	ShopDomain string            `json:"shop_domain"`
	From       time.Time         `json:"from"`
	To         time.Time         `json:"to"`
	Lines      []core.ExportLine `json:"lines"`
}

// HMRCConnection describes the stored authorization for a shop and VRN.
type HMRCConnection struct {
	ShopDomain string     `json:"shop_domain"`
	VRN        string     `json:"vrn"`
	Connected  bool       `json:"connected"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Scope      string     `json:"scope,omitempty"`
}

// SubmitReturnResult is returned by SubmitReturn. Receipt and Response are
// nil for a dry run.
type SubmitReturnResult struct {
	DryRun   bool               `json:"dry_run"`
	Payload  hmrc.ReturnPayload `json:"payload"`
	Period   *core.PeriodReport `json:"period"`
	Receipt  *core.Receipt      `json:"receipt,omitempty"`
	Response *hmrc.SubmitResult `json:"response,omitempty"`
}
