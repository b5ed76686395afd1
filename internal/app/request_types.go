package app

import "vatpilot/internal/vat"

// PeriodRequest selects a shop and date range. From and To are YYYY-MM-DD
// (To inclusive) or RFC 3339 timestamps (To exclusive).
type PeriodRequest struct {
	Shop     string
	From     string
	To       string
	External vat.ExternalFigures
}

// ObligationsRequest is the input for ListObligations. Status accepts O, F,
// M, OPEN or FULFILLED.
type ObligationsRequest struct {
	Shop   string
	VRN    string
	From   string
	To     string
	Status string
}

// SubmitReturnRequest is the input for SubmitReturn. VRN defaults to the one
// in the shop's tax settings.
type SubmitReturnRequest struct {
	Shop      string              `json:"-"`
	VRN       string              `json:"vrn"`
	PeriodKey string              `json:"period_key"`
	From      string              `json:"from"`
	To        string              `json:"to"`
	External  vat.ExternalFigures `json:"external"`
	Finalised bool                `json:"finalised"`
	DryRun    bool                `json:"dry_run"`
}
