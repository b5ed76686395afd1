package hmrc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vatpilot/internal/config"
	"vatpilot/internal/core"
	"vatpilot/internal/vat"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const acceptHeader = "application/vnd.hmrc.1.0+json"

// AccessTokenSource supplies bearer tokens per shop and VRN.
type AccessTokenSource interface {
	AccessToken(ctx context.Context, shop, vrn string) (string, error)
}

// APIError is a non-2xx HMRC response.
type APIError struct {
	Status  int           `json:"-"`
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Errors  []APIErrorRef `json:"errors,omitempty"`
}

type APIErrorRef struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("hmrc api error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("hmrc api error %d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap lets callers match a duplicate return with errors.Is.
func (e *APIError) Unwrap() error {
	if e.Code == "DUPLICATE_SUBMISSION" {
		return core.ErrDuplicateSubmission
	}
	for _, ref := range e.Errors {
		if ref.Code == "DUPLICATE_SUBMISSION" {
			return core.ErrDuplicateSubmission
		}
	}
	return nil
}

func (e *APIError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// ── Types ─────────────────────────────────────────────────────────────────────

// ObligationsQuery filters the obligations list. From and To are
// YYYY-MM-DD; Status accepts O, F, M, OPEN or FULFILLED.
type ObligationsQuery struct {
	From   string
	To     string
	Status string
}

type Obligation struct {
	PeriodKey string `json:"periodKey"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Due       string `json:"due"`
	Status    string `json:"status"`
	Received  string `json:"received,omitempty"`
}

type ObligationsResult struct {
	Obligations []Obligation `json:"obligations"`
	Query       struct {
		From   string `json:"from,omitempty"`
		To     string `json:"to,omitempty"`
		Status string `json:"status,omitempty"`
	} `json:"query"`
	CorrelationID string `json:"correlation_id"`
}

// ReturnPayload is the wire body of a VAT return. Boxes 1 to 5 are JSON
// numbers with two decimals; boxes 6 to 9 are whole pounds.
type ReturnPayload struct {
	PeriodKey                    string      `json:"periodKey"`
	VatDueSales                  json.Number `json:"vatDueSales"`
	VatDueAcquisitions           json.Number `json:"vatDueAcquisitions"`
	TotalVatDue                  json.Number `json:"totalVatDue"`
	VatReclaimedCurrPeriod       json.Number `json:"vatReclaimedCurrPeriod"`
	NetVatDue                    json.Number `json:"netVatDue"`
	TotalValueSalesExVAT         int64       `json:"totalValueSalesExVAT"`
	TotalValuePurchasesExVAT     int64       `json:"totalValuePurchasesExVAT"`
	TotalValueGoodsSuppliedExVAT int64       `json:"totalValueGoodsSuppliedExVAT"`
	TotalAcquisitionsExVAT       int64       `json:"totalAcquisitionsExVAT"`
	Finalised                    bool        `json:"finalised"`
}

// PayloadFromSubmission converts a packaged submission to the wire body.
func PayloadFromSubmission(s vat.Submission) ReturnPayload {
	return ReturnPayload{
		PeriodKey:                    s.PeriodKey,
		VatDueSales:                  json.Number(s.VatDueSales),
		VatDueAcquisitions:           json.Number(s.VatDueAcquisitions),
		TotalVatDue:                  json.Number(s.TotalVatDue),
		VatReclaimedCurrPeriod:       json.Number(s.VatReclaimedCurrPeriod),
		NetVatDue:                    json.Number(s.NetVatDue),
		TotalValueSalesExVAT:         s.TotalValueSalesExVAT,
		TotalValuePurchasesExVAT:     s.TotalValuePurchasesExVAT,
		TotalValueGoodsSuppliedExVAT: s.TotalValueGoodsSuppliedExVAT,
		TotalAcquisitionsExVAT:       s.TotalAcquisitionsExVAT,
		Finalised:                    s.Finalised,
	}
}

// SubmitResult is HMRC's receipt for an accepted return.
type SubmitResult struct {
	ProcessingDate   time.Time       `json:"processingDate"`
	PaymentIndicator string          `json:"paymentIndicator,omitempty"`
	FormBundleNumber string          `json:"formBundleNumber"`
	ChargeRefNumber  string          `json:"chargeRefNumber,omitempty"`
	CorrelationID    string          `json:"-"`
	Raw              json.RawMessage `json:"-"`
}

// ── Client ────────────────────────────────────────────────────────────────────

// RetryConfig bounds the exponential backoff applied to idempotent calls.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  30 * time.Second,
	}
}

// Client calls the VAT (MTD) API. Every call waits on a shared rate limiter;
// GETs are retried on 429 and 5xx, POSTs never are.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	tokens       AccessTokenSource
	limiter      *rate.Limiter
	cache        *cache.Cache
	testScenario string
	retry        RetryConfig
	log          *zap.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

func WithRetryConfig(r RetryConfig) ClientOption {
	return func(c *Client) { c.retry = r }
}

func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

func NewClient(cfg config.HMRCConfig, tokens AccessTokenSource, opts ...ClientOption) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 3
	}
	ttl := cfg.ObligationsCacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	c := &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		tokens:       tokens,
		limiter:      rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
		cache:        cache.New(ttl, 2*ttl),
		testScenario: cfg.TestScenario,
		retry:        DefaultRetryConfig(),
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NormalizeStatus maps OPEN and FULFILLED to HMRC's single-letter codes. M
// passes through for the sandbox; anything else is dropped.
func NormalizeStatus(raw string) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "O", "OPEN":
		return "O"
	case "F", "FULFILLED":
		return "F"
	case "M":
		return "M"
	}
	return ""
}

// normalizeQuery drops malformed dates and swaps a reversed range.
func normalizeQuery(q ObligationsQuery) ObligationsQuery {
	valid := func(s string) string {
		s = strings.TrimSpace(s)
		if _, err := time.Parse(time.DateOnly, s); err != nil {
			return ""
		}
		return s
	}
	out := ObligationsQuery{From: valid(q.From), To: valid(q.To), Status: NormalizeStatus(q.Status)}
	if out.From != "" && out.To != "" && out.From > out.To {
		out.From, out.To = out.To, out.From
	}
	return out
}

// Obligations lists the VAT obligations for vrn. Successful responses are
// cached per shop, VRN and normalized query.
func (c *Client) Obligations(ctx context.Context, shop, vrn string, q ObligationsQuery) (*ObligationsResult, error) {
	q = normalizeQuery(q)
	key := strings.Join([]string{shop, vrn, q.From, q.To, q.Status}, "|")
	if v, ok := c.cache.Get(key); ok {
		return v.(*ObligationsResult).clone(), nil
	}

	params := url.Values{}
	if q.From != "" {
		params.Set("from", q.From)
	}
	if q.To != "" {
		params.Set("to", q.To)
	}
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	path := "/organisations/vat/" + url.PathEscape(vrn) + "/obligations"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	res := &ObligationsResult{}
	corr, _, err := c.do(ctx, shop, vrn, http.MethodGet, path, nil, res)
	if err != nil {
		return nil, err
	}
	if res.Obligations == nil {
		res.Obligations = []Obligation{}
	}
	res.Query.From, res.Query.To, res.Query.Status = q.From, q.To, q.Status
	res.CorrelationID = corr
	c.cache.SetDefault(key, res.clone())
	return res, nil
}

// clone copies r so cached entries never alias a caller's result.
func (r *ObligationsResult) clone() *ObligationsResult {
	out := *r
	out.Obligations = append([]Obligation(nil), r.Obligations...)
	if out.Obligations == nil {
		out.Obligations = []Obligation{}
	}
	return &out
}

// SubmitReturn posts a return. It is never retried: a timeout after HMRC
// accepted the body must not produce a second submission.
func (c *Client) SubmitReturn(ctx context.Context, shop, vrn string, payload ReturnPayload) (*SubmitResult, error) {
	res := &SubmitResult{}
	corr, raw, err := c.do(ctx, shop, vrn, http.MethodPost, "/organisations/vat/"+url.PathEscape(vrn)+"/returns", payload, res)
	if err != nil {
		return nil, err
	}
	res.CorrelationID = corr
	res.Raw = raw
	// Obligations for this VRN are now stale.
	for k := range c.cache.Items() {
		if strings.HasPrefix(k, shop+"|"+vrn+"|") {
			c.cache.Delete(k)
		}
	}
	return res, nil
}

// do sends one logical request and decodes a 2xx body into out. It returns
// HMRC's correlation id (or ours when HMRC sent none) and the raw body.
func (c *Client) do(ctx context.Context, shop, vrn, method, path string, body, out any) (string, json.RawMessage, error) {
	token, err := c.tokens.AccessToken(ctx, shop, vrn)
	if err != nil {
		return "", nil, err
	}

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return "", nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	correlationID := uuid.NewString()
	var respBody []byte
	var respCorr string

	attempt := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", acceptHeader)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Gov-Client-CorrelationId", correlationID)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.testScenario != "" {
			req.Header.Set("Gov-Test-Scenario", c.testScenario)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("hmrc request failed: %w", err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("failed to read hmrc response: %w", err)
		}
		respCorr = resp.Header.Get("X-CorrelationId")

		if resp.StatusCode >= 300 {
			apiErr := decodeAPIError(resp.StatusCode, data)
			c.log.Warn("hmrc api error",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("status", resp.StatusCode),
				zap.String("code", apiErr.Code),
				zap.String("correlation_id", correlationID))
			if method == http.MethodGet && apiErr.retryable() {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}
		respBody = data
		return nil
	}

	if method == http.MethodGet && c.retry.MaxRetries > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = c.retry.InitialInterval
		exp.MaxInterval = c.retry.MaxInterval
		exp.MaxElapsedTime = c.retry.MaxElapsedTime
		err = backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.retry.MaxRetries)), ctx))
	} else {
		err = attempt()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
	}
	if err != nil {
		return "", nil, err
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return "", nil, fmt.Errorf("failed to decode hmrc response: %w", err)
		}
	}
	if respCorr == "" {
		respCorr = correlationID
	}
	return respCorr, json.RawMessage(respBody), nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	if err := json.Unmarshal(body, apiErr); err != nil || (apiErr.Code == "" && apiErr.Message == "") {
		apiErr.Message = strings.TrimSpace(string(body))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
	}
	apiErr.Status = status
	return apiErr
}
