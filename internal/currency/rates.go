package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// StaticRates is a fixed-rate source keyed by "FROM/TO". Used in tests and
// offline runs.
type StaticRates map[string]decimal.Decimal

// Rate implements RateSource.
func (s StaticRates) Rate(_ context.Context, from, to string) (decimal.Decimal, error) {
	r, ok := s[from+"/"+to]
	if !ok {
		return decimal.Zero, fmt.Errorf("no static rate for %s/%s", from, to)
	}
	return r, nil
}

// HTTPRates resolves rates from an exchangerate.host style convert endpoint:
// GET {base}?from=USD&to=CLP → {"result": 943.12}.
type HTTPRates struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRates creates a rate source against the given convert endpoint.
func NewHTTPRates(baseURL string) *HTTPRates {
	return &HTTPRates{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Rate implements RateSource.
func (h *HTTPRates) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	u, err := url.Parse(h.baseURL)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate: parse base url: %w", err)
	}
	q := u.Query()
	q.Set("from", from)
	q.Set("to", to)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate: build request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate: %s/%s: %w", from, to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rate: %s/%s: unexpected status %s", from, to, resp.Status)
	}

	var body struct {
		Result float64 `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("rate: %s/%s: decode response: %w", from, to, err)
	}
	if body.Result <= 0 {
		return decimal.Zero, fmt.Errorf("rate: %s/%s: non-positive result %v", from, to, body.Result)
	}

	return decimal.NewFromFloat(body.Result), nil
}
