package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaoq/stockwatch/internal/domain"
)

// OpenBB is the L6 last-resort source for valuation and macro series,
// reached through an optional OpenBB Platform REST sidecar. Best effort
// only; it is never registered without a configured URL.
type OpenBB struct {
	base
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewOpenBB creates the openbb provider against a Platform API instance.
func NewOpenBB(baseURL string, timeout, cooldown time.Duration, log zerolog.Logger) *OpenBB {
	return &OpenBB{
		base: newBase("openbb", 6, NewHealth(cooldown),
			domain.CapValuationMetrics, domain.CapMacroIndicators),
		baseURL: baseURL,
		client:  newHTTPClient(timeout),
		log:     log.With().Str("provider", "openbb").Logger(),
	}
}

// Configured reports whether a sidecar URL is set.
func (p *OpenBB) Configured() bool { return p.baseURL != "" }

func (p *OpenBB) call(path string, params url.Values) (json.RawMessage, error) {
	if p.baseURL == "" {
		return nil, ErrNotSupported
	}

	u := p.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	body, err := fetch(p.client, u, nil)
	if err != nil {
		p.recordErr(err)
		return nil, err
	}

	var payload struct {
		Results json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		p.health.RecordFailure()
		return nil, fmt.Errorf("failed to parse %s response: %w", path, err)
	}
	if len(payload.Results) == 0 {
		p.health.RecordFailure()
		return nil, fmt.Errorf("empty results: %w", ErrInvalidData)
	}
	return payload.Results, nil
}

// ValuationMetrics fetches fundamental ratios; US symbols only.
func (p *OpenBB) ValuationMetrics(code string, mkt domain.Market) (map[string]any, error) {
	if mkt != domain.MarketUS {
		return nil, ErrNotSupported
	}

	raw, err := p.call("/api/v1/equity/fundamental/ratios", url.Values{
		"symbol": {code},
		"limit":  {"1"},
	})
	if err != nil {
		return nil, err
	}

	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		p.health.RecordFailure()
		return nil, fmt.Errorf("failed to parse ratios: %w", err)
	}
	if len(rows) == 0 {
		p.health.RecordFailure()
		return nil, fmt.Errorf("no ratio rows: %w", ErrInvalidData)
	}

	p.health.RecordSuccess()
	metrics := map[string]any{
		"symbol": code,
		"source": p.name,
	}
	for k, v := range rows[0] {
		metrics[k] = v
	}
	return metrics, nil
}

// MacroIndicators fetches a named macro series, for example "cpi" or "gdp".
func (p *OpenBB) MacroIndicators(indicator string) ([]map[string]any, error) {
	raw, err := p.call("/api/v1/economy/"+url.PathEscape(indicator), nil)
	if err != nil {
		return nil, err
	}

	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		p.health.RecordFailure()
		return nil, fmt.Errorf("failed to parse %s series: %w", indicator, err)
	}

	p.health.RecordSuccess()
	return rows, nil
}

func (p *OpenBB) recordErr(err error) { recordFetchErr(p.log, p.health, err) }
