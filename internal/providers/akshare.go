package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaoq/stockwatch/internal/domain"
	"github.com/shaoq/stockwatch/internal/numparse"
	"github.com/shaoq/stockwatch/internal/symbols"
)

// AKShare is the L5 deep-data source, reached through an AKTools HTTP
// sidecar. It is only registered when a base URL is configured.
type AKShare struct {
	base
	baseURL   string
	client    *http.Client
	spot      *SpotCache
	spotFetch SpotFetcher
	log       zerolog.Logger
}

// NewAKShare creates the akshare provider against an AKTools instance.
func NewAKShare(baseURL string, spot *SpotCache, spotFetch SpotFetcher, timeout, cooldown time.Duration, log zerolog.Logger) *AKShare {
	return &AKShare{
		base: newBase("akshare", 5, NewHealth(cooldown),
			domain.CapFinancialReport, domain.CapValuationMetrics),
		baseURL:   baseURL,
		client:    newHTTPClient(timeout),
		spot:      spot,
		spotFetch: spotFetch,
		log:       log.With().Str("provider", "akshare").Logger(),
	}
}

// Configured reports whether a sidecar URL is set. Unconfigured instances
// must not be registered with the coordinator.
func (p *AKShare) Configured() bool { return p.baseURL != "" }

func (p *AKShare) call(endpoint string, params url.Values) ([]map[string]any, error) {
	if p.baseURL == "" {
		return nil, ErrNotSupported
	}

	u := p.baseURL + "/api/public/" + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	body, err := fetch(p.client, u, nil)
	if err != nil {
		p.recordErr(err)
		return nil, err
	}

	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err != nil {
		p.health.RecordFailure()
		return nil, fmt.Errorf("failed to parse %s response: %w", endpoint, err)
	}
	return rows, nil
}

// FinancialReport returns the per-period financial abstract, most recent
// period first.
func (p *AKShare) FinancialReport(code string, mkt domain.Market) ([]map[string]any, error) {
	if mkt != domain.MarketCN {
		return nil, ErrNotSupported
	}

	rows, err := p.call("stock_financial_abstract_ths", url.Values{
		"symbol":    {symbols.BareCode(code)},
		"indicator": {"按报告期"},
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		p.health.RecordFailure()
		return nil, fmt.Errorf("empty financial abstract: %w", ErrInvalidData)
	}

	sort.Slice(rows, func(i, j int) bool {
		return stringField(rows[i], "报告期") > stringField(rows[j], "报告期")
	})

	p.health.RecordSuccess()
	return rows, nil
}

// ValuationMetrics merges spot-table valuation columns with the latest
// financial abstract.
func (p *AKShare) ValuationMetrics(code string, mkt domain.Market) (map[string]any, error) {
	if mkt != domain.MarketCN {
		return nil, ErrNotSupported
	}

	metrics := map[string]any{
		"symbol": code,
		"source": p.name,
	}

	if row, ok, err := p.spot.Lookup(symbols.BareCode(code), p.spotFetch, "eastmoney"); err == nil && ok {
		metrics["name"] = row.Name
		metrics["price"] = row.Price
		if row.PERatio != nil {
			metrics["pe_ratio"] = *row.PERatio
		}
		if row.PBRatio != nil {
			metrics["pb_ratio"] = *row.PBRatio
		}
		if row.TotalMarketCap != nil {
			metrics["total_market_cap"] = *row.TotalMarketCap
		}
		if row.CircMarketCap != nil {
			metrics["circulating_market_cap"] = *row.CircMarketCap
		}
	}

	periods, err := p.FinancialReport(code, mkt)
	if err != nil {
		if len(metrics) > 2 {
			return metrics, nil
		}
		return nil, err
	}
	if len(periods) > 0 {
		latest := periods[0]
		metrics["report_period"] = stringField(latest, "报告期")
		putParsed(metrics, "roe", latest, "净资产收益率")
		putParsed(metrics, "gross_margin", latest, "销售毛利率")
		putParsed(metrics, "eps", latest, "基本每股收益")
		putParsed(metrics, "bps", latest, "每股净资产")
	}

	return metrics, nil
}

// TradeDates fetches the full exchange trading calendar as YYYY-MM-DD
// strings. Feeds the calendar service.
func (p *AKShare) TradeDates() ([]string, error) {
	rows, err := p.call("tool_trade_date_hist_sina", nil)
	if err != nil {
		return nil, err
	}

	dates := make([]string, 0, len(rows))
	for _, row := range rows {
		if d := stringField(row, "trade_date"); d != "" {
			// The sidecar sometimes returns timestamps; keep the date part.
			if len(d) > 10 {
				d = d[:10]
			}
			dates = append(dates, d)
		}
	}
	if len(dates) == 0 {
		p.health.RecordFailure()
		return nil, fmt.Errorf("empty trade date list: %w", ErrInvalidData)
	}

	p.health.RecordSuccess()
	return dates, nil
}

func (p *AKShare) recordErr(err error) {
	if IsBanStatus(err) {
		p.log.Warn().Err(err).Msg("rate limited, entering cooldown")
		p.health.MarkBanned()
		return
	}
	p.health.RecordFailure()
}

func stringField(row map[string]any, key string) string {
	if v, ok := row[key].(string); ok {
		return v
	}
	return ""
}

// putParsed copies a numeric field from a raw abstract row, tolerating the
// string forms AKTools emits (percent signs, 亿/万 suffixes).
func putParsed(dst map[string]any, dstKey string, row map[string]any, srcKey string) {
	switch v := row[srcKey].(type) {
	case float64:
		dst[dstKey] = v
	case string:
		if f := numparse.Number(v); f != nil {
			dst[dstKey] = *f
		}
	}
}
