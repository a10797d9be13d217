package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaoq/stockwatch/internal/domain"
	"github.com/shaoq/stockwatch/internal/symbols"
)

// Eastmoney is the L2 bulk source. Quotes and valuation come from the shared
// full-market spot table; kline has its own history endpoint.
type Eastmoney struct {
	base
	client   *http.Client
	spot     *SpotCache
	spotBase string
	log      zerolog.Logger
}

// NewEastmoney creates the eastmoney provider over the shared spot cache.
func NewEastmoney(spot *SpotCache, timeout, cooldown time.Duration, log zerolog.Logger) *Eastmoney {
	return &Eastmoney{
		base: newBase("eastmoney", 2, NewHealth(cooldown),
			domain.CapRealtimePrice, domain.CapKlineData, domain.CapValuationMetrics),
		client:   newHTTPClient(timeout),
		spot:     spot,
		spotBase: "http://82.push2.eastmoney.com",
		log:      log.With().Str("provider", "eastmoney").Logger(),
	}
}

// Spot exposes the shared cache for collaborators (akshare valuation, the
// operator surface).
func (p *Eastmoney) Spot() *SpotCache { return p.spot }

// FetchSpotTable downloads the full A-share table, paged. The page count is
// capped so a feed that keeps reporting a larger total cannot loop forever.
func (p *Eastmoney) FetchSpotTable() (map[string]SpotRow, error) {
	const (
		pageSize = 5000
		maxPages = 20
	)
	rows := make(map[string]SpotRow)

	for page := 1; page <= maxPages; page++ {
		url := fmt.Sprintf(
			"%s/api/qt/clist/get?pn=%d&pz=%d&po=1&np=1&fltt=2&invt=2&fid=f3&fs=m:0+t:6,m:0+t:80,m:1+t:2,m:1+t:23,m:0+t:81+s:2048&fields=f2,f5,f6,f9,f12,f14,f15,f16,f17,f18,f20,f21,f23",
			p.spotBase, page, pageSize)

		body, err := fetch(p.client, url, nil)
		if err != nil {
			return nil, err
		}

		var payload struct {
			Data struct {
				Total int `json:"total"`
				Diff  []struct {
					Price     flexFloat `json:"f2"`
					Volume    flexFloat `json:"f5"`
					Turnover  flexFloat `json:"f6"`
					PE        flexFloat `json:"f9"`
					Code      string    `json:"f12"`
					Name      string    `json:"f14"`
					High      flexFloat `json:"f15"`
					Low       flexFloat `json:"f16"`
					Open      flexFloat `json:"f17"`
					PrevClose flexFloat `json:"f18"`
					TotalCap  flexFloat `json:"f20"`
					CircCap   flexFloat `json:"f21"`
					PB        flexFloat `json:"f23"`
				} `json:"diff"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("failed to parse spot page %d: %w", page, err)
		}
		if len(payload.Data.Diff) == 0 {
			break
		}

		for _, d := range payload.Data.Diff {
			row := SpotRow{
				Code:      d.Code,
				Name:      d.Name,
				Price:     float64(d.Price),
				Open:      float64(d.Open),
				PrevClose: float64(d.PrevClose),
				High:      float64(d.High),
				Low:       float64(d.Low),
				Volume:    float64(d.Volume),
				Turnover:  float64(d.Turnover),
			}
			row.PERatio = nonZero(float64(d.PE))
			row.PBRatio = nonZero(float64(d.PB))
			row.TotalMarketCap = nonZero(float64(d.TotalCap))
			row.CircMarketCap = nonZero(float64(d.CircCap))
			rows[d.Code] = row
		}

		if len(rows) >= payload.Data.Total {
			break
		}
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("spot table empty: %w", ErrInvalidData)
	}
	return rows, nil
}

// RealtimeQuote serves quotes from the spot table; A-share only.
func (p *Eastmoney) RealtimeQuote(code string, mkt domain.Market) (*domain.Quote, error) {
	if mkt != domain.MarketCN {
		return nil, ErrNotSupported
	}

	row, ok, err := p.spot.Lookup(symbols.BareCode(code), p.FetchSpotTable, p.name)
	if err != nil {
		p.recordErr(err)
		return nil, err
	}
	if !ok || row.Price <= 0 {
		p.health.RecordFailure()
		return nil, fmt.Errorf("code %s not in spot table: %w", code, ErrInvalidData)
	}

	p.health.RecordSuccess()
	return &domain.Quote{
		Symbol:    code,
		Name:      row.Name,
		Price:     row.Price,
		Open:      row.Open,
		PrevClose: row.PrevClose,
		High:      row.High,
		Low:       row.Low,
		Volume:    row.Volume,
		Turnover:  row.Turnover,
		Provider:  p.name,
		FetchedAt: time.Now(),
	}, nil
}

// Kline fetches daily candles from the history endpoint, oldest first.
func (p *Eastmoney) Kline(code string, mkt domain.Market, days int) ([]domain.Bar, error) {
	if mkt != domain.MarketCN {
		return nil, ErrNotSupported
	}

	url := fmt.Sprintf(
		"http://push2his.eastmoney.com/api/qt/stock/kline/get?secid=%s&klt=101&fqt=1&fields1=f1,f2,f3&fields2=f51,f52,f53,f54,f55,f56&end=20500101&lmt=%d",
		symbols.EastmoneySecID(code), days)

	body, err := fetch(p.client, url, nil)
	if err != nil {
		p.recordErr(err)
		return nil, err
	}

	var payload struct {
		Data struct {
			Klines []string `json:"klines"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		p.health.RecordFailure()
		return nil, fmt.Errorf("failed to parse kline body: %w", err)
	}
	if len(payload.Data.Klines) == 0 {
		p.health.RecordFailure()
		return nil, fmt.Errorf("empty kline: %w", ErrInvalidData)
	}

	bars := make([]domain.Bar, 0, len(payload.Data.Klines))
	for _, line := range payload.Data.Klines {
		// date,open,close,high,low,volume
		parts := strings.Split(line, ",")
		if len(parts) < 6 {
			continue
		}
		bars = append(bars, domain.Bar{
			Day:    parts[0],
			Open:   parseField(parts, 1),
			Close:  parseField(parts, 2),
			High:   parseField(parts, 3),
			Low:    parseField(parts, 4),
			Volume: parseField(parts, 5),
		})
	}
	if len(bars) == 0 {
		p.health.RecordFailure()
		return nil, fmt.Errorf("kline parsed to nothing: %w", ErrInvalidData)
	}

	p.health.RecordSuccess()
	p.log.Debug().Str("code", code).Int("bars", len(bars)).Msg("kline fetched")
	return bars, nil
}

// ValuationMetrics derives PE/PB and market caps from the spot table columns.
func (p *Eastmoney) ValuationMetrics(code string, mkt domain.Market) (map[string]any, error) {
	if mkt != domain.MarketCN {
		return nil, ErrNotSupported
	}

	row, ok, err := p.spot.Lookup(symbols.BareCode(code), p.FetchSpotTable, p.name)
	if err != nil {
		p.recordErr(err)
		return nil, err
	}
	if !ok {
		p.health.RecordFailure()
		return nil, fmt.Errorf("code %s not in spot table: %w", code, ErrInvalidData)
	}

	p.health.RecordSuccess()
	metrics := map[string]any{
		"symbol": code,
		"name":   row.Name,
		"price":  row.Price,
		"source": p.name,
	}
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
	return metrics, nil
}

func (p *Eastmoney) recordErr(err error) { recordFetchErr(p.log, p.health, err) }

func nonZero(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}
