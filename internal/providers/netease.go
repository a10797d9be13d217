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

// Netease is the L4 fallback source: JSONP quotes plus CSV history. A-share
// only.
type Netease struct {
	base
	client *http.Client
	log    zerolog.Logger
}

// NewNetease creates the netease provider.
func NewNetease(timeout, cooldown time.Duration, log zerolog.Logger) *Netease {
	return &Netease{
		base: newBase("netease", 4, NewHealth(cooldown),
			domain.CapRealtimePrice, domain.CapKlineData),
		client: newHTTPClient(timeout),
		log:    log.With().Str("provider", "netease").Logger(),
	}
}

// RealtimeQuote parses the JSONP wrapper:
// _ntes_quote_callback({"600000":{"name":...,"price":...}});
func (p *Netease) RealtimeQuote(code string, mkt domain.Market) (*domain.Quote, error) {
	if mkt != domain.MarketCN {
		return nil, ErrNotSupported
	}

	bare := symbols.BareCode(code)
	url := "http://api.money.126.net/data/feed/" + bare + ".money.json"

	body, err := fetch(p.client, url, nil)
	if err != nil {
		p.recordErr(err)
		return nil, err
	}

	text := string(body)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		p.health.RecordFailure()
		return nil, fmt.Errorf("no JSON object in quote body: %w", ErrInvalidData)
	}

	var payload map[string]struct {
		Name      string  `json:"name"`
		Price     float64 `json:"price"`
		Open      float64 `json:"open"`
		YestClose float64 `json:"yestclose"`
		High      float64 `json:"high"`
		Low       float64 `json:"low"`
		Volume    float64 `json:"volume"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err != nil {
		p.health.RecordFailure()
		return nil, fmt.Errorf("failed to parse quote body: %w", err)
	}
	if len(payload) == 0 {
		p.health.RecordFailure()
		return nil, fmt.Errorf("empty quote payload: %w", ErrInvalidData)
	}

	for _, data := range payload {
		if data.Price <= 0 {
			p.health.RecordFailure()
			return nil, fmt.Errorf("price %v: %w", data.Price, ErrInvalidData)
		}
		p.health.RecordSuccess()
		return &domain.Quote{
			Symbol:    code,
			Name:      data.Name,
			Price:     data.Price,
			Open:      data.Open,
			PrevClose: data.YestClose,
			High:      data.High,
			Low:       data.Low,
			Volume:    data.Volume,
			Provider:  p.name,
			FetchedAt: time.Now(),
		}, nil
	}
	return nil, ErrInvalidData // unreachable, payload is non-empty
}

// Kline parses the CSV history. Rows arrive date-descending and are reversed
// to oldest-first before returning.
//
// Row layout: 日期,股票代码,名称,收盘价,最高价,最低价,开盘价,成交量
func (p *Netease) Kline(code string, mkt domain.Market, days int) ([]domain.Bar, error) {
	if mkt != domain.MarketCN {
		return nil, ErrNotSupported
	}

	url := fmt.Sprintf("http://quotes.money.163.com/service/chddata.html?code=%s&fields=TCLOSE;HIGH;LOW;TOPEN;VOLUME&count=%d",
		symbols.NeteaseHistoryCode(code), days)

	body, err := fetchGBK(p.client, url, nil)
	if err != nil {
		p.recordErr(err)
		return nil, err
	}

	lines := strings.Split(strings.TrimSpace(body), "\n")
	if len(lines) < 2 {
		p.health.RecordFailure()
		return nil, fmt.Errorf("empty kline CSV: %w", ErrInvalidData)
	}

	bars := make([]domain.Bar, 0, len(lines)-1)
	for _, line := range lines[1:] { // skip header
		parts := strings.Split(strings.TrimSpace(line), ",")
		if len(parts) < 8 {
			continue
		}
		bar := domain.Bar{
			Day:    parts[0],
			Close:  parseField(parts, 3),
			High:   parseField(parts, 4),
			Low:    parseField(parts, 5),
			Open:   parseField(parts, 6),
			Volume: parseField(parts, 7),
		}
		bars = append(bars, bar)
	}

	if len(bars) == 0 {
		p.health.RecordFailure()
		return nil, fmt.Errorf("kline CSV parsed to nothing: %w", ErrInvalidData)
	}

	// Oldest first.
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}

	p.health.RecordSuccess()
	p.log.Debug().Str("code", code).Int("bars", len(bars)).Msg("kline fetched")
	return bars, nil
}

func (p *Netease) recordErr(err error) { recordFetchErr(p.log, p.health, err) }
