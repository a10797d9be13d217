package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaoq/stockwatch/internal/domain"
	"github.com/shaoq/stockwatch/internal/symbols"
)

// Sina is the L1 primary source: fastest quotes, highest ban risk.
type Sina struct {
	base
	client *http.Client
	log    zerolog.Logger
}

// NewSina creates the sina provider.
func NewSina(timeout, cooldown time.Duration, log zerolog.Logger) *Sina {
	return &Sina{
		base: newBase("sina", 1, NewHealth(cooldown),
			domain.CapRealtimePrice, domain.CapKlineData),
		client: newHTTPClient(timeout),
		log:    log.With().Str("provider", "sina").Logger(),
	}
}

var sinaQuotePattern = regexp.MustCompile(`="([^"]+)"`)

// sinaHeaders are required; the quote host rejects requests without a
// finance.sina.com.cn referer.
var sinaHeaders = map[string]string{"Referer": "http://finance.sina.com.cn"}

// RealtimeQuote parses the delimited quote body:
// var hq_str_sh600000="浦发银行,10.50,10.40,10.55,...";
func (p *Sina) RealtimeQuote(code string, mkt domain.Market) (*domain.Quote, error) {
	url := "http://hq.sinajs.cn/list=" + symbols.SinaCode(code, mkt)

	body, err := fetchGBK(p.client, url, sinaHeaders)
	if err != nil {
		p.recordErr(err)
		return nil, err
	}

	match := sinaQuotePattern.FindStringSubmatch(body)
	if match == nil {
		p.health.RecordFailure()
		return nil, fmt.Errorf("quote body did not match: %w", ErrInvalidData)
	}

	fields := strings.Split(match[1], ",")
	if len(fields) < 4 {
		p.health.RecordFailure()
		return nil, fmt.Errorf("quote has %d fields: %w", len(fields), ErrInvalidData)
	}

	q := &domain.Quote{
		Symbol:    code,
		Name:      fields[0],
		Provider:  p.name,
		FetchedAt: time.Now(),
	}
	if mkt == domain.MarketCN {
		// 名称,今开,昨收,当前,最高,最低,买一,卖一,成交量,成交额,...
		q.Open = parseField(fields, 1)
		q.PrevClose = parseField(fields, 2)
		q.Price = parseField(fields, 3)
		q.High = parseField(fields, 4)
		q.Low = parseField(fields, 5)
		q.Volume = parseField(fields, 8)
		q.Turnover = parseField(fields, 9)
	} else {
		q.Price = parseField(fields, 1)
	}

	// Zero price means suspended or delisted.
	if q.Price <= 0 {
		p.health.RecordFailure()
		return nil, fmt.Errorf("price %v: %w", q.Price, ErrInvalidData)
	}

	p.health.RecordSuccess()
	return q, nil
}

var jsonArrayPattern = regexp.MustCompile(`\[.*\]`)

// Kline fetches up to days daily candles, oldest first.
func (p *Sina) Kline(code string, mkt domain.Market, days int) ([]domain.Bar, error) {
	var url string
	if mkt == domain.MarketCN {
		url = fmt.Sprintf("http://money.finance.sina.com.cn/quotes_service/api/json_v2.php/CN_MarketData.getKLineData?symbol=%s&scale=240&ma=no&datalen=%d", code, days)
	} else {
		url = fmt.Sprintf("https://stock.finance.sina.com.cn/usstock/api/jsonp.php/IO.Direct.Quotes.getKLineData?symbol=%s&scale=240&ma=no&datalen=%d", strings.ToUpper(code), days)
	}

	body, err := fetch(p.client, url, sinaHeaders)
	if err != nil {
		p.recordErr(err)
		return nil, err
	}

	payload := body
	if mkt == domain.MarketUS {
		// The us variant is JSONP-wrapped; cut out the array.
		payload = jsonArrayPattern.Find(body)
		if payload == nil {
			p.health.RecordFailure()
			return nil, fmt.Errorf("no JSON array in kline body: %w", ErrInvalidData)
		}
	}

	var raw []struct {
		Day    string    `json:"day"`
		Open   flexFloat `json:"open"`
		High   flexFloat `json:"high"`
		Low    flexFloat `json:"low"`
		Close  flexFloat `json:"close"`
		Volume flexFloat `json:"volume"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		p.health.RecordFailure()
		return nil, fmt.Errorf("failed to parse kline body: %w", err)
	}
	if len(raw) == 0 {
		p.health.RecordFailure()
		return nil, fmt.Errorf("empty kline: %w", ErrInvalidData)
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, r := range raw {
		bars = append(bars, domain.Bar{
			Day:    r.Day,
			Open:   float64(r.Open),
			High:   float64(r.High),
			Low:    float64(r.Low),
			Close:  float64(r.Close),
			Volume: float64(r.Volume),
		})
	}

	p.health.RecordSuccess()
	p.log.Debug().Str("code", code).Int("bars", len(bars)).Msg("kline fetched")
	return bars, nil
}

func (p *Sina) recordErr(err error) { recordFetchErr(p.log, p.health, err) }

func parseField(fields []string, i int) float64 {
	if i >= len(fields) || fields[i] == "" {
		return 0
	}
	v, err := strconv.ParseFloat(fields[i], 64)
	if err != nil {
		return 0
	}
	return v
}

// flexFloat accepts both quoted and bare JSON numbers; sina serves prices as
// strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}
