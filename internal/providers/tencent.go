package providers

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaoq/stockwatch/internal/domain"
	"github.com/shaoq/stockwatch/internal/symbols"
)

// Tencent is the L3 secondary source: delimited quotes only, no kline.
type Tencent struct {
	base
	client *http.Client
	log    zerolog.Logger
}

// NewTencent creates the tencent provider.
func NewTencent(timeout, cooldown time.Duration, log zerolog.Logger) *Tencent {
	return &Tencent{
		base: newBase("tencent", 3, NewHealth(cooldown),
			domain.CapRealtimePrice),
		client: newHTTPClient(timeout),
		log:    log.With().Str("provider", "tencent").Logger(),
	}
}

var tencentQuotePattern = regexp.MustCompile(`="([^"]+)"`)

// RealtimeQuote parses the tilde-delimited body:
// v_r_sh600000="1~浦发银行~600000~10.50~10.40~10.45~...";
func (p *Tencent) RealtimeQuote(code string, mkt domain.Market) (*domain.Quote, error) {
	url := "https://web.sqt.gtimg.cn/q=" + symbols.TencentCode(code, mkt)

	body, err := fetchGBK(p.client, url, nil)
	if err != nil {
		p.recordErr(err)
		return nil, err
	}

	match := tencentQuotePattern.FindStringSubmatch(body)
	if match == nil {
		p.health.RecordFailure()
		return nil, fmt.Errorf("quote body did not match: %w", ErrInvalidData)
	}

	fields := strings.Split(match[1], "~")
	if len(fields) < 6 {
		p.health.RecordFailure()
		return nil, fmt.Errorf("quote has %d fields: %w", len(fields), ErrInvalidData)
	}

	q := &domain.Quote{
		Symbol: code,
		// 1~名称~代码~当前~昨收~今开~...
		Name:      fields[1],
		Price:     parseField(fields, 3),
		PrevClose: parseField(fields, 4),
		Open:      parseField(fields, 5),
		Provider:  p.name,
		FetchedAt: time.Now(),
	}
	if len(fields) > 34 {
		q.High = parseField(fields, 33)
		q.Low = parseField(fields, 34)
	}

	if q.Price <= 0 {
		p.health.RecordFailure()
		return nil, fmt.Errorf("price %v: %w", q.Price, ErrInvalidData)
	}

	p.health.RecordSuccess()
	return q, nil
}

func (p *Tencent) recordErr(err error) { recordFetchErr(p.log, p.health, err) }
