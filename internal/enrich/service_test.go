package enrich

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaoq/stockwatch/internal/cache"
	"github.com/shaoq/stockwatch/internal/domain"
	"github.com/shaoq/stockwatch/internal/market"
	"github.com/shaoq/stockwatch/internal/rules"
)

type stubMarketData struct {
	mu      sync.Mutex
	quotes  map[string]*domain.Quote
	bars    map[string][]domain.Bar
	fetches int
}

func (m *stubMarketData) FetchRealtime(_ context.Context, code string, _ domain.Market) domain.FetchResult {
	m.mu.Lock()
	m.fetches++
	q := m.quotes[code]
	m.mu.Unlock()
	if q == nil {
		return domain.FetchResult{Success: false, Error: "no quote", Tried: []string{"stub"}}
	}
	return domain.FetchResult{Success: true, Quote: q, Provider: "stub", Tried: []string{"stub"}}
}

func (m *stubMarketData) Kline(_ context.Context, code string, _ domain.Market, _ int) ([]domain.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bars, ok := m.bars[code]
	if !ok {
		return nil, errors.New("no kline")
	}
	return bars, nil
}

func (m *stubMarketData) FinancialReport(context.Context, string, domain.Market) ([]map[string]any, error) {
	return nil, errors.New("not supported")
}

func (m *stubMarketData) ValuationMetrics(context.Context, string, domain.Market) (map[string]any, error) {
	return nil, errors.New("not supported")
}

func (m *stubMarketData) MacroIndicators(context.Context, string) ([]map[string]any, error) {
	return nil, errors.New("not supported")
}

type stubCalendar struct{ trading bool }

func (c stubCalendar) IsTradingDay(string) (bool, string, error) {
	if c.trading {
		return true, "交易日", nil
	}
	return false, "周末", nil
}

type stubRules struct{}

func (stubRules) LoadEnabled() ([]rules.TradingRule, error) { return rules.DefaultRules(), nil }

func newTestService(md *stubMarketData, trading bool, now time.Time) *Service {
	s := New(md, stubCalendar{trading: trading}, stubRules{}, 4, cache.NewRegistry(), zerolog.Nop())
	s.now = func() time.Time { return now }
	return s
}

func flatCNBars(lastDay string, n int, close float64) []domain.Bar {
	day, _ := time.ParseInLocation("2006-01-02", lastDay, market.Shanghai)
	bars := make([]domain.Bar, n)
	for i := n - 1; i >= 0; i-- {
		bars[i] = domain.Bar{
			Day: day.Format("2006-01-02"), Open: close,
			High: close + 0.2, Low: close - 0.2, Close: close,
		}
		day = day.AddDate(0, 0, -1)
	}
	return bars
}

func ptrf(v float64) *float64 { return &v }

func TestEnrichCachedModeUsesStoredPrice(t *testing.T) {
	// Saturday noon: no fetch, the stored price is compared against the MA of
	// the stored closes alone.
	now := time.Date(2025, 6, 7, 12, 0, 0, 0, market.Shanghai)
	md := &stubMarketData{
		bars: map[string][]domain.Bar{"sh600000": flatCNBars("2025-06-06", 6, 11.5)},
	}
	svc := newTestService(md, false, now)

	updated := now.Add(-time.Hour)
	es, err := svc.Enrich(context.Background(), domain.Stock{
		ID: 1, Symbol: "600000", Name: "浦发银行", MATypes: []string{"MA5"},
		CurrentPrice: ptrf(14.0), UpdatedAt: &updated,
	}, false)
	require.NoError(t, err)

	assert.False(t, es.IsRealtime)
	require.NotNil(t, es.CurrentPrice)
	assert.Equal(t, 14.0, *es.CurrentPrice)
	assert.Zero(t, md.fetches)
	require.NotNil(t, es.DataFetchedAt)
	assert.True(t, es.DataFetchedAt.Equal(updated))

	// Off session the stored price never becomes a synthetic candle.
	res := es.MAResults["MA5"]
	assert.Equal(t, 11.5, res.MAPrice)
	assert.True(t, res.Reached)
	assert.Equal(t, 2.5, res.Diff)
	assert.Equal(t, 21.74, res.DiffPct)

	require.NotNil(t, es.MAPrice)
	assert.Equal(t, 11.5, *es.MAPrice)
	assert.True(t, es.ReachedTarget)
}

func TestEnrichStaleAfterHoursIsNotRealtime(t *testing.T) {
	// Friday 20:00 on a trading day with a pre-close stored price: the data is
	// refreshed but the reading is an after-hours close, not a live quote.
	now := time.Date(2025, 6, 6, 20, 0, 0, 0, market.Shanghai)
	md := &stubMarketData{
		quotes: map[string]*domain.Quote{
			"sh600000": {Symbol: "sh600000", Name: "浦发银行", Price: 11},
		},
		bars: map[string][]domain.Bar{"sh600000": flatCNBars("2025-06-06", 5, 10)},
	}
	svc := newTestService(md, true, now)

	updated := time.Date(2025, 6, 6, 10, 0, 0, 0, market.Shanghai)
	es, err := svc.Enrich(context.Background(), domain.Stock{
		ID: 1, Symbol: "600000", MATypes: []string{"MA5"},
		CurrentPrice: ptrf(10.5), UpdatedAt: &updated,
	}, false)
	require.NoError(t, err)

	assert.Equal(t, 1, md.fetches)
	assert.False(t, es.IsRealtime)
	require.NotNil(t, es.CurrentPrice)
	assert.Equal(t, 11.0, *es.CurrentPrice)
	require.NotNil(t, es.DataFetchedAt)
	assert.True(t, es.DataFetchedAt.Equal(now))
}

func TestEnrichForcedOffSessionSkipsInjection(t *testing.T) {
	// A forced recalculation on a Saturday fetches a fresh quote, but the
	// quote must not be appended to the close series as today's candle.
	now := time.Date(2025, 6, 7, 12, 0, 0, 0, market.Shanghai)
	md := &stubMarketData{
		quotes: map[string]*domain.Quote{
			"sh600000": {Symbol: "sh600000", Name: "浦发银行", Price: 11},
		},
		bars: map[string][]domain.Bar{"sh600000": flatCNBars("2025-06-06", 5, 10)},
	}
	svc := newTestService(md, false, now)

	es, err := svc.Enrich(context.Background(), domain.Stock{
		ID: 1, Symbol: "600000", MATypes: []string{"MA5"},
	}, true)
	require.NoError(t, err)

	assert.Equal(t, 1, md.fetches)
	assert.False(t, es.IsRealtime)
	require.NotNil(t, es.CurrentPrice)
	assert.Equal(t, 11.0, *es.CurrentPrice)
	assert.Equal(t, 10.0, es.MAResults["MA5"].MAPrice)
}

func TestEnrichFallsBackToLastClose(t *testing.T) {
	// Every quote source down, nothing stored: the last kline close serves as
	// the current price instead of failing the stock.
	now := time.Date(2025, 6, 9, 10, 0, 0, 0, market.Shanghai)
	md := &stubMarketData{
		bars: map[string][]domain.Bar{"sh600000": flatCNBars("2025-06-06", 5, 10)},
	}
	svc := newTestService(md, true, now)

	es, err := svc.Enrich(context.Background(), domain.Stock{
		ID: 1, Symbol: "600000", MATypes: []string{"MA5"},
	}, false)
	require.NoError(t, err)

	assert.False(t, es.IsRealtime)
	require.NotNil(t, es.CurrentPrice)
	assert.Equal(t, 10.0, *es.CurrentPrice)
	assert.Equal(t, 10.0, es.MAResults["MA5"].MAPrice)
	assert.True(t, es.MAResults["MA5"].Reached)
}

func TestEnrichAttachesSignalWithEnoughHistory(t *testing.T) {
	now := time.Date(2025, 6, 9, 10, 0, 0, 0, market.Shanghai)
	md := &stubMarketData{
		quotes: map[string]*domain.Quote{
			"sh600000": {Symbol: "sh600000", Name: "浦发银行", Price: 10},
		},
		bars: map[string][]domain.Bar{"sh600000": flatCNBars("2025-06-06", 25, 10)},
	}
	svc := newTestService(md, true, now)

	es, err := svc.Enrich(context.Background(), domain.Stock{
		ID: 1, Symbol: "600000", MATypes: []string{"MA20"},
	}, false)
	require.NoError(t, err)

	require.NotNil(t, es.Signal)
	assert.Equal(t, 10.0, es.Signal.CurrentPrice)
	require.NotNil(t, es.DataFetchedAt)
	assert.True(t, es.DataFetchedAt.Equal(now))

	// Short histories stay signal-free.
	md.bars["sh600000"] = flatCNBars("2025-06-06", 6, 10)
	es, err = svc.Enrich(context.Background(), domain.Stock{
		ID: 2, Symbol: "600000", MATypes: []string{"MA5"},
	}, false)
	require.NoError(t, err)
	assert.Nil(t, es.Signal)
}

func TestEnrichRealtimeInSession(t *testing.T) {
	// Monday 10:00 on a trading day: realtime fetch plus today's injection.
	now := time.Date(2025, 6, 9, 10, 0, 0, 0, market.Shanghai)
	md := &stubMarketData{
		quotes: map[string]*domain.Quote{
			"sh600000": {Symbol: "sh600000", Name: "浦发银行", Price: 11},
		},
		bars: map[string][]domain.Bar{"sh600000": flatCNBars("2025-06-06", 4, 10)},
	}
	svc := newTestService(md, true, now)

	es, err := svc.Enrich(context.Background(), domain.Stock{
		ID: 1, Symbol: "600000", MATypes: []string{"MA5"},
	}, false)
	require.NoError(t, err)

	assert.True(t, es.IsRealtime)
	require.NotNil(t, es.CurrentPrice)
	assert.Equal(t, 11.0, *es.CurrentPrice)
	assert.Equal(t, "浦发银行", es.Name)

	// (10*4 + 11) / 5
	assert.Equal(t, 10.2, es.MAResults["MA5"].MAPrice)
	assert.True(t, es.MAResults["MA5"].Reached)
}

func TestEnrichFailsWithoutAnyPrice(t *testing.T) {
	now := time.Date(2025, 6, 9, 10, 0, 0, 0, market.Shanghai)
	md := &stubMarketData{}
	svc := newTestService(md, true, now)

	_, err := svc.Enrich(context.Background(), domain.Stock{
		ID: 1, Symbol: "600000", MATypes: []string{"MA5"},
	}, false)
	assert.Error(t, err)
}

func TestEnrichBatchPreservesOrderAndDropsFailures(t *testing.T) {
	now := time.Date(2025, 6, 9, 10, 0, 0, 0, market.Shanghai)
	md := &stubMarketData{
		quotes: map[string]*domain.Quote{
			"sh600000": {Symbol: "sh600000", Name: "浦发银行", Price: 11},
			"sz000001": {Symbol: "sz000001", Name: "平安银行", Price: 12},
			"sh601318": {Symbol: "sh601318", Name: "中国平安", Price: 55},
		},
	}
	svc := newTestService(md, true, now)

	out := svc.EnrichBatch(context.Background(), []domain.Stock{
		{ID: 1, Symbol: "600000", MATypes: []string{"MA5"}},
		{ID: 2, Symbol: "000404", MATypes: []string{"MA5"}}, // no quote, dropped
		{ID: 3, Symbol: "000001", MATypes: []string{"MA5"}},
		{ID: 4, Symbol: "601318", MATypes: []string{"MA5"}},
	}, false)

	require.Len(t, out, 3)
	assert.Equal(t, []string{"600000", "000001", "601318"},
		[]string{out[0].Symbol, out[1].Symbol, out[2].Symbol})
	assert.Equal(t, 12.0, *out[1].CurrentPrice)
}

func TestFetchHistorical(t *testing.T) {
	now := time.Date(2025, 6, 9, 18, 0, 0, 0, market.Shanghai)
	bars := flatCNBars("2025-06-05", 10, 10)
	// The target day closes at 12, the four before at 10.
	bars[len(bars)-1].Close = 12
	md := &stubMarketData{bars: map[string][]domain.Bar{"sh600000": bars}}
	svc := newTestService(md, true, now)

	price, maResults, err := svc.FetchHistorical(context.Background(), "600000", "2025-06-05", []string{"MA5"})
	require.NoError(t, err)
	assert.Equal(t, 12.0, price)

	// (10*4 + 12) / 5
	res, ok := maResults["MA5"]
	require.True(t, ok)
	assert.Equal(t, 10.4, res.MAPrice)
	assert.True(t, res.Reached)
	assert.Equal(t, 1.6, res.Diff)
	assert.Equal(t, 15.38, res.DiffPct)
}

func TestFetchHistoricalMissingDate(t *testing.T) {
	now := time.Date(2025, 6, 9, 18, 0, 0, 0, market.Shanghai)
	md := &stubMarketData{bars: map[string][]domain.Bar{"sh600000": flatCNBars("2025-06-05", 10, 10)}}
	svc := newTestService(md, true, now)

	_, _, err := svc.FetchHistorical(context.Background(), "600000", "2024-01-01", []string{"MA5"})
	assert.Error(t, err)
}

func TestFetchNameUsesCache(t *testing.T) {
	now := time.Date(2025, 6, 9, 10, 0, 0, 0, market.Shanghai)
	md := &stubMarketData{
		quotes: map[string]*domain.Quote{
			"sh600000": {Symbol: "sh600000", Name: "浦发银行", Price: 11},
		},
	}
	svc := newTestService(md, true, now)

	name, err := svc.FetchName(context.Background(), "600000")
	require.NoError(t, err)
	assert.Equal(t, "浦发银行", name)

	name, err = svc.FetchName(context.Background(), "600000")
	require.NoError(t, err)
	assert.Equal(t, "浦发银行", name)
	assert.Equal(t, 1, md.fetches)
}

func TestSignalEvaluatesRules(t *testing.T) {
	// Outside the session window, the last close drives the evaluation.
	now := time.Date(2025, 6, 9, 18, 0, 0, 0, market.Shanghai)
	bars := flatCNBars("2025-06-06", 61, 10)
	md := &stubMarketData{bars: map[string][]domain.Bar{"sh600000": bars}}
	svc := newTestService(md, true, now)

	sig, err := svc.Signal(context.Background(), domain.Stock{ID: 1, Symbol: "600000"})
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, "hold", sig.Type)
	assert.Equal(t, 10.0, sig.CurrentPrice)
}

func TestMaPeriodParsing(t *testing.T) {
	assert.Equal(t, 5, maPeriod("MA5"))
	assert.Equal(t, 20, maPeriod("MA20"))
	assert.Equal(t, 60, maPeriod("ma60"))
	assert.Equal(t, 5, maPeriod("garbage"))
}
