package providers

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaoq/stockwatch/internal/domain"
)

// fakeProvider lets tests script per-capability outcomes. A provider that
// fails records its own health, same as the real sources.
type fakeProvider struct {
	base
	quote func() (*domain.Quote, error)
	kline func() ([]domain.Bar, error)
}

func newFakeProvider(name string, priority int, caps ...domain.Capability) *fakeProvider {
	return &fakeProvider{base: newBase(name, priority, NewHealth(5*time.Minute), caps...)}
}

func (f *fakeProvider) RealtimeQuote(code string, mkt domain.Market) (*domain.Quote, error) {
	q, err := f.quote()
	if err != nil {
		if IsBanStatus(err) {
			f.health.MarkBanned()
		} else {
			f.health.RecordFailure()
		}
		return nil, err
	}
	f.health.RecordSuccess()
	return q, nil
}

func (f *fakeProvider) Kline(code string, mkt domain.Market, days int) ([]domain.Bar, error) {
	bars, err := f.kline()
	if err != nil {
		f.health.RecordFailure()
		return nil, err
	}
	f.health.RecordSuccess()
	return bars, nil
}

func TestFetchRealtimeFallsThroughOnBan(t *testing.T) {
	primary := newFakeProvider("sina", 1, domain.CapRealtimePrice)
	primary.quote = func() (*domain.Quote, error) {
		return nil, &StatusError{Code: 429}
	}

	secondary := newFakeProvider("eastmoney", 2, domain.CapRealtimePrice)
	secondary.quote = func() (*domain.Quote, error) {
		return &domain.Quote{Symbol: "sh600000", Name: "浦发银行", Price: 10.5, Provider: "eastmoney"}, nil
	}

	c := NewCoordinator(time.Millisecond, zerolog.Nop(), secondary, primary)

	res := c.FetchRealtime(context.Background(), "sh600000", domain.MarketCN)
	require.True(t, res.Success)
	assert.Equal(t, "eastmoney", res.Provider)
	assert.Equal(t, 10.5, res.Quote.Price)
	assert.Equal(t, []string{"sina", "eastmoney"}, res.Tried)

	// The 429 sent the primary straight into cooldown.
	snap := primary.Health().Snapshot()
	assert.Equal(t, StateCooling, snap.Status)
	assert.False(t, snap.IsAvailable)

	// Subsequent fetches skip it entirely.
	res = c.FetchRealtime(context.Background(), "sh600000", domain.MarketCN)
	require.True(t, res.Success)
	assert.Equal(t, []string{"eastmoney"}, res.Tried)
}

func TestFetchRealtimeAllFail(t *testing.T) {
	p := newFakeProvider("sina", 1, domain.CapRealtimePrice)
	p.quote = func() (*domain.Quote, error) { return nil, ErrInvalidData }

	c := NewCoordinator(time.Millisecond, zerolog.Nop(), p)

	res := c.FetchRealtime(context.Background(), "sh600000", domain.MarketCN)
	assert.False(t, res.Success)
	assert.Nil(t, res.Quote)
	assert.Equal(t, []string{"sina"}, res.Tried)
	assert.NotEmpty(t, res.Error)
}

func TestFetchRealtimeSkipsIncapableProviders(t *testing.T) {
	klineOnly := newFakeProvider("history", 1, domain.CapKlineData)
	quoter := newFakeProvider("tencent", 3, domain.CapRealtimePrice)
	quoter.quote = func() (*domain.Quote, error) {
		return &domain.Quote{Symbol: "sh600000", Price: 9.8, Provider: "tencent"}, nil
	}

	c := NewCoordinator(time.Millisecond, zerolog.Nop(), klineOnly, quoter)

	res := c.FetchRealtime(context.Background(), "sh600000", domain.MarketCN)
	require.True(t, res.Success)
	assert.Equal(t, []string{"tencent"}, res.Tried)
}

func TestKlineFallsThroughToNextProvider(t *testing.T) {
	broken := newFakeProvider("sina", 1, domain.CapKlineData)
	broken.kline = func() ([]domain.Bar, error) { return nil, ErrInvalidData }

	working := newFakeProvider("eastmoney", 2, domain.CapKlineData)
	working.kline = func() ([]domain.Bar, error) {
		return []domain.Bar{{Day: "2025-06-02", Close: 10.5}}, nil
	}

	c := NewCoordinator(time.Millisecond, zerolog.Nop(), broken, working)

	bars, err := c.Kline(context.Background(), "sh600000", domain.MarketCN, 30)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "2025-06-02", bars[0].Day)
}

func TestKlineAllFail(t *testing.T) {
	p := newFakeProvider("sina", 1, domain.CapKlineData)
	p.kline = func() ([]domain.Bar, error) { return nil, ErrInvalidData }

	c := NewCoordinator(time.Millisecond, zerolog.Nop(), p)

	_, err := c.Kline(context.Background(), "sh600000", domain.MarketCN, 30)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
}

func TestResetProvider(t *testing.T) {
	p := newFakeProvider("sina", 1, domain.CapRealtimePrice)
	p.Health().Disable()

	c := NewCoordinator(time.Millisecond, zerolog.Nop(), p)

	assert.False(t, p.Health().IsAvailable())
	assert.True(t, c.ResetProvider("sina"))
	assert.True(t, p.Health().IsAvailable())
	assert.False(t, c.ResetProvider("missing"))
}

func TestCoordinatorOrdersByPriority(t *testing.T) {
	order := []string{}
	mk := func(name string, prio int) *fakeProvider {
		p := newFakeProvider(name, prio, domain.CapRealtimePrice)
		p.quote = func() (*domain.Quote, error) {
			order = append(order, name)
			return nil, ErrInvalidData
		}
		return p
	}

	// Registered out of order on purpose.
	c := NewCoordinator(time.Millisecond, zerolog.Nop(), mk("netease", 4), mk("sina", 1), mk("tencent", 3))

	c.FetchRealtime(context.Background(), "sh600000", domain.MarketCN)
	assert.Equal(t, []string{"sina", "tencent", "netease"}, order)
}

func TestSinaQuoteParsing(t *testing.T) {
	body := `var hq_str_sh600000="浦发银行,10.40,10.38,10.50,10.55,10.35,10.49,10.50,12345678,129876543.21,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,2025-06-02,15:00:00,00";`

	match := sinaQuotePattern.FindStringSubmatch(body)
	require.NotNil(t, match)

	fields := strings.Split(match[1], ",")
	assert.Equal(t, "浦发银行", fields[0])
	assert.Equal(t, 10.40, parseField(fields, 1))
	assert.Equal(t, 10.38, parseField(fields, 2))
	assert.Equal(t, 10.50, parseField(fields, 3))
	assert.Equal(t, float64(12345678), parseField(fields, 8))
}

func TestTencentQuoteParsing(t *testing.T) {
	body := `v_r_sh600000="1~浦发银行~600000~10.50~10.38~10.40~123456~0~0~10.49~0";`

	match := tencentQuotePattern.FindStringSubmatch(body)
	require.NotNil(t, match)

	fields := strings.Split(match[1], "~")
	assert.Equal(t, "浦发银行", fields[1])
	assert.Equal(t, 10.50, parseField(fields, 3))
	assert.Equal(t, 10.38, parseField(fields, 4))
	assert.Equal(t, 10.40, parseField(fields, 5))
}
