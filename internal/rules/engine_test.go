package rules

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaoq/stockwatch/internal/domain"
)

func barsFromCloses(closes ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{Close: c, High: c + 0.5, Low: c - 0.5}
	}
	return bars
}

// goldenCrossBars is long enough for the default MA periods and puts an
// MA5/MA20 golden cross on the last candle.
func goldenCrossBars() []domain.Bar {
	closes := make([]float64, 0, 61)
	for i := 0; i < 57; i++ {
		closes = append(closes, 10)
	}
	closes = append(closes, 9, 9, 9, 15)
	return barsFromCloses(closes...)
}

func defaultEngine() *Engine {
	return NewEngine(DefaultRules(), zerolog.Nop())
}

func TestGoldenCrossBuySignal(t *testing.T) {
	sig := defaultEngine().EvaluateAll(goldenCrossBars(), nil)
	require.NotNil(t, sig)

	assert.Equal(t, "buy", sig.Type)
	assert.Equal(t, "MA金叉买入", sig.RuleName)
	assert.Equal(t, []string{"MA金叉买入"}, sig.Triggers)
	assert.Equal(t, 3, sig.Priority)
	assert.Equal(t, 3, sig.Strength)

	require.NotNil(t, sig.EntryPrice)
	assert.Equal(t, 10.1, *sig.EntryPrice)
	require.NotNil(t, sig.StopLoss)
	assert.Equal(t, 9.59, *sig.StopLoss)
	require.NotNil(t, sig.TakeProfit)
	assert.Equal(t, 10.91, *sig.TakeProfit)

	assert.Equal(t, "MA5上穿MA20，建议在MA20附近10.10买入", sig.Message)
	assert.Contains(t, sig.Indicators, "MA")
}

func TestRSIOversoldBuySignal(t *testing.T) {
	closes := make([]float64, 61)
	for i := range closes {
		closes[i] = 22 - 0.2*float64(i)
	}
	sig := defaultEngine().EvaluateAll(barsFromCloses(closes...), nil)
	require.NotNil(t, sig)

	assert.Equal(t, "buy", sig.Type)
	assert.Equal(t, "RSI超卖买入", sig.RuleName)
	require.NotNil(t, sig.EntryPrice)
	assert.Equal(t, 9.8, *sig.EntryPrice) // 2% under the latest close of 10
	require.NotNil(t, sig.StopLoss)
	assert.Equal(t, 9.31, *sig.StopLoss)
	require.NotNil(t, sig.TakeProfit)
	assert.Equal(t, 10.29, *sig.TakeProfit)
}

func TestHoldWhenNothingFires(t *testing.T) {
	closes := make([]float64, 61)
	for i := range closes {
		closes[i] = 10
	}
	sig := defaultEngine().EvaluateAll(barsFromCloses(closes...), nil)
	require.NotNil(t, sig)

	assert.Equal(t, "hold", sig.Type)
	assert.Equal(t, 10.0, sig.CurrentPrice)
	assert.Nil(t, sig.EntryPrice)
	assert.Equal(t, 0, sig.Strength)
	assert.Empty(t, sig.Triggers)
	assert.Equal(t, "当前无明显买卖信号，建议持有观望", sig.Message)
}

func TestExplicitCurrentPriceWins(t *testing.T) {
	closes := make([]float64, 61)
	for i := range closes {
		closes[i] = 10
	}
	price := 11.5
	sig := defaultEngine().EvaluateAll(barsFromCloses(closes...), &price)
	require.NotNil(t, sig)
	assert.Equal(t, 11.5, sig.CurrentPrice)
}

func TestBuyBeatsSell(t *testing.T) {
	// Both rules trivially fire; the buy must win despite the sell's higher
	// priority.
	engine := NewEngine([]TradingRule{
		{
			ID: 1, Name: "低RSI买入", RuleType: "buy", Enabled: true, Priority: 1, Strength: 1,
			Conditions:  `[{"indicator":"RSI","field":"RSI","operator":"lt","target_type":"value","target_value":101}]`,
			PriceConfig: `{"entry":{"type":"current"}}`,
		},
		{
			ID: 2, Name: "高RSI卖出", RuleType: "sell", Enabled: true, Priority: 5, Strength: 5,
			Conditions:  `[{"indicator":"RSI","field":"RSI","operator":"gt","target_type":"value","target_value":-1}]`,
			PriceConfig: `{"entry":{"type":"current"}}`,
		},
	}, zerolog.Nop())

	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 10 + 0.1*float64(i%3)
	}
	sig := engine.EvaluateAll(barsFromCloses(closes...), nil)
	require.NotNil(t, sig)
	assert.Equal(t, "buy", sig.Type)
	assert.Equal(t, "低RSI买入", sig.RuleName)
}

func TestDisabledRuleIsSkipped(t *testing.T) {
	engine := NewEngine([]TradingRule{
		{
			ID: 1, Name: "永真买入", RuleType: "buy", Enabled: false, Priority: 1, Strength: 1,
			Conditions:  `[{"indicator":"RSI","field":"RSI","operator":"lt","target_type":"value","target_value":101}]`,
			PriceConfig: `{"entry":{"type":"current"}}`,
		},
	}, zerolog.Nop())

	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 10 + 0.1*float64(i%3)
	}
	sig := engine.EvaluateAll(barsFromCloses(closes...), nil)
	assert.Equal(t, "hold", sig.Type)
}

func TestMalformedRuleIsSkipped(t *testing.T) {
	engine := NewEngine([]TradingRule{
		{
			ID: 1, Name: "坏规则", RuleType: "buy", Enabled: true, Priority: 1, Strength: 1,
			Conditions:  `not json`,
			PriceConfig: `{}`,
		},
	}, zerolog.Nop())

	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 10 + 0.1*float64(i%3)
	}
	sig := engine.EvaluateAll(barsFromCloses(closes...), nil)
	assert.Equal(t, "hold", sig.Type)
}

func TestParseConditionsWrapperForm(t *testing.T) {
	conds, err := parseConditions(`{"conditions":[{"indicator":"RSI","field":"RSI","operator":"lt","target_type":"value","target_value":30}]}`)
	require.NoError(t, err)
	require.Len(t, conds, 1)
	assert.Equal(t, "RSI", conds[0].Indicator)
	require.NotNil(t, conds[0].TargetValue)
	assert.Equal(t, 30.0, *conds[0].TargetValue)
}

func TestCrossNeedsHistory(t *testing.T) {
	// 21 candles: the prior series has 20, right at the minimum; 20 candles:
	// prior series too short, the cross may not fire.
	engine := defaultEngine()

	closes := make([]float64, 0, 20)
	for i := 0; i < 16; i++ {
		closes = append(closes, 10)
	}
	closes = append(closes, 9, 9, 9, 15)
	sig := engine.EvaluateAll(barsFromCloses(closes...), nil)
	require.NotNil(t, sig)
	// Short series: MA rules cannot even resolve their fields.
	assert.NotEqual(t, "MA金叉买入", sig.RuleName)
}
