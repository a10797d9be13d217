// Package indicators computes MA, MACD, RSI, KDJ and Bollinger bands over
// daily candles and flags the cross and threshold events the rule engine
// consumes.
package indicators

import (
	"math"
	"strconv"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"github.com/shaoq/stockwatch/internal/domain"
)

// DefaultMAPeriods are the averages computed when the caller has no
// preference.
var DefaultMAPeriods = []int{5, 10, 20, 60}

// Event is a flagged indicator condition: a cross, a band break, or an
// overbought/oversold reading.
type Event struct {
	Type      string   `json:"type"`
	Name      string   `json:"name"`
	Period    string   `json:"period,omitempty"`
	Price     *float64 `json:"price"`
	Value     *float64 `json:"value,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// Result pairs one indicator's latest values with its events.
type Result struct {
	Values map[string]float64 `json:"values"`
	Events []Event            `json:"signals"`
}

// Summary is the combined output over one candle series.
type Summary struct {
	Indicators   map[string]map[string]float64 `json:"indicators"`
	Events       []Event                       `json:"signals"`
	CurrentPrice *float64                      `json:"current_price"`
}

// Value looks up one indicator field, for example ("MA", "MA5"). The second
// return is false when the field was not computed.
func (s *Summary) Value(indicator, field string) (float64, bool) {
	values, ok := s.Indicators[indicator]
	if !ok {
		return 0, false
	}
	v, ok := values[field]
	return v, ok
}

func closes(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// MA computes simple moving averages for the given periods and the MA5/MA20
// cross. Series shorter than the longest period yield an empty result.
func MA(bars []domain.Bar, periods []int) Result {
	if len(periods) == 0 {
		periods = DefaultMAPeriods
	}
	maxPeriod := 0
	for _, p := range periods {
		if p > maxPeriod {
			maxPeriod = p
		}
	}

	res := Result{Values: map[string]float64{}, Events: []Event{}}
	if len(bars) < maxPeriod {
		return res
	}

	series := closes(bars)
	for _, p := range periods {
		if len(series) >= p {
			ma := talib.Sma(series, p)
			res.Values[maName(p)] = round2(ma[len(ma)-1])
		}
	}

	// The cross needs a valid MA20 on the previous day too.
	if len(series) >= 21 {
		ma5 := talib.Sma(series, 5)
		ma20 := talib.Sma(series, 20)
		n := len(series)
		prev5, prev20 := ma5[n-2], ma20[n-2]
		curr5, curr20 := ma5[n-1], ma20[n-1]

		switch {
		case prev5 <= prev20 && curr5 > curr20:
			res.Events = append(res.Events, Event{
				Type: "golden_cross", Name: "MA金叉", Period: "MA5/MA20",
				Price: ptr(round2(curr20)),
			})
		case prev5 >= prev20 && curr5 < curr20:
			res.Events = append(res.Events, Event{
				Type: "dead_cross", Name: "MA死叉", Period: "MA5/MA20",
				Price: ptr(round2(curr20)),
			})
		}
	}
	return res
}

// MACD computes DIF, DEA and the doubled histogram with the standard
// 12/26/9 parameters, plus the DIF/DEA cross.
func MACD(bars []domain.Bar) Result {
	const fast, slow, signal = 12, 26, 9

	res := Result{Values: map[string]float64{}, Events: []Event{}}
	if len(bars) < slow+signal {
		return res
	}

	series := closes(bars)
	emaFast := talib.Ema(series, fast)
	emaSlow := talib.Ema(series, slow)

	// DIF is only meaningful once the slow EMA has warmed up.
	dif := make([]float64, 0, len(series)-slow+1)
	for i := slow - 1; i < len(series); i++ {
		dif = append(dif, emaFast[i]-emaSlow[i])
	}
	dea := talib.Ema(dif, signal)

	n := len(dif)
	currDIF, currDEA := dif[n-1], dea[n-1]
	res.Values["DIF"] = round4(currDIF)
	res.Values["DEA"] = round4(currDEA)
	res.Values["MACD"] = round4(2 * (currDIF - currDEA))

	if n >= signal+1 {
		prevDIF, prevDEA := dif[n-2], dea[n-2]
		switch {
		case prevDIF <= prevDEA && currDIF > currDEA:
			res.Events = append(res.Events, Event{Type: "golden_cross", Name: "MACD金叉"})
		case prevDIF >= prevDEA && currDIF < currDEA:
			res.Events = append(res.Events, Event{Type: "dead_cross", Name: "MACD死叉"})
		}
	}
	return res
}

// RSI computes the 14-period relative strength index with oversold and
// overbought flags at 30/70.
func RSI(bars []domain.Bar) Result {
	const period = 14

	res := Result{Values: map[string]float64{}, Events: []Event{}}
	if len(bars) < period+1 {
		return res
	}

	rsi := talib.Rsi(closes(bars), period)
	value := round2(rsi[len(rsi)-1])
	// A series with no movement divides zero by zero.
	if math.IsNaN(value) {
		return res
	}
	res.Values["RSI"] = value

	switch {
	case value < 30:
		res.Events = append(res.Events, Event{
			Type: "oversold", Name: "RSI超卖",
			Value: ptr(value), Threshold: ptr(30.0),
		})
	case value > 70:
		res.Events = append(res.Events, Event{
			Type: "overbought", Name: "RSI超买",
			Value: ptr(value), Threshold: ptr(70.0),
		})
	}
	return res
}

// KDJ computes the 9/3/3 stochastic with recursive smoothing seeded at the
// first full RSV window, plus the K/D cross.
func KDJ(bars []domain.Bar) Result {
	const n, m = 9, 3

	res := Result{Values: map[string]float64{}, Events: []Event{}}
	if len(bars) < n {
		return res
	}

	// RSV over a rolling 9-day high/low window, defined from index n-1 on.
	rsv := make([]float64, 0, len(bars)-n+1)
	for i := n - 1; i < len(bars); i++ {
		lo, hi := bars[i-n+1].Low, bars[i-n+1].High
		for j := i - n + 2; j <= i; j++ {
			lo = math.Min(lo, bars[j].Low)
			hi = math.Max(hi, bars[j].High)
		}
		if hi == lo {
			rsv = append(rsv, 0)
			continue
		}
		rsv = append(rsv, (bars[i].Close-lo)/(hi-lo)*100)
	}

	k := make([]float64, len(rsv))
	d := make([]float64, len(rsv))
	k[0], d[0] = rsv[0], rsv[0]
	for i := 1; i < len(rsv); i++ {
		k[i] = (2*k[i-1] + rsv[i]) / m
		d[i] = (2*d[i-1] + k[i]) / m
	}

	last := len(k) - 1
	res.Values["K"] = round2(k[last])
	res.Values["D"] = round2(d[last])
	res.Values["J"] = round2(3*k[last] - 2*d[last])

	if last >= 1 {
		prevK, prevD := k[last-1], d[last-1]
		currK, currD := k[last], d[last]
		switch {
		case prevK <= prevD && currK > currD:
			res.Events = append(res.Events, Event{Type: "golden_cross", Name: "KDJ金叉"})
		case prevK >= prevD && currK < currD:
			res.Events = append(res.Events, Event{Type: "dead_cross", Name: "KDJ死叉"})
		}
	}
	return res
}

// Bollinger computes the 20-day, 2-sigma bands and band-break events against
// the latest close.
func Bollinger(bars []domain.Bar) Result {
	const period, width = 20, 2.0

	res := Result{Values: map[string]float64{}, Events: []Event{}}
	if len(bars) < period {
		return res
	}

	series := closes(bars)
	window := series[len(series)-period:]
	middle := stat.Mean(window, nil)
	sigma := stat.StdDev(window, nil)
	upper := middle + width*sigma
	lower := middle - width*sigma

	res.Values["upper"] = round2(upper)
	res.Values["middle"] = round2(middle)
	res.Values["lower"] = round2(lower)
	res.Values["width"] = round2(upper - lower)

	price := series[len(series)-1]
	switch {
	case price < lower:
		res.Events = append(res.Events, Event{
			Type: "below_lower", Name: "跌破布林下轨", Price: ptr(round2(lower)),
		})
	case price > upper:
		res.Events = append(res.Events, Event{
			Type: "above_upper", Name: "突破布林上轨", Price: ptr(round2(upper)),
		})
	}
	return res
}

// All runs every indicator over the series. Fewer than 5 candles yields an
// empty summary, never an error.
func All(bars []domain.Bar) *Summary {
	s := &Summary{
		Indicators: map[string]map[string]float64{},
		Events:     []Event{},
	}
	if len(bars) < 5 {
		return s
	}
	s.CurrentPrice = ptr(round2(bars[len(bars)-1].Close))

	for _, part := range []struct {
		key string
		res Result
	}{
		{"MA", MA(bars, nil)},
		{"MACD", MACD(bars)},
		{"RSI", RSI(bars)},
		{"KDJ", KDJ(bars)},
		{"Bollinger", Bollinger(bars)},
	} {
		s.Indicators[part.key] = part.res.Values
		s.Events = append(s.Events, part.res.Events...)
	}
	return s
}

func maName(period int) string {
	return "MA" + strconv.Itoa(period)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }

func ptr(v float64) *float64 { return &v }
