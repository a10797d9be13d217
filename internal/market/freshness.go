package market

import (
	"time"

	"github.com/shaoq/stockwatch/internal/domain"
)

// Decision is the freshness verdict for one instrument.
type Decision struct {
	Fetch    bool
	Realtime bool // true only when trading day and inside the session window
	Reason   string
}

// Input carries the facts the policy needs. TradingDay must be resolved by
// the caller (calendar lookup for cn, always true for us), so batch workers
// can run the policy without touching the database.
type Input struct {
	Market     domain.Market
	TradingDay bool
	NeedCalc   bool
	LastPrice  *float64
	UpdatedAt  *time.Time
	Now        time.Time
}

// Decide applies the fetch-vs-cache rules in order.
func Decide(in Input) Decision {
	inSession := InSession(in.Market, in.Now)
	realtime := in.TradingDay && inSession

	if in.NeedCalc {
		return Decision{Fetch: true, Realtime: realtime, Reason: "需要重新计算指标"}
	}

	if in.Market == domain.MarketCN && !in.TradingDay {
		return Decision{Fetch: false, Realtime: false, Reason: "非交易日，使用缓存数据"}
	}

	if inSession {
		return Decision{Fetch: true, Realtime: realtime, Reason: "交易时间内，获取实时数据"}
	}

	if in.LastPrice == nil || *in.LastPrice <= 0 {
		return Decision{Fetch: true, Realtime: realtime, Reason: "无有效价格，需要获取"}
	}

	if in.UpdatedAt == nil {
		return Decision{Fetch: true, Realtime: realtime, Reason: "无更新时间，需要获取"}
	}

	if in.UpdatedAt.Before(LastCNClose(in.Now)) {
		return Decision{Fetch: true, Realtime: realtime, Reason: "数据早于最近收盘，需要刷新"}
	}

	return Decision{Fetch: false, Realtime: false, Reason: "数据已是最新，使用缓存"}
}
