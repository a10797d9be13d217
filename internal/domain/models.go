// Package domain holds the value types shared across the pipeline.
package domain

import "time"

// Market identifies the venue a symbol trades on.
type Market string

const (
	MarketCN Market = "cn"
	MarketUS Market = "us"
)

// Capability is a named data kind a provider can serve.
type Capability string

const (
	CapRealtimePrice    Capability = "realtime_price"
	CapKlineData        Capability = "kline_data"
	CapFinancialReport  Capability = "financial_report"
	CapValuationMetrics Capability = "valuation_metrics"
	CapMacroIndicators  Capability = "macro_indicators"
)

// Quote is the canonical realtime quote shape every provider normalizes to.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Price     float64   `json:"current_price"`
	Open      float64   `json:"open_price,omitempty"`
	PrevClose float64   `json:"close_price,omitempty"`
	High      float64   `json:"high_price,omitempty"`
	Low       float64   `json:"low_price,omitempty"`
	Volume    float64   `json:"volume,omitempty"`
	Turnover  float64   `json:"turnover,omitempty"`
	Provider  string    `json:"provider_name"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Valid reports whether the quote carries a usable price.
func (q *Quote) Valid() bool {
	return q != nil && q.Price > 0
}

// Bar is one daily candle, oldest-first in any series the pipeline handles.
type Bar struct {
	Day    string  `json:"day"` // YYYY-MM-DD
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// FetchResult is the coordinator's realtime-price answer, successful or not.
type FetchResult struct {
	Success  bool     `json:"success"`
	Quote    *Quote   `json:"data,omitempty"`
	Provider string   `json:"provider_name,omitempty"`
	Error    string   `json:"error_message,omitempty"`
	Tried    []string `json:"tried_providers"`
}

// MAResult is the per-period evaluation stored inside snapshots.
type MAResult struct {
	MAPrice    float64 `json:"ma_price"`
	Reached    bool    `json:"reached_target"`
	Diff       float64 `json:"price_difference"`
	DiffPct    float64 `json:"price_difference_percent"`
	DataSource string  `json:"data_source,omitempty"` // realtime | kline_close
}

// Stock is a monitored instrument.
type Stock struct {
	ID           int64
	Symbol       string
	Name         string
	MATypes      []string // e.g. ["MA5", "MA20"], ordered, at least one
	CurrentPrice *float64
	CreatedAt    time.Time
	UpdatedAt    *time.Time
	GroupIDs     []int64
	GroupNames   []string
}

// Group is a user-defined stock collection.
type Group struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	StockCount int    `json:"stock_count"`
}

// Snapshot is the persisted per-stock state for one date.
type Snapshot struct {
	ID        int64
	StockID   int64
	Date      string // YYYY-MM-DD
	Price     float64
	MAResults map[string]MAResult
	CreatedAt time.Time
}
