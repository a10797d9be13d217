// Package rules evaluates JSON-configured trading rules over computed
// indicators and turns them into buy/sell/hold signals.
package rules

import "time"

// Condition is one trigger clause. All clauses of a rule must hold (AND).
type Condition struct {
	Indicator string `json:"indicator"`
	Field     string `json:"field"`
	Operator  string `json:"operator"`

	TargetType      string   `json:"target_type"`
	TargetIndicator string   `json:"target_indicator,omitempty"`
	TargetField     string   `json:"target_field,omitempty"`
	TargetValue     *float64 `json:"target_value,omitempty"`
}

// PriceSpec derives one price level from an indicator, a percentage offset,
// or the current price.
type PriceSpec struct {
	Type      string  `json:"type"` // indicator | percentage | current
	Indicator string  `json:"indicator,omitempty"`
	Field     string  `json:"field,omitempty"`
	Base      string  `json:"base,omitempty"` // entry | current
	Value     float64 `json:"value,omitempty"`
}

// PriceConfig groups the levels a rule produces.
type PriceConfig struct {
	Entry      *PriceSpec `json:"entry,omitempty"`
	StopLoss   *PriceSpec `json:"stop_loss,omitempty"`
	TakeProfit *PriceSpec `json:"take_profit,omitempty"`
}

// TradingRule is one persisted rule. Conditions and PriceConfig are stored
// as JSON text.
type TradingRule struct {
	ID                  int64      `json:"id"`
	Name                string     `json:"name"`
	RuleType            string     `json:"rule_type"` // buy | sell
	Enabled             bool       `json:"enabled"`
	Priority            int        `json:"priority"`
	Strength            int        `json:"strength"`
	Conditions          string     `json:"conditions"`
	PriceConfig         string     `json:"price_config"`
	DescriptionTemplate string     `json:"description_template"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           *time.Time `json:"updated_at,omitempty"`
}

// Signal is the evaluation outcome for one stock.
type Signal struct {
	Type         string                        `json:"signal_type"` // buy | sell | hold
	CurrentPrice float64                       `json:"current_price"`
	EntryPrice   *float64                      `json:"entry_price"`
	StopLoss     *float64                      `json:"stop_loss"`
	TakeProfit   *float64                      `json:"take_profit"`
	Strength     int                           `json:"strength"`
	Triggers     []string                      `json:"triggers"`
	Indicators   map[string]map[string]float64 `json:"indicators"`
	Message      string                        `json:"message"`
	RuleID       int64                         `json:"rule_id,omitempty"`
	RuleName     string                        `json:"rule_name,omitempty"`
	Priority     int                           `json:"priority,omitempty"`
}
