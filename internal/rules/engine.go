package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shaoq/stockwatch/internal/domain"
	"github.com/shaoq/stockwatch/internal/indicators"
)

// holdMessage is the fallback when no rule fires.
const holdMessage = "当前无明显买卖信号，建议持有观望"

// crossMinHistory is the shortest prior series a cross evaluation accepts.
const crossMinHistory = 20

// Engine evaluates a fixed rule set, highest priority first.
type Engine struct {
	rules []TradingRule
	log   zerolog.Logger
}

// NewEngine keeps the enabled rules, sorted by priority descending.
func NewEngine(rules []TradingRule, log zerolog.Logger) *Engine {
	enabled := make([]TradingRule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Priority > enabled[j].Priority
	})
	return &Engine{rules: enabled, log: log.With().Str("component", "rule_engine").Logger()}
}

// EvaluateAll runs every rule and picks the best signal: buys beat sells,
// then highest (priority, strength). No hit yields a hold signal.
func (e *Engine) EvaluateAll(bars []domain.Bar, currentPrice *float64) *Signal {
	var buys, sells []*Signal

	summary := indicators.All(bars)
	for i := range e.rules {
		sig := e.evaluate(&e.rules[i], bars, summary, currentPrice)
		if sig == nil {
			continue
		}
		if sig.Type == "buy" {
			buys = append(buys, sig)
		} else {
			sells = append(sells, sig)
		}
	}

	if best := pickBest(buys); best != nil {
		return best
	}
	if best := pickBest(sells); best != nil {
		return best
	}

	price := 0.0
	if currentPrice != nil {
		price = *currentPrice
	} else if summary.CurrentPrice != nil {
		price = *summary.CurrentPrice
	}
	return &Signal{
		Type:         "hold",
		CurrentPrice: price,
		Strength:     0,
		Triggers:     []string{},
		Indicators:   summary.Indicators,
		Message:      holdMessage,
	}
}

func pickBest(signals []*Signal) *Signal {
	var best *Signal
	for _, s := range signals {
		if best == nil ||
			s.Priority > best.Priority ||
			(s.Priority == best.Priority && s.Strength > best.Strength) {
			best = s
		}
	}
	return best
}

// evaluate runs one rule against the precomputed summary. Returns nil when
// any condition fails or the rule is malformed.
func (e *Engine) evaluate(rule *TradingRule, bars []domain.Bar, summary *indicators.Summary, currentPrice *float64) *Signal {
	price := 0.0
	if currentPrice != nil {
		price = *currentPrice
	} else if summary.CurrentPrice != nil {
		price = *summary.CurrentPrice
	}
	if price == 0 {
		return nil
	}

	conditions, err := parseConditions(rule.Conditions)
	if err != nil {
		e.log.Error().Err(err).Int64("rule_id", rule.ID).Msg("unparseable rule conditions")
		return nil
	}
	var priceConfig PriceConfig
	if err := json.Unmarshal([]byte(rule.PriceConfig), &priceConfig); err != nil {
		e.log.Error().Err(err).Int64("rule_id", rule.ID).Msg("unparseable rule price config")
		return nil
	}

	for i := range conditions {
		if !e.holds(&conditions[i], bars, summary) {
			return nil
		}
	}

	calc := priceCalculator{summary: summary, currentPrice: price}
	entry := calc.entry(priceConfig.Entry)
	var stopLoss, takeProfit *float64
	if entry != nil {
		stopLoss = calc.exit(priceConfig.StopLoss, *entry)
		takeProfit = calc.exit(priceConfig.TakeProfit, *entry)
	}

	message := rule.DescriptionTemplate
	if message == "" {
		message = rule.Name + "触发"
	}
	if entry != nil {
		message = strings.ReplaceAll(message, "{entry_price:.2f}", fmt.Sprintf("%.2f", *entry))
		message = strings.ReplaceAll(message, "{entry_price}", fmt.Sprintf("%v", *entry))
	}

	return &Signal{
		Type:         rule.RuleType,
		CurrentPrice: price,
		EntryPrice:   entry,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		Strength:     rule.Strength,
		Triggers:     []string{rule.Name},
		Indicators:   summary.Indicators,
		Message:      message,
		RuleID:       rule.ID,
		RuleName:     rule.Name,
		Priority:     rule.Priority,
	}
}

// parseConditions accepts both a bare array and a {"conditions": [...]}
// wrapper.
func parseConditions(raw string) ([]Condition, error) {
	var conditions []Condition
	if err := json.Unmarshal([]byte(raw), &conditions); err == nil {
		return conditions, nil
	}
	var wrapper struct {
		Conditions []Condition `json:"conditions"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Conditions, nil
}

// holds evaluates one condition against the current summary, recomputing
// yesterday's indicators for cross operators.
func (e *Engine) holds(cond *Condition, bars []domain.Bar, summary *indicators.Summary) bool {
	// The stored Bollinger rules carry a placeholder comparison; the real
	// semantic is the band-break event.
	if cond.Indicator == "Bollinger" && cond.TargetType == "value" {
		want := "below_lower"
		if cond.Field == "upper" {
			want = "above_upper"
		}
		for _, ev := range summary.Events {
			if ev.Type == want {
				return true
			}
		}
		return false
	}

	left, ok := summary.Value(cond.Indicator, cond.Field)
	if !ok {
		return false
	}
	right, ok := e.rightValue(cond, summary)
	if !ok {
		return false
	}

	switch cond.Operator {
	case "gt", "above_threshold":
		return left > right
	case "lt", "below_threshold":
		return left < right
	case "gte":
		return left >= right
	case "lte":
		return left <= right
	case "eq":
		return left == right
	case "cross_above", "cross_below":
		return e.crossed(cond, bars, left, right)
	default:
		e.log.Warn().Str("operator", cond.Operator).Msg("unknown rule operator")
		return false
	}
}

func (e *Engine) rightValue(cond *Condition, summary *indicators.Summary) (float64, bool) {
	switch cond.TargetType {
	case "indicator":
		return summary.Value(cond.TargetIndicator, cond.TargetField)
	case "value":
		if cond.TargetValue == nil {
			return 0, false
		}
		return *cond.TargetValue, true
	default:
		e.log.Warn().Str("target_type", cond.TargetType).Msg("unknown rule target type")
		return 0, false
	}
}

// crossed compares today's relation with yesterday's, recomputed over the
// series minus its last candle.
func (e *Engine) crossed(cond *Condition, bars []domain.Bar, currLeft, currRight float64) bool {
	if len(bars) < 2 {
		return false
	}
	prevBars := bars[:len(bars)-1]
	if len(prevBars) < crossMinHistory {
		return false
	}

	prevSummary := indicators.All(prevBars)
	prevLeft, ok := prevSummary.Value(cond.Indicator, cond.Field)
	if !ok {
		return false
	}
	var prevRight float64
	if cond.TargetType == "indicator" {
		prevRight, ok = prevSummary.Value(cond.TargetIndicator, cond.TargetField)
		if !ok {
			return false
		}
	} else {
		if cond.TargetValue == nil {
			return false
		}
		prevRight = *cond.TargetValue
	}

	switch cond.Operator {
	case "cross_above":
		return prevLeft <= prevRight && currLeft > currRight
	case "cross_below":
		return prevLeft >= prevRight && currLeft < currRight
	}
	return false
}

// priceCalculator derives entry and exit levels from the summary.
type priceCalculator struct {
	summary      *indicators.Summary
	currentPrice float64
}

func (c *priceCalculator) entry(spec *PriceSpec) *float64 {
	if spec == nil {
		return nil
	}
	switch spec.Type {
	case "indicator":
		if v, ok := c.summary.Value(spec.Indicator, spec.Field); ok {
			return &v
		}
	case "percentage":
		v := round2(c.currentPrice * (1 + spec.Value))
		return &v
	case "current":
		v := c.currentPrice
		return &v
	}
	return nil
}

func (c *priceCalculator) exit(spec *PriceSpec, entryPrice float64) *float64 {
	if spec == nil {
		return nil
	}
	switch spec.Type {
	case "indicator":
		if v, ok := c.summary.Value(spec.Indicator, spec.Field); ok {
			return &v
		}
	case "percentage":
		base := entryPrice
		if spec.Base == "current" {
			base = c.currentPrice
		}
		v := round2(base * (1 + spec.Value))
		return &v
	}
	return nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
