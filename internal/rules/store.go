package rules

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/shaoq/stockwatch/internal/database"
)

// Repository persists trading rules and the signals they produce.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates the rule repository.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("component", "rule_store").Logger()}
}

const ruleColumns = "id, name, rule_type, enabled, priority, strength, conditions, price_config, description_template, created_at, updated_at"

// List returns every rule, enabled or not.
func (r *Repository) List() ([]TradingRule, error) {
	return r.query("SELECT " + ruleColumns + " FROM trading_rules ORDER BY priority DESC, id")
}

// LoadEnabled returns the rules the engine should run.
func (r *Repository) LoadEnabled() ([]TradingRule, error) {
	return r.query("SELECT " + ruleColumns + " FROM trading_rules WHERE enabled = 1 ORDER BY priority DESC, id")
}

func (r *Repository) query(q string, args ...any) ([]TradingRule, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var out []TradingRule
	for rows.Next() {
		var rule TradingRule
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.RuleType, &rule.Enabled,
			&rule.Priority, &rule.Strength, &rule.Conditions, &rule.PriceConfig,
			&rule.DescriptionTemplate, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// SeedDefaults inserts the built-in rule set if the table is empty.
func (r *Repository) SeedDefaults() (int, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM trading_rules").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rules: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	for _, rule := range DefaultRules() {
		if _, err := r.db.Exec(
			`INSERT INTO trading_rules (name, rule_type, enabled, priority, strength, conditions, price_config, description_template)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rule.Name, rule.RuleType, rule.Enabled, rule.Priority, rule.Strength,
			rule.Conditions, rule.PriceConfig, rule.DescriptionTemplate,
		); err != nil {
			return 0, fmt.Errorf("failed to seed rule %q: %w", rule.Name, err)
		}
	}

	seeded := len(DefaultRules())
	r.log.Info().Int("rules", seeded).Msg("seeded default trading rules")
	return seeded, nil
}

// SetEnabled toggles one rule.
func (r *Repository) SetEnabled(id int64, enabled bool) error {
	res, err := r.db.Exec(
		"UPDATE trading_rules SET enabled = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		enabled, id)
	if err != nil {
		return fmt.Errorf("failed to update rule %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rule %d not found", id)
	}
	return nil
}

// SaveSignal records one evaluated signal for a stock and date. Hold signals
// are stored too, so history shows quiet days. Re-evaluating the same day
// replaces the stored row, keeping one signal per stock and date.
func (r *Repository) SaveSignal(stockID int64, date string, sig *Signal) error {
	triggers, err := json.Marshal(sig.Triggers)
	if err != nil {
		return fmt.Errorf("failed to encode triggers: %w", err)
	}
	indicatorsJSON, err := json.Marshal(sig.Indicators)
	if err != nil {
		return fmt.Errorf("failed to encode indicators: %w", err)
	}

	_, err = r.db.Exec(
		`INSERT INTO signals (stock_id, signal_date, signal_type, current_price, entry_price, stop_loss, take_profit, strength, triggers, indicators)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (stock_id, signal_date) DO UPDATE SET
		   signal_type = excluded.signal_type, current_price = excluded.current_price,
		   entry_price = excluded.entry_price, stop_loss = excluded.stop_loss,
		   take_profit = excluded.take_profit, strength = excluded.strength,
		   triggers = excluded.triggers, indicators = excluded.indicators`,
		stockID, date, sig.Type, sig.CurrentPrice, sig.EntryPrice, sig.StopLoss,
		sig.TakeProfit, sig.Strength, string(triggers), string(indicatorsJSON))
	if err != nil {
		return fmt.Errorf("failed to save signal: %w", err)
	}
	return nil
}

// SignalHistory lists the stored signals for one stock, newest first.
func (r *Repository) SignalHistory(stockID int64, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := r.db.Query(
		`SELECT signal_date, signal_type, current_price, entry_price, stop_loss, take_profit, strength, triggers
		 FROM signals WHERE stock_id = ? ORDER BY signal_date DESC, id DESC LIMIT ?`,
		stockID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var (
			date, sigType, triggers              string
			currentPrice                         float64
			entryPrice, stopLoss, takeProfit     *float64
			strength                             int
		)
		if err := rows.Scan(&date, &sigType, &currentPrice, &entryPrice, &stopLoss, &takeProfit, &strength, &triggers); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		var triggerList []string
		_ = json.Unmarshal([]byte(triggers), &triggerList)
		out = append(out, map[string]any{
			"signal_date":   date,
			"signal_type":   sigType,
			"current_price": currentPrice,
			"entry_price":   entryPrice,
			"stop_loss":     stopLoss,
			"take_profit":   takeProfit,
			"strength":      strength,
			"triggers":      triggerList,
		})
	}
	return out, rows.Err()
}
