package rules

// DefaultRules returns the built-in rule set, four buy and four sell rules.
// They are seeded into an empty trading_rules table on startup.
func DefaultRules() []TradingRule {
	return []TradingRule{
		{
			Name:     "MA金叉买入",
			RuleType: "buy",
			Enabled:  true,
			Priority: 3,
			Strength: 3,
			Conditions: `[{"indicator":"MA","field":"MA5","operator":"cross_above",` +
				`"target_type":"indicator","target_indicator":"MA","target_field":"MA20"}]`,
			PriceConfig: `{"entry":{"type":"indicator","indicator":"MA","field":"MA20"},` +
				`"stop_loss":{"type":"percentage","base":"entry","value":-0.05},` +
				`"take_profit":{"type":"percentage","base":"entry","value":0.08}}`,
			DescriptionTemplate: "MA5上穿MA20，建议在MA20附近{entry_price:.2f}买入",
		},
		{
			Name:     "RSI超卖买入",
			RuleType: "buy",
			Enabled:  true,
			Priority: 2,
			Strength: 2,
			Conditions: `[{"indicator":"RSI","field":"RSI","operator":"lt",` +
				`"target_type":"value","target_value":30}]`,
			PriceConfig: `{"entry":{"type":"percentage","value":-0.02},` +
				`"stop_loss":{"type":"percentage","base":"entry","value":-0.05},` +
				`"take_profit":{"type":"percentage","base":"entry","value":0.05}}`,
			DescriptionTemplate: "RSI低于30，超卖区间，建议逢低买入",
		},
		{
			Name:     "布林下轨买入",
			RuleType: "buy",
			Enabled:  true,
			Priority: 3,
			Strength: 3,
			Conditions: `[{"indicator":"Bollinger","field":"lower","operator":"gt",` +
				`"target_type":"value","target_value":0}]`,
			PriceConfig: `{"entry":{"type":"indicator","indicator":"Bollinger","field":"lower"},` +
				`"stop_loss":{"type":"percentage","base":"entry","value":-0.05},` +
				`"take_profit":{"type":"indicator","indicator":"Bollinger","field":"middle"}}`,
			DescriptionTemplate: "价格跌破布林下轨，可能反弹",
		},
		{
			Name:     "MACD金叉买入",
			RuleType: "buy",
			Enabled:  true,
			Priority: 2,
			Strength: 2,
			Conditions: `[{"indicator":"MACD","field":"DIF","operator":"cross_above",` +
				`"target_type":"indicator","target_indicator":"MACD","target_field":"DEA"}]`,
			PriceConfig: `{"entry":{"type":"current"},` +
				`"stop_loss":{"type":"percentage","base":"entry","value":-0.05},` +
				`"take_profit":{"type":"percentage","base":"entry","value":0.08}}`,
			DescriptionTemplate: "MACD金叉形成，趋势可能转强",
		},
		{
			Name:     "MA死叉卖出",
			RuleType: "sell",
			Enabled:  true,
			Priority: 3,
			Strength: 3,
			Conditions: `[{"indicator":"MA","field":"MA5","operator":"cross_below",` +
				`"target_type":"indicator","target_indicator":"MA","target_field":"MA20"}]`,
			PriceConfig: `{"entry":{"type":"indicator","indicator":"MA","field":"MA20"},` +
				`"stop_loss":null,` +
				`"take_profit":{"type":"percentage","base":"entry","value":-0.05}}`,
			DescriptionTemplate: "MA5下穿MA20，建议在MA20附近{entry_price:.2f}减仓",
		},
		{
			Name:     "RSI超买卖出",
			RuleType: "sell",
			Enabled:  true,
			Priority: 2,
			Strength: 2,
			Conditions: `[{"indicator":"RSI","field":"RSI","operator":"gt",` +
				`"target_type":"value","target_value":70}]`,
			PriceConfig: `{"entry":{"type":"percentage","value":0.02},` +
				`"stop_loss":null,` +
				`"take_profit":{"type":"percentage","base":"entry","value":-0.02}}`,
			DescriptionTemplate: "RSI高于70，超买区间，建议逢高减仓",
		},
		{
			Name:     "布林上轨卖出",
			RuleType: "sell",
			Enabled:  true,
			Priority: 3,
			Strength: 3,
			Conditions: `[{"indicator":"Bollinger","field":"upper","operator":"lt",` +
				`"target_type":"value","target_value":0}]`,
			PriceConfig: `{"entry":{"type":"indicator","indicator":"Bollinger","field":"upper"},` +
				`"stop_loss":null,` +
				`"take_profit":{"type":"indicator","indicator":"Bollinger","field":"middle"}}`,
			DescriptionTemplate: "价格突破布林上轨，可能回调",
		},
		{
			Name:     "MACD死叉卖出",
			RuleType: "sell",
			Enabled:  true,
			Priority: 2,
			Strength: 2,
			Conditions: `[{"indicator":"MACD","field":"DIF","operator":"cross_below",` +
				`"target_type":"indicator","target_indicator":"MACD","target_field":"DEA"}]`,
			PriceConfig: `{"entry":{"type":"current"},` +
				`"stop_loss":null,` +
				`"take_profit":{"type":"percentage","base":"entry","value":-0.05}}`,
			DescriptionTemplate: "MACD死叉形成，趋势可能转弱",
		},
	}
}
