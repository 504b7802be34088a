package strategy

import "quantlab/internal/domain"

// Builtins returns the read-only strategy templates.
func Builtins() []domain.StrategyDefinition {
	return []domain.StrategyDefinition{
		{
			ID:          "blank",
			Name:        "Blank Strategy",
			Description: "Starting point for a new strategy: holds on every bar",
			Rule: `# Decide with either "signal" or "buy"/"sell" expressions.
# Optional: stop_loss_pct / take_profit_pct as fractions of the entry price.
signal: '"HOLD"'
`,
		},
		{
			ID:          "moving_average_crossover",
			Name:        "Moving Average Crossover",
			Description: "Buy when MA5 crosses above MA20, sell when it crosses below",
			Rule: `buy: crossover("ma5", "ma20")
sell: crossunder("ma5", "ma20")
`,
		},
		{
			ID:          "rsi_mean_reversion",
			Name:        "RSI Mean Reversion",
			Description: "Buy when RSI drops below the oversold level, sell when it rises above the overbought level",
			Rule: `params:
  oversold: 30
  overbought: 70
buy: rsi < oversold && prev("rsi", 1) >= oversold
sell: rsi > overbought && prev("rsi", 1) <= overbought
`,
		},
		{
			ID:          "macd_trend",
			Name:        "MACD Trend Following",
			Description: "Buy when MACD crosses above its signal line, sell when it crosses below",
			Rule: `buy: crossover("macd", "macd_signal")
sell: crossunder("macd", "macd_signal")
`,
		},
		{
			ID:          "bollinger_breakout",
			Name:        "Bollinger Band Breakout",
			Description: "Buy when price breaks above the upper band, sell when it breaks below the lower band",
			Rule: `buy: crossover("close", "bb_upper")
sell: crossunder("close", "bb_lower")
`,
		},
		{
			ID:          "multi_indicator",
			Name:        "Multi-Indicator Strategy",
			Description: "Combine MA, RSI and MACD signals for confirmation",
			Rule: `buy: >-
  ma5 > ma20 && rsi > 30 && rsi < 70 && macd > macd_signal &&
  (prev("ma5", 1) <= prev("ma20", 1) || prev("macd", 1) <= prev("macd_signal", 1))
sell: (ma5 < ma20 && macd < macd_signal) || rsi > 70
`,
		},
	}
}
