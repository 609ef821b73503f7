package service

import (
	"fmt"

	"github.com/alanyoungcy/tradeagent/internal/domain"
)

// RiskConfig holds the per-tick exit thresholds as fractions of price.
type RiskConfig struct {
	TakeProfitPct   float64
	StopLossPct     float64
	TrailingStopPct float64
}

// DefaultRiskConfig returns 3% take-profit, 1.5% stop-loss, 1% trailing.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		TakeProfitPct:   0.03,
		StopLossPct:     0.015,
		TrailingStopPct: 0.01,
	}
}

// Validate checks that every threshold is a positive fraction.
func (c RiskConfig) Validate() error {
	for name, v := range map[string]float64{
		"take_profit_pct":   c.TakeProfitPct,
		"stop_loss_pct":     c.StopLossPct,
		"trailing_stop_pct": c.TrailingStopPct,
	} {
		if v <= 0 || v >= 1 {
			return fmt.Errorf("risk: %s must be in (0, 1), got %v", name, v)
		}
	}
	return nil
}

// RiskDecision is the outcome of evaluating one tick.
type RiskDecision struct {
	// Exit is the exit reason, or "" to hold.
	Exit string
	// TrailingHigh is the position's trailing high after the tick. It only
	// moves when neither take-profit nor stop-loss fired.
	TrailingHigh float64
}

// EvaluateRisk checks an open position against price. Take-profit is checked
// before stop-loss, and stop-loss before the trailing stop; only the first
// satisfied rule fires.
func EvaluateRisk(cfg RiskConfig, pos domain.Position, price float64) RiskDecision {
	d := RiskDecision{TrailingHigh: pos.TrailingHigh}
	if !pos.IsOpen || price <= 0 || pos.EntryPrice <= 0 {
		return d
	}

	change := pos.Change(price)
	if change >= cfg.TakeProfitPct {
		d.Exit = domain.ExitTakeProfit
		return d
	}
	if change <= -cfg.StopLossPct {
		d.Exit = domain.ExitStopLoss
		return d
	}

	d.TrailingHigh = max(pos.TrailingHigh, pos.EntryPrice, price)
	if (d.TrailingHigh-price)/d.TrailingHigh >= cfg.TrailingStopPct {
		d.Exit = domain.ExitTrailingStop
	}
	return d
}
