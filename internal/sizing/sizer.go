// Package sizing computes position sizes from trailing trade performance
// using a fractional Kelly criterion.
package sizing

import (
	"log/slog"
	"math"
	"sync"

	"github.com/shopspring/decimal"
)

const (
	// MinNotional is the smallest order amount in quote currency.
	MinNotional = 10.0

	historyWindow = 20
	minSamples    = 5
	kellyCap      = 0.25
	kellyFraction = 0.25
	minFraction   = 0.02
)

// Config holds the sizing limits.
type Config struct {
	MaxRiskPct     float64 // capital share at risk per trade
	MaxPositionPct float64 // capital share invested per trade
	StopLossPct    float64
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		MaxRiskPct:     0.05,
		MaxPositionPct: 0.20,
		StopLossPct:    0.015,
	}
}

// Model is a snapshot of the rolling statistics.
type Model struct {
	WinRate           float64 `json:"win_rate"`
	AvgWin            float64 `json:"avg_win"`
	AvgLoss           float64 `json:"avg_loss"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
	Samples           int     `json:"samples"`
}

// Sizer tracks closed-trade PnL and turns capital into an order amount.
type Sizer struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	history []float64
	model   Model
}

// New creates a Sizer seeded with prior estimates.
func New(cfg Config, logger *slog.Logger) *Sizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sizer{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "sizer")),
		model: Model{
			WinRate: 0.5,
			AvgWin:  0.03,
			AvgLoss: 0.015,
		},
	}
}

// Update feeds the PnL of a closed trade into the model.
func (s *Sizer) Update(pnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, pnl)
	if len(s.history) > historyWindow {
		s.history = append(s.history[:0], s.history[len(s.history)-historyWindow:]...)
	}
	s.model.Samples = len(s.history)

	if pnl < 0 {
		s.model.ConsecutiveLosses++
	} else {
		s.model.ConsecutiveLosses = 0
	}

	if len(s.history) < minSamples {
		return
	}

	var (
		wins, losses    int
		sumWin, sumLoss float64
	)
	for _, p := range s.history {
		switch {
		case p > 0:
			wins++
			sumWin += p
		case p < 0:
			losses++
			sumLoss += -p
		}
	}
	s.model.WinRate = float64(wins) / float64(len(s.history))
	if wins > 0 {
		s.model.AvgWin = sumWin / float64(wins)
	}
	if losses > 0 {
		s.model.AvgLoss = sumLoss / float64(losses)
	}
}

// Stats returns the current model.
func (s *Sizer) Stats() Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// Calculate returns the quote amount to invest given the available capital.
// The result is rounded down to cents. It is at least MinNotional unless the
// position cap itself is smaller, in which case the cap is returned and the
// caller is expected to skip the trade.
func (s *Sizer) Calculate(capital, price float64) float64 {
	if capital <= 0 {
		return 0
	}
	m := s.Stats()

	b := 2.0
	if m.AvgLoss > 0 {
		b = m.AvgWin / m.AvgLoss
	}
	kelly := 0.0
	if b > 0 {
		kelly = (m.WinRate*b - (1 - m.WinRate)) / b
	}
	kelly = math.Max(0, math.Min(kelly, kellyCap))

	fraction := kelly * kellyFraction
	switch {
	case m.ConsecutiveLosses >= 3:
		fraction *= 0.5
		s.logger.Warn("losing streak, size halved", slog.Int("consecutive_losses", m.ConsecutiveLosses))
	case m.ConsecutiveLosses == 2:
		fraction *= 0.75
	}

	byRisk := capital * 0.1
	if s.cfg.StopLossPct > 0 {
		byRisk = capital * s.cfg.MaxRiskPct / s.cfg.StopLossPct
	}
	byKelly := capital * math.Max(fraction, minFraction)
	byMax := capital * s.cfg.MaxPositionPct

	amount := math.Min(byRisk, math.Min(byKelly, byMax))
	if amount < MinNotional {
		amount = math.Min(MinNotional, byMax)
	}
	amount = decimal.NewFromFloat(amount).Truncate(2).InexactFloat64()

	s.logger.Info("position sized",
		slog.Float64("amount", amount),
		slog.Float64("price", price),
		slog.Float64("kelly_fraction", fraction),
		slog.Float64("win_rate", m.WinRate),
		slog.Int("consecutive_losses", m.ConsecutiveLosses),
	)
	return amount
}
