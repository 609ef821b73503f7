package domain

import "context"

// SignalKind is the direction recommended by the advisory provider.
type SignalKind string

const (
	SignalBuy  SignalKind = "BUY"
	SignalSell SignalKind = "SELL"
	SignalHold SignalKind = "HOLD"
)

// ParseSignalKind maps a raw provider value onto a SignalKind. Anything
// unrecognised is HOLD.
func ParseSignalKind(s string) SignalKind {
	switch SignalKind(s) {
	case SignalBuy, SignalSell:
		return SignalKind(s)
	default:
		return SignalHold
	}
}

// Signal is a parsed advisory recommendation.
type Signal struct {
	Kind       SignalKind `json:"signal"`
	Confidence float64    `json:"confidence"`
	Reason     string     `json:"reason"`
}

// HoldSignal is the neutral outcome used whenever the provider fails.
func HoldSignal(reason string) Signal {
	return Signal{Kind: SignalHold, Confidence: 0, Reason: reason}
}

// MarketSnapshot is the recent market history handed to the provider.
type MarketSnapshot struct {
	Symbol  string
	Prices  []float64
	Volumes []float64
}

// SignalProvider returns an advisory signal. Implementations never fail:
// errors, timeouts and exhausted credentials all resolve to HOLD.
type SignalProvider interface {
	GetSignal(ctx context.Context, snap MarketSnapshot) Signal
}
