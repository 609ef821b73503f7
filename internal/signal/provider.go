// Package signal produces advisory trading signals from a language model,
// rotating across several API keys.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/tradeagent/internal/domain"
	"github.com/alanyoungcy/tradeagent/internal/notify"
	"github.com/alanyoungcy/tradeagent/internal/platform/gemini"
)

// Generator is the model endpoint. *gemini.Client satisfies it.
type Generator interface {
	GenerateContent(ctx context.Context, apiKey string, req gemini.Request) (string, error)
}

// Config holds the provider settings.
type Config struct {
	Timeout           time.Duration
	Temperature       float64
	MaxOutputTokens   int
	RateLimitCooldown time.Duration
	InvalidCooldown   time.Duration
	// AlertInterval is the minimum gap between two error notifications for
	// the same failure cause.
	AlertInterval time.Duration
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		Timeout:           10 * time.Second,
		Temperature:       0.2,
		MaxOutputTokens:   200,
		RateLimitCooldown: 65 * time.Second,
		InvalidCooldown:   24 * time.Hour,
		AlertInterval:     15 * time.Minute,
	}
}

// Failure causes reported to the notification sink.
const (
	causeCooling  = "credentials_cooling"
	causeRejected = "credential_rejected"
	causeRequest  = "request_failed"
	causeParse    = "unparseable_reply"
)

// Provider implements domain.SignalProvider.
type Provider struct {
	gen    Generator
	pool   *KeyPool
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	alertMu  sync.Mutex
	notifier domain.NotificationSink
	alerted  map[string]time.Time // cause -> last notified
}

// NewProvider creates a Provider. It fails with domain.ErrNoCredentials when
// no key is configured.
func NewProvider(gen Generator, keys []string, cfg Config, logger *slog.Logger) (*Provider, error) {
	pool := NewKeyPool(keys)
	if pool.Total() == 0 {
		return nil, fmt.Errorf("signal: %w", domain.ErrNoCredentials)
	}
	p := &Provider{
		gen:    gen,
		pool:   pool,
		cfg:    cfg,
		logger:  logger.With(slog.String("component", "signal")),
		now:     time.Now,
		alerted: make(map[string]time.Time),
	}
	p.logger.Info("signal provider ready", slog.Int("keys", pool.Total()))
	return p, nil
}

// SetNotifier attaches the sink that receives provider failures. Without one
// failures are only logged.
func (p *Provider) SetNotifier(sink domain.NotificationSink) {
	p.alertMu.Lock()
	defer p.alertMu.Unlock()
	p.notifier = sink
}

// Pool exposes the key pool for status reporting.
func (p *Provider) Pool() *KeyPool { return p.pool }

// GetSignal asks the model for a recommendation. Every failure resolves to
// HOLD with zero confidence.
func (p *Provider) GetSignal(ctx context.Context, snap domain.MarketSnapshot) domain.Signal {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req := gemini.Request{
		Prompt:          BuildPrompt(snap),
		Temperature:     p.cfg.Temperature,
		MaxOutputTokens: p.cfg.MaxOutputTokens,
	}

	// Each key is tried at most once per call.
	for attempt := 0; attempt < p.pool.Total(); attempt++ {
		now := p.now()
		key, retryAt, ok := p.pool.Next(now)
		if !ok {
			next := retryAt.Sub(now).Round(time.Second)
			p.logger.WarnContext(ctx, "all keys cooling down", slog.Duration("next_in", next))
			p.alert(ctx, causeCooling, fmt.Sprintf("all %d credentials cooling down, next in %s", p.pool.Total(), next))
			return domain.HoldSignal("all credentials cooling down")
		}

		text, err := p.gen.GenerateContent(ctx, key, req)
		switch {
		case err == nil:
			sig, perr := ParseSignal(text)
			if perr != nil {
				p.logger.WarnContext(ctx, "unparseable signal", slog.String("error", perr.Error()))
				p.alert(ctx, causeParse, perr.Error())
				return domain.HoldSignal("unparseable response")
			}
			p.logger.InfoContext(ctx, "signal",
				slog.String("signal", string(sig.Kind)),
				slog.Float64("confidence", sig.Confidence),
				slog.String("reason", sig.Reason),
				slog.Int("keys_available", p.pool.Available(p.now())),
				slog.Int("keys_total", p.pool.Total()),
			)
			return sig

		case errors.Is(err, domain.ErrRateLimited):
			p.pool.Bench(key, p.now(), p.cfg.RateLimitCooldown)
			p.logger.WarnContext(ctx, "key rate limited",
				slog.String("key", maskKey(key)),
				slog.Duration("cooldown", p.cfg.RateLimitCooldown))

		case errors.Is(err, domain.ErrUnauthorized):
			p.pool.Bench(key, p.now(), p.cfg.InvalidCooldown)
			p.logger.ErrorContext(ctx, "key rejected",
				slog.String("key", maskKey(key)),
				slog.Duration("cooldown", p.cfg.InvalidCooldown))
			p.alert(ctx, causeRejected+":"+maskKey(key), fmt.Sprintf("credential %s rejected, benched for %s", maskKey(key), p.cfg.InvalidCooldown))

		default:
			p.logger.WarnContext(ctx, "signal request failed", slog.String("error", err.Error()))
			p.alert(ctx, causeRequest, err.Error())
			return domain.HoldSignal(err.Error())
		}
	}
	p.alert(ctx, causeCooling, fmt.Sprintf("all %d credentials cooling down", p.pool.Total()))
	return domain.HoldSignal("all credentials cooling down")
}

// alert sends an error notification for cause unless one went out within
// AlertInterval.
func (p *Provider) alert(ctx context.Context, cause, msg string) {
	p.alertMu.Lock()
	sink := p.notifier
	now := p.now()
	last, seen := p.alerted[cause]
	due := sink != nil && (!seen || now.Sub(last) >= p.cfg.AlertInterval)
	if due {
		p.alerted[cause] = now
	}
	p.alertMu.Unlock()

	if !due {
		return
	}
	sink.Notify(context.WithoutCancel(ctx), domain.EventError, domain.Fields{
		notify.FieldError: "signal provider: " + msg,
	})
}

// rawSignal is the JSON shape the model is asked to produce.
type rawSignal struct {
	Signal     string  `json:"signal"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// ParseSignal decodes a model reply, tolerating markdown code fences.
// Confidence is clamped to [0,1]; an unknown signal becomes HOLD.
func ParseSignal(text string) (domain.Signal, error) {
	raw := strings.TrimSpace(text)
	raw = strings.ReplaceAll(raw, "```json", "")
	raw = strings.ReplaceAll(raw, "```", "")
	raw = strings.TrimSpace(raw)

	var r rawSignal
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return domain.Signal{}, fmt.Errorf("signal: decode: %w", err)
	}
	if math.IsNaN(r.Confidence) {
		r.Confidence = 0
	}
	kind := domain.ParseSignalKind(strings.ToUpper(strings.TrimSpace(r.Signal)))
	return domain.Signal{
		Kind:       kind,
		Confidence: math.Max(0, math.Min(1, r.Confidence)),
		Reason:     r.Reason,
	}, nil
}

// Compile-time interface check.
var _ domain.SignalProvider = (*Provider)(nil)
