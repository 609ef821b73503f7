package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradeagent/internal/domain"
	"github.com/alanyoungcy/tradeagent/internal/notify"
)

// summaryPoll is how often the summary loop checks whether one is due.
const summaryPoll = time.Minute

// DailySummary reports today's trades at most once per SummaryInterval. The
// first call after start is always due. Days without trades are skipped
// silently. With an archiver configured, today's records are also copied to
// object storage.
func (s *TradingService) DailySummary(ctx context.Context) error {
	s.summaryMu.Lock()
	defer s.summaryMu.Unlock()

	now := s.now()
	if !s.lastSummary.IsZero() && now.Sub(s.lastSummary) < s.cfg.SummaryInterval {
		return nil
	}
	s.lastSummary = now

	records, err := s.trades.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("service: daily summary: %w", err)
	}
	sum, today := domain.SummarizeDay(records, now)
	if sum.Trades == 0 {
		return nil
	}

	balance, err := s.exchange.GetBalance(ctx, s.cfg.QuoteAsset)
	if err != nil {
		s.logger.WarnContext(ctx, "balance unavailable for summary", slog.String("error", err.Error()))
	}
	sum.Balance = balance
	sum.QuoteAsset = s.cfg.QuoteAsset

	s.logger.InfoContext(ctx, "daily summary",
		slog.Int("trades", sum.Trades),
		slog.Float64("pnl", sum.TotalPnL),
		slog.Float64("win_rate", sum.WinRate),
		slog.Float64("balance", sum.Balance),
	)
	s.notifier.Notify(ctx, domain.EventDailySummary, domain.Fields{
		notify.FieldTrades:  sum.Trades,
		notify.FieldPnL:     sum.TotalPnL,
		notify.FieldWinRate: sum.WinRate,
		notify.FieldBalance: sum.Balance,
		notify.FieldQuote:   sum.QuoteAsset,
	})

	if s.archiver != nil {
		path, err := s.archiver.ArchiveTrades(ctx, sum.Day, today)
		if err != nil {
			s.logger.WarnContext(ctx, "trade archive failed", slog.String("error", err.Error()))
		} else if path != "" {
			s.logger.InfoContext(ctx, "trades archived", slog.String("path", path), slog.Int("count", len(today)))
		}
	}
	return nil
}

// RunSummaryLoop calls DailySummary immediately and then every minute until
// ctx is done.
func (s *TradingService) RunSummaryLoop(ctx context.Context) error {
	ticker := time.NewTicker(summaryPoll)
	defer ticker.Stop()

	for {
		if err := s.DailySummary(ctx); err != nil {
			s.logger.WarnContext(ctx, "daily summary failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
