package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tradeagent/internal/domain"
)

// tradeLister is implemented by recorders that can page on their own.
type tradeLister interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error)
}

// TradeHandler serves the trade history.
type TradeHandler struct {
	trades domain.TradeRecorder
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler over the trade recorder.
func NewTradeHandler(trades domain.TradeRecorder, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logHandler(logger, "trades")}
}

// ListTrades returns trade records newest first.
// GET /api/trades?limit=&offset=&since=&until=
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var records []domain.TradeRecord
	if l, ok := h.trades.(tradeLister); ok {
		records, err = l.List(r.Context(), opts)
	} else {
		records, err = h.listFromAll(r.Context(), opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if records == nil {
		records = []domain.TradeRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"trades": records,
		"count":  len(records),
	})
}

// listFromAll pages a full chronological load in memory.
func (h *TradeHandler) listFromAll(ctx context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	all, err := h.trades.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.TradeRecord, 0, opts.Limit)
	skipped := 0
	for i := len(all) - 1; i >= 0 && len(out) < opts.Limit; i-- {
		rec := all[i]
		if opts.Since != nil && rec.Timestamp.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && rec.Timestamp.After(*opts.Until) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

var errNoAudit = errors.New("audit log not configured")
