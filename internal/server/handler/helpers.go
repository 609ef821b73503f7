package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/tradeagent/internal/domain"
)

// List paging bounds.
const (
	defaultLimit = 50
	maxLimit     = 500
)

// writeJSON encodes v with status. Encoding happens before the header is
// written so a failure still yields a clean 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		data = []byte(`{"error":"internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts reads limit, offset, since and until from the query string.
// limit defaults to 50 and is capped at 500; since and until are RFC 3339
// and must not be reversed.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()
	opts := domain.ListOpts{Limit: defaultLimit}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return domain.ListOpts{}, &paramError{name: "limit", want: "a positive integer"}
		}
		opts.Limit = min(n, maxLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return domain.ListOpts{}, &paramError{name: "offset", want: "a non-negative integer"}
		}
		opts.Offset = n
	}

	var err error
	if opts.Since, err = parseTimeParam(q.Get("since"), "since"); err != nil {
		return domain.ListOpts{}, err
	}
	if opts.Until, err = parseTimeParam(q.Get("until"), "until"); err != nil {
		return domain.ListOpts{}, err
	}
	if opts.Since != nil && opts.Until != nil && opts.Until.Before(*opts.Since) {
		return domain.ListOpts{}, &paramError{name: "until", want: "a time after since"}
	}
	return opts, nil
}

func parseTimeParam(v, name string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, &paramError{name: name, want: "an RFC 3339 time"}
	}
	return &t, nil
}

type paramError struct{ name, want string }

func (e *paramError) Error() string { return "invalid " + e.name + ": want " + e.want }

func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
