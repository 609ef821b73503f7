package notify

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/alanyoungcy/tradeagent/internal/domain"
)

// Field keys shared by the coordinator, supervisor and renderers.
const (
	FieldSymbol   = "symbol"
	FieldPrice    = "price"
	FieldQuantity = "quantity"
	FieldNotional = "notional"
	FieldPnL      = "pnl"
	FieldReason   = "reason"
	FieldAttempt  = "attempt"
	FieldError    = "error"
	FieldTrades   = "trades"
	FieldWinRate  = "win_rate"
	FieldBalance  = "balance"
	FieldQuote    = "quote_asset"
	FieldDryRun   = "dry_run"
	FieldClosed   = "closed"
	FieldModel    = "model"
)

// maxErrorLen caps error text in chat messages.
const maxErrorLen = 300

// Render produces the title and body for an event.
func Render(kind domain.EventKind, f domain.Fields) (string, string) {
	var b lines
	switch kind {
	case domain.EventBotStarted:
		mode := "LIVE"
		if boolField(f, FieldDryRun) {
			mode = "DRY RUN"
		}
		b.add("Pair", str(f, FieldSymbol))
		b.add("Mode", mode)
		if m := str(f, FieldModel); m != "" {
			b.add("Signal model", m)
		}
		return "Agent started", b.String()

	case domain.EventPositionOpened:
		b.add("Pair", str(f, FieldSymbol))
		b.add("Price", money(num(f, FieldPrice)))
		b.add("Quantity", fmt.Sprintf("%.5f", num(f, FieldQuantity)))
		b.add("Invested", money(num(f, FieldNotional))+quote(f))
		b.add("Signal", str(f, FieldReason))
		return "Buy executed", b.String()

	case domain.EventPositionClosed:
		b.add("Pair", str(f, FieldSymbol))
		b.add("Price", money(num(f, FieldPrice)))
		b.add("PnL", fmt.Sprintf("$%+.4f", num(f, FieldPnL))+quote(f))
		b.add("Reason", str(f, FieldReason))
		return "Sell executed", b.String()

	case domain.EventTakeProfit:
		b.add("Pair", str(f, FieldSymbol))
		b.add("Price", money(num(f, FieldPrice)))
		b.add("Gain", fmt.Sprintf("$%+.4f", num(f, FieldPnL))+quote(f))
		return "Take profit reached", b.String()

	case domain.EventStopLoss:
		b.add("Pair", str(f, FieldSymbol))
		b.add("Price", money(num(f, FieldPrice)))
		b.add("Loss", fmt.Sprintf("$%.4f", num(f, FieldPnL))+quote(f))
		return "Stop loss triggered", b.String()

	case domain.EventError:
		msg := str(f, FieldError)
		if len(msg) > maxErrorLen {
			msg = msg[:maxErrorLen]
		}
		return "Agent error", msg

	case domain.EventReconnect:
		return "Reconnecting", fmt.Sprintf("Reconnecting to the exchange (attempt #%d)", int(num(f, FieldAttempt)))

	case domain.EventHalted:
		return "Agent halted", fmt.Sprintf("Gave up after %d reconnect attempts. Open positions are untouched.", int(num(f, FieldAttempt)))

	case domain.EventPanic:
		return "Panic close", fmt.Sprintf("Closed %d position(s). All holdings were liquidated.", int(num(f, FieldClosed)))

	case domain.EventDailySummary:
		b.add("Trades", fmt.Sprintf("%d", int(num(f, FieldTrades))))
		b.add("Day PnL", fmt.Sprintf("$%+.2f", num(f, FieldPnL))+quote(f))
		b.add("Win rate", fmt.Sprintf("%.0f%%", num(f, FieldWinRate)*100))
		b.add("Balance", money(num(f, FieldBalance))+quote(f))
		return "Daily summary", b.String()
	}

	for _, k := range slices.Sorted(maps.Keys(f)) {
		b.add(k, fmt.Sprint(f[k]))
	}
	return string(kind), b.String()
}

type lines struct{ sb strings.Builder }

func (l *lines) add(label, value string) {
	if l.sb.Len() > 0 {
		l.sb.WriteByte('\n')
	}
	l.sb.WriteString(label)
	l.sb.WriteString(": ")
	l.sb.WriteString(value)
}

func (l *lines) String() string { return l.sb.String() }

func money(v float64) string {
	return "$" + commas(fmt.Sprintf("%.2f", v))
}

// commas groups the integer part of a formatted decimal by thousands.
func commas(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, _ := strings.Cut(s, ".")
	var out []byte
	for i := range len(intPart) {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, intPart[i])
	}
	if frac != "" {
		return sign + string(out) + "." + frac
	}
	return sign + string(out)
}

func quote(f domain.Fields) string {
	if q := str(f, FieldQuote); q != "" {
		return " " + q
	}
	return ""
}

func str(f domain.Fields, key string) string {
	switch v := f[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case error:
		return v.Error()
	default:
		return fmt.Sprint(v)
	}
}

func num(f domain.Fields, key string) float64 {
	switch v := f[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func boolField(f domain.Fields, key string) bool {
	v, _ := f[key].(bool)
	return v
}
