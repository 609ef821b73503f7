package domain

import "context"

// EventKind classifies a notification.
type EventKind string

const (
	EventBotStarted     EventKind = "bot_started"
	EventPositionOpened EventKind = "position_opened"
	EventPositionClosed EventKind = "position_closed"
	EventTakeProfit     EventKind = "take_profit"
	EventStopLoss       EventKind = "stop_loss"
	EventError          EventKind = "error"
	EventReconnect      EventKind = "reconnect"
	EventHalted         EventKind = "halted"
	EventPanic          EventKind = "panic"
	EventDailySummary   EventKind = "daily_summary"
)

// Fields carries the structured payload of a notification.
type Fields map[string]any

// NotificationSink delivers alerts. Notify is best effort: failures are
// logged by the implementation and never returned.
type NotificationSink interface {
	Notify(ctx context.Context, kind EventKind, fields Fields)
}
