// Package notify fans agent events out to operator channels (Telegram,
// Discord) and machine sinks (audit log, event bus). Delivery is best effort:
// a failing channel is logged and never reaches the caller.
package notify

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/tradeagent/internal/domain"
)

// DefaultSendTimeout bounds a single sender call.
const DefaultSendTimeout = 5 * time.Second

// Message is one rendered notification.
type Message struct {
	Kind   domain.EventKind
	Title  string
	Body   string
	Fields domain.Fields
	Time   time.Time
}

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	// Name identifies the sender in logs, e.g. "telegram".
	Name() string
}

// Notifier implements domain.NotificationSink. Each Notify renders the event
// once and hands it to every sender on its own goroutine, so a slow channel
// never holds up the caller. An optional event filter limits which kinds
// reach the chat senders; machine sinks registered with Always see every
// event.
type Notifier struct {
	senders []Sender
	always  []Sender
	events  map[domain.EventKind]bool
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	wg sync.WaitGroup
}

// NewNotifier creates a Notifier for senders. When events is empty every
// kind is forwarded.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventKind]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventKind(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		timeout: DefaultSendTimeout,
		logger:  logger.With(slog.String("component", "notifier")),
		now:     time.Now,
	}
}

// Always registers senders that bypass the event filter.
func (n *Notifier) Always(senders ...Sender) {
	n.always = append(n.always, senders...)
}

// Notify renders the event and dispatches it without waiting for delivery.
func (n *Notifier) Notify(ctx context.Context, kind domain.EventKind, fields domain.Fields) {
	title, body := Render(kind, fields)
	msg := Message{Kind: kind, Title: title, Body: body, Fields: fields, Time: n.now().UTC()}

	targets := n.always
	if len(n.events) == 0 || n.events[kind] {
		targets = append(targets[:len(targets):len(targets)], n.senders...)
	} else {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", string(kind)))
	}

	// Delivery outlives the caller's context.
	base := context.WithoutCancel(ctx)
	for _, s := range targets {
		n.wg.Add(1)
		go func(s Sender) {
			defer n.wg.Done()
			n.send(base, s, msg)
		}(s)
	}
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (n *Notifier) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (n *Notifier) send(ctx context.Context, s Sender, msg Message) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if err := s.Send(ctx, msg); err != nil {
		n.logger.WarnContext(ctx, "sender failed",
			slog.String("sender", s.Name()),
			slog.String("event", string(msg.Kind)),
			slog.String("error", err.Error()),
		)
		return
	}
	n.logger.DebugContext(ctx, "notification sent",
		slog.String("sender", s.Name()),
		slog.String("event", string(msg.Kind)),
	)
}

// Discard is a NotificationSink that drops everything.
type Discard struct{}

// Notify does nothing.
func (Discard) Notify(context.Context, domain.EventKind, domain.Fields) {}

// Compile-time interface checks.
var (
	_ domain.NotificationSink = (*Notifier)(nil)
	_ domain.NotificationSink = Discard{}
)
