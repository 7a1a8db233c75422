package alerting

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"nodesentinel/internal/faults"
	"nodesentinel/internal/logging"
	"nodesentinel/internal/metrics"
)

// Recorder persists an audit row per routed event.
type Recorder interface {
	RecordAlert(ctx context.Context, ev Event) error
}

// Router renders events and hands them to the sink. It never fails the caller.
type Router struct {
	notifier Notifier
	recorder Recorder
	channel  string
	timeout  time.Duration
	logger   zerolog.Logger
}

// RouterOptions configure a Router.
type RouterOptions struct {
	Channel string
	Timeout time.Duration
}

// NewRouter builds a router. A nil notifier logs events instead of sending them.
func NewRouter(notifier Notifier, recorder Recorder, opts RouterOptions, logger zerolog.Logger) *Router {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Router{
		notifier: notifier,
		recorder: recorder,
		channel:  opts.Channel,
		timeout:  timeout,
		logger:   logger.With().Str("component", "router").Logger(),
	}
}

// Route delivers ev at most once. Delivery failures are logged and counted;
// the decision that produced ev is not replayed.
func (r *Router) Route(ctx context.Context, ev Event) {
	note := r.Render(ev)

	if r.recorder != nil {
		if err := r.recorder.RecordAlert(ctx, ev); err != nil {
			r.logger.Error().Err(err).Str("key", ev.Key).Msg("failed to persist alert record")
		}
	}

	if r.notifier == nil {
		r.logger.Info().Str("key", ev.Key).Str("severity", string(ev.Severity)).Str("text", note.Text).Msg("alert (no sink configured)")
		metrics.AlertsEmitted.WithLabelValues(Family(ev.Key)).Inc()
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.notifier.Notify(sendCtx, note); err != nil {
		metrics.DeliveryFailures.Inc()
		logging.Failure(r.logger, faults.Delivery(r.channel, err)).Str("key", ev.Key).Msg("failed to dispatch alert")
		return
	}
	metrics.AlertsEmitted.WithLabelValues(Family(ev.Key)).Inc()
}

// Render turns an event into the text the sink receives.
func (r *Router) Render(ev Event) Notification {
	return Notification{
		Key:       ev.Key,
		Severity:  ev.Severity,
		Text:      strings.TrimSpace(ev.Message),
		Timestamp: ev.Timestamp,
		Channel:   r.channel,
	}
}
