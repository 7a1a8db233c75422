package alerting

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"nodesentinel/internal/metrics"
)

type captureNotifier struct {
	notes []Notification
	err   error
}

func (c *captureNotifier) Notify(_ context.Context, note Notification) error {
	c.notes = append(c.notes, note)
	return c.err
}

type captureRecorder struct {
	events []Event
}

func (c *captureRecorder) RecordAlert(_ context.Context, ev Event) error {
	c.events = append(c.events, ev)
	return nil
}

func TestRouterDeliversAndRecords(t *testing.T) {
	sink := &captureNotifier{}
	rec := &captureRecorder{}
	router := NewRouter(sink, rec, RouterOptions{Channel: "telegram"}, testLogger())

	ev := NewEvent(SeverityCritical, "host.cpu", "  CPU at 97%  ", time.Now())
	router.Route(context.Background(), ev)

	if len(sink.notes) != 1 || sink.notes[0].Text != "CPU at 97%" || sink.notes[0].Channel != "telegram" {
		t.Fatalf("unexpected notes %+v", sink.notes)
	}
	if len(rec.events) != 1 || rec.events[0].Key != "host.cpu" {
		t.Fatalf("event must be recorded, got %+v", rec.events)
	}
}

func TestRouterSwallowsDeliveryFailure(t *testing.T) {
	sink := &captureNotifier{err: errors.New("telegram down")}
	router := NewRouter(sink, nil, RouterOptions{}, testLogger())

	router.Route(context.Background(), NewEvent(SeverityWarning, "fee", "fees HIGH", time.Now()))
	router.Route(context.Background(), NewEvent(SeverityWarning, "fee", "fees LOW", time.Now()))

	if len(sink.notes) != 2 {
		t.Fatalf("each event is attempted exactly once, got %d", len(sink.notes))
	}
}

func TestRouterWithoutSink(t *testing.T) {
	router := NewRouter(nil, nil, RouterOptions{}, testLogger())
	router.Route(context.Background(), NewEvent(SeverityInfo, "macro", "report", time.Now()))
}

func TestFamily(t *testing.T) {
	cases := map[string]string{
		"ln.invoice:abc123":      "ln.invoice",
		"ln.peer.connected:02ab": "ln.peer.connected",
		"disk:/mnt/hdd":          "disk",
		"host.cpu.recovery":      "host.cpu.recovery",
		"fee":                    "fee",
	}
	for key, want := range cases {
		if got := Family(key); got != want {
			t.Errorf("Family(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestRouterMetricsAreLabelledByFamily(t *testing.T) {
	router := NewRouter(&captureNotifier{}, nil, RouterOptions{}, testLogger())
	counter := metrics.AlertsEmitted.WithLabelValues("ln.invoice")
	before := testutil.ToFloat64(counter)
	series := testutil.CollectAndCount(metrics.AlertsEmitted)

	for i := 0; i < 200; i++ {
		router.Route(context.Background(), NewEvent(SeverityInfo, "ln.invoice:"+strconv.Itoa(i), "paid", time.Now()))
	}

	if got := testutil.ToFloat64(counter) - before; got != 200 {
		t.Fatalf("want 200 invoice alerts counted, got %v", got)
	}
	if got := testutil.CollectAndCount(metrics.AlertsEmitted); got != series {
		t.Fatalf("distinct invoice keys must share one series, %d -> %d", series, got)
	}
}
