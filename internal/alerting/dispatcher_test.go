package alerting

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"veracity-soc/internal/schema"
)

type fakeChannel struct {
	mu    sync.Mutex
	sent  []*Alert
	fail  bool
	calls int
}

func (f *fakeChannel) Name() string { return "fake" }

func (f *fakeChannel) Send(ctx context.Context, alert *Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, alert)
	return nil
}

func (f *fakeChannel) delivered() []*Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Alert, len(f.sent))
	copy(out, f.sent)
	return out
}

func testAlert(sev schema.Severity) *Alert {
	return &Alert{
		ID:         uuid.New(),
		AgentID:    "agent-1",
		Source:     "security.auth",
		Severity:   sev,
		ThreatType: "attack_tool_usage",
		Score:      0.8,
		CreatedAt:  time.Now().UTC(),
	}
}

func newTestDispatcher(t *testing.T, ch Channel, minSeverity schema.Severity) *Dispatcher {
	t.Helper()
	cfg := DefaultDispatcherConfig()
	cfg.MinSeverity = minSeverity
	cfg.Workers = 1
	d := NewDispatcher(cfg, []Channel{ch}, slog.Default())
	d.Start()
	return d
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDispatchSeverityGate(t *testing.T) {
	ch := &fakeChannel{}
	d := newTestDispatcher(t, ch, schema.SeverityHigh)
	defer d.Stop()

	d.Dispatch(testAlert(schema.SeverityLow))
	d.Dispatch(testAlert(schema.SeverityMedium))
	d.Dispatch(testAlert(schema.SeverityHigh))
	d.Dispatch(testAlert(schema.SeverityCritical))

	waitFor(t, func() bool { return len(ch.delivered()) == 2 })

	for _, a := range ch.delivered() {
		if !a.Severity.AtLeast(schema.SeverityHigh) {
			t.Errorf("alert below min severity delivered: %s", a.Severity)
		}
	}
}

func TestDispatchChannelFailureDoesNotPropagate(t *testing.T) {
	ch := &fakeChannel{fail: true}
	d := newTestDispatcher(t, ch, schema.SeverityLow)

	d.Dispatch(testAlert(schema.SeverityCritical))

	waitFor(t, func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		return ch.calls == 1
	})
	d.Stop()

	m := d.Metrics()
	if m.Failed != 1 {
		t.Errorf("Failed = %d, want 1", m.Failed)
	}
	if m.Sent != 0 {
		t.Errorf("Sent = %d, want 0", m.Sent)
	}
}

func TestDispatchDropsWhenQueueFull(t *testing.T) {
	cfg := DefaultDispatcherConfig()
	cfg.MinSeverity = schema.SeverityLow
	cfg.QueueSize = 1
	cfg.Workers = 1
	d := NewDispatcher(cfg, nil, slog.Default())
	// Workers not started, so the queue fills after one alert.

	d.Dispatch(testAlert(schema.SeverityHigh))
	d.Dispatch(testAlert(schema.SeverityHigh))
	d.Dispatch(testAlert(schema.SeverityHigh))

	if m := d.Metrics(); m.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", m.Dropped)
	}
}

func TestDispatchStopDrainsQueue(t *testing.T) {
	ch := &fakeChannel{}
	cfg := DefaultDispatcherConfig()
	cfg.MinSeverity = schema.SeverityLow
	cfg.Workers = 2
	d := NewDispatcher(cfg, []Channel{ch}, slog.Default())
	d.Start()

	for i := 0; i < 10; i++ {
		d.Dispatch(testAlert(schema.SeverityHigh))
	}
	d.Stop()

	if got := len(ch.delivered()); got != 10 {
		t.Errorf("delivered %d alerts after Stop, want 10", got)
	}
}

func TestNewAlertFromDetection(t *testing.T) {
	entry := &schema.LogEntry{
		ID:      uuid.New(),
		AgentID: "agent-7",
		Source:  "security.auth",
		Level:   schema.LevelError,
		Message: "nmap scan detected",
	}
	result := &schema.DetectionResult{
		ID:             schema.DetectionID(entry.ID),
		LogEntryID:     entry.ID,
		AgentID:        entry.AgentID,
		ThreatDetected: true,
		Assessment: schema.ThreatAssessment{
			ThreatScore: 0.8,
			ThreatType:  "attack_tool_usage",
			Indicators:  []string{"attack_tools:nmap"},
			Severity:    schema.SeverityHigh,
		},
		DetectedAt: time.Now().UTC(),
	}

	alert := NewAlert(result, entry)
	if alert.ID != result.ID {
		t.Errorf("ID = %s, want %s", alert.ID, result.ID)
	}
	if alert.Source != "security.auth" {
		t.Errorf("Source = %q", alert.Source)
	}
	if alert.Message != "nmap scan detected" {
		t.Errorf("Message = %q", alert.Message)
	}
	if alert.Severity != schema.SeverityHigh {
		t.Errorf("Severity = %s", alert.Severity)
	}
}
