package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"veracity-soc/internal/alerting"
	"veracity-soc/internal/normalize"
	"veracity-soc/internal/schema"
	"veracity-soc/internal/scoring"
	"veracity-soc/internal/telemetry"
)

type fakeEntryWriter struct {
	mu      sync.Mutex
	entries []*schema.LogEntry
	err     error
}

func (f *fakeEntryWriter) Write(entry *schema.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

type fakeAppender struct {
	mu      sync.Mutex
	results []*schema.DetectionResult
	err     error
}

func (f *fakeAppender) Append(ctx context.Context, result *schema.DetectionResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.results = append(f.results, result)
	return nil
}

type fakeScorer struct {
	assessment schema.ThreatAssessment
}

func (f *fakeScorer) Score(ctx context.Context, entry *schema.LogEntry) schema.ThreatAssessment {
	return f.assessment
}

type fakeSink struct {
	mu     sync.Mutex
	alerts []*alerting.Alert
}

func (f *fakeSink) Dispatch(alert *alerting.Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
}

func newTestPipeline(t *testing.T, scorer threatScorer, entries *fakeEntryWriter, detections *fakeAppender, sink *fakeSink) *Pipeline {
	t.Helper()
	return New(
		normalize.NewNormalizer(normalize.DefaultNormalizerConfig()),
		schema.NewValidator(),
		scorer,
		scoring.DefaultThresholdPolicy(),
		entries,
		detections,
		sink,
		telemetry.NewMetricsWith(prometheus.NewRegistry()),
		slog.Default(),
	)
}

func rawEntry(t *testing.T, message, source, level string) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"id":       uuid.New().String(),
		"agent_id": "agent-1",
		"source":   source,
		"level":    level,
		"message":  message,
	})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestProcessThreatEndToEnd(t *testing.T) {
	entries := &fakeEntryWriter{}
	detections := &fakeAppender{}
	sink := &fakeSink{}
	scorer := &fakeScorer{assessment: schema.ThreatAssessment{
		ThreatScore:  0.8,
		ThreatType:   "attack_tool_usage",
		Indicators:   []string{"attack_tools:nmap"},
		Severity:     schema.SeverityHigh,
		AnalysisType: schema.AnalysisRuleBased,
	}}
	p := newTestPipeline(t, scorer, entries, detections, sink)

	err := p.Process(context.Background(), rawEntry(t, "nmap scan from 10.0.0.5", "security.auth", "error"))
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	if len(entries.entries) != 1 {
		t.Fatalf("wrote %d entries, want 1", len(entries.entries))
	}
	if len(detections.results) != 1 {
		t.Fatalf("appended %d detections, want 1", len(detections.results))
	}

	result := detections.results[0]
	if !result.ThreatDetected {
		t.Error("ThreatDetected = false, want true")
	}
	if result.ID != schema.DetectionID(result.LogEntryID) {
		t.Error("detection id is not derived from the log entry id")
	}
	if result.AgentID != "agent-1" {
		t.Errorf("AgentID = %q", result.AgentID)
	}

	if len(sink.alerts) != 1 {
		t.Fatalf("dispatched %d alerts, want 1", len(sink.alerts))
	}
	if sink.alerts[0].Message != "nmap scan from 10.0.0.5" {
		t.Errorf("alert message = %q", sink.alerts[0].Message)
	}
}

func TestProcessBenignSkipsAlert(t *testing.T) {
	entries := &fakeEntryWriter{}
	detections := &fakeAppender{}
	sink := &fakeSink{}
	scorer := &fakeScorer{assessment: schema.ThreatAssessment{
		ThreatScore:  0,
		ThreatType:   schema.ThreatTypeBenign,
		Indicators:   []string{},
		Severity:     schema.SeverityBenign,
		AnalysisType: schema.AnalysisRuleBased,
	}}
	p := newTestPipeline(t, scorer, entries, detections, sink)

	err := p.Process(context.Background(), rawEntry(t, "user logged in", "app.web", "info"))
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	// The negative verdict is still recorded so metrics can count it.
	if len(detections.results) != 1 {
		t.Fatalf("appended %d detections, want 1", len(detections.results))
	}
	if detections.results[0].ThreatDetected {
		t.Error("ThreatDetected = true for benign entry")
	}
	if len(sink.alerts) != 0 {
		t.Errorf("dispatched %d alerts, want 0", len(sink.alerts))
	}
}

func TestProcessMalformedDropped(t *testing.T) {
	entries := &fakeEntryWriter{}
	detections := &fakeAppender{}
	p := newTestPipeline(t, &fakeScorer{}, entries, detections, nil)

	cases := [][]byte{
		[]byte("not json"),
		[]byte(`{"agent_id": "a"}`),
		[]byte(`{"message": "x", "ip_address": "not-an-ip"}`),
	}
	for _, raw := range cases {
		if err := p.Process(context.Background(), raw); err != nil {
			t.Errorf("Process(%q) = %v, want nil (drop)", raw, err)
		}
	}

	if len(entries.entries) != 0 {
		t.Errorf("wrote %d entries, want 0", len(entries.entries))
	}
}

func TestProcessStorageFailurePropagates(t *testing.T) {
	wantErr := errors.New("clickhouse down")

	p := newTestPipeline(t, &fakeScorer{}, &fakeEntryWriter{err: wantErr}, &fakeAppender{}, nil)
	if err := p.Process(context.Background(), rawEntry(t, "hello", "app", "info")); !errors.Is(err, wantErr) {
		t.Errorf("entry write failure: got %v, want %v", err, wantErr)
	}

	p = newTestPipeline(t, &fakeScorer{}, &fakeEntryWriter{}, &fakeAppender{err: wantErr}, nil)
	if err := p.Process(context.Background(), rawEntry(t, "hello", "app", "info")); !errors.Is(err, wantErr) {
		t.Errorf("detection append failure: got %v, want %v", err, wantErr)
	}
}
