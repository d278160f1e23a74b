package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"market_maker/internal/core"
)

type sentAlert struct {
	level   core.AlertLevel
	title   string
	message string
	fields  map[string]string
}

type mockSink struct {
	name string
	sent []sentAlert
	mu   sync.Mutex
}

func (m *mockSink) Name() string { return m.name }

func (m *mockSink) Send(ctx context.Context, level core.AlertLevel, title, message string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentAlert{level, title, message, fields})
	return nil
}

func (m *mockSink) getSent() []sentAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]sentAlert, len(m.sent))
	copy(res, m.sent)
	return res
}

func TestServiceFansOutToAllRegisteredSinks(t *testing.T) {
	svc := NewService(core.AlertInfo, nil)
	s1 := &mockSink{name: "s1"}
	s2 := &mockSink{name: "s2"}
	svc.AddSink(s1)
	svc.AddSink(s2)

	_ = svc.Send(context.Background(), core.AlertInfo, "Test Alert", "body", map[string]string{"key": "value"})

	time.Sleep(50 * time.Millisecond)

	if len(s1.getSent()) != 1 || len(s2.getSent()) != 1 {
		t.Fatalf("expected both sinks to receive one alert, got %d and %d", len(s1.getSent()), len(s2.getSent()))
	}
	got := s1.getSent()[0]
	if got.title != "Test Alert" || got.level != core.AlertInfo || got.fields["key"] != "value" {
		t.Fatalf("unexpected alert payload: %+v", got)
	}
}

func TestServiceDropsAlertsBelowMinSeverity(t *testing.T) {
	svc := NewService(core.AlertError, nil)
	sink := &mockSink{name: "s1"}
	svc.AddSink(sink)

	_ = svc.Send(context.Background(), core.AlertWarning, "low severity", "body", nil)
	time.Sleep(50 * time.Millisecond)

	if len(sink.getSent()) != 0 {
		t.Fatalf("expected WARNING to be dropped under ERROR threshold, got %d deliveries", len(sink.getSent()))
	}

	_ = svc.Send(context.Background(), core.AlertCritical, "high severity", "body", nil)
	time.Sleep(50 * time.Millisecond)
	if len(sink.getSent()) != 1 {
		t.Fatalf("expected CRITICAL to pass ERROR threshold, got %d deliveries", len(sink.getSent()))
	}
}

func TestNewServiceDefaultsUnrecognizedSeverityToInfo(t *testing.T) {
	svc := NewService(core.AlertLevel("bogus"), nil)
	sink := &mockSink{name: "s1"}
	svc.AddSink(sink)

	_ = svc.Send(context.Background(), core.AlertInfo, "t", "m", nil)
	time.Sleep(50 * time.Millisecond)
	if len(sink.getSent()) != 1 {
		t.Fatalf("expected INFO to pass through default threshold, got %d deliveries", len(sink.getSent()))
	}
}

func TestSlackSinkNoopWithoutWebhookURL(t *testing.T) {
	s := NewSlackSink("")
	if err := s.Send(context.Background(), core.AlertInfo, "t", "m", nil); err != nil {
		t.Fatalf("expected no-op success, got %v", err)
	}
}

func TestTelegramSinkNoopWithoutCredentials(t *testing.T) {
	s := NewTelegramSink("", "")
	if err := s.Send(context.Background(), core.AlertInfo, "t", "m", nil); err != nil {
		t.Fatalf("expected no-op success, got %v", err)
	}
}
