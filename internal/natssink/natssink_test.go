package natssink

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/tcp-relay/internal/sink"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject, data})
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSink_Subjects(t *testing.T) {
	pub := &fakePublisher{}
	s := New(pub, "edge", quietLogger())

	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	s.PublishLog(sink.LogEvent{ClientID: sink.ServerClientID, Level: sink.LevelInfo, Message: "up", ServerTime: now})
	s.PublishRelayMessage(sink.RelayMessage{ClientID: "10.0.0.1:5000", Text: "hi", Timestamp: now})
	s.PublishMetrics("agent-1", sink.SystemMetrics{CPUUsage: 3.5})

	want := []string{"edge.log", "edge.message", "edge.metrics"}
	if len(pub.msgs) != len(want) {
		t.Fatalf("published %d messages, want %d", len(pub.msgs), len(want))
	}
	for i, subj := range want {
		if pub.msgs[i].subject != subj {
			t.Errorf("message %d subject = %q, want %q", i, pub.msgs[i].subject, subj)
		}
	}

	var msg sink.RelayMessage
	if err := json.Unmarshal(pub.msgs[1].data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Text != "hi" || msg.ClientID != "10.0.0.1:5000" {
		t.Errorf("message = %+v", msg)
	}

	var raw map[string]any
	json.Unmarshal(pub.msgs[0].data, &raw)
	if raw["logLevel"] != "INFO" || raw["clientId"] != sink.ServerClientID {
		t.Errorf("log JSON = %v", raw)
	}

	if got := s.Stats().Published; got != 3 {
		t.Errorf("Published = %d, want 3", got)
	}
}

func TestSink_DefaultPrefix(t *testing.T) {
	s := New(&fakePublisher{}, "", quietLogger())
	if got := s.Subject("log"); got != "relay.log" {
		t.Errorf("Subject() = %q, want relay.log", got)
	}
}

func TestSink_FailuresSwallowed(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	s := New(pub, "relay", quietLogger())

	s.PublishLog(sink.LogEvent{Message: "x"})
	s.PublishRelayMessage(sink.RelayMessage{Text: "y"})

	stats := s.Stats()
	if stats.Failed != 2 || stats.Published != 0 {
		t.Errorf("Stats() = %+v, want 2 failed", stats)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on unowned connection = %v", err)
	}
}
