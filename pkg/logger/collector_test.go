package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func TestCollectorFoldsRepeatedErrors(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Topic: "logs", Publisher: pub})
	defer c.Close()

	for i := 0; i < 5; i++ {
		c.AddLog("error", "feed read failed", map[string]interface{}{"attempt": i}, "stream.go:10")
	}
	c.AddLog("error", "rate fetch failed", nil, "rates.go:20")
	c.Flush()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.topic != "logs" || len(pub.batches) != 1 {
		t.Fatalf("expected one batch on logs, got %d on %q", len(pub.batches), pub.topic)
	}
	batch := pub.batches[0]
	if len(batch) != 2 {
		t.Fatalf("expected 2 aggregated entries, got %d", len(batch))
	}
	if batch[0].Message != "feed read failed" || batch[0].Count != 5 {
		t.Fatalf("unexpected first entry %+v", batch[0])
	}
}

func TestLoggerErrorFeedsCollector(t *testing.T) {
	pub := &capturePublisher{}
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Publisher: pub})

	l.With(Component("test")).Error("boom", Error(errors.New("x")))
	l.Info("ignored")
	l.RemoveCollector()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.batches) != 1 || len(pub.batches[0]) != 1 || pub.batches[0][0].Fields["error"] != "x" {
		t.Fatalf("unexpected batches %+v", pub.batches)
	}
}
