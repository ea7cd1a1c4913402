package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublishBatchEncodesValues(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "gzip")

	err := p.PublishBatch(context.Background(), "matches", []Message{
		{Key: []byte("BTCUSDT"), Value: map[string]string{"symbol": "BTCUSDT"}},
		{Key: []byte("ETHUSDT"), Value: "raw"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(w.msgs))
	}
	var decoded map[string]string
	if err := json.Unmarshal(w.msgs[0].Value, &decoded); err != nil || decoded["symbol"] != "BTCUSDT" {
		t.Fatalf("unexpected payload %s", w.msgs[0].Value)
	}
	if string(w.msgs[1].Value) != "raw" || w.msgs[1].Topic != "matches" {
		t.Fatalf("unexpected message %+v", w.msgs[1])
	}
}

func TestPublishWrapsWriterError(t *testing.T) {
	boom := errors.New("boom")
	p := NewProducerWithWriter(&fakeWriter{err: boom}, "gzip")
	if err := p.PublishMessage(context.Background(), "logs", "x"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
