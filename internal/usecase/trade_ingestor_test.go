package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"FinScreen/internal/domain/models"
	mid "FinScreen/internal/middleware"
	applogger "FinScreen/pkg/logger"
	"FinScreen/pkg/metrics"
)

type fakeFeed struct {
	mu       sync.Mutex
	subs     [][]string
	failures []error
	sessions chan chan models.FeedMessage
}

func newFakeFeed(failures ...error) *fakeFeed {
	return &fakeFeed{failures: failures, sessions: make(chan chan models.FeedMessage, 8)}
}

func (f *fakeFeed) Subscribe(_ context.Context, instruments []string) (<-chan models.FeedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, append([]string(nil), instruments...))
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return nil, err
	}
	ch := make(chan models.FeedMessage, 16)
	f.sessions <- ch
	return ch, nil
}

func (f *fakeFeed) Unsubscribe() error { return nil }

func (f *fakeFeed) lastSub() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[len(f.subs)-1]
}

func (f *fakeFeed) next(t *testing.T) chan models.FeedMessage {
	t.Helper()
	select {
	case ch := <-f.sessions:
		return ch
	case <-time.After(2 * time.Second):
		t.Fatalf("no session opened")
		return nil
	}
}

func newTestIngestor(feed *fakeFeed) (*TradeIngestor, *GapTracker) {
	gaps := NewGapTracker(metrics.Nop{})
	buf := mid.NewTradeBuffer(64, metrics.Nop{})
	ing := NewTradeIngestor(feed, buf, gaps, metrics.Nop{}, applogger.Nop(), IngestorConfig{
		ReconnectMin: time.Millisecond,
		ReconnectMax: 5 * time.Millisecond,
	})
	return ing, gaps
}

func trade(symbol, price, qty string, at time.Time) models.TradeEvent {
	return models.TradeEvent{Symbol: symbol, Price: dec(price), Quantity: dec(qty), EventTime: at}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestIngestorReconnectsAndTracksGap(t *testing.T) {
	feed := newFakeFeed()
	ing, gaps := newTestIngestor(feed)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := ing.Start(ctx, []string{"btcusdt"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	s1 := feed.next(t)
	s1 <- models.FeedMessage{Trade: trade("BTCUSDT", "100", "1", testWindow)}
	s1 <- models.FeedMessage{Err: fmt.Errorf("%w: bad frame", models.ErrParse)}
	s1 <- models.FeedMessage{Err: fmt.Errorf("%w: connection reset", models.ErrTransport)}
	close(s1)

	select {
	case ev := <-events:
		if ev.Symbol != "BTCUSDT" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("trade not forwarded")
	}

	s2 := feed.next(t)
	waitFor(t, "gap close", func() bool {
		_, open := gaps.Current()
		return !open && gaps.Total() == 1
	})
	if ing.Stats().ParseErrors != 1 {
		t.Fatalf("parse errors = %d", ing.Stats().ParseErrors)
	}
	if recent := gaps.Recent(1); len(recent) != 1 || recent[0].Reason != "disconnected" {
		t.Fatalf("unexpected gap %+v", recent)
	}

	s2 <- models.FeedMessage{Trade: trade("BTCUSDT", "101", "2", testWindow)}
	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatalf("trade after reconnect not forwarded")
	}

	cancel()
	select {
	case <-ing.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("ingestor did not stop")
	}
	if _, ok := <-events; ok {
		t.Fatalf("stream should be closed")
	}
	if ing.Err() != nil {
		t.Fatalf("clean stop reported %v", ing.Err())
	}
}

func TestIngestorRetriesFailedConnect(t *testing.T) {
	refused := fmt.Errorf("%w: dial refused", models.ErrTransport)
	feed := newFakeFeed(refused, refused)
	ing, gaps := newTestIngestor(feed)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := ing.Start(ctx, []string{"BTCUSDT"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	feed.next(t)
	waitFor(t, "gap close", func() bool { return len(gaps.Recent(1)) == 1 })
	recent := gaps.Recent(1)
	if len(recent) != 1 || recent[0].Reason != "connect failed" {
		t.Fatalf("unexpected gaps %+v", recent)
	}
}

func TestIngestorResubscribe(t *testing.T) {
	feed := newFakeFeed()
	ing, _ := newTestIngestor(feed)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := ing.Start(ctx, []string{"BTCUSDT"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	feed.next(t)
	ing.SetInstruments([]string{"BTCUSDT", "ethusdt"})
	feed.next(t)

	got := feed.lastSub()
	if len(got) != 2 || got[1] != "ETHUSDT" {
		t.Fatalf("resubscribed with %v", got)
	}
}

func TestIngestorUnrecoverable(t *testing.T) {
	ing, _ := newTestIngestor(newFakeFeed())
	if _, err := ing.Start(context.Background(), nil); !errors.Is(err, models.ErrUnrecoverable) {
		t.Fatalf("expected unrecoverable error, got %v", err)
	}

	feed := newFakeFeed(fmt.Errorf("%w: no streams", models.ErrConfiguration))
	ing, _ = newTestIngestor(feed)
	events, err := ing.Start(context.Background(), []string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-ing.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("ingestor kept running")
	}
	if !errors.Is(ing.Err(), models.ErrUnrecoverable) {
		t.Fatalf("Err = %v", ing.Err())
	}
	if _, ok := <-events; ok {
		t.Fatalf("stream should be closed")
	}
}
