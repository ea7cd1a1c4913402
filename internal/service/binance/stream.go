package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"FinScreen/internal/domain/models"
	drepo "FinScreen/internal/domain/repository"
	applogger "FinScreen/pkg/logger"
	"FinScreen/pkg/util"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const DefaultStreamsPerConn = 200

// StreamConfig configures the futures trade stream.
type StreamConfig struct {
	URL            string // e.g. wss://fstream.binance.com/stream
	StreamsPerConn int
	DialTimeout    time.Duration
	ReadTimeout    time.Duration // no frame for this long ends the session
	PingInterval   time.Duration
}

// Stream implements FeedProvider over Binance combined `<symbol>@trade`
// streams. Large universes are split across several connections; the
// session ends as a whole when any of them fails.
type Stream struct {
	cfg    StreamConfig
	dialer *websocket.Dialer
	log    *applogger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStream creates a new Binance trade stream.
func NewStream(cfg StreamConfig, log *applogger.Logger) drepo.FeedProvider {
	if cfg.StreamsPerConn <= 0 {
		cfg.StreamsPerConn = DefaultStreamsPerConn
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 15 * time.Second
	}
	return &Stream{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		log:    log.With(applogger.Component("binance_stream")),
	}
}

// Subscribe opens one session for instruments. Any previous session is closed first.
func (s *Stream) Subscribe(ctx context.Context, instruments []string) (<-chan models.FeedMessage, error) {
	if len(instruments) == 0 {
		return nil, fmt.Errorf("%w: empty instrument list", models.ErrConfiguration)
	}
	_ = s.Unsubscribe()

	sessCtx, cancel := context.WithCancel(ctx)
	chunks := chunk(instruments, s.cfg.StreamsPerConn)
	conns := make([]*websocket.Conn, 0, len(chunks))
	for _, c := range chunks {
		conn, err := s.dial(sessCtx, c)
		if err != nil {
			cancel()
			for _, open := range conns {
				_ = open.Close()
			}
			return nil, err
		}
		conns = append(conns, conn)
	}

	out := make(chan models.FeedMessage, 1024)
	done := make(chan struct{})
	var wg sync.WaitGroup
	var once sync.Once
	fail := func(err error) {
		once.Do(func() {
			select {
			case out <- models.FeedMessage{Err: err}:
			case <-sessCtx.Done():
			}
			cancel()
		})
	}

	for _, conn := range conns {
		wg.Add(2)
		go func(conn *websocket.Conn) {
			defer wg.Done()
			s.readLoop(sessCtx, conn, out, fail)
		}(conn)
		go func(conn *websocket.Conn) {
			defer wg.Done()
			s.pingLoop(sessCtx, conn)
		}(conn)
	}
	go func() {
		wg.Wait()
		close(out)
		close(done)
	}()

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.log.Info("subscribed",
		applogger.Int("instruments", len(instruments)),
		applogger.Int("connections", len(conns)),
	)
	return out, nil
}

// Unsubscribe closes the current session and waits for its readers to exit.
func (s *Stream) Unsubscribe() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (s *Stream) dial(ctx context.Context, symbols []string) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()

	u, err := streamURL(s.cfg.URL, symbols)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConfiguration, err)
	}
	conn, _, err := s.dialer.DialContext(dialCtx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: binance dial: %v", models.ErrTransport, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	return conn, nil
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- models.FeedMessage, fail func(error)) {
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				fail(fmt.Errorf("%w: binance read: %v", models.ErrTransport, err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		msg, ok := decodeFrame(b)
		if !ok {
			continue
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.DialTimeout)); err != nil {
				s.log.Debug("ping failed", applogger.Error(err))
			}
		}
	}
}

type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Binance reuses letters in both cases ("e"/"E", "t"/"T"). Every key gets an
// exact tag so case-insensitive matching never routes one into the other.
type tradePayload struct {
	Event     string          `json:"e"`
	EventTime int64           `json:"E"`
	Symbol    string          `json:"s"`
	TradeID   int64           `json:"t"`
	Price     decimal.Decimal `json:"p"`
	Quantity  decimal.Decimal `json:"q"`
	Time      int64           `json:"T"` // trade time, ms
	Maker     bool            `json:"m"`
	Ignore    bool            `json:"M"`
	OrderType string          `json:"X"`
}

// decodeFrame turns one websocket frame into a feed message. Frames that are
// not trades (subscription acks, other events) are skipped.
func decodeFrame(b []byte) (models.FeedMessage, bool) {
	var f combinedFrame
	if err := json.Unmarshal(b, &f); err != nil {
		return models.FeedMessage{Err: fmt.Errorf("%w: frame: %v", models.ErrParse, err)}, true
	}
	if len(f.Data) == 0 || !strings.HasSuffix(f.Stream, "@trade") {
		return models.FeedMessage{}, false
	}

	var p tradePayload
	if err := json.Unmarshal(f.Data, &p); err != nil {
		return models.FeedMessage{Err: fmt.Errorf("%w: trade %s: %v", models.ErrParse, f.Stream, err)}, true
	}
	if p.Event != "" && p.Event != "trade" {
		return models.FeedMessage{}, false
	}
	if p.Symbol == "" || p.Time <= 0 {
		return models.FeedMessage{Err: fmt.Errorf("%w: trade %s: missing symbol or time", models.ErrParse, f.Stream)}, true
	}
	return models.FeedMessage{Trade: models.TradeEvent{
		Symbol:    p.Symbol,
		Price:     p.Price,
		Quantity:  p.Quantity,
		EventTime: util.FromUnixMilli(p.Time),
	}}, true
}

func streamURL(base string, symbols []string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	names := make([]string, len(symbols))
	for i, s := range symbols {
		names[i] = strings.ToLower(s) + "@trade"
	}
	// '/' and '@' must stay literal in the streams parameter
	u.RawQuery = "streams=" + strings.Join(names, "/")
	return u.String(), nil
}

func chunk(in []string, size int) [][]string {
	var out [][]string
	for size < len(in) {
		in, out = in[size:], append(out, in[:size])
	}
	return append(out, in)
}
