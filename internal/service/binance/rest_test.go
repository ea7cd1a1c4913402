package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"FinScreen/internal/domain/models"
	xhttp "FinScreen/pkg/http"
)

func TestFetchInstrumentsFiltersPerpetual(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != exchangeInfoPath {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"symbols":[
			{"symbol":"ETHUSDT","status":"TRADING","contractType":"PERPETUAL","baseAsset":"ETH","quoteAsset":"USDT"},
			{"symbol":"BTCUSDT_240628","status":"TRADING","contractType":"CURRENT_QUARTER","baseAsset":"BTC","quoteAsset":"USDT"},
			{"symbol":"BTCUSDT","status":"TRADING","contractType":"PERPETUAL","baseAsset":"BTC","quoteAsset":"USDT"},
			{"symbol":"XYZUSDT","status":"SETTLING","contractType":"PERPETUAL","baseAsset":"XYZ","quoteAsset":"USDT"},
			{"symbol":"BTCUSDC","status":"TRADING","contractType":"PERPETUAL","baseAsset":"BTC","quoteAsset":"USDC"}
		]}`)
	}))
	defer srv.Close()

	r := NewREST(RESTConfig{BaseURL: srv.URL, QuoteAsset: "usdt"}, xhttp.NewClient())
	got, err := r.FetchInstruments(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 2 || got[0].Symbol != "BTCUSDT" || got[1].Symbol != "ETHUSDT" {
		t.Fatalf("unexpected instruments %+v", got)
	}

	r = NewREST(RESTConfig{BaseURL: srv.URL, MaxSymbols: 1}, xhttp.NewClient())
	got, _ = r.FetchInstruments(context.Background())
	if len(got) != 1 || got[0].Symbol != "BTCUSDC" {
		t.Fatalf("expected cap to keep first sorted symbol, got %+v", got)
	}
}

func TestFetchBarsParsesVolume(t *testing.T) {
	var gotInterval string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotInterval = r.URL.Query().Get("interval")
		fmt.Fprint(w, `[
			[1700000000000,"1","2","0.5","1.5","120.5",1700003599999,"0",10,"0","0","0"],
			[1700003600000,"1","2","0.5","1.5","79.5",1700007199999,"0",10,"0","0","0"]
		]`)
	}))
	defer srv.Close()

	r := NewREST(RESTConfig{BaseURL: srv.URL, KlineInterval: "bogus"}, xhttp.NewClient())
	end := time.UnixMilli(1700007200000)
	bars, err := r.FetchBars(context.Background(), "BTCUSDT", end.Add(-2*time.Hour), end)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotInterval != "1h" {
		t.Fatalf("expected fallback interval 1h, got %q", gotInterval)
	}
	if len(bars) != 2 || bars[0].Volume.Add(bars[1].Volume).String() != "200" {
		t.Fatalf("unexpected bars %+v", bars)
	}
}

func TestFetchBarsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1003,"msg":"Too many requests"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	r := NewREST(RESTConfig{BaseURL: srv.URL}, xhttp.NewClient())
	_, err := r.FetchBars(context.Background(), "BTCUSDT", time.Now().Add(-time.Hour), time.Now())
	if !errors.Is(err, models.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}
