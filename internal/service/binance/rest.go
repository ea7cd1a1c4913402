package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"FinScreen/internal/domain/models"
	drepo "FinScreen/internal/domain/repository"
	xhttp "FinScreen/pkg/http"
	"FinScreen/pkg/util"

	"github.com/shopspring/decimal"
)

const (
	exchangeInfoPath = "/fapi/v1/exchangeInfo"
	klinesPath       = "/fapi/v1/klines"
	klinesPageLimit  = 1500
)

// RESTConfig configures the USDⓈ-M futures REST client.
type RESTConfig struct {
	BaseURL       string // e.g. https://fapi.binance.com
	QuoteAsset    string // empty keeps every quote asset
	MaxSymbols    int    // 0 keeps all
	KlineInterval string
}

// REST fetches the perpetual universe and historical klines.
type REST struct {
	cfg      RESTConfig
	http     *xhttp.Client
	interval time.Duration
}

var (
	_ drepo.SymbolSource = (*REST)(nil)
	_ drepo.BarsProvider = (*REST)(nil)
)

// NewREST creates a REST client. Unsupported kline intervals fall back to 1h.
func NewREST(cfg RESTConfig, client *xhttp.Client) *REST {
	tf := drepo.NormalizeTimeframe(cfg.KlineInterval)
	cfg.KlineInterval = string(tf)
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &REST{cfg: cfg, http: client, interval: tf.Duration()}
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol       string `json:"symbol"`
		Status       string `json:"status"`
		ContractType string `json:"contractType"`
		BaseAsset    string `json:"baseAsset"`
		QuoteAsset   string `json:"quoteAsset"`
	} `json:"symbols"`
}

// FetchInstruments returns trading PERPETUAL contracts sorted by symbol.
func (r *REST) FetchInstruments(ctx context.Context) ([]models.Instrument, error) {
	var info exchangeInfo
	err := r.http.SendAndParse(ctx, &xhttp.RequestOptions{URL: r.cfg.BaseURL + exchangeInfoPath}, &info)
	if err != nil {
		return nil, fmt.Errorf("%w: exchange info: %v", models.ErrTransport, err)
	}

	quote := strings.ToUpper(r.cfg.QuoteAsset)
	out := make([]models.Instrument, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.ContractType != "PERPETUAL" || s.Status != "TRADING" {
			continue
		}
		if quote != "" && s.QuoteAsset != quote {
			continue
		}
		out = append(out, models.Instrument{
			Symbol:       util.NormalizeSymbol(s.Symbol),
			BaseAsset:    s.BaseAsset,
			QuoteAsset:   s.QuoteAsset,
			ContractType: s.ContractType,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	if r.cfg.MaxSymbols > 0 && len(out) > r.cfg.MaxSymbols {
		out = out[:r.cfg.MaxSymbols]
	}
	return out, nil
}

// FetchBars returns klines opened in [start, end), paging through the
// endpoint's row limit.
func (r *REST) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]models.Bar, error) {
	var bars []models.Bar
	from := start.UnixMilli()
	to := end.UnixMilli() - 1

	for from <= to {
		var rows [][]json.RawMessage
		err := r.http.SendAndParse(ctx, &xhttp.RequestOptions{
			URL: r.cfg.BaseURL + klinesPath,
			QueryParams: map[string][]string{
				"symbol":    {symbol},
				"interval":  {r.cfg.KlineInterval},
				"startTime": {strconv.FormatInt(from, 10)},
				"endTime":   {strconv.FormatInt(to, 10)},
				"limit":     {strconv.Itoa(r.pageLimit(from, to))},
			},
		}, &rows)
		if err != nil {
			return nil, fmt.Errorf("%w: klines %s: %v", models.ErrTransport, symbol, err)
		}
		if len(rows) == 0 {
			break
		}

		var lastOpen int64
		for _, row := range rows {
			openTime, bar, err := parseKline(row)
			if err != nil {
				return nil, fmt.Errorf("%w: klines %s: %v", models.ErrParse, symbol, err)
			}
			lastOpen = openTime
			bars = append(bars, bar)
		}
		if len(rows) < r.pageLimit(from, to) {
			break
		}
		from = lastOpen + r.interval.Milliseconds()
	}
	return bars, nil
}

// pageLimit sizes the request to the expected row count; request weight grows with limit.
func (r *REST) pageLimit(from, to int64) int {
	n := int((to-from)/r.interval.Milliseconds()) + 1
	if n > klinesPageLimit {
		n = klinesPageLimit
	}
	return n
}

// parseKline reads [openTime, open, high, low, close, volume, closeTime, ...].
func parseKline(row []json.RawMessage) (int64, models.Bar, error) {
	if len(row) < 7 {
		return 0, models.Bar{}, fmt.Errorf("kline has %d fields", len(row))
	}
	var openTime, closeTime int64
	var volume decimal.Decimal
	if err := json.Unmarshal(row[0], &openTime); err != nil {
		return 0, models.Bar{}, fmt.Errorf("open time: %w", err)
	}
	if err := json.Unmarshal(row[5], &volume); err != nil {
		return 0, models.Bar{}, fmt.Errorf("volume: %w", err)
	}
	if err := json.Unmarshal(row[6], &closeTime); err != nil {
		return 0, models.Bar{}, fmt.Errorf("close time: %w", err)
	}
	return openTime, models.Bar{Volume: volume, CloseTime: util.FromUnixMilli(closeTime)}, nil
}
