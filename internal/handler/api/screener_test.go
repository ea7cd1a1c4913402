package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"FinScreen/internal/domain/models"
	"FinScreen/internal/usecase"
	"FinScreen/pkg/http/middleware"
	xlogger "FinScreen/pkg/logger"
	"FinScreen/pkg/metrics"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noBaselines struct{}

func (noBaselines) Snapshot() map[string]models.Baseline { return nil }

type flatRate struct{}

func (flatRate) Rate(string) decimal.Decimal { return decimal.NewFromInt(83) }

type fixedStatus usecase.Status

func (s fixedStatus) Status() usecase.Status { return usecase.Status(s) }

type fixedSymbols []string

func (s fixedSymbols) Symbols() []string { return s }

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) (*echo.Echo, *usecase.ScreeningEngine) {
	t.Helper()
	window := time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)
	hist := usecase.NewHistoryStore(0)
	rule := models.ValueThresholdRule{Threshold: decimal.NewFromInt(1000), Currency: "INR"}
	engine := usecase.NewScreeningEngine(rule, noBaselines{}, flatRate{}, hist, nil, nil, metrics.Nop{}, xlogger.Nop(), usecase.ScreeningConfig{DisplayCurrency: "INR"})

	snaps := make([]models.WindowSnapshot, 0, 30)
	for _, s := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
		snaps = append(snaps, models.WindowSnapshot{
			Symbol:      s,
			WindowStart: window,
			WindowEnd:   window.Add(time.Minute),
			Volume:      decimal.NewFromInt(1),
			Notional:    decimal.NewFromInt(100),
		})
	}
	engine.Screen(t.Context(), models.WindowResult{WindowStart: window, WindowEnd: window.Add(time.Minute), Snapshots: snaps})

	q := usecase.NewQueryFacade(engine, hist, 50)
	status := fixedStatus{Connected: true, Instruments: 3}
	h := NewScreenerHandler(xlogger.Nop(), q, engine, status, fixedSymbols{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, middleware.NewLimiter(2, 0.001), "INR")

	e := echo.New()
	h.RegisterRoutes(e)
	return e, engine
}

func do(e *echo.Echo, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func TestMatchesCurrentSearchAndPage(t *testing.T) {
	e, _ := newTestServer(t)

	rec, env := do(e, http.MethodGet, "/api/v1/matches/current?search=eth&page=1&page_size=10", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Rows        []models.MatchRecord `json:"rows"`
		Total       int                  `json:"total"`
		Collection  string               `json:"collection"`
		WindowStart *time.Time           `json:"window_start"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, "ETHUSDT", page.Rows[0].Symbol)
	assert.True(t, page.Rows[0].Value.Equal(decimal.NewFromInt(8300)))
	assert.Equal(t, "current", page.Collection)
	require.NotNil(t, page.WindowStart)

	rec, env = do(e, http.MethodGet, "/api/v1/matches/history?page=2&page_size=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, "SOLUSDT", page.Rows[0].Symbol)
}

func TestMatchesUnknownCollection(t *testing.T) {
	e, _ := newTestServer(t)
	rec, _ := do(e, http.MethodGet, "/api/v1/matches/archive", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPutRule(t *testing.T) {
	e, engine := newTestServer(t)

	rec, env := do(e, http.MethodPut, "/api/v1/rule", `{"kind":"volume_multiple","multiplier":"12.5","lookback_days":7}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var spec models.RuleSpec
	require.NoError(t, json.Unmarshal(env.Data, &spec))
	assert.Equal(t, models.RuleVolumeMultiple, spec.Kind)
	assert.Equal(t, 7, spec.LookbackDays)

	got, ok := engine.Rule().(models.VolumeMultipleRule)
	require.True(t, ok)
	assert.True(t, got.Multiplier.Equal(decimal.RequireFromString("12.5")))

	rec, _ = do(e, http.MethodPut, "/api/v1/rule", `{"kind":"volume_multiple","multiplier":"-3"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, models.RuleVolumeMultiple, engine.Rule().Kind())

	// bucket of two is spent
	rec, _ = do(e, http.MethodPut, "/api/v1/rule", `{"kind":"value_threshold","threshold":"1"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestPutRuleValidation(t *testing.T) {
	e, _ := newTestServer(t)
	rec, env := do(e, http.MethodPut, "/api/v1/rule", `{"kind":"momentum"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, string(env.Data), "ERR_ONEOF")
}

func TestStatusAndSymbols(t *testing.T) {
	e, _ := newTestServer(t)

	rec, env := do(e, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st usecase.Status
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.True(t, st.Connected)
	assert.Equal(t, 3, st.Instruments)

	rec, env = do(e, http.MethodGet, "/api/v1/symbols", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"count":3`)

	rec, env = do(e, http.MethodGet, "/api/v1/rule", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"kind":"value_threshold"`)
}
