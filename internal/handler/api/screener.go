package api

import (
	"errors"
	"net/http"
	"time"

	"FinScreen/internal/domain/models"
	"FinScreen/internal/usecase"
	xhttp "FinScreen/pkg/http"
	"FinScreen/pkg/http/middleware"
	xlogger "FinScreen/pkg/logger"

	"github.com/labstack/echo/v4"
)

type MatchQuerier interface {
	Query(collection, search string, page, pageSize int) (usecase.Page, error)
}

type RuleStore interface {
	Rule() models.Rule
	SetRule(models.Rule) error
}

type StatusReporter interface {
	Status() usecase.Status
}

type SymbolLister interface {
	Symbols() []string
}

// ScreenerHandler serves the match views, the active rule and pipeline status.
type ScreenerHandler struct {
	logger          *xlogger.Logger
	matches         MatchQuerier
	rules           RuleStore
	status          StatusReporter
	symbols         SymbolLister
	limiter         *middleware.Limiter
	defaultCurrency string
}

func NewScreenerHandler(
	logger *xlogger.Logger,
	matches MatchQuerier,
	rules RuleStore,
	status StatusReporter,
	symbols SymbolLister,
	limiter *middleware.Limiter,
	defaultCurrency string,
) *ScreenerHandler {
	return &ScreenerHandler{
		logger:          logger,
		matches:         matches,
		rules:           rules,
		status:          status,
		symbols:         symbols,
		limiter:         limiter,
		defaultCurrency: defaultCurrency,
	}
}

func (h *ScreenerHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.GET("/matches/:collection", h.Matches)
	g.GET("/rule", h.GetRule)
	if h.limiter != nil {
		g.PUT("/rule", h.PutRule, middleware.RateLimit(h.limiter))
	} else {
		g.PUT("/rule", h.PutRule)
	}
	g.GET("/status", h.Status)
	g.GET("/symbols", h.Symbols)
}

type matchesResponse struct {
	xhttp.PageDataResponse
	Collection  string     `json:"collection"`
	WindowStart *time.Time `json:"window_start,omitempty"`
	Gap         bool       `json:"gap"`
}

func (h *ScreenerHandler) Matches(c echo.Context) error {
	req := &models.MatchesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	page, err := h.matches.Query(req.Collection, req.Search, req.Page, req.PageSize)
	if err != nil {
		return h.fail(c, "matches", err)
	}
	resp := matchesResponse{
		PageDataResponse: xhttp.PageDataResponse{
			Rows:     page.Items,
			Total:    page.Total,
			Page:     page.Page,
			PageSize: page.PageSize,
			Pages:    page.Pages,
		},
		Collection: page.Collection,
		Gap:        page.Gap,
	}
	if !page.WindowStart.IsZero() {
		ws := page.WindowStart
		resp.WindowStart = &ws
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, resp)
}

func (h *ScreenerHandler) GetRule(c echo.Context) error {
	return xhttp.SuccessResponse(c, models.SpecOf(h.rules.Rule()))
}

func (h *ScreenerHandler) PutRule(c echo.Context) error {
	req := &models.RuleRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	lookback := models.DefaultLookbackDays
	if cur, ok := h.rules.Rule().(models.VolumeMultipleRule); ok {
		lookback = cur.LookbackDays
	}
	spec, err := req.Spec(lookback, h.defaultCurrency)
	if err != nil {
		return h.fail(c, "rule", err)
	}
	rule, err := spec.Build()
	if err != nil {
		return h.fail(c, "rule", err)
	}
	if err := h.rules.SetRule(rule); err != nil {
		return h.fail(c, "rule", err)
	}
	return xhttp.SuccessResponse(c, models.SpecOf(rule))
}

func (h *ScreenerHandler) Status(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.status.Status())
}

func (h *ScreenerHandler) Symbols(c echo.Context) error {
	symbols := h.symbols.Symbols()
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"symbols": symbols,
		"count":   len(symbols),
	})
}

func (h *ScreenerHandler) fail(c echo.Context, op string, err error) error {
	if errors.Is(err, models.ErrConfiguration) {
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_INVALID", "", err.Error(), http.StatusBadRequest).WithError(err))
	}
	h.logger.Error(op+" usecase error", xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.InternalError("Something went wrong").WithError(err))
}
