package usecase

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"FinScreen/internal/domain/models"
	drepo "FinScreen/internal/domain/repository"
	applogger "FinScreen/pkg/logger"
	"FinScreen/pkg/util"
)

type CatalogConfig struct {
	Symbols         []string // static override; the source is never called when set
	RefreshInterval time.Duration
}

// SymbolCatalog resolves the instrument universe and notifies listeners when
// it changes.
type SymbolCatalog struct {
	source drepo.SymbolSource
	log    *applogger.Logger
	cfg    CatalogConfig

	mu          sync.RWMutex
	symbols     []string
	instruments []models.Instrument
	loadedAt    time.Time
	listeners   []func([]string)
}

func NewSymbolCatalog(source drepo.SymbolSource, log *applogger.Logger, cfg CatalogConfig) *SymbolCatalog {
	cfg.Symbols = util.NormalizeSymbols(cfg.Symbols)
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Hour
	}
	return &SymbolCatalog{
		source: source,
		log:    log.With(applogger.Component("catalog")),
		cfg:    cfg,
	}
}

// Static reports whether the universe comes from configuration.
func (c *SymbolCatalog) Static() bool { return len(c.cfg.Symbols) > 0 }

// Load resolves the universe once. It reports whether the set changed.
func (c *SymbolCatalog) Load(ctx context.Context) (bool, error) {
	var (
		symbols     []string
		instruments []models.Instrument
	)
	if c.Static() {
		symbols = c.cfg.Symbols
		for _, s := range symbols {
			instruments = append(instruments, models.Instrument{Symbol: s})
		}
	} else {
		if c.source == nil {
			return false, fmt.Errorf("%w: no symbol source and no static symbols", models.ErrConfiguration)
		}
		list, err := c.source.FetchInstruments(ctx)
		if err != nil {
			return false, fmt.Errorf("load symbols: %w", err)
		}
		instruments = list
		for _, in := range list {
			symbols = append(symbols, in.Symbol)
		}
		symbols = util.NormalizeSymbols(symbols)
	}
	if len(symbols) == 0 {
		return false, fmt.Errorf("%w: empty instrument universe", models.ErrConfiguration)
	}

	c.mu.Lock()
	changed := !slices.Equal(c.symbols, symbols)
	c.symbols = symbols
	c.instruments = instruments
	c.loadedAt = time.Now().UTC()
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	if changed {
		c.log.Info("universe loaded", applogger.Int("instruments", len(symbols)), applogger.Bool("static", c.Static()))
		for _, fn := range listeners {
			fn(append([]string(nil), symbols...))
		}
	}
	return changed, nil
}

// OnChange registers fn to receive the new universe after every change.
func (c *SymbolCatalog) OnChange(fn func([]string)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *SymbolCatalog) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.symbols...)
}

func (c *SymbolCatalog) Instruments() []models.Instrument {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Instrument(nil), c.instruments...)
}

func (c *SymbolCatalog) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}

// Run refreshes the universe periodically. A failed refresh keeps the
// previous universe.
func (c *SymbolCatalog) Run(ctx context.Context) error {
	if c.Static() {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.Load(ctx); err != nil && ctx.Err() == nil {
				c.log.Warn("universe refresh failed, keeping previous", applogger.Error(err))
			}
		}
	}
}
