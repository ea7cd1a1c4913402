package usecase

import (
	"context"
	"errors"
	"testing"

	"FinScreen/internal/domain/models"
	applogger "FinScreen/pkg/logger"
)

type fakeSymbols struct {
	list  []models.Instrument
	err   error
	calls int
}

func (f *fakeSymbols) FetchInstruments(context.Context) ([]models.Instrument, error) {
	f.calls++
	return f.list, f.err
}

func TestCatalogStaticOverride(t *testing.T) {
	src := &fakeSymbols{}
	c := NewSymbolCatalog(src, applogger.Nop(), CatalogConfig{Symbols: []string{"btcusdt", " ETHUSDT", "BTCUSDT"}})

	if _, err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if src.calls != 0 {
		t.Fatalf("source called with a static list")
	}
	got := c.Symbols()
	if len(got) != 2 || got[0] != "BTCUSDT" || got[1] != "ETHUSDT" {
		t.Fatalf("symbols = %v", got)
	}
}

func TestCatalogNotifiesOnChange(t *testing.T) {
	src := &fakeSymbols{list: []models.Instrument{{Symbol: "BTCUSDT"}, {Symbol: "ETHUSDT"}}}
	c := NewSymbolCatalog(src, applogger.Nop(), CatalogConfig{})

	var seen [][]string
	c.OnChange(func(s []string) { seen = append(seen, s) })

	for i := 0; i < 2; i++ {
		if _, err := c.Load(context.Background()); err != nil {
			t.Fatalf("Load: %v", err)
		}
	}
	if len(seen) != 1 {
		t.Fatalf("listener called %d times for one change", len(seen))
	}

	src.list = append(src.list, models.Instrument{Symbol: "SOLUSDT"})
	changed, err := c.Load(context.Background())
	if err != nil || !changed || len(seen) != 2 || len(seen[1]) != 3 {
		t.Fatalf("change not propagated: changed=%v err=%v seen=%v", changed, err, seen)
	}
}

func TestCatalogFailureKeepsPrevious(t *testing.T) {
	src := &fakeSymbols{list: []models.Instrument{{Symbol: "BTCUSDT"}}}
	c := NewSymbolCatalog(src, applogger.Nop(), CatalogConfig{})
	if _, err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	loaded := c.LoadedAt()
	if loaded.IsZero() {
		t.Fatalf("load time not recorded")
	}

	src.err = models.ErrTransport
	if _, err := c.Load(context.Background()); !errors.Is(err, models.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if got := c.Symbols(); len(got) != 1 {
		t.Fatalf("previous universe lost: %v", got)
	}
	if !c.LoadedAt().Equal(loaded) {
		t.Fatalf("failed refresh must not move the load time")
	}

	src.err, src.list = nil, nil
	if _, err := c.Load(context.Background()); !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("empty universe should be a configuration error, got %v", err)
	}
}
