package cache

import (
	"testing"
	"time"

	"github.com/signalsfoundry/tle-fetcher/model"
	"github.com/signalsfoundry/tle-fetcher/timectrl"
	"github.com/signalsfoundry/tle-fetcher/tle"
)

var t0 = time.Date(2024, time.June, 5, 12, 0, 0, 0, time.UTC)

func entry(id, line1 string, fetched time.Time) model.CacheEntry {
	return model.CacheEntry{
		Record:    tle.Record{NoradID: id, Line1: line1, Line2: "2 " + id},
		FetchedAt: fetched,
		Source:    "test",
	}
}

func newCache(t *testing.T, clk timectrl.Clock) *Cache {
	t.Helper()
	c, err := New(0, clk)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestGetRespectsTTL(t *testing.T) {
	clk := timectrl.NewManual(t0)
	c := newCache(t, clk)
	c.Set(entry("25544", "1 a", t0))

	if _, ok := c.Get("25544", time.Hour, false); !ok {
		t.Fatalf("fresh entry withheld")
	}

	clk.Advance(2 * time.Hour)
	if _, ok := c.Get("25544", time.Hour, false); ok {
		t.Fatalf("stale entry returned without allowStale")
	}
	e, ok := c.Get("25544", time.Hour, true)
	if !ok {
		t.Fatalf("stale entry withheld with allowStale")
	}
	if !c.IsStale(e, time.Hour) {
		t.Fatalf("IsStale = false for 2h old entry with 1h ttl")
	}
	if _, ok := c.Get("25544", model.NoTTL, false); !ok {
		t.Fatalf("NoTTL lookup withheld entry")
	}
}

func TestSetOverwrites(t *testing.T) {
	c := newCache(t, timectrl.NewManual(t0))
	c.Set(entry("25544", "1 old", t0))
	c.Set(entry("25544", "1 new", t0.Add(time.Minute)))

	e, ok := c.Get("25544", model.NoTTL, false)
	if !ok || e.Record.Line1 != "1 new" {
		t.Fatalf("Get = %+v, %v; want latest write", e, ok)
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
}

func TestDeleteAndClear(t *testing.T) {
	c := newCache(t, timectrl.NewManual(t0))
	c.Set(entry("1", "1 a", t0))
	c.Set(entry("2", "1 b", t0))

	c.Delete("1")
	c.Delete("missing")
	if _, ok := c.Get("1", model.NoTTL, false); ok {
		t.Fatalf("deleted entry still present")
	}
	if got := c.IDs(); len(got) != 1 || got[0] != "2" {
		t.Fatalf("IDs = %v, want [2]", got)
	}

	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("Len after Clear = %d", c.Len())
	}
}

func TestBoundedSizeEvictsLeastRecent(t *testing.T) {
	c, err := New(2, timectrl.NewManual(t0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Set(entry("1", "1 a", t0))
	c.Set(entry("2", "1 b", t0))
	c.Get("1", model.NoTTL, false)
	c.Set(entry("3", "1 c", t0))

	if _, ok := c.Get("2", model.NoTTL, false); ok {
		t.Fatalf("least recently used entry not evicted")
	}
	if _, ok := c.Get("1", model.NoTTL, false); !ok {
		t.Fatalf("recently used entry evicted")
	}
}
