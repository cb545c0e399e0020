package timectrl

import (
	"testing"
	"time"
)

func TestManualSetTime(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	clk := NewManual(start)

	newNow := start.Add(42 * time.Second)
	clk.SetTime(newNow)

	if got := clk.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
}

func TestManualAfterAdvancesAndFires(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	clk := NewManual(start)

	fired := <-clk.After(1500 * time.Millisecond)
	expected := start.Add(1500 * time.Millisecond)
	if !fired.Equal(expected) {
		t.Fatalf("After fired at %v, want %v", fired, expected)
	}
	if got := clk.Now(); !got.Equal(expected) {
		t.Fatalf("Now() = %v, want %v", got, expected)
	}

	clk.Advance(time.Second)
	<-clk.After(0)
	waits := clk.Waits()
	if len(waits) != 2 || waits[0] != 1500*time.Millisecond || waits[1] != 0 {
		t.Fatalf("Waits() = %v", waits)
	}
	if got := clk.Now(); !got.Equal(expected.Add(time.Second)) {
		t.Fatalf("Now() = %v after Advance", got)
	}
}

func TestRealClockAfter(t *testing.T) {
	clk := Real()
	before := clk.Now()
	<-clk.After(5 * time.Millisecond)
	if elapsed := clk.Now().Sub(before); elapsed < 5*time.Millisecond {
		t.Fatalf("elapsed = %v, want >= 5ms", elapsed)
	}
}
