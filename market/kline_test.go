package market

import (
	"testing"
	"time"
)

func TestNewOhlcvSeriesSortsAndDedupes(t *testing.T) {
	t0 := time.Unix(100, 0)
	s := NewOhlcvSeries("BTC/USD", "1h", []Bar{
		{Time: t0.Add(2 * time.Hour), Close: 3},
		{Time: t0, Close: 1},
		{Time: t0.Add(time.Hour), Close: 2},
		{Time: t0.Add(time.Hour), Close: 2.5},
	})
	if s.Len() != 3 {
		t.Fatalf("expected 3 bars, got %d", s.Len())
	}
	for i := 1; i < s.Len(); i++ {
		if !s.Bars[i].Time.After(s.Bars[i-1].Time) {
			t.Fatalf("bars not strictly ascending at %d", i)
		}
	}
	if s.Bars[1].Close != 2.5 {
		t.Fatalf("duplicate timestamp should keep last bar, got %.2f", s.Bars[1].Close)
	}
}

func TestOhlcvSeriesNewerThan(t *testing.T) {
	at := func(sec int64) OhlcvSeries {
		return NewOhlcvSeries("BTC/USD", "1h", []Bar{{Time: time.Unix(sec, 0)}})
	}
	empty := OhlcvSeries{}
	if !at(100).NewerThan(empty) {
		t.Fatalf("non-empty series should be newer than empty")
	}
	if empty.NewerThan(at(100)) || empty.NewerThan(empty) {
		t.Fatalf("empty series is never newer")
	}
	if at(90).NewerThan(at(100)) {
		t.Fatalf("older series reported newer")
	}
	if at(100).NewerThan(at(100)) {
		t.Fatalf("equal last timestamp is not newer")
	}
	if !at(110).NewerThan(at(100)) {
		t.Fatalf("newer series not detected")
	}
}

func TestOhlcvSeriesVolumes(t *testing.T) {
	s := NewOhlcvSeries("ETH/USD", "1d", []Bar{{Time: time.UnixMilli(5000), Volume: 7}})
	v := s.Volumes()
	if len(v) != 1 || v[0][0] != 5000 || v[0][1] != 7 {
		t.Fatalf("unexpected volumes %+v", v)
	}
}
