package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Bar 一根 K 线（OHLCV）。
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// OhlcvSeries 单个标的的 K 线序列，按时间升序且时间戳不重复。
// 构造后只读；更新时整体替换。
type OhlcvSeries struct {
	Instrument InstrumentKey `json:"instrument"`
	Period     string        `json:"period"`
	Bars       []Bar         `json:"bars"`
}

// SeriesKey 同一标的不同周期的序列互不比较，分开存放。
type SeriesKey struct {
	Instrument InstrumentKey
	Period     string
}

func (k SeriesKey) String() string { return string(k.Instrument) + "|" + k.Period }

// MarshalText 作为 JSON 映射键输出 "标的|周期"。
func (k SeriesKey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *SeriesKey) UnmarshalText(b []byte) error {
	inst, period, ok := strings.Cut(string(b), "|")
	if !ok || inst == "" || period == "" {
		return fmt.Errorf("invalid series key %q", b)
	}
	*k = SeriesKey{Instrument: InstrumentKey(inst), Period: period}
	return nil
}

// Key 序列所属的键。
func (s OhlcvSeries) Key() SeriesKey {
	return SeriesKey{Instrument: s.Instrument, Period: s.Period}
}

// NewOhlcvSeries 排序并去重（同一时间戳保留最后出现的一根）。
func NewOhlcvSeries(instrument InstrumentKey, period string, bars []Bar) OhlcvSeries {
	sorted := make([]Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	out := make([]Bar, 0, len(sorted))
	for _, b := range sorted {
		if n := len(out); n > 0 && out[n-1].Time.Equal(b.Time) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return OhlcvSeries{Instrument: instrument, Period: period, Bars: out}
}

// Len 返回 K 线数量。
func (s OhlcvSeries) Len() int { return len(s.Bars) }

// LastTime 返回最后一根 K 线的时间；序列为空时 ok=false。
func (s OhlcvSeries) LastTime() (time.Time, bool) {
	if len(s.Bars) == 0 {
		return time.Time{}, false
	}
	return s.Bars[len(s.Bars)-1].Time, true
}

// Last 返回最后一根 K 线。
func (s OhlcvSeries) Last() (Bar, bool) {
	if len(s.Bars) == 0 {
		return Bar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

// Volumes 返回 (时间, 成交量) 序列，供成交量柱状图使用。
func (s OhlcvSeries) Volumes() [][2]float64 {
	out := make([][2]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = [2]float64{float64(b.Time.UnixMilli()), b.Volume}
	}
	return out
}

// NewerThan 判断 s 的最后时间戳是否严格晚于 other。
// 空序列永远不比其它序列新；非空序列比空序列新。
func (s OhlcvSeries) NewerThan(other OhlcvSeries) bool {
	last, ok := s.LastTime()
	if !ok {
		return false
	}
	prev, ok := other.LastTime()
	if !ok {
		return true
	}
	return last.After(prev)
}
