package market

import (
	"sort"
	"time"
)

// Level 一个价位档。
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBookSnapshot 某标的的全量深度快照：bids 价格降序，asks 价格升序。
// 新快照整体替换旧快照，不做增量合并。
type OrderBookSnapshot struct {
	Instrument InstrumentKey `json:"instrument"`
	Bids       []Level       `json:"bids"`
	Asks       []Level       `json:"asks"`
	ReceivedAt time.Time     `json:"receivedAt"`
}

// NewOrderBookSnapshot 过滤无效档位（价格或数量 <= 0），同价位合并，并按方向排序。
func NewOrderBookSnapshot(instrument InstrumentKey, bids, asks []Level) OrderBookSnapshot {
	return OrderBookSnapshot{
		Instrument: instrument,
		Bids:       normalizeLevels(bids, true),
		Asks:       normalizeLevels(asks, false),
	}
}

func normalizeLevels(levels []Level, desc bool) []Level {
	byPrice := make(map[float64]float64, len(levels))
	for _, l := range levels {
		if l.Price <= 0 || l.Size <= 0 {
			continue
		}
		byPrice[l.Price] += l.Size
	}
	out := make([]Level, 0, len(byPrice))
	for p, q := range byPrice {
		out = append(out, Level{Price: p, Size: q})
	}
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}

// Best 返回最好买/卖价；若不存在则为 0。
func (ob OrderBookSnapshot) Best() (bestBid float64, bestAsk float64) {
	if len(ob.Bids) > 0 {
		bestBid = ob.Bids[0].Price
	}
	if len(ob.Asks) > 0 {
		bestAsk = ob.Asks[0].Price
	}
	return bestBid, bestAsk
}

// Mid 返回中间价；若缺失任一侧返回 0。
func (ob OrderBookSnapshot) Mid() float64 {
	bid, ask := ob.Best()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Empty 两侧均无档位。
func (ob OrderBookSnapshot) Empty() bool {
	return len(ob.Bids) == 0 && len(ob.Asks) == 0
}

// Age 返回快照距 now 的时长，供前端显示数据陈旧度。
func (ob OrderBookSnapshot) Age(now time.Time) time.Duration {
	if ob.ReceivedAt.IsZero() {
		return 0
	}
	return now.Sub(ob.ReceivedAt)
}
