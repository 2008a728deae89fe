package bus

import (
	"strings"

	"market-dashboard-go/internal/selection"
	"market-dashboard-go/internal/store"
	"market-dashboard-go/market"
)

// Topic 订阅主题位掩码。
type Topic uint8

const (
	TopicOhlcv Topic = 1 << iota
	TopicOrderBook
	TopicOrders
	TopicScreening
	// TopicScore 当前标的的筛选行（图表上的支撑/阻力线）。
	TopicScore
	// TopicSelection 任何选择变化都通知。
	TopicSelection
)

const AllTopics = TopicOhlcv | TopicOrderBook | TopicOrders | TopicScreening | TopicScore | TopicSelection

var topicNames = []struct {
	t    Topic
	name string
}{
	{TopicOhlcv, "ohlcv"},
	{TopicOrderBook, "orderBook"},
	{TopicOrders, "orders"},
	{TopicScreening, "screening"},
	{TopicScore, "score"},
	{TopicSelection, "selection"},
}

// Has 判断是否包含主题 x。
func (t Topic) Has(x Topic) bool { return t&x != 0 }

// Names 主题名列表。
func (t Topic) Names() []string {
	out := make([]string, 0, len(topicNames))
	for _, tn := range topicNames {
		if t.Has(tn.t) {
			out = append(out, tn.name)
		}
	}
	return out
}

func (t Topic) String() string { return strings.Join(t.Names(), "|") }

// ParseTopics 由名称解析主题；未知名称返回 ok=false。
func ParseTopics(names []string) (Topic, bool) {
	var t Topic
	for _, n := range names {
		found := false
		for _, tn := range topicNames {
			if strings.EqualFold(tn.name, n) {
				t |= tn.t
				found = true
				break
			}
		}
		if !found {
			return 0, false
		}
	}
	return t, true
}

// Interest 订阅者关心的切片。Instrument 为空表示跟随当前选中的标的。
type Interest struct {
	Topics     Topic
	Instrument market.InstrumentKey
	// AllInstruments 订单主题返回所有标的的订单。
	AllInstruments bool
	// Period K 线周期；订阅时由引擎补上默认周期。
	Period string
}

// Resolve 在给定选择下解析出实际关注的标的。
func (in Interest) Resolve(sel selection.Selection) market.InstrumentKey {
	if !in.Instrument.IsZero() {
		return in.Instrument
	}
	return sel.Instrument
}

// FollowsSelection 是否跟随选择切换标的。
func (in Interest) FollowsSelection() bool { return in.Instrument.IsZero() }

// matches 判断一条数据变更是否落在该订阅者的切片内。
func (in Interest) matches(ch store.Change, k market.InstrumentKey) bool {
	if ch.Empty() {
		return false
	}
	switch ch.Kind {
	case store.KindOhlcv:
		return in.Topics.Has(TopicOhlcv) && ch.Period == in.Period && ch.Touches(k)
	case store.KindOrderBook:
		return in.Topics.Has(TopicOrderBook) && ch.Touches(k)
	case store.KindOrders:
		if !in.Topics.Has(TopicOrders) {
			return false
		}
		// 状态变化不带标的，对所有订单订阅者可见
		return in.AllInstruments || ch.Status || ch.Touches(k)
	case store.KindScreening:
		return in.Topics.Has(TopicScreening) || (in.Topics.Has(TopicScore) && !k.IsZero())
	default:
		return false
	}
}

// PollKeys 该兴趣在当前选择下需要的轮询任务键。
func (in Interest) PollKeys(sel selection.Selection) []string {
	k := in.Resolve(sel)
	keys := make([]string, 0, 3)
	if !k.IsZero() {
		if in.Topics.Has(TopicOhlcv) && in.Period != "" {
			keys = append(keys, market.OhlcvFeedKey(k, in.Period))
		}
		if in.Topics.Has(TopicOrderBook) {
			keys = append(keys, market.BookFeedKey(k))
		}
	}
	if in.Topics.Has(TopicOrders) {
		keys = append(keys, market.OrdersFeedKey)
	}
	return keys
}
