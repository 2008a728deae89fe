package bus

import (
	"market-dashboard-go/internal/selection"
	"market-dashboard-go/market"
)

// Source 构建视图所需的只读数据访问（由 *store.Store 实现）。
type Source interface {
	Series(k market.InstrumentKey, period string) (market.OhlcvSeries, bool)
	Book(k market.InstrumentKey) (market.OrderBookSnapshot, bool)
	OrdersFor(k market.InstrumentKey) []market.OrderRecord
	Screening() []market.ScreeningRow
	Feed(key string) market.FeedStatus
}

// View 推送给订阅者的一致切片：数据与选择来自同一时刻。
type View struct {
	Seq        uint64                       `json:"seq"`
	Selection  selection.Selection          `json:"selection"`
	Instrument market.InstrumentKey         `json:"instrument"`
	Series     *market.OhlcvSeries          `json:"series,omitempty"`
	Book       *market.OrderBookSnapshot    `json:"book,omitempty"`
	Depth      *market.Depth                `json:"depth,omitempty"`
	Orders     []market.OrderRecord         `json:"orders,omitempty"`
	Screening  []market.ScreeningRow        `json:"screening,omitempty"`
	Score      *market.ScreeningRow         `json:"score,omitempty"`
	Status     map[string]market.FeedStatus `json:"status,omitempty"`
}

// BuildView 按兴趣从数据源取出切片。
func BuildView(src Source, in Interest, sel selection.Selection) View {
	k := in.Resolve(sel)
	v := View{
		Selection:  sel.Clone(),
		Instrument: k,
		Status:     make(map[string]market.FeedStatus),
	}
	if in.Topics.Has(TopicOhlcv) && !k.IsZero() {
		if s, ok := src.Series(k, in.Period); ok {
			v.Series = &s
		}
		v.Status["ohlcv"] = src.Feed(market.OhlcvFeedKey(k, in.Period))
	}
	if in.Topics.Has(TopicOrderBook) && !k.IsZero() {
		if ob, ok := src.Book(k); ok {
			d := market.DepthOf(ob, market.DefaultImbalanceLevels)
			v.Book = &ob
			v.Depth = &d
		}
		v.Status["orderBook"] = src.Feed(market.BookFeedKey(k))
	}
	if in.Topics.Has(TopicOrders) {
		switch {
		case in.AllInstruments:
			v.Orders = src.OrdersFor(market.NoInstrument)
		case !k.IsZero():
			v.Orders = src.OrdersFor(k)
		}
		v.Status["orders"] = src.Feed(market.OrdersFeedKey)
	}
	if in.Topics.Has(TopicScreening) || in.Topics.Has(TopicScore) {
		rows := src.Screening()
		if in.Topics.Has(TopicScreening) {
			v.Screening = rows
		}
		if in.Topics.Has(TopicScore) && !k.IsZero() {
			if r, ok := market.FindRow(rows, k); ok {
				v.Score = &r
			}
		}
		v.Status["screening"] = src.Feed(market.ScreeningFeedKey)
	}
	return v
}
