package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-dashboard-go/internal/selection"
	"market-dashboard-go/internal/store"
	"market-dashboard-go/market"
)

type recorder struct {
	views []View
}

func (r *recorder) handle(v View) { r.views = append(r.views, v) }

func newBus() (*Bus, *store.Store) {
	st := store.New(nil)
	return New(st), st
}

func TestScreeningTwoNotificationsFullRowSets(t *testing.T) {
	b, st := newBus()
	sel := selection.Selection{Instrument: "BTC/USD"}
	rec := &recorder{}
	_, initial := b.Subscribe(Interest{Topics: TopicScreening}, sel, rec.handle)
	assert.Empty(t, initial.Screening)
	assert.Equal(t, market.FeedNoData, initial.Status["screening"].State)

	_, ch := st.MergeScreening([]market.ScreeningRow{{Pair: "BTC/USD", Score: 0.8}})
	b.Publish(Publication{Prev: sel, Selection: sel, Changes: []store.Change{ch}})
	_, ch = st.MergeScreening([]market.ScreeningRow{{Pair: "BTC/USD", Score: 0.9}, {Pair: "ETH/USD", Score: 0.5}})
	b.Publish(Publication{Prev: sel, Selection: sel, Changes: []store.Change{ch}})

	require.Len(t, rec.views, 2)
	assert.Len(t, rec.views[0].Screening, 1)
	assert.Equal(t, 0.8, rec.views[0].Screening[0].Score)
	require.Len(t, rec.views[1].Screening, 2)
	assert.Equal(t, 0.9, rec.views[1].Screening[0].Score)
	assert.Equal(t, market.FeedLive, rec.views[1].Status["screening"].State)
	assert.Less(t, rec.views[0].Seq, rec.views[1].Seq)
}

func TestCompoundSelectionChangeIsOneNotification(t *testing.T) {
	b, _ := newBus()
	c := selection.NewController("BTC/USD")
	rec := &recorder{}
	b.Subscribe(Interest{Topics: TopicOhlcv | TopicOrders | TopicSelection}, c.Current(), rec.handle)

	prev := c.Current()
	next, changed := c.SelectOrder(selection.OrderRef{OrderID: "9", Instrument: "ETH/USD"})
	require.True(t, changed)
	b.Publish(Publication{Prev: prev, Selection: next})

	require.Len(t, rec.views, 1)
	v := rec.views[0]
	assert.Equal(t, market.InstrumentKey("ETH/USD"), v.Instrument)
	assert.Equal(t, market.InstrumentKey("ETH/USD"), v.Selection.Instrument)
	assert.Equal(t, "9", v.Selection.Order.OrderID)
	assert.True(t, v.Selection.Valid())
}

func TestDataChangesReachOnlyMatchingSubscribers(t *testing.T) {
	b, st := newBus()
	sel := selection.Selection{Instrument: "BTC/USD"}
	follow := &recorder{}
	fixedEth := &recorder{}
	bookOnly := &recorder{}
	allOrders := &recorder{}
	otherPeriod := &recorder{}
	b.Subscribe(Interest{Topics: TopicOhlcv, Period: "1m"}, sel, follow.handle)
	b.Subscribe(Interest{Topics: TopicOhlcv, Instrument: "ETH/USD", Period: "1m"}, sel, fixedEth.handle)
	b.Subscribe(Interest{Topics: TopicOhlcv, Period: "1d"}, sel, otherPeriod.handle)
	b.Subscribe(Interest{Topics: TopicOrderBook}, sel, bookOnly.handle)
	b.Subscribe(Interest{Topics: TopicOrders, AllInstruments: true}, sel, allOrders.handle)

	series := market.NewOhlcvSeries("BTC/USD", "1m", []market.Bar{{Time: time.Unix(100, 0), Close: 1}})
	_, ch := st.MergeOhlcv("BTC/USD", series)
	b.Publish(Publication{Prev: sel, Selection: sel, Changes: []store.Change{ch}})

	require.Len(t, follow.views, 1)
	require.NotNil(t, follow.views[0].Series)
	assert.Equal(t, 1, follow.views[0].Series.Len())
	assert.Nil(t, follow.views[0].Book)
	assert.Empty(t, fixedEth.views)
	assert.Empty(t, otherPeriod.views, "a 1d chart ignores 1m bars")
	assert.Empty(t, bookOnly.views)
	assert.Empty(t, allOrders.views)

	_, ch = st.MergeOrders([]market.OrderRecord{{OrderID: "1", Instrument: "XRP/USD"}})
	b.Publish(Publication{Prev: sel, Selection: sel, Changes: []store.Change{ch}})
	require.Len(t, allOrders.views, 1)
	assert.Len(t, allOrders.views[0].Orders, 1)
	assert.Len(t, follow.views, 1)
}

func TestSelectionSwitchNotifiesFollowers(t *testing.T) {
	b, st := newBus()
	sel := selection.Selection{Instrument: "BTC/USD"}
	st.MergeOrderBook("ETH/USD", market.NewOrderBookSnapshot("ETH/USD",
		[]market.Level{{Price: 100, Size: 3}}, []market.Level{{Price: 101, Size: 1}}))

	follow := &recorder{}
	fixed := &recorder{}
	b.Subscribe(Interest{Topics: TopicOrderBook}, sel, follow.handle)
	b.Subscribe(Interest{Topics: TopicOrderBook, Instrument: "BTC/USD"}, sel, fixed.handle)

	next := selection.Selection{Instrument: "ETH/USD"}
	b.Publish(Publication{Prev: sel, Selection: next})

	require.Len(t, follow.views, 1)
	v := follow.views[0]
	require.NotNil(t, v.Book)
	require.NotNil(t, v.Depth)
	assert.InDelta(t, 0.01, v.Depth.Spread, 1e-9)
	assert.InDelta(t, 0.5, v.Depth.Imbalance, 1e-9)
	assert.Empty(t, fixed.views)
}

func TestScoreFollowsSelectedInstrument(t *testing.T) {
	b, st := newBus()
	sel := selection.Selection{Instrument: "ETH/USD"}
	rec := &recorder{}
	b.Subscribe(Interest{Topics: TopicScore}, sel, rec.handle)

	_, ch := st.MergeScreening([]market.ScreeningRow{{Pair: "BTC/USD", NextSupport: 1}, {Pair: "ETH/USD", NextSupport: 2}})
	b.Publish(Publication{Prev: sel, Selection: sel, Changes: []store.Change{ch}})
	require.Len(t, rec.views, 1)
	require.NotNil(t, rec.views[0].Score)
	assert.Equal(t, 2.0, rec.views[0].Score.NextSupport)
	assert.Nil(t, rec.views[0].Screening)
}

func TestUnsubscribeIsImmediate(t *testing.T) {
	b, st := newBus()
	sel := selection.Selection{}
	var second ID
	first := &recorder{}
	secondRec := &recorder{}
	b.Subscribe(Interest{Topics: TopicScreening}, sel, func(v View) {
		first.handle(v)
		b.Unsubscribe(second)
	})
	second, _ = b.Subscribe(Interest{Topics: TopicScreening}, sel, secondRec.handle)

	_, ch := st.MergeScreening(nil)
	b.Publish(Publication{Prev: sel, Selection: sel, Changes: []store.Change{ch}})
	assert.Len(t, first.views, 1)
	assert.Empty(t, secondRec.views)
	assert.Equal(t, 1, b.Len())
	assert.False(t, b.Unsubscribe(second))
}

func TestNoChangeNoNotification(t *testing.T) {
	b, _ := newBus()
	sel := selection.Selection{Instrument: "BTC/USD"}
	rec := &recorder{}
	b.Subscribe(Interest{Topics: AllTopics}, sel, rec.handle)
	assert.Equal(t, 0, b.Publish(Publication{Prev: sel, Selection: sel, Changes: []store.Change{{Kind: store.KindOhlcv}}}))
	assert.Empty(t, rec.views)
}

func TestDemandedPollKeys(t *testing.T) {
	b, _ := newBus()
	sel := selection.Selection{Instrument: "BTC/USD"}
	noop := func(View) {}
	b.Subscribe(Interest{Topics: TopicOhlcv | TopicOrderBook, Period: "1h"}, sel, noop)
	b.Subscribe(Interest{Topics: TopicOhlcv, Period: "1d"}, sel, noop)
	b.Subscribe(Interest{Topics: TopicOrderBook, Instrument: "ETH/USD"}, sel, noop)
	b.Subscribe(Interest{Topics: TopicOrders | TopicScreening}, sel, noop)
	assert.Equal(t, []string{"book|BTC/USD", "book|ETH/USD", "ohlcv|BTC/USD|1d", "ohlcv|BTC/USD|1h", "orders"}, b.DemandedPollKeys(sel))

	// 未选中标的时，跟随选择的订阅不需要行情轮询
	assert.Equal(t, []string{"book|ETH/USD", "orders"}, b.DemandedPollKeys(selection.Selection{}))
}

func TestParseTopics(t *testing.T) {
	tp, ok := ParseTopics([]string{"ohlcv", "OrderBook", "selection"})
	require.True(t, ok)
	assert.True(t, tp.Has(TopicOhlcv))
	assert.True(t, tp.Has(TopicOrderBook))
	assert.False(t, tp.Has(TopicOrders))
	assert.Equal(t, "ohlcv|orderBook|selection", tp.String())

	_, ok = ParseTopics([]string{"news"})
	assert.False(t, ok)
}
