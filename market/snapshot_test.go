package market

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotCloneIsolatesMaps(t *testing.T) {
	s := NewSnapshot()
	s.Orders["1"] = OrderRecord{OrderID: "1", Instrument: "BTC/USD", Status: "open"}
	c := s.Clone()
	c.Orders["2"] = OrderRecord{OrderID: "2"}
	c.Feeds[OrdersFeedKey] = FeedStatus{State: FeedLive}

	assert.Len(t, s.Orders, 1)
	assert.Equal(t, FeedNoData, s.Feed(OrdersFeedKey).State)
	assert.Equal(t, FeedLive, c.Feed(OrdersFeedKey).State)
}

func TestSnapshotOrdersFor(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	s := NewSnapshot()
	s.Orders["a"] = OrderRecord{OrderID: "a", Instrument: "BTC/USD", CreatedAt: t0}
	s.Orders["b"] = OrderRecord{OrderID: "b", Instrument: "ETH/USD", CreatedAt: t0.Add(time.Minute)}
	s.Orders["c"] = OrderRecord{OrderID: "c", Instrument: "BTC/USD", CreatedAt: t0.Add(2 * time.Minute)}

	btc := s.OrdersFor("BTC/USD")
	require.Len(t, btc, 2)
	assert.Equal(t, "c", btc[0].OrderID, "newest first")
	assert.Len(t, s.OrdersFor(NoInstrument), 3)
}

func TestRankByScoreAndFindRow(t *testing.T) {
	rows := []ScreeningRow{{Pair: "A", Score: 0.2}, {Pair: "B", Score: 0.9}, {Pair: "C", Score: 0.5}}
	ranked := RankByScore(rows)
	assert.Equal(t, InstrumentKey("B"), ranked[0].Pair)
	assert.Equal(t, InstrumentKey("A"), rows[0].Pair, "input must not be reordered")

	r, ok := FindRow(rows, "C")
	require.True(t, ok)
	assert.Equal(t, 0.5, r.Score)
	_, ok = FindRow(rows, "Z")
	assert.False(t, ok)
}

func TestNormalizeInstrument(t *testing.T) {
	assert.Equal(t, InstrumentKey("BTC/USD"), NormalizeInstrument(" btc-usd "))
	assert.Equal(t, InstrumentKey("ETH/USDT"), NormalizeInstrument("eth_usdt"))
	assert.True(t, NoInstrument.IsZero())
}

func TestEventFeedKeys(t *testing.T) {
	assert.Equal(t, "ohlcv|BTC/USD|1h", OhlcvUpdate{Instrument: "BTC/USD", Series: OhlcvSeries{Period: "1h"}}.FeedKey())
	assert.Equal(t, "book|BTC/USD", OrderBookUpdate{Instrument: "BTC/USD"}.FeedKey())
	assert.Equal(t, OrdersFeedKey, OrdersUpdate{}.FeedKey())
	assert.Equal(t, ScreeningFeedKey, ScreeningUpdate{}.FeedKey())
}

func TestFeedStateTextRoundTrip(t *testing.T) {
	for _, st := range []FeedState{FeedNoData, FeedLive, FeedUnavailable, FeedStale} {
		b, err := st.MarshalText()
		require.NoError(t, err)
		var got FeedState
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, st, got)
	}
	var bad FeedState
	assert.Error(t, bad.UnmarshalText([]byte("sleeping")))
}

func TestParseFeedKey(t *testing.T) {
	cases := []struct {
		feed   string
		kind   string
		inst   InstrumentKey
		period string
		ok     bool
	}{
		{OhlcvFeedKey("BTC/USD", "1d"), FeedKindOhlcv, "BTC/USD", "1d", true},
		{BookFeedKey("ETH/USD"), FeedKindBook, "ETH/USD", "", true},
		{"orders", FeedKindOrders, NoInstrument, "", true},
		{"screening", FeedKindScreening, NoInstrument, "", true},
		{"ohlcv|BTC/USD", "", NoInstrument, "", false},
		{"ohlcv||1h", "", NoInstrument, "", false},
		{"book|", "", NoInstrument, "", false},
		{"weird|X", "", NoInstrument, "", false},
	}
	for _, c := range cases {
		kind, inst, period, ok := ParseFeedKey(c.feed)
		assert.Equal(t, c.ok, ok, c.feed)
		assert.Equal(t, c.kind, kind, c.feed)
		assert.Equal(t, c.inst, inst, c.feed)
		assert.Equal(t, c.period, period, c.feed)
	}
}

func TestSeriesKeyAsJSONMapKey(t *testing.T) {
	snap := NewSnapshot()
	k := SeriesKey{Instrument: "BTC/USD", Period: "1h"}
	snap.Series[k] = NewOhlcvSeries("BTC/USD", "1h", []Bar{{Time: time.UnixMilli(1000), Close: 1}})

	b, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"BTC/USD|1h"`)

	var back Snapshot
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, 1, back.Series[k].Len())

	var bad SeriesKey
	assert.Error(t, bad.UnmarshalText([]byte("BTC/USD")))
}
