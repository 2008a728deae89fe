package gateway

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-dashboard-go/market"
)

func TestParseScreening(t *testing.T) {
	raw := []byte(`[
		{"pair":"btcusdt","close":65000,"24h_change":1.5,"technicals_score":0.8,"rsi":null,"volume_z":2.5,"note":"hot"},
		{"pair":"ETHUSDT","score":0.4,"next_support":3000,"next_resistance":3300}
	]`)
	rows, err := ParseScreening(raw)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, market.InstrumentKey("BTCUSDT"), rows[0].Pair)
	assert.Equal(t, 65000.0, rows[0].Close)
	assert.Equal(t, 1.5, rows[0].Change24h)
	assert.Equal(t, 0.8, rows[0].Score)
	assert.Equal(t, 0.0, rows[0].RSI)
	assert.Equal(t, map[string]float64{"volume_z": 2.5}, rows[0].Extra)

	assert.Equal(t, 0.4, rows[1].Score)
	assert.Equal(t, 3000.0, rows[1].NextSupport)
	assert.Nil(t, rows[1].Extra)
}

func TestParseScreeningEmptyArray(t *testing.T) {
	rows, err := ParseScreening([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestParseScreeningMalformed(t *testing.T) {
	cases := map[string]string{
		"not array":       `{"pair":"BTCUSDT"}`,
		"garbage":         `[{"pair":`,
		"row not object":  `[1,2]`,
		"missing pair":    `[{"close":1}]`,
		"empty pair":      `[{"pair":"  "}]`,
		"pair not string": `[{"pair":42}]`,
		"bad known field": `[{"pair":"BTCUSDT","close":"n/a"}]`,
		"duplicate pair":  `[{"pair":"BTCUSDT"},{"pair":"btcusdt"}]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			rows, err := ParseScreening([]byte(raw))
			require.Error(t, err)
			assert.Nil(t, rows)
			var mp *MalformedPayloadError
			require.True(t, errors.As(err, &mp), "want MalformedPayloadError, got %T", err)
			assert.Equal(t, "screening", mp.Source)
			assert.False(t, IsTransport(err))
		})
	}
}

func TestParseOhlcv(t *testing.T) {
	raw := []byte(`[[1700000060000,2,3,1,2.5,10],[1700000000000,"1","2","0.5","1.5","7"]]`)
	s, err := ParseOhlcv("BTCUSDT", "1m", raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 bars, got %d", s.Len())
	}
	if !s.Bars[0].Time.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("bars not sorted: %v", s.Bars[0].Time)
	}
	if s.Bars[1].Close != 2.5 || s.Bars[0].Volume != 7 {
		t.Fatalf("unexpected values %+v", s.Bars)
	}
	if s.Instrument != "BTCUSDT" || s.Period != "1m" {
		t.Fatalf("unexpected series header %+v", s)
	}
}

func TestParseOhlcvMalformed(t *testing.T) {
	for _, raw := range []string{`{}`, `[[1,2,3]]`, `[[1,2,3,4,"x",6]]`} {
		if _, err := ParseOhlcv("BTCUSDT", "1m", []byte(raw)); !IsMalformed(err) {
			t.Fatalf("expected malformed for %s, got %v", raw, err)
		}
	}
}

func TestParseOrderBook(t *testing.T) {
	raw := []byte(`{"bids":[["100","2"],[101,1],[99,0]],"asks":[[103,1],[102,"3"]]}`)
	ob, err := ParseOrderBook("BTCUSDT", raw)
	require.NoError(t, err)
	require.Len(t, ob.Bids, 2)
	require.Len(t, ob.Asks, 2)
	bid, ask := ob.Best()
	assert.Equal(t, 101.0, bid)
	assert.Equal(t, 102.0, ask)

	_, err = ParseOrderBook("BTCUSDT", []byte(`{"bids":[[100]]}`))
	assert.True(t, IsMalformed(err))
}

func TestParseOrders(t *testing.T) {
	raw := []byte(`[
		{"order_id":12,"asset_id":"btcusdt","order_creation_tmstmp":"2024-03-01T10:00:00Z","order_side":"BUY",
		 "order_status":"FILLED","fill_pct":1,"order_volume":"0.5","order_price":"64000","trading_env":"paper","trading_type":"spot"},
		{"order_id":"a-13","asset_id":"ETHUSDT","order_creation_tmstmp":"2024-03-01 11:30:00","order_side":"sell",
		 "order_status":"open","fill_pct":0.25,"order_volume":2,"order_price":3100}
	]`)
	orders, err := ParseOrders(raw)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.Equal(t, "12", orders[0].OrderID)
	assert.Equal(t, market.InstrumentKey("BTCUSDT"), orders[0].Instrument)
	assert.Equal(t, "buy", orders[0].Side)
	assert.Equal(t, "filled", orders[0].Status)
	assert.Equal(t, 64000.0, orders[0].Price)
	assert.Equal(t, 0.5, orders[0].Volume)
	assert.Equal(t, "paper", orders[0].Env)

	assert.Equal(t, "a-13", orders[1].OrderID)
	assert.Equal(t, time.Date(2024, 3, 1, 11, 30, 0, 0, time.UTC), orders[1].CreatedAt)
	assert.Equal(t, 0.25, orders[1].FillPct)
}

func TestParseOrdersMalformed(t *testing.T) {
	cases := []string{
		`{}`,
		`[{"order_id":1,"asset_id":"BTCUSDT","order_creation_tmstmp":"yesterday","order_side":"buy"}]`,
		`[{"order_id":1,"asset_id":"BTCUSDT","order_creation_tmstmp":"2024-03-01T10:00:00Z","order_side":"hold"}]`,
		`[{"order_id":1,"asset_id":"BTCUSDT","order_creation_tmstmp":"2024-03-01T10:00:00Z","order_side":"buy","fill_pct":1.5}]`,
		`[{"asset_id":"BTCUSDT","order_creation_tmstmp":"2024-03-01T10:00:00Z","order_side":"buy"}]`,
	}
	for _, raw := range cases {
		if _, err := ParseOrders([]byte(raw)); !IsMalformed(err) {
			t.Fatalf("expected malformed for %s, got %v", raw, err)
		}
	}
}
