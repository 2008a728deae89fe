package market

import (
	"testing"
	"time"
)

func TestOrderBookSnapshotNormalizeAndMid(t *testing.T) {
	ob := NewOrderBookSnapshot("BTC/USD",
		[]Level{{Price: 99.5, Size: 2}, {Price: 100, Size: 1}, {Price: 98, Size: 0}},
		[]Level{{Price: 102, Size: 3}, {Price: 101, Size: 1.5}, {Price: -1, Size: 4}},
	)
	bid, ask := ob.Best()
	if bid != 100 || ask != 101 {
		t.Fatalf("unexpected best bid/ask: %f/%f", bid, ask)
	}
	if mid := ob.Mid(); mid != 100.5 {
		t.Fatalf("unexpected mid %f", mid)
	}
	if len(ob.Bids) != 2 || len(ob.Asks) != 2 {
		t.Fatalf("invalid levels should be dropped: %+v", ob)
	}
	if ob.Bids[0].Price < ob.Bids[1].Price {
		t.Fatalf("bids must be descending: %+v", ob.Bids)
	}
	if ob.Asks[0].Price > ob.Asks[1].Price {
		t.Fatalf("asks must be ascending: %+v", ob.Asks)
	}
}

func TestOrderBookSnapshotMergesSamePrice(t *testing.T) {
	ob := NewOrderBookSnapshot("BTC/USD", []Level{{Price: 100, Size: 1}, {Price: 100, Size: 2}}, nil)
	if len(ob.Bids) != 1 || ob.Bids[0].Size != 3 {
		t.Fatalf("same price levels should merge: %+v", ob.Bids)
	}
	if ob.Mid() != 0 {
		t.Fatalf("one-sided book has no mid")
	}
}

func TestOrderBookSnapshotAge(t *testing.T) {
	now := time.Now()
	ob := OrderBookSnapshot{ReceivedAt: now.Add(-3 * time.Second)}
	if age := ob.Age(now); age != 3*time.Second {
		t.Fatalf("unexpected age %s", age)
	}
	if (OrderBookSnapshot{}).Age(now) != 0 {
		t.Fatalf("unstamped snapshot age should be 0")
	}
}
