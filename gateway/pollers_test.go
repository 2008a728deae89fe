package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"market-dashboard-go/market"
)

func newTestClient(ts *httptest.Server) *APIClient {
	return &APIClient{BaseURL: ts.URL, HTTPClient: ts.Client()}
}

func TestOhlcvPollerFetchOnce(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ohlcv" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("pair") != "BTCUSDT" || q.Get("period") != "1m" || q.Get("lookback") != "50" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		io.WriteString(w, `[[1700000000000,1,2,0.5,1.5,10]]`)
	}))
	defer ts.Close()

	p := &OhlcvPoller{Client: newTestClient(ts), Instrument: "BTCUSDT", Period: "1m", Lookback: 50}
	if p.Key() != "ohlcv|BTCUSDT|1m" {
		t.Fatalf("unexpected key %s", p.Key())
	}
	ev, err := p.FetchOnce(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	up, ok := ev.(market.OhlcvUpdate)
	if !ok {
		t.Fatalf("unexpected event %T", ev)
	}
	if up.Instrument != "BTCUSDT" || up.Series.Len() != 1 {
		t.Fatalf("unexpected update %+v", up)
	}
	if up.FeedKey() != p.Key() {
		t.Fatalf("event feed %s does not match poller %s", up.FeedKey(), p.Key())
	}
}

func TestOrderBookPollerFetchOnce(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/order_book" || r.URL.Query().Get("depth") != "20" {
			t.Errorf("unexpected request %s", r.URL)
		}
		io.WriteString(w, `{"bids":[[100,1]],"asks":[[101,2]]}`)
	}))
	defer ts.Close()

	p := &OrderBookPoller{Client: newTestClient(ts), Instrument: "BTCUSDT", Depth: 20}
	ev, err := p.FetchOnce(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	up := ev.(market.OrderBookUpdate)
	if up.Snapshot.Mid() != 100.5 {
		t.Fatalf("unexpected mid %f", up.Snapshot.Mid())
	}
	if p.Key() != market.BookFeedKey("BTCUSDT") {
		t.Fatalf("unexpected key %s", p.Key())
	}
}

func TestOrdersPollerFetchOnce(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"order_id":"1","asset_id":"BTCUSDT","order_creation_tmstmp":"2024-03-01T10:00:00Z","order_side":"buy","order_status":"open"}]`)
	}))
	defer ts.Close()

	p := &OrdersPoller{Client: newTestClient(ts), Lookback: 7}
	ev, err := p.FetchOnce(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if recs := ev.(market.OrdersUpdate).Records; len(recs) != 1 || recs[0].OrderID != "1" {
		t.Fatalf("unexpected records %+v", recs)
	}
}

func TestPollerStatusErrorIsTransport(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	p := &OrdersPoller{Client: newTestClient(ts)}
	_, err := p.FetchOnce(context.Background())
	if !IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestPollerMalformedBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `not json`)
	}))
	defer ts.Close()

	p := &OrderBookPoller{Client: newTestClient(ts), Instrument: "BTCUSDT"}
	_, err := p.FetchOnce(context.Background())
	if !IsMalformed(err) || IsTransport(err) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}

func TestPollerContextCancel(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	p := &OrdersPoller{Client: newTestClient(ts)}
	start := time.Now()
	if _, err := p.FetchOnce(ctx); !IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("fetch not aborted by context")
	}
}

func TestAPIClientNil(t *testing.T) {
	var c *APIClient
	if _, err := c.get(context.Background(), "/orders", nil); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
