package gateway

import (
	"context"
	"net/url"
	"strconv"

	"market-dashboard-go/market"
)

// Poller 一次拉取产生一个更新事件；调度由 internal/scheduler 负责。
type Poller interface {
	Key() string
	FetchOnce(ctx context.Context) (market.Event, error)
}

// OhlcvPoller 拉取某标的某周期的 K 线。
type OhlcvPoller struct {
	Client     *APIClient
	Instrument market.InstrumentKey
	Period     string
	Lookback   int
}

func (p *OhlcvPoller) Key() string { return market.OhlcvFeedKey(p.Instrument, p.Period) }

func (p *OhlcvPoller) FetchOnce(ctx context.Context) (market.Event, error) {
	params := url.Values{}
	params.Set("pair", string(p.Instrument))
	if p.Period != "" {
		params.Set("period", p.Period)
	}
	if p.Lookback > 0 {
		params.Set("lookback", strconv.Itoa(p.Lookback))
	}
	body, err := p.Client.get(ctx, "/ohlcv", params)
	if err != nil {
		return nil, err
	}
	series, err := ParseOhlcv(p.Instrument, p.Period, body)
	if err != nil {
		return nil, err
	}
	return market.OhlcvUpdate{Instrument: p.Instrument, Series: series}, nil
}

// OrderBookPoller 拉取某标的的深度快照。
type OrderBookPoller struct {
	Client     *APIClient
	Instrument market.InstrumentKey
	Depth      int
}

func (p *OrderBookPoller) Key() string { return market.BookFeedKey(p.Instrument) }

func (p *OrderBookPoller) FetchOnce(ctx context.Context) (market.Event, error) {
	params := url.Values{}
	params.Set("pair", string(p.Instrument))
	if p.Depth > 0 {
		params.Set("depth", strconv.Itoa(p.Depth))
	}
	body, err := p.Client.get(ctx, "/order_book", params)
	if err != nil {
		return nil, err
	}
	snap, err := ParseOrderBook(p.Instrument, body)
	if err != nil {
		return nil, err
	}
	return market.OrderBookUpdate{Instrument: p.Instrument, Snapshot: snap}, nil
}

// OrdersPoller 拉取账户最近订单。
type OrdersPoller struct {
	Client   *APIClient
	Lookback int
}

func (p *OrdersPoller) Key() string { return market.OrdersFeedKey }

func (p *OrdersPoller) FetchOnce(ctx context.Context) (market.Event, error) {
	params := url.Values{}
	if p.Lookback > 0 {
		params.Set("lookback", strconv.Itoa(p.Lookback))
	}
	body, err := p.Client.get(ctx, "/orders", params)
	if err != nil {
		return nil, err
	}
	records, err := ParseOrders(body)
	if err != nil {
		return nil, err
	}
	return market.OrdersUpdate{Records: records}, nil
}
