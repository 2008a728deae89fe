package market

import "strings"

// Event 数据源适配器产出的更新事件。只有本包内的四种类型实现该接口。
type Event interface {
	// FeedKey 返回事件所属数据源的状态键。
	FeedKey() string
	isEvent()
}

// OhlcvUpdate 某标的某周期的 K 线序列；周期取 Series.Period。
type OhlcvUpdate struct {
	Instrument InstrumentKey
	Series     OhlcvSeries
}

// OrderBookUpdate 某标的的深度快照。
type OrderBookUpdate struct {
	Instrument InstrumentKey
	Snapshot   OrderBookSnapshot
}

// OrdersUpdate 账户最近订单窗口。
type OrdersUpdate struct {
	Records []OrderRecord
}

// ScreeningUpdate 全量筛选行。
type ScreeningUpdate struct {
	Rows []ScreeningRow
}

func (e OhlcvUpdate) FeedKey() string     { return OhlcvFeedKey(e.Instrument, e.Series.Period) }
func (e OrderBookUpdate) FeedKey() string { return BookFeedKey(e.Instrument) }
func (OrdersUpdate) FeedKey() string      { return OrdersFeedKey }
func (ScreeningUpdate) FeedKey() string   { return ScreeningFeedKey }

func (OhlcvUpdate) isEvent()     {}
func (OrderBookUpdate) isEvent() {}
func (OrdersUpdate) isEvent()    {}
func (ScreeningUpdate) isEvent() {}

const (
	OrdersFeedKey    = "orders"
	ScreeningFeedKey = "screening"
)

// 数据源类别（键的第一段）。
const (
	FeedKindOhlcv     = "ohlcv"
	FeedKindBook      = "book"
	FeedKindOrders    = OrdersFeedKey
	FeedKindScreening = ScreeningFeedKey
)

// OhlcvFeedKey K 线数据源键：ohlcv|标的|周期。
func OhlcvFeedKey(k InstrumentKey, period string) string {
	return FeedKindOhlcv + "|" + string(k) + "|" + period
}

// BookFeedKey 深度数据源键。
func BookFeedKey(k InstrumentKey) string { return FeedKindBook + "|" + string(k) }

// ParseFeedKey 拆分数据源键；格式不对返回 ok=false。
func ParseFeedKey(feed string) (kind string, k InstrumentKey, period string, ok bool) {
	switch feed {
	case OrdersFeedKey, ScreeningFeedKey:
		return feed, NoInstrument, "", true
	}
	parts := strings.Split(feed, "|")
	switch {
	case len(parts) == 3 && parts[0] == FeedKindOhlcv && parts[1] != "" && parts[2] != "":
		return FeedKindOhlcv, InstrumentKey(parts[1]), parts[2], true
	case len(parts) == 2 && parts[0] == FeedKindBook && parts[1] != "":
		return FeedKindBook, InstrumentKey(parts[1]), "", true
	default:
		return "", NoInstrument, "", false
	}
}
