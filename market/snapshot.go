package market

import (
	"fmt"
	"time"
)

// FeedState 数据源状态，用于区分“尚无数据”“暂不可用”和“已停止刷新”。
type FeedState int

const (
	FeedNoData FeedState = iota
	FeedLive
	FeedUnavailable
	// FeedStale 轮询已停止，保留的数据不再刷新。
	FeedStale
)

func (s FeedState) String() string {
	switch s {
	case FeedLive:
		return "live"
	case FeedUnavailable:
		return "unavailable"
	case FeedStale:
		return "stale"
	default:
		return "no_data"
	}
}

// MarshalText 以字符串形式输出到 JSON。
func (s FeedState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText 解析 MarshalText 的输出。
func (s *FeedState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "live":
		*s = FeedLive
	case "unavailable":
		*s = FeedUnavailable
	case "stale":
		*s = FeedStale
	case "no_data", "":
		*s = FeedNoData
	default:
		return fmt.Errorf("unknown feed state %q", b)
	}
	return nil
}

// FeedStatus 单个数据源的最新状态。
type FeedStatus struct {
	State     FeedState `json:"state"`
	LastError string    `json:"lastError,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Snapshot 规范快照：所有实时行情与账户数据的唯一归一化表示。
// 由 Store 独占写入；对外返回的是浅拷贝，内部值不可变。
type Snapshot struct {
	Series    map[SeriesKey]OhlcvSeries           `json:"series"`
	Books     map[InstrumentKey]OrderBookSnapshot `json:"books"`
	Orders    map[string]OrderRecord              `json:"orders"`
	Screening []ScreeningRow                      `json:"screening"`
	Feeds     map[string]FeedStatus               `json:"feeds"`
}

// NewSnapshot 创建空快照。
func NewSnapshot() Snapshot {
	return Snapshot{
		Series: make(map[SeriesKey]OhlcvSeries),
		Books:  make(map[InstrumentKey]OrderBookSnapshot),
		Orders: make(map[string]OrderRecord),
		Feeds:  make(map[string]FeedStatus),
	}
}

// Clone 复制映射容器；序列、档位等切片在写入后不再修改，可共享。
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Series:    make(map[SeriesKey]OhlcvSeries, len(s.Series)),
		Books:     make(map[InstrumentKey]OrderBookSnapshot, len(s.Books)),
		Orders:    make(map[string]OrderRecord, len(s.Orders)),
		Screening: s.Screening,
		Feeds:     make(map[string]FeedStatus, len(s.Feeds)),
	}
	for k, v := range s.Series {
		out.Series[k] = v
	}
	for k, v := range s.Books {
		out.Books[k] = v
	}
	for k, v := range s.Orders {
		out.Orders[k] = v
	}
	for k, v := range s.Feeds {
		out.Feeds[k] = v
	}
	return out
}

// OrdersFor 返回某标的的订单（按创建时间降序）；k 为空时返回全部订单。
func (s Snapshot) OrdersFor(k InstrumentKey) []OrderRecord {
	out := make([]OrderRecord, 0)
	for _, o := range s.Orders {
		if k.IsZero() || o.Instrument == k {
			out = append(out, o)
		}
	}
	SortOrdersNewestFirst(out)
	return out
}

// Feed 返回数据源状态；从未出现过的数据源视为 NoData。
func (s Snapshot) Feed(key string) FeedStatus {
	if st, ok := s.Feeds[key]; ok {
		return st
	}
	return FeedStatus{State: FeedNoData}
}
