package market

import (
	"sort"
	"time"
)

// OrderRecord 账户订单记录。首次写入后只有 Status/FillPct 会变化。
type OrderRecord struct {
	OrderID     string        `json:"orderId" validate:"required"`
	Instrument  InstrumentKey `json:"instrument" validate:"required"`
	CreatedAt   time.Time     `json:"createdAt"`
	Side        string        `json:"side" validate:"oneof=buy sell"`
	Status      string        `json:"status"`
	Price       float64       `json:"price" validate:"gte=0"`
	Volume      float64       `json:"volume" validate:"gte=0"`
	FillPct     float64       `json:"fillPct" validate:"gte=0,lte=1"`
	Env         string        `json:"env,omitempty"`
	TradingType string        `json:"tradingType,omitempty"`
}

// SortOrdersNewestFirst 按创建时间降序排列（订单表默认排序），时间相同时按 id 排序保证稳定。
func SortOrdersNewestFirst(orders []OrderRecord) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].OrderID < orders[j].OrderID
	})
}
