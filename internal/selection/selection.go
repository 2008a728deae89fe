// Package selection holds the dashboard's single shared focus: instrument, order and article.
package selection

import (
	"time"

	"market-dashboard-go/market"
)

// OrderRef 被选中订单的引用。两个引用按 OrderID 判等。
type OrderRef struct {
	OrderID    string               `json:"orderId"`
	Instrument market.InstrumentKey `json:"instrument"`
	CreatedAt  time.Time            `json:"createdAt"`
	Price      float64              `json:"price"`
}

// RefOf 由订单记录构造引用。
func RefOf(o market.OrderRecord) OrderRef {
	return OrderRef{OrderID: o.OrderID, Instrument: o.Instrument, CreatedAt: o.CreatedAt, Price: o.Price}
}

// ArticleRef 被选中的新闻条目（图表上画发布时间线）。
type ArticleRef struct {
	ID          string    `json:"id"`
	PublishedAt time.Time `json:"publishedAt"`
	Title       string    `json:"title,omitempty"`
}

// Selection 跨组件共享的焦点状态。Order 不为空时必须属于 Instrument。
type Selection struct {
	Instrument market.InstrumentKey `json:"instrument"`
	Order      *OrderRef            `json:"order,omitempty"`
	Article    *ArticleRef          `json:"article,omitempty"`
}

// Valid 检查跨轴约束。
func (s Selection) Valid() bool {
	return s.Order == nil || s.Order.Instrument == s.Instrument
}

// Equal 按值比较（订单只比较 id）。
func (s Selection) Equal(o Selection) bool {
	if s.Instrument != o.Instrument {
		return false
	}
	if (s.Order == nil) != (o.Order == nil) {
		return false
	}
	if s.Order != nil && s.Order.OrderID != o.Order.OrderID {
		return false
	}
	if (s.Article == nil) != (o.Article == nil) {
		return false
	}
	return s.Article == nil || *s.Article == *o.Article
}

// Clone 深拷贝，调用方可以安全持有。
func (s Selection) Clone() Selection {
	out := Selection{Instrument: s.Instrument}
	if s.Order != nil {
		o := *s.Order
		out.Order = &o
	}
	if s.Article != nil {
		a := *s.Article
		out.Article = &a
	}
	return out
}
