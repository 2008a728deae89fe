package selection

import (
	"market-dashboard-go/market"
)

// Controller 选择状态机。不加锁，只在引擎循环上调用。
// 每个操作返回新的选择和是否发生变化。
type Controller struct {
	cur Selection
}

// NewController 初始选择：默认标的（可为空），无订单、无文章。
func NewController(defaultInstrument market.InstrumentKey) *Controller {
	return &Controller{cur: Selection{Instrument: defaultInstrument}}
}

// Current 当前选择的副本。
func (c *Controller) Current() Selection { return c.cur.Clone() }

func (c *Controller) commit(next Selection) (Selection, bool) {
	changed := !next.Equal(c.cur)
	c.cur = next
	return c.cur.Clone(), changed
}

// SelectInstrument 切换标的；当前订单不属于新标的时一并清除。文章不受影响。
func (c *Controller) SelectInstrument(k market.InstrumentKey) (Selection, bool) {
	next := c.cur.Clone()
	next.Instrument = k
	if next.Order != nil && next.Order.Instrument != k {
		next.Order = nil
	}
	return c.commit(next)
}

// SelectOrder 选择订单。与当前订单相同则取消选择；
// 订单属于其它标的时同时切换标的。
func (c *Controller) SelectOrder(ref OrderRef) (Selection, bool) {
	next := c.cur.Clone()
	if next.Order != nil && next.Order.OrderID == ref.OrderID {
		next.Order = nil
		return c.commit(next)
	}
	r := ref
	next.Order = &r
	if ref.Instrument != next.Instrument {
		next.Instrument = ref.Instrument
	}
	return c.commit(next)
}

// SelectArticle 设置文章；nil 清除。
func (c *Controller) SelectArticle(ref *ArticleRef) (Selection, bool) {
	next := c.cur.Clone()
	next.Article = nil
	if ref != nil {
		a := *ref
		next.Article = &a
	}
	return c.commit(next)
}

// ClearOrder 清除订单选择（例如切换到其它标签页）。
func (c *Controller) ClearOrder() (Selection, bool) {
	next := c.cur.Clone()
	next.Order = nil
	return c.commit(next)
}

// FocusInstrument 筛选表点击：切换标的并清除订单，一次完成。
func (c *Controller) FocusInstrument(k market.InstrumentKey) (Selection, bool) {
	next := c.cur.Clone()
	next.Instrument = k
	next.Order = nil
	return c.commit(next)
}
