package engine

import (
	"fmt"

	"market-dashboard-go/internal/bus"
	"market-dashboard-go/internal/selection"
	"market-dashboard-go/market"
	"market-dashboard-go/metrics"
)

// Subscribe 注册订阅，返回 ID 和初始视图。fn 在引擎循环上调用，不能同步调用引擎命令。
// 未指定 K 线周期时使用当前默认周期，此后该订阅的周期不再变化。
func (e *Engine) Subscribe(in bus.Interest, fn bus.Handler) (bus.ID, bus.View, error) {
	var (
		id bus.ID
		v  bus.View
	)
	err := e.do(func() {
		if in.Period == "" {
			in.Period = e.period
		}
		id, v = e.bus.Subscribe(in, e.ctrl.Current(), fn)
		e.reconcile()
	})
	return id, v, err
}

// Unsubscribe 同步取消订阅；不再需要的轮询任务随之停止。
func (e *Engine) Unsubscribe(id bus.ID) error {
	return e.do(func() {
		if e.bus.Unsubscribe(id) {
			e.reconcile()
		}
	})
}

// SelectInstrument 切换标的。
func (e *Engine) SelectInstrument(k market.InstrumentKey) (selection.Selection, error) {
	return e.transition("select_instrument", func(c *selection.Controller) (selection.Selection, bool) {
		return c.SelectInstrument(k)
	})
}

// SelectOrder 选择（或取消选择）订单。
func (e *Engine) SelectOrder(ref selection.OrderRef) (selection.Selection, error) {
	return e.transition("select_order", func(c *selection.Controller) (selection.Selection, bool) {
		return c.SelectOrder(ref)
	})
}

// SelectOrderByID 按订单 id 在规范快照中查找后选择。
func (e *Engine) SelectOrderByID(orderID string) (selection.Selection, error) {
	var (
		sel     selection.Selection
		unknown bool
	)
	err := e.do(func() {
		rec, ok := e.store.Order(orderID)
		if !ok {
			unknown = true
			sel = e.ctrl.Current()
			return
		}
		sel = e.commit("select_order", func(c *selection.Controller) (selection.Selection, bool) {
			return c.SelectOrder(selection.RefOf(rec))
		})
	})
	if err != nil {
		return sel, err
	}
	if unknown {
		return sel, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	return sel, nil
}

// SelectArticle 设置文章；nil 清除。
func (e *Engine) SelectArticle(ref *selection.ArticleRef) (selection.Selection, error) {
	return e.transition("select_article", func(c *selection.Controller) (selection.Selection, bool) {
		return c.SelectArticle(ref)
	})
}

// ClearOrder 清除订单选择。
func (e *Engine) ClearOrder() (selection.Selection, error) {
	return e.transition("clear_order", func(c *selection.Controller) (selection.Selection, bool) {
		return c.ClearOrder()
	})
}

// FocusInstrument 切换标的并清除订单（筛选表点击）。
func (e *Engine) FocusInstrument(k market.InstrumentKey) (selection.Selection, error) {
	return e.transition("focus_instrument", func(c *selection.Controller) (selection.Selection, bool) {
		return c.FocusInstrument(k)
	})
}

// RefreshOrders 让订单轮询立即拉取一次（订单表切换标签页时）。
// 没有订单订阅时什么也不做，返回 false。
func (e *Engine) RefreshOrders() (bool, error) {
	var triggered bool
	err := e.do(func() {
		if _, ok := e.jobs[market.OrdersFeedKey]; ok {
			triggered = e.sched.Trigger(market.OrdersFeedKey)
		}
	})
	return triggered, err
}

// SetDefaultPeriod 更新默认 K 线周期（配置热更新）；只影响之后的订阅。
func (e *Engine) SetDefaultPeriod(period string) error {
	if period == "" {
		period = DefaultPeriod
	}
	return e.do(func() { e.period = period })
}

// Selection 当前选择。
func (e *Engine) Selection() (selection.Selection, error) {
	var sel selection.Selection
	err := e.do(func() { sel = e.ctrl.Current() })
	return sel, err
}

// Snapshot 当前规范快照副本。
func (e *Engine) Snapshot() (market.Snapshot, error) {
	var snap market.Snapshot
	err := e.do(func() { snap = e.store.Snapshot() })
	return snap, err
}

func (e *Engine) transition(op string, fn func(*selection.Controller) (selection.Selection, bool)) (selection.Selection, error) {
	var sel selection.Selection
	err := e.do(func() { sel = e.commit(op, fn) })
	return sel, err
}

// commit 在循环上执行一次选择变更：一次变更只发布一次，然后调整轮询任务。
func (e *Engine) commit(op string, fn func(*selection.Controller) (selection.Selection, bool)) selection.Selection {
	prev := e.ctrl.Current()
	next, changed := fn(e.ctrl)
	if !changed {
		return next
	}
	metrics.SelectionChanges.WithLabelValues(op).Inc()
	fields := map[string]interface{}{"instrument": string(next.Instrument)}
	if next.Order != nil {
		fields["order"] = next.Order.OrderID
	}
	if next.Article != nil {
		fields["article"] = next.Article.ID
	}
	e.logger.LogSelection(op, fields)
	e.bus.Publish(bus.Publication{Prev: prev, Selection: next})
	if prev.Instrument != next.Instrument {
		e.reconcile()
	}
	return next
}
