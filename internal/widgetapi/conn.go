package widgetapi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"market-dashboard-go/infrastructure/logger"
	"market-dashboard-go/internal/bus"
	"market-dashboard-go/market"
)

var errConnClosed = errors.New("widget connection closed")

// 错误消息队列上限，超出后丢弃最早的
const maxQueuedErrors = 32

// conn 一个组件连接。subs 只由读循环（以及退出后的清理）访问；
// 出站视图按 ref 合并，慢客户端只会收到每个订阅的最新视图。
type conn struct {
	id     string
	ws     *websocket.Conn
	engine Engine
	cfg    Config
	logger *logger.Logger

	subs map[string]bus.ID

	mu      sync.Mutex
	pending map[string]bus.View
	order   []string
	seen    map[string]uint64
	errs    []serverMessage
	wake    chan struct{}
}

func newConn(id string, ws *websocket.Conn, eng Engine, cfg Config, log *logger.Logger) *conn {
	return &conn{
		id:      id,
		ws:      ws,
		engine:  eng,
		cfg:     cfg,
		logger:  log,
		subs:    make(map[string]bus.ID),
		pending: make(map[string]bus.View),
		seen:    make(map[string]uint64),
		wake:    make(chan struct{}, 1),
	}
}

// serve 运行读写循环直到任一方退出，然后同步取消全部订阅。
func (c *conn) serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readPump(gctx) })
	g.Go(func() error { return c.writePump(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.cfg.WriteTimeout))
		return c.ws.Close()
	})
	err := g.Wait()
	c.unsubscribeAll()
	if errors.Is(err, errConnClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// offer 在引擎循环上调用，不能阻塞。旧于已见序号的视图被丢弃。
func (c *conn) offer(ref string, v bus.View) {
	c.mu.Lock()
	if seen, ok := c.seen[ref]; ok && v.Seq < seen {
		c.mu.Unlock()
		return
	}
	c.seen[ref] = v.Seq
	if _, ok := c.pending[ref]; !ok {
		c.order = append(c.order, ref)
	}
	c.pending[ref] = v
	c.mu.Unlock()
	c.signal()
}

func (c *conn) offerError(m serverMessage) {
	c.mu.Lock()
	if len(c.errs) >= maxQueuedErrors {
		c.errs = c.errs[1:]
	}
	c.errs = append(c.errs, m)
	c.mu.Unlock()
	c.signal()
}

// forget 丢弃某个 ref 尚未发送的视图。
func (c *conn) forget(ref string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[ref]; ok {
		delete(c.pending, ref)
		for i, r := range c.order {
			if r == ref {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
	delete(c.seen, ref)
}

func (c *conn) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// drain 取出待发送消息：错误在前，视图按首次入队顺序。
func (c *conn) drain() []serverMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]serverMessage, 0, len(c.errs)+len(c.order))
	out = append(out, c.errs...)
	c.errs = nil
	for _, ref := range c.order {
		out = append(out, viewMessage(ref, c.pending[ref]))
		delete(c.pending, ref)
	}
	c.order = c.order[:0]
	return out
}

func (c *conn) writePump(ctx context.Context) error {
	ping := time.NewTicker(c.cfg.PingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.wake:
			for _, m := range c.drain() {
				_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
				if err := c.ws.WriteJSON(m); err != nil {
					return fmt.Errorf("write %s: %w", m.Type, err)
				}
			}
		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (c *conn) readPump(ctx context.Context) error {
	c.ws.SetReadLimit(c.cfg.ReadLimit)
	readTimeout := 2 * c.cfg.PingInterval
	_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errConnClosed
			}
			return fmt.Errorf("read: %w", err)
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
		m, err := decodeClientMessage(raw)
		if err != nil {
			c.offerError(errorMessage(m.Op, m.Ref, err))
			continue
		}
		if err := c.handle(m); err != nil {
			c.offerError(errorMessage(m.Op, m.Ref, err))
		}
	}
}

func (c *conn) handle(m clientMessage) error {
	switch m.Op {
	case opSubscribe:
		return c.subscribe(m)
	case opUnsubscribe:
		return c.unsubscribe(m.Ref)
	case opSelectInstrument:
		_, err := c.engine.SelectInstrument(market.NormalizeInstrument(m.Instrument))
		return err
	case opSelectOrder:
		_, err := c.engine.SelectOrderByID(m.OrderID)
		return err
	case opSelectArticle:
		_, err := c.engine.SelectArticle(m.Article)
		return err
	case opClearOrder:
		_, err := c.engine.ClearOrder()
		return err
	case opFocusInstrument:
		_, err := c.engine.FocusInstrument(market.NormalizeInstrument(m.Instrument))
		return err
	case opRefreshOrders:
		_, err := c.engine.RefreshOrders()
		return err
	}
	return fmt.Errorf("unknown op %q", m.Op)
}

func (c *conn) subscribe(m clientMessage) error {
	topics, ok := bus.ParseTopics(m.Topics)
	if !ok {
		return fmt.Errorf("unknown topic in %v", m.Topics)
	}
	if _, exists := c.subs[m.Ref]; !exists && len(c.subs) >= c.cfg.MaxSubscriptions {
		return fmt.Errorf("subscription limit %d reached", c.cfg.MaxSubscriptions)
	}
	// 同名 ref 重新订阅时先撤掉旧订阅
	if _, exists := c.subs[m.Ref]; exists {
		if err := c.unsubscribe(m.Ref); err != nil {
			return err
		}
	}
	in := bus.Interest{
		Topics:         topics,
		Instrument:     market.NormalizeInstrument(m.Instrument),
		AllInstruments: m.AllInstruments,
		Period:         m.Period,
	}
	ref := m.Ref
	id, view, err := c.engine.Subscribe(in, func(v bus.View) { c.offer(ref, v) })
	if err != nil {
		return err
	}
	c.subs[ref] = id
	c.offer(ref, view)
	c.logger.Debug("widget subscribed",
		zap.String("conn", c.id), zap.String("ref", ref), zap.String("topics", topics.String()))
	return nil
}

func (c *conn) unsubscribe(ref string) error {
	id, ok := c.subs[ref]
	if !ok {
		return fmt.Errorf("unknown subscription %q", ref)
	}
	delete(c.subs, ref)
	err := c.engine.Unsubscribe(id)
	c.forget(ref)
	return err
}

func (c *conn) unsubscribeAll() {
	for ref := range c.subs {
		if err := c.unsubscribe(ref); err != nil {
			c.logger.LogError(err, map[string]interface{}{"conn": c.id, "ref": ref})
		}
	}
}
