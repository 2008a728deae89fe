package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"market-dashboard-go/infrastructure/logger"
	"market-dashboard-go/market"
	"market-dashboard-go/metrics"
)

// ScreeningFeedConfig 筛选推送连接参数。
type ScreeningFeedConfig struct {
	URL          string
	Backoff      Backoff
	ReadTimeout  time.Duration
	PingInterval time.Duration
	Dialer       *websocket.Dialer
}

// ScreeningFeed 订阅筛选推送流，断线后按指数退避自动重连。
// 每条合法消息整体产出一个 ScreeningUpdate；格式错误的消息丢弃并回调 onError。
type ScreeningFeed struct {
	cfg    ScreeningFeedConfig
	logger *logger.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	// sleep 可在测试中替换。
	sleep func(ctx context.Context, d time.Duration) bool
}

func NewScreeningFeed(cfg ScreeningFeedConfig, log *logger.Logger) *ScreeningFeed {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.ReadTimeout {
		cfg.PingInterval = cfg.ReadTimeout / 2
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &ScreeningFeed{cfg: cfg, logger: log, sleep: sleepCtx}
}

// Start 启动后台读取循环；重复调用返回错误。
func (f *ScreeningFeed) Start(onUpdate func(market.Event), onError func(error)) error {
	if f.cfg.URL == "" {
		return fmt.Errorf("screening feed url required")
	}
	if onUpdate == nil {
		return fmt.Errorf("screening feed update handler required")
	}
	if onError == nil {
		onError = func(error) {}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return fmt.Errorf("screening feed already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan struct{})
	f.running = true
	go f.run(ctx, f.done, onUpdate, onError)
	return nil
}

// Stop 关闭连接并等待后台循环退出；返回后不会再有回调。
func (f *ScreeningFeed) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	f.cancel()
	if f.conn != nil {
		_ = f.conn.Close()
	}
	done := f.done
	f.mu.Unlock()
	<-done
}

func (f *ScreeningFeed) run(ctx context.Context, done chan struct{}, onUpdate func(market.Event), onError func(error)) {
	defer close(done)
	attempt := 0
	for ctx.Err() == nil {
		conn, _, err := f.cfg.Dialer.DialContext(ctx, f.cfg.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempt++
			wait := f.cfg.Backoff.Next(attempt)
			f.logger.Warn("screening feed dial failed",
				zap.Error(err), zap.Int("attempt", attempt), zap.Duration("retryIn", wait))
			onError(transportErr("dial screening feed", err))
			if !f.sleep(ctx, wait) {
				return
			}
			continue
		}
		if !f.setConn(conn) {
			_ = conn.Close()
			return
		}
		if attempt > 0 {
			metrics.FeedReconnects.WithLabelValues(market.ScreeningFeedKey).Inc()
		}
		attempt = 0
		metrics.SetFeedConnected(market.ScreeningFeedKey, true)
		f.logger.LogFeed("connected", market.ScreeningFeedKey, map[string]interface{}{"url": f.cfg.URL})

		err = f.readLoop(ctx, conn, onUpdate, onError)

		f.setConn(nil)
		metrics.SetFeedConnected(market.ScreeningFeedKey, false)
		if ctx.Err() != nil {
			return
		}
		f.logger.LogFeed("disconnected", market.ScreeningFeedKey, map[string]interface{}{"error": err.Error()})
		onError(transportErr("read screening feed", err))
		attempt++
		if !f.sleep(ctx, f.cfg.Backoff.Next(attempt)) {
			return
		}
	}
}

// setConn 记录当前连接；已停止时返回 false。
func (f *ScreeningFeed) setConn(conn *websocket.Conn) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conn != nil && !f.running {
		return false
	}
	f.conn = conn
	return true
}

func (f *ScreeningFeed) readLoop(ctx context.Context, conn *websocket.Conn, onUpdate func(market.Event), onError func(error)) error {
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(f.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				deadline := time.Now().Add(5 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		rows, err := ParseScreening(msg)
		if err != nil {
			f.logger.Warn("drop malformed screening message", zap.Error(err))
			onError(err)
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		onUpdate(market.ScreeningUpdate{Rows: rows})
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
