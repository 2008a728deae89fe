// Package engine runs every state mutation of the dashboard core on one goroutine.
package engine

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"market-dashboard-go/infrastructure/alert"
	"market-dashboard-go/infrastructure/logger"
	"market-dashboard-go/internal/bus"
	"market-dashboard-go/internal/scheduler"
	"market-dashboard-go/internal/selection"
	"market-dashboard-go/internal/store"
	"market-dashboard-go/market"
)

var (
	// ErrStopped 引擎循环已退出。
	ErrStopped = errors.New("engine stopped")
	// ErrUnknownOrder 按 id 选择的订单不在规范快照中。
	ErrUnknownOrder = errors.New("unknown order")
	// ErrAlreadyRunning Run 被重复调用。
	ErrAlreadyRunning = errors.New("engine already running")
)

// PollFactory 为轮询任务键（ohlcv|K|P、book|K、orders）构造拉取器与节奏。
type PollFactory func(key string) (scheduler.Fetcher, scheduler.Policy, error)

// PushFeed 推送数据源（gateway.ScreeningFeed）。
type PushFeed interface {
	Start(onUpdate func(market.Event), onError func(error)) error
	Stop()
}

// DefaultPeriod 订阅未指定 K 线周期且配置也未给出时使用。
const DefaultPeriod = "1h"

// Config 引擎配置
type Config struct {
	DefaultInstrument market.InstrumentKey
	// DefaultPeriod 订阅未指定周期时的 K 线周期。
	DefaultPeriod string
}

// Components 引擎依赖组件
type Components struct {
	Store     *store.Store
	Scheduler *scheduler.Scheduler
	Polls     PollFactory
	Alerts    *alert.Manager
	Logger    *logger.Logger
}

// Engine 组合存储、选择控制器与订阅总线。所有变更都在 Run 的循环里按到达顺序执行。
type Engine struct {
	store  *store.Store
	ctrl   *selection.Controller
	bus    *bus.Bus
	sched  *scheduler.Scheduler
	polls  PollFactory
	alerts *alert.Manager
	logger *logger.Logger

	// 邮箱：无界队列，投递方从不阻塞。
	mu      sync.Mutex
	queue   []func()
	notify  chan struct{}
	running bool
	closed  chan struct{}

	// 以下字段只在循环内访问
	sources map[string]uint64
	gen     uint64
	jobs    map[string]pollJob
	push    PushFeed
	period  string
}

type pollJob struct {
	source SourceID
	detach func()
}

// New 创建引擎；Run 之前不会执行任何命令。
func New(cfg Config, c Components) (*Engine, error) {
	if c.Store == nil {
		return nil, errors.New("store required")
	}
	if c.Scheduler == nil {
		return nil, errors.New("scheduler required")
	}
	if c.Polls == nil {
		return nil, errors.New("poll factory required")
	}
	if c.Logger == nil {
		c.Logger = logger.NewNop()
	}
	if cfg.DefaultPeriod == "" {
		cfg.DefaultPeriod = DefaultPeriod
	}
	return &Engine{
		store:   c.Store,
		ctrl:    selection.NewController(cfg.DefaultInstrument),
		bus:     bus.New(c.Store),
		sched:   c.Scheduler,
		polls:   c.Polls,
		alerts:  c.Alerts,
		logger:  c.Logger,
		notify:  make(chan struct{}, 1),
		closed:  make(chan struct{}),
		sources: make(map[string]uint64),
		jobs:    make(map[string]pollJob),
		period:  cfg.DefaultPeriod,
	}, nil
}

// Run 执行循环直到 ctx 取消。退出时停止所有轮询任务。
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	e.mu.Unlock()

	e.logger.Info("sync engine started", zap.String("instrument", string(e.ctrl.Current().Instrument)))
	defer func() {
		e.shutdown()
		close(e.closed)
		e.logger.Info("sync engine stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.notify:
		}
		for _, fn := range e.drain() {
			fn()
			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

func (e *Engine) drain() []func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	q := e.queue
	e.queue = nil
	return q
}

// post 投递到循环，不阻塞。
func (e *Engine) post(fn func()) {
	e.mu.Lock()
	e.queue = append(e.queue, fn)
	e.mu.Unlock()
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// do 在循环上同步执行 fn。
func (e *Engine) do(fn func()) error {
	select {
	case <-e.closed:
		return ErrStopped
	default:
	}
	done := make(chan struct{})
	e.post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-e.closed:
		return ErrStopped
	}
}

// Done 循环退出后关闭。
func (e *Engine) Done() <-chan struct{} { return e.closed }

func (e *Engine) shutdown() {
	for key, j := range e.jobs {
		j.detach()
		delete(e.sources, key)
		delete(e.jobs, key)
	}
	if e.push != nil {
		delete(e.sources, market.ScreeningFeedKey)
		p := e.push
		e.push = nil
		p.Stop()
	}
}
