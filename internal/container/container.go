package container

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"market-dashboard-go/config"
	"market-dashboard-go/gateway"
	"market-dashboard-go/infrastructure/alert"
	"market-dashboard-go/infrastructure/logger"
	"market-dashboard-go/internal/engine"
	"market-dashboard-go/internal/scheduler"
	"market-dashboard-go/internal/store"
	"market-dashboard-go/internal/widgetapi"
	"market-dashboard-go/market"
	"market-dashboard-go/metrics"
)

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置（热更新时整体替换）
	cfgPath string
	cfgMu   sync.RWMutex
	cfg     config.AppConfig

	// 基础设施
	logger *logger.Logger
	alerts *alert.Manager

	// 数据源
	client *gateway.APIClient
	feed   *gateway.ScreeningFeed

	// 核心
	store  *store.Store
	sched  *scheduler.Scheduler
	engine *engine.Engine

	// 对外接口
	widgets *widgetapi.Server
	metrics *httpServerComponent

	lifecycle *LifecycleManager
}

// New 从配置文件创建容器（环境变量覆盖生效）
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	c := NewWithConfig(cfg)
	c.cfgPath = configPath
	return c, nil
}

// NewWithConfig 使用已加载的配置创建容器；不监听配置文件。
func NewWithConfig(cfg config.AppConfig) *Container {
	return &Container{
		cfg:       cfg,
		lifecycle: NewLifecycleManager(),
	}
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	c.buildGateway()
	if err := c.buildCore(); err != nil {
		return fmt.Errorf("build core failed: %w", err)
	}
	c.buildServers()
	c.registerLifecycleComponents()
	c.logger.Info("container built", zap.String("env", c.cfg.Env))
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}
	channels, err := alert.BuildChannels(c.cfg.Alert.Channels, c.logger)
	if err != nil {
		return fmt.Errorf("build alert channels failed: %w", err)
	}
	c.alerts = alert.NewManager(channels, c.cfg.Alert.Throttle)
	return nil
}

func (c *Container) buildGateway() {
	api := c.cfg.API
	c.client = gateway.NewAPIClient(api.BaseURL, api.Timeout, gateway.NewTokenBucketLimiter(api.RateLimit, api.Burst))

	sc := c.cfg.Screening
	c.feed = gateway.NewScreeningFeed(gateway.ScreeningFeedConfig{
		URL:          sc.URL,
		Backoff:      gateway.Backoff{Base: sc.BackoffBase, Max: sc.BackoffMax},
		ReadTimeout:  sc.ReadTimeout,
		PingInterval: sc.PingInterval,
	}, c.logger.WithFields(map[string]interface{}{"component": "screening_feed"}))
}

func (c *Container) buildCore() error {
	c.store = store.New(c.logger.EventSink())
	c.sched = scheduler.New(c.logger.WithFields(map[string]interface{}{"component": "scheduler"}))
	eng, err := engine.New(
		engine.Config{
			DefaultInstrument: market.NormalizeInstrument(c.cfg.DefaultInstrument),
			DefaultPeriod:     c.cfg.Polling.Ohlcv.Period,
		},
		engine.Components{
			Store:     c.store,
			Scheduler: c.sched,
			Polls:     c.pollFactory,
			Alerts:    c.alerts,
			Logger:    c.logger.WithFields(map[string]interface{}{"component": "engine"}),
		})
	if err != nil {
		return err
	}
	c.engine = eng
	return nil
}

func (c *Container) buildServers() {
	sv := c.cfg.Server
	c.widgets = widgetapi.NewServer(c.engine, widgetapi.Config{
		Addr:             sv.Addr,
		AllowedOrigins:   sv.AllowedOrigins,
		MaxSubscriptions: sv.MaxSubscriptions,
		PingInterval:     sv.PingInterval,
		WriteTimeout:     sv.WriteTimeout,
	}, c.logger.WithFields(map[string]interface{}{"component": "widgetapi"}))

	if sv.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		c.metrics = &httpServerComponent{
			name:    "metrics_server",
			handler: mux,
			addr:    sv.MetricsAddr,
			logger:  c.logger,
		}
	}
}

// registerLifecycleComponents 注册顺序即启动顺序；停止时逆序：
// 先断开组件连接，再停推送源和引擎，最后停调度器。
func (c *Container) registerLifecycleComponents() {
	c.lifecycle.Register(&funcComponent{
		name: "scheduler",
		stop: func() error { c.sched.Stop(); return nil },
	})
	c.lifecycle.Register(c.engineComponent())
	c.lifecycle.Register(&funcComponent{
		name:  "screening_feed",
		start: func(context.Context) error { return c.engine.StartPush(c.feed) },
		stop:  func() error { return ignoreStopped(c.engine.StopPush()) },
	})
	c.lifecycle.Register(&funcComponent{
		name:  "widget_server",
		start: func(context.Context) error { return c.widgets.Start() },
		stop: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), c.Config().Server.ShutdownTimeout)
			defer cancel()
			return c.widgets.Stop(ctx)
		},
	})
	if c.metrics != nil {
		c.lifecycle.Register(c.metrics)
	}
	if c.cfgPath != "" {
		c.lifecycle.Register(c.watcherComponent())
	}
}

func (c *Container) engineComponent() Lifecycle {
	var (
		cancel context.CancelFunc
		runErr = make(chan error, 1)
	)
	return &funcComponent{
		name: "engine",
		start: func(ctx context.Context) error {
			runCtx, cf := context.WithCancel(context.Background())
			cancel = cf
			go func() { runErr <- c.engine.Run(runCtx) }()
			return nil
		},
		stop: func() error {
			if cancel == nil {
				return nil
			}
			cancel()
			cancel = nil
			<-c.engine.Done()
			return <-runErr
		},
		health: func() error {
			select {
			case <-c.engine.Done():
				return engine.ErrStopped
			default:
				return nil
			}
		},
	}
}

func (c *Container) watcherComponent() Lifecycle {
	var (
		cancel context.CancelFunc
		done   = make(chan struct{})
	)
	w := config.Watcher{
		Path:   c.cfgPath,
		Logger: c.logger.WithFields(map[string]interface{}{"component": "config_watcher"}),
	}
	return &funcComponent{
		name: "config_watcher",
		start: func(context.Context) error {
			ctx, cf := context.WithCancel(context.Background())
			cancel = cf
			go func() {
				defer close(done)
				if err := w.Start(ctx, c.ApplyConfig); err != nil && !errors.Is(err, context.Canceled) {
					c.logger.LogError(err, map[string]interface{}{"component": "config_watcher"})
				}
			}()
			return nil
		},
		stop: func() error {
			if cancel == nil {
				return nil
			}
			cancel()
			cancel = nil
			<-done
			return nil
		},
	}
}

// Start 启动全部组件
func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")
	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	c.logger.Info("container started", zap.String("widget_addr", c.widgets.Addr()))
	return nil
}

// Stop 逆序停止全部组件
func (c *Container) Stop() error {
	c.logger.Info("stopping container...")
	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	c.logger.Info("container stopped")
	_ = c.logger.Close()
	return err
}

// HealthCheck 检查组件健康状态
func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// Engine 返回同步引擎
func (c *Container) Engine() *engine.Engine { return c.engine }

// WidgetAddr 组件接口实际监听地址
func (c *Container) WidgetAddr() string { return c.widgets.Addr() }

// MetricsAddr 指标接口实际监听地址；未启用时为空
func (c *Container) MetricsAddr() string {
	if c.metrics == nil {
		return ""
	}
	return c.metrics.Addr()
}

// Config 当前生效配置
func (c *Container) Config() config.AppConfig {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.cfg
}

// ApplyConfig 配置热更新：轮询节奏即时生效，其它轮询参数在下一次创建任务时使用；
// 默认 K 线周期只影响之后的订阅。监听地址、推送地址等需要重启。
func (c *Container) ApplyConfig(cfg config.AppConfig) {
	c.cfgMu.Lock()
	c.cfg = cfg
	c.cfgMu.Unlock()
	err := c.engine.UpdatePolicies(c.policyFor)
	if err == nil {
		err = c.engine.SetDefaultPeriod(cfg.Polling.Ohlcv.Period)
	}
	if err != nil && !errors.Is(err, engine.ErrStopped) {
		c.logger.LogError(err, map[string]interface{}{"action": "apply_config"})
		return
	}
	c.logger.Info("poll policies updated")
}

// pollFactory 按任务键构造拉取器：ohlcv|K|P、book|K、orders。
// K 线周期取自任务键，不同周期是不同任务。
func (c *Container) pollFactory(key string) (scheduler.Fetcher, scheduler.Policy, error) {
	cfg := c.Config().Polling
	policy, ok := c.policyFor(key)
	if !ok {
		return nil, scheduler.Policy{}, fmt.Errorf("unknown poll key %q", key)
	}
	kind, k, period, _ := market.ParseFeedKey(key)
	switch kind {
	case market.FeedKindOhlcv:
		return &gateway.OhlcvPoller{Client: c.client, Instrument: k, Period: period, Lookback: cfg.Ohlcv.Lookback}, policy, nil
	case market.FeedKindBook:
		return &gateway.OrderBookPoller{Client: c.client, Instrument: k, Depth: cfg.OrderBook.Depth}, policy, nil
	default:
		return &gateway.OrdersPoller{Client: c.client, Lookback: cfg.Orders.Lookback}, policy, nil
	}
}

func (c *Container) policyFor(key string) (scheduler.Policy, bool) {
	cfg := c.Config().Polling
	kind, _, _, ok := market.ParseFeedKey(key)
	if !ok {
		return scheduler.Policy{}, false
	}
	var cad config.PollCadence
	switch kind {
	case market.FeedKindOhlcv:
		cad = cfg.Ohlcv.Cadence()
	case market.FeedKindBook:
		cad = cfg.OrderBook.Cadence()
	case market.FeedKindOrders:
		cad = cfg.Orders.Cadence()
	default:
		return scheduler.Policy{}, false
	}
	return scheduler.Policy{
		Interval:         cad.Interval,
		MaxInterval:      cad.MaxInterval,
		FailureThreshold: cad.FailureThreshold,
	}, true
}

func ignoreStopped(err error) error {
	if errors.Is(err, engine.ErrStopped) {
		return nil
	}
	return err
}
