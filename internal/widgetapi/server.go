// Package widgetapi exposes the sync engine to browser widgets over a websocket.
package widgetapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"market-dashboard-go/infrastructure/logger"
	"market-dashboard-go/internal/bus"
	"market-dashboard-go/internal/selection"
	"market-dashboard-go/market"
	"market-dashboard-go/metrics"
)

// Engine 组件接口依赖的引擎命令（由 *engine.Engine 实现）。
type Engine interface {
	Subscribe(in bus.Interest, fn bus.Handler) (bus.ID, bus.View, error)
	Unsubscribe(id bus.ID) error
	SelectInstrument(k market.InstrumentKey) (selection.Selection, error)
	SelectOrderByID(orderID string) (selection.Selection, error)
	SelectArticle(ref *selection.ArticleRef) (selection.Selection, error)
	ClearOrder() (selection.Selection, error)
	FocusInstrument(k market.InstrumentKey) (selection.Selection, error)
	RefreshOrders() (bool, error)
	Selection() (selection.Selection, error)
}

// Config 组件服务配置
type Config struct {
	Addr             string
	AllowedOrigins   []string // 为空时不校验 Origin
	MaxSubscriptions int
	PingInterval     time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
}

func (c Config) withDefaults() Config {
	if c.MaxSubscriptions <= 0 {
		c.MaxSubscriptions = 32
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 << 10
	}
	return c
}

// Server 组件 websocket + 少量 HTTP 接口
type Server struct {
	engine   Engine
	cfg      Config
	logger   *logger.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu 同时保护 closing 与 wg.Add：Stop 置位后不再登记新连接
	mu      sync.Mutex
	closing bool
	httpSrv *http.Server
	addr    string
}

// NewServer 创建服务
func NewServer(eng Engine, cfg Config, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		engine: eng,
		cfg:    cfg,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler 返回路由
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/selection", s.handleSelection)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start 监听并在后台提供服务
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv != nil {
		return errors.New("widget server already started")
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.addr = ln.Addr().String()
	s.httpSrv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	srv := s.httpSrv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.LogError(err, map[string]interface{}{"component": "widgetapi"})
		}
	}()
	s.logger.Info("widget server listening", zap.String("addr", s.addr))
	return nil
}

// Addr 实际监听地址（Start 之后有效）
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop 关闭监听并断开所有组件连接；连接上的订阅在返回前全部取消。
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	srv := s.httpSrv
	s.mu.Unlock()
	s.cancel()
	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range s.cfg.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已写回错误响应
		s.logger.Warn("widget upgrade failed", zap.Error(err))
		return
	}
	// 升级期间可能已经开始停止
	if !s.track() {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}
	c := newConn(uuid.NewString(), ws, s.engine, s.cfg, s.logger)
	metrics.WidgetConnections.Inc()
	s.logger.Info("widget connected", zap.String("conn", c.id), zap.String("remote", r.RemoteAddr))
	go func() {
		defer s.wg.Done()
		defer metrics.WidgetConnections.Dec()
		if err := c.serve(s.ctx); err != nil {
			s.logger.Warn("widget connection error", zap.String("conn", c.id), zap.Error(err))
		}
		s.logger.Info("widget disconnected", zap.String("conn", c.id))
	}()
}

// track 登记一个连接；Stop 开始后返回 false。
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sel, err := s.engine.Selection()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sel)
}
