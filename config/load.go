package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"market-dashboard-go/infrastructure/logger"
)

// 环境变量覆盖
const (
	EnvAPIBaseURL        = "DASH_API_BASE_URL"
	EnvScreeningURL      = "DASH_SCREENING_URL"
	EnvDefaultInstrument = "DASH_DEFAULT_INSTRUMENT"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env               string          `yaml:"env" default:"dev"`
	Instruments       []string        `yaml:"instruments"`
	DefaultInstrument string          `yaml:"defaultInstrument"`
	API               APIConfig       `yaml:"api"`
	Screening         ScreeningConfig `yaml:"screening"`
	Polling           PollingConfig   `yaml:"polling"`
	Server            ServerConfig    `yaml:"server"`
	Log               logger.Config   `yaml:"log"`
	Alert             AlertConfig     `yaml:"alert"`
}

// APIConfig 行情/订单 REST 服务
type APIConfig struct {
	BaseURL   string        `yaml:"baseURL"`
	Timeout   time.Duration `yaml:"timeout" default:"10s"`
	RateLimit float64       `yaml:"rateLimit" default:"10"` // 每秒请求数
	Burst     int           `yaml:"burst" default:"5"`
}

// ScreeningConfig 筛选推送 websocket
type ScreeningConfig struct {
	URL          string        `yaml:"url"`
	BackoffBase  time.Duration `yaml:"backoffBase" default:"1s"`
	BackoffMax   time.Duration `yaml:"backoffMax" default:"30s"`
	ReadTimeout  time.Duration `yaml:"readTimeout" default:"60s"`
	PingInterval time.Duration `yaml:"pingInterval" default:"25s"`
}

// PollingConfig 各轮询源的节奏
type PollingConfig struct {
	Ohlcv     OhlcvPollConfig  `yaml:"ohlcv"`
	OrderBook BookPollConfig   `yaml:"orderBook"`
	Orders    OrdersPollConfig `yaml:"orders"`
}

// PollCadence 通用节奏参数：连续失败 FailureThreshold 次后间隔加倍，直到 MaxInterval。
type PollCadence struct {
	Interval         time.Duration
	MaxInterval      time.Duration
	FailureThreshold int
}

type OhlcvPollConfig struct {
	Interval         time.Duration `yaml:"interval" default:"10s"`
	MaxInterval      time.Duration `yaml:"maxInterval" default:"2m"`
	FailureThreshold int           `yaml:"failureThreshold" default:"3"`
	Period           string        `yaml:"period" default:"1h"`
	Lookback         int           `yaml:"lookback" default:"500"` // K 线根数
}

type BookPollConfig struct {
	Interval         time.Duration `yaml:"interval" default:"2s"`
	MaxInterval      time.Duration `yaml:"maxInterval" default:"30s"`
	FailureThreshold int           `yaml:"failureThreshold" default:"3"`
	Depth            int           `yaml:"depth" default:"50"`
}

type OrdersPollConfig struct {
	Interval         time.Duration `yaml:"interval" default:"5s"`
	MaxInterval      time.Duration `yaml:"maxInterval" default:"1m"`
	FailureThreshold int           `yaml:"failureThreshold" default:"3"`
	Lookback         int           `yaml:"lookback" default:"7"` // 天
}

func (c OhlcvPollConfig) Cadence() PollCadence {
	return PollCadence{Interval: c.Interval, MaxInterval: c.MaxInterval, FailureThreshold: c.FailureThreshold}
}

func (c BookPollConfig) Cadence() PollCadence {
	return PollCadence{Interval: c.Interval, MaxInterval: c.MaxInterval, FailureThreshold: c.FailureThreshold}
}

func (c OrdersPollConfig) Cadence() PollCadence {
	return PollCadence{Interval: c.Interval, MaxInterval: c.MaxInterval, FailureThreshold: c.FailureThreshold}
}

// ServerConfig 组件接口与指标监听
type ServerConfig struct {
	Addr             string        `yaml:"addr" default:":8080"`
	MetricsAddr      string        `yaml:"metricsAddr" default:":9100"`
	AllowedOrigins   []string      `yaml:"allowedOrigins"`
	MaxSubscriptions int           `yaml:"maxSubscriptions" default:"32"`
	PingInterval     time.Duration `yaml:"pingInterval" default:"30s"`
	WriteTimeout     time.Duration `yaml:"writeTimeout" default:"10s"`
	ShutdownTimeout  time.Duration `yaml:"shutdownTimeout" default:"10s"`
}

// AlertConfig 告警
type AlertConfig struct {
	Throttle time.Duration `yaml:"throttle" default:"5m"`
	Channels []string      `yaml:"channels" default:"[\"zap\"]"`
}

// Load reads YAML config from path, fills defaults and validates.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse 解析 YAML 内容；未出现的字段取 default 标签值。
func Parse(raw []byte) (AppConfig, error) {
	cfg, err := decode(raw)
	if err != nil {
		return cfg, err
	}
	cfg.normalize()
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides endpoints from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := decode(raw)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv(EnvAPIBaseURL); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv(EnvScreeningURL); v != "" {
		cfg.Screening.URL = v
	}
	if v := os.Getenv(EnvDefaultInstrument); v != "" {
		cfg.DefaultInstrument = v
	}
	cfg.normalize()
	return cfg, Validate(cfg)
}

func decode(raw []byte) (AppConfig, error) {
	var cfg AppConfig
	if err := defaults.Set(&cfg); err != nil {
		return cfg, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if len(cfg.Log.Outputs) == 0 {
		cfg.Log.Outputs = []string{"stdout"}
	}
	return cfg, nil
}

func (c *AppConfig) normalize() {
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	c.Screening.URL = strings.TrimSpace(c.Screening.URL)
	if c.DefaultInstrument == "" && len(c.Instruments) > 0 {
		c.DefaultInstrument = c.Instruments[0]
	}
}
