package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap/zapcore"

	"market-dashboard-go/market"
)

// Validate ensures required fields are present and cadences are sane.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if err := checkURL("api.baseURL", cfg.API.BaseURL, "http", "https"); err != nil {
		return err
	}
	if err := checkURL("screening.url", cfg.Screening.URL, "ws", "wss"); err != nil {
		return err
	}
	if cfg.API.Timeout <= 0 {
		return errors.New("api.timeout must be > 0")
	}
	if cfg.API.RateLimit <= 0 || cfg.API.Burst < 1 {
		return errors.New("api.rateLimit must be > 0 and api.burst >= 1")
	}
	if cfg.Screening.BackoffBase <= 0 || cfg.Screening.BackoffMax < cfg.Screening.BackoffBase {
		return errors.New("screening backoff must satisfy 0 < backoffBase <= backoffMax")
	}
	if cfg.Screening.ReadTimeout <= 0 {
		return errors.New("screening.readTimeout must be > 0")
	}

	if err := checkCadence("polling.ohlcv", cfg.Polling.Ohlcv.Cadence()); err != nil {
		return err
	}
	if err := checkCadence("polling.orderBook", cfg.Polling.OrderBook.Cadence()); err != nil {
		return err
	}
	if err := checkCadence("polling.orders", cfg.Polling.Orders.Cadence()); err != nil {
		return err
	}
	if !validPeriod(cfg.Polling.Ohlcv.Period) {
		return fmt.Errorf("polling.ohlcv.period %q must be letters and digits only", cfg.Polling.Ohlcv.Period)
	}
	if cfg.Polling.Ohlcv.Lookback < 0 || cfg.Polling.Orders.Lookback < 0 || cfg.Polling.OrderBook.Depth < 0 {
		return errors.New("polling lookback/depth must be >= 0")
	}

	if cfg.DefaultInstrument != "" && len(cfg.Instruments) > 0 {
		def := market.NormalizeInstrument(cfg.DefaultInstrument)
		found := false
		for _, k := range cfg.Instruments {
			if market.NormalizeInstrument(k) == def {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("defaultInstrument %s is not in instruments", cfg.DefaultInstrument)
		}
	}

	if cfg.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if cfg.Server.MaxSubscriptions < 1 {
		return errors.New("server.maxSubscriptions must be >= 1")
	}
	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	for _, ch := range cfg.Alert.Channels {
		switch strings.ToLower(ch) {
		case "log", "zap":
		default:
			return fmt.Errorf("alert channel %q not supported", ch)
		}
	}
	return nil
}

func checkURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required (or env override)", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be a %s URL, got %q", field, strings.Join(schemes, "/"), raw)
}

func checkCadence(field string, c PollCadence) error {
	if c.Interval <= 0 {
		return fmt.Errorf("%s.interval must be > 0", field)
	}
	if c.MaxInterval < c.Interval {
		return fmt.Errorf("%s.maxInterval must be >= interval", field)
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("%s.failureThreshold must be >= 1", field)
	}
	return nil
}

// validPeriod K 线周期是任务键的一段，只允许字母数字（如 15m、1h、1d）。
func validPeriod(p string) bool {
	if p == "" || len(p) > 8 {
		return false
	}
	return strings.IndexFunc(p, func(r rune) bool {
		return !(r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	}) < 0
}
