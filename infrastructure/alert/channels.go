package alert

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"market-dashboard-go/infrastructure/logger"
)

// LogChannel 标准日志告警通道
type LogChannel struct {
	logger *log.Logger
	name   string
}

// NewLogChannel 创建日志告警通道；output 为空时写 stdout。
func NewLogChannel(name string, output io.Writer) *LogChannel {
	if output == nil {
		output = os.Stdout
	}
	return &LogChannel{
		logger: log.New(output, "[ALERT] ", log.LstdFlags),
		name:   name,
	}
}

// Send 发送告警到日志
func (c *LogChannel) Send(alert Alert) error {
	msg := fmt.Sprintf("[%s] %s", alert.Level, alert.Message)
	if len(alert.Fields) > 0 {
		keys := make([]string, 0, len(alert.Fields))
		for k := range alert.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, alert.Fields[k]))
		}
		msg += " | " + strings.Join(parts, " ")
	}
	c.logger.Println(msg)
	return nil
}

func (c *LogChannel) Name() string { return c.name }

// ZapChannel 通过结构化日志输出告警。
type ZapChannel struct {
	logger *logger.Logger
	name   string
}

func NewZapChannel(name string, l *logger.Logger) *ZapChannel {
	return &ZapChannel{logger: l, name: name}
}

func (c *ZapChannel) Send(alert Alert) error {
	if c.logger == nil {
		return fmt.Errorf("logger not set")
	}
	fields := []zap.Field{
		zap.String("level", string(alert.Level)),
		zap.Time("ts", alert.Timestamp),
	}
	for k, v := range alert.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	switch alert.Level {
	case LevelError, LevelCritical:
		c.logger.Error("alert: "+alert.Message, fields...)
	case LevelWarning:
		c.logger.Warn("alert: "+alert.Message, fields...)
	default:
		c.logger.Info("alert: "+alert.Message, fields...)
	}
	return nil
}

func (c *ZapChannel) Name() string { return c.name }

// BuildChannels 按名称构建通道："log"、"zap"；未知名称返回错误。
func BuildChannels(names []string, l *logger.Logger) ([]Channel, error) {
	out := make([]Channel, 0, len(names))
	for _, n := range names {
		switch n {
		case "log":
			out = append(out, NewLogChannel("log", nil))
		case "zap":
			out = append(out, NewZapChannel("zap", l))
		default:
			return nil, fmt.Errorf("unknown alert channel %q", n)
		}
	}
	return out, nil
}
