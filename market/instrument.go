package market

import "strings"

// InstrumentKey 标识一个可交易的交易对（例如 BTC/USD），是所有规范实体的关联键。
type InstrumentKey string

// NoInstrument 表示未选中任何标的。
const NoInstrument InstrumentKey = ""

// NormalizeInstrument 统一交易对写法：去空白、转大写、"-" 和 "_" 视为 "/"。
func NormalizeInstrument(raw string) InstrumentKey {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "/", "_", "/").Replace(s)
	return InstrumentKey(s)
}

func (k InstrumentKey) String() string { return string(k) }

// IsZero 判断是否为空标的。
func (k InstrumentKey) IsZero() bool { return k == NoInstrument }
