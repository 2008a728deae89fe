package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"market-dashboard-go/market"
)

var validate = validator.New()

const (
	sourceScreening = "screening"
	sourceOhlcv     = "ohlcv"
	sourceBook      = "order_book"
	sourceOrders    = "orders"
)

// 筛选行已知字段 -> 写入目标。
var screeningFields = map[string]func(*market.ScreeningRow, float64){
	"close":            func(r *market.ScreeningRow, v float64) { r.Close = v },
	"24h_change":       func(r *market.ScreeningRow, v float64) { r.Change24h = v },
	"next_support":     func(r *market.ScreeningRow, v float64) { r.NextSupport = v },
	"next_resistance":  func(r *market.ScreeningRow, v float64) { r.NextResistance = v },
	"support_dist":     func(r *market.ScreeningRow, v float64) { r.SupportDist = v },
	"rsi":              func(r *market.ScreeningRow, v float64) { r.RSI = v },
	"bbl":              func(r *market.ScreeningRow, v float64) { r.BBL = v },
	"technicals_score": func(r *market.ScreeningRow, v float64) { r.Score = v },
	"score":            func(r *market.ScreeningRow, v float64) { r.Score = v },
	"book_imbalance":   func(r *market.ScreeningRow, v float64) { r.BookImbalance = v },
	"spread":           func(r *market.ScreeningRow, v float64) { r.Spread = v },
	"potential_gain":   func(r *market.ScreeningRow, v float64) { r.PotentialGain = v },
}

// ParseScreening 解析一条筛选推送：必须是对象数组，每个对象含字符串 pair，
// 已知排名字段必须是数字或 null。未知的数字字段放入 Extra，其它未知字段忽略。
// 任何一行不合法则整条消息作废，不产生部分更新。
func ParseScreening(raw []byte) ([]market.ScreeningRow, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, malformed(sourceScreening, "payload is not an array", nil)
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, malformed(sourceScreening, "payload is not an array", err)
	}

	rows := make([]market.ScreeningRow, 0, len(elems))
	seen := make(map[market.InstrumentKey]struct{}, len(elems))
	for i, elem := range elems {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(elem, &fields); err != nil || fields == nil {
			return nil, malformed(sourceScreening, fmt.Sprintf("row %d is not an object", i), err)
		}
		row, err := parseScreeningRow(fields)
		if err != nil {
			return nil, malformed(sourceScreening, fmt.Sprintf("row %d", i), err)
		}
		if _, dup := seen[row.Pair]; dup {
			return nil, malformed(sourceScreening, fmt.Sprintf("duplicate pair %s", row.Pair), nil)
		}
		seen[row.Pair] = struct{}{}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseScreeningRow(fields map[string]json.RawMessage) (market.ScreeningRow, error) {
	var row market.ScreeningRow
	rawPair, ok := fields["pair"]
	if !ok {
		return row, fmt.Errorf("missing pair")
	}
	var pair string
	if err := json.Unmarshal(rawPair, &pair); err != nil {
		return row, fmt.Errorf("pair is not a string")
	}
	row.Pair = market.NormalizeInstrument(pair)

	for name, val := range fields {
		if name == "pair" {
			continue
		}
		v, isNum, err := numberOrNull(val)
		setter, known := screeningFields[name]
		if err != nil {
			if known {
				return row, fmt.Errorf("field %s is not numeric", name)
			}
			continue
		}
		if !isNum {
			continue
		}
		if known {
			setter(&row, v)
			continue
		}
		if row.Extra == nil {
			row.Extra = make(map[string]float64)
		}
		row.Extra[name] = v
	}
	if err := validate.Struct(row); err != nil {
		return row, err
	}
	return row, nil
}

// numberOrNull 返回 (值, 是否为数字)；null 返回 (0, false, nil)。
func numberOrNull(raw json.RawMessage) (float64, bool, error) {
	s := strings.TrimSpace(string(raw))
	if s == "null" {
		return 0, false, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false, err
	}
	v, err := n.Float64()
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// ParseOhlcv 解析 [[ts_ms, o, h, l, c, v], ...]。
func ParseOhlcv(instrument market.InstrumentKey, period string, raw []byte) (market.OhlcvSeries, error) {
	var rows [][]json.Number
	if err := json.Unmarshal(raw, &rows); err != nil {
		return market.OhlcvSeries{}, malformed(sourceOhlcv, "expected array of rows", err)
	}
	bars := make([]market.Bar, 0, len(rows))
	for i, r := range rows {
		if len(r) < 6 {
			return market.OhlcvSeries{}, malformed(sourceOhlcv, fmt.Sprintf("row %d has %d columns", i, len(r)), nil)
		}
		var vals [6]float64
		for j := 0; j < 6; j++ {
			v, err := r[j].Float64()
			if err != nil {
				return market.OhlcvSeries{}, malformed(sourceOhlcv, fmt.Sprintf("row %d column %d", i, j), err)
			}
			vals[j] = v
		}
		bars = append(bars, market.Bar{
			Time:   time.UnixMilli(int64(vals[0])).UTC(),
			Open:   vals[1],
			High:   vals[2],
			Low:    vals[3],
			Close:  vals[4],
			Volume: vals[5],
		})
	}
	return market.NewOhlcvSeries(instrument, period, bars), nil
}

type bookPayload struct {
	Bids [][]json.Number `json:"bids"`
	Asks [][]json.Number `json:"asks"`
}

// ParseOrderBook 解析 {"bids":[[price,size]...],"asks":[[price,size]...]}。
func ParseOrderBook(instrument market.InstrumentKey, raw []byte) (market.OrderBookSnapshot, error) {
	var p bookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return market.OrderBookSnapshot{}, malformed(sourceBook, "expected object with bids/asks", err)
	}
	bids, err := parseLevels(p.Bids, "bids")
	if err != nil {
		return market.OrderBookSnapshot{}, err
	}
	asks, err := parseLevels(p.Asks, "asks")
	if err != nil {
		return market.OrderBookSnapshot{}, err
	}
	return market.NewOrderBookSnapshot(instrument, bids, asks), nil
}

func parseLevels(rows [][]json.Number, side string) ([]market.Level, error) {
	out := make([]market.Level, 0, len(rows))
	for i, r := range rows {
		if len(r) < 2 {
			return nil, malformed(sourceBook, fmt.Sprintf("%s level %d incomplete", side, i), nil)
		}
		price, err := r[0].Float64()
		if err != nil {
			return nil, malformed(sourceBook, fmt.Sprintf("%s level %d price", side, i), err)
		}
		size, err := r[1].Float64()
		if err != nil {
			return nil, malformed(sourceBook, fmt.Sprintf("%s level %d size", side, i), err)
		}
		out = append(out, market.Level{Price: price, Size: size})
	}
	return out, nil
}

// flexFloat 兼容数字或数字字符串。
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// flexString 兼容字符串或数字（订单 id、时间戳两种写法都见过）。
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*f = flexString(str)
		return nil
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return fmt.Errorf("expected string or number, got %s", s)
	}
	*f = flexString(s)
	return nil
}

type orderPayload struct {
	OrderID     flexString `json:"order_id"`
	AssetID     string     `json:"asset_id"`
	CreatedAt   flexString `json:"order_creation_tmstmp"`
	Side        string     `json:"order_side"`
	Status      string     `json:"order_status"`
	FillPct     flexFloat  `json:"fill_pct"`
	Volume      flexFloat  `json:"order_volume"`
	Price       flexFloat  `json:"order_price"`
	Env         string     `json:"trading_env"`
	TradingType string     `json:"trading_type"`
}

var orderTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseOrderTime(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	for _, layout := range orderTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// ParseOrders 解析订单列表。
func ParseOrders(raw []byte) ([]market.OrderRecord, error) {
	var payload []orderPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, malformed(sourceOrders, "expected array of orders", err)
	}
	out := make([]market.OrderRecord, 0, len(payload))
	for i, p := range payload {
		created, err := parseOrderTime(string(p.CreatedAt))
		if err != nil {
			return nil, malformed(sourceOrders, fmt.Sprintf("order %d", i), err)
		}
		rec := market.OrderRecord{
			OrderID:     string(p.OrderID),
			Instrument:  market.NormalizeInstrument(p.AssetID),
			CreatedAt:   created,
			Side:        strings.ToLower(strings.TrimSpace(p.Side)),
			Status:      strings.ToLower(strings.TrimSpace(p.Status)),
			Price:       float64(p.Price),
			Volume:      float64(p.Volume),
			FillPct:     float64(p.FillPct),
			Env:         p.Env,
			TradingType: p.TradingType,
		}
		if err := validate.Struct(rec); err != nil {
			return nil, malformed(sourceOrders, fmt.Sprintf("order %d", i), err)
		}
		out = append(out, rec)
	}
	return out, nil
}
