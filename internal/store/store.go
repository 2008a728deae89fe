package store

import (
	"fmt"
	"sync"
	"time"

	"market-dashboard-go/market"
	"market-dashboard-go/metrics"
)

// EventSink 结构化事件回调（通常接 logger.EventSink）。
type EventSink func(string, map[string]interface{})

// Result 合并结果。
type Result int

const (
	// Applied 数据已写入（可能没有实际变化，见 Change）。
	Applied Result = iota
	// Ignored 数据比已有的旧，丢弃。不是错误。
	Ignored
)

func (r Result) String() string {
	if r == Ignored {
		return "ignored"
	}
	return "applied"
}

// Kind 变更所属的数据类别。
type Kind int

const (
	KindOhlcv Kind = iota + 1
	KindOrderBook
	KindOrders
	KindScreening
)

func (k Kind) String() string {
	switch k {
	case KindOhlcv:
		return "ohlcv"
	case KindOrderBook:
		return "order_book"
	case KindOrders:
		return "orders"
	case KindScreening:
		return "screening"
	default:
		return "unknown"
	}
}

// Change 一次合并产生的变更集。
type Change struct {
	Kind Kind
	Feed string
	// Instruments 受影响的标的；筛选变更为空，表示所有标的。
	Instruments []market.InstrumentKey
	// Period K 线变更的周期；其它类别为空。
	Period string
	// Data 规范数据发生变化。
	Data bool
	// Status 数据源状态发生变化（NoData/Live/Unavailable 之间切换）。
	Status bool
}

// Empty 无任何可见变化。
func (c Change) Empty() bool { return !c.Data && !c.Status }

// Touches 判断变更是否涉及某标的。
func (c Change) Touches(k market.InstrumentKey) bool {
	if c.Kind == KindScreening {
		return true
	}
	for _, i := range c.Instruments {
		if i == k {
			return true
		}
	}
	return false
}

// Store 规范快照的唯一持有者。写入只发生在引擎循环上，读取返回副本。
type Store struct {
	mu   sync.RWMutex
	snap market.Snapshot
	now  func() time.Time
	sink EventSink
}

func New(sink EventSink) *Store {
	return &Store{
		snap: market.NewSnapshot(),
		now:  time.Now,
		sink: sink,
	}
}

// SetClock 替换时钟（深度快照的接收时间戳），测试用。
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Apply 按事件类型分发合并。
func (s *Store) Apply(ev market.Event) (Result, Change) {
	switch e := ev.(type) {
	case market.OhlcvUpdate:
		return s.MergeOhlcv(e.Instrument, e.Series)
	case market.OrderBookUpdate:
		return s.MergeOrderBook(e.Instrument, e.Snapshot)
	case market.OrdersUpdate:
		return s.MergeOrders(e.Records)
	case market.ScreeningUpdate:
		return s.MergeScreening(e.Rows)
	default:
		s.logEvent("unknown_event", map[string]interface{}{"type": fmt.Sprintf("%T", ev)})
		return Ignored, Change{}
	}
}

// MergeOhlcv 序列按 (标的, 周期) 存放。同一键下只有最后一根 K 线时间严格更新时才替换；
// 否则 Ignored。空序列没有最后时间，同样忽略。
func (s *Store) MergeOhlcv(k market.InstrumentKey, series market.OhlcvSeries) (Result, Change) {
	series.Instrument = k
	key := series.Key()
	feed := market.OhlcvFeedKey(k, series.Period)
	s.mu.Lock()
	prev, had := s.snap.Series[key]
	result := Ignored
	if _, ok := series.LastTime(); ok && (!had || series.NewerThan(prev)) {
		s.snap.Series[key] = series
		result = Applied
	}
	statusChanged := s.markLiveLocked(feed)
	s.mu.Unlock()

	metrics.RecordMerge(KindOhlcv.String(), result == Applied)
	last, _ := series.LastTime()
	s.logEvent("merge_ohlcv", map[string]interface{}{
		"instrument": string(k),
		"period":     series.Period,
		"result":     result.String(),
		"bars":       series.Len(),
		"last":       last,
	})
	return result, Change{
		Kind:        KindOhlcv,
		Feed:        feed,
		Instruments: []market.InstrumentKey{k},
		Period:      series.Period,
		Data:        result == Applied,
		Status:      statusChanged,
	}
}

// MergeOrderBook 新快照总是整体替换旧快照，并打上本地接收时间。
func (s *Store) MergeOrderBook(k market.InstrumentKey, ob market.OrderBookSnapshot) (Result, Change) {
	feed := market.BookFeedKey(k)
	ob.Instrument = k
	s.mu.Lock()
	ob.ReceivedAt = s.now()
	s.snap.Books[k] = ob
	statusChanged := s.markLiveLocked(feed)
	s.mu.Unlock()

	metrics.RecordMerge(KindOrderBook.String(), true)
	s.logEvent("merge_order_book", map[string]interface{}{
		"instrument": string(k),
		"bids":       len(ob.Bids),
		"asks":       len(ob.Asks),
	})
	return Applied, Change{
		Kind:        KindOrderBook,
		Feed:        feed,
		Instruments: []market.InstrumentKey{k},
		Data:        true,
		Status:      statusChanged,
	}
}

// MergeOrders 按 id 合并：新订单插入，已知订单只更新状态和成交比例，
// 本次未出现的订单保留。
func (s *Store) MergeOrders(records []market.OrderRecord) (Result, Change) {
	s.mu.Lock()
	touched := make(map[market.InstrumentKey]struct{})
	inserted, updated := 0, 0
	for _, rec := range records {
		if rec.OrderID == "" {
			continue
		}
		prev, ok := s.snap.Orders[rec.OrderID]
		if !ok {
			s.snap.Orders[rec.OrderID] = rec
			touched[rec.Instrument] = struct{}{}
			inserted++
			continue
		}
		if prev.Status == rec.Status && prev.FillPct == rec.FillPct {
			continue
		}
		prev.Status = rec.Status
		prev.FillPct = rec.FillPct
		s.snap.Orders[rec.OrderID] = prev
		touched[prev.Instrument] = struct{}{}
		updated++
	}
	statusChanged := s.markLiveLocked(market.OrdersFeedKey)
	total := len(s.snap.Orders)
	s.mu.Unlock()

	instruments := make([]market.InstrumentKey, 0, len(touched))
	for k := range touched {
		instruments = append(instruments, k)
	}
	metrics.RecordMerge(KindOrders.String(), true)
	s.logEvent("merge_orders", map[string]interface{}{
		"received": len(records),
		"inserted": inserted,
		"updated":  updated,
		"total":    total,
	})
	return Applied, Change{
		Kind:        KindOrders,
		Feed:        market.OrdersFeedKey,
		Instruments: instruments,
		Data:        inserted+updated > 0,
		Status:      statusChanged,
	}
}

// MergeScreening 整体替换筛选行。
func (s *Store) MergeScreening(rows []market.ScreeningRow) (Result, Change) {
	cp := make([]market.ScreeningRow, len(rows))
	copy(cp, rows)
	s.mu.Lock()
	s.snap.Screening = cp
	statusChanged := s.markLiveLocked(market.ScreeningFeedKey)
	s.mu.Unlock()

	metrics.RecordMerge(KindScreening.String(), true)
	s.logEvent("merge_screening", map[string]interface{}{
		"rows": len(cp),
	})
	return Applied, Change{
		Kind:   KindScreening,
		Feed:   market.ScreeningFeedKey,
		Data:   true,
		Status: statusChanged,
	}
}

// MarkUnavailable 标记数据源不可用，已有数据保留。
func (s *Store) MarkUnavailable(feed string, err error) Change {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.mu.Lock()
	prev := s.snap.Feed(feed)
	s.snap.Feeds[feed] = market.FeedStatus{
		State:     market.FeedUnavailable,
		LastError: msg,
		UpdatedAt: s.now(),
	}
	s.mu.Unlock()

	changed := prev.State != market.FeedUnavailable || prev.LastError != msg
	if changed {
		s.logEvent("feed_unavailable", map[string]interface{}{
			"feed":  feed,
			"error": msg,
		})
	}
	return statusChange(feed, changed)
}

// MarkStale 轮询任务卸载后调用：保留数据，状态改为 Stale，
// 重新挂载后的首次合并会再标记为 Live。从未有过状态的数据源不变。
func (s *Store) MarkStale(feed string) Change {
	s.mu.Lock()
	prev, known := s.snap.Feeds[feed]
	changed := known && prev.State != market.FeedStale
	if changed {
		s.snap.Feeds[feed] = market.FeedStatus{
			State:     market.FeedStale,
			LastError: prev.LastError,
			UpdatedAt: s.now(),
		}
	}
	s.mu.Unlock()

	if changed {
		s.logEvent("feed_stale", map[string]interface{}{"feed": feed})
	}
	return statusChange(feed, changed)
}

func (s *Store) markLiveLocked(feed string) bool {
	prev := s.snap.Feed(feed)
	s.snap.Feeds[feed] = market.FeedStatus{State: market.FeedLive, UpdatedAt: s.now()}
	return prev.State != market.FeedLive
}

// statusChange 只涉及状态的变更集，类别与标的从数据源键反推。
func statusChange(feed string, changed bool) Change {
	ch := Change{Feed: feed, Status: changed}
	kind, k, period, ok := market.ParseFeedKey(feed)
	if !ok {
		return ch
	}
	switch kind {
	case market.FeedKindOhlcv:
		ch.Kind = KindOhlcv
	case market.FeedKindBook:
		ch.Kind = KindOrderBook
	case market.FeedKindOrders:
		ch.Kind = KindOrders
	case market.FeedKindScreening:
		ch.Kind = KindScreening
	}
	ch.Period = period
	if !k.IsZero() {
		ch.Instruments = []market.InstrumentKey{k}
	}
	return ch
}

// Snapshot 返回规范快照副本。
func (s *Store) Snapshot() market.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

// Series 某标的某周期的 K 线序列。
func (s *Store) Series(k market.InstrumentKey, period string) (market.OhlcvSeries, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.snap.Series[market.SeriesKey{Instrument: k, Period: period}]
	return v, ok
}

// Book 某标的的深度快照。
func (s *Store) Book(k market.InstrumentKey) (market.OrderBookSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.snap.Books[k]
	return v, ok
}

// Order 按 id 查找订单。
func (s *Store) Order(id string) (market.OrderRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.snap.Orders[id]
	return v, ok
}

// OrdersFor 某标的的订单（新到旧）；k 为空返回全部。
func (s *Store) OrdersFor(k market.InstrumentKey) []market.OrderRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.OrdersFor(k)
}

// Screening 当前筛选行（按评分降序）。
func (s *Store) Screening() []market.ScreeningRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return market.RankByScore(s.snap.Screening)
}

// Feed 数据源状态。
func (s *Store) Feed(key string) market.FeedStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Feed(key)
}

func (s *Store) logEvent(event string, fields map[string]interface{}) {
	if s == nil || s.sink == nil {
		return
	}
	s.sink(event, fields)
}
