package engine

import (
	"errors"
	"sort"

	"go.uber.org/zap"

	"market-dashboard-go/gateway"
	"market-dashboard-go/internal/bus"
	"market-dashboard-go/internal/scheduler"
	"market-dashboard-go/internal/selection"
	"market-dashboard-go/internal/store"
	"market-dashboard-go/market"
	"market-dashboard-go/metrics"
)

// SourceID 一个数据源作用域。同一 Key 重新打开时 Gen 递增，旧作用域的事件被丢弃。
type SourceID struct {
	Key string
	Gen uint64
}

func (e *Engine) openSource(key string) SourceID {
	e.gen++
	e.sources[key] = e.gen
	return SourceID{Key: key, Gen: e.gen}
}

func (e *Engine) closeSource(key string) {
	delete(e.sources, key)
}

func (e *Engine) live(id SourceID) bool {
	gen, ok := e.sources[id.Key]
	return ok && gen == id.Gen
}

// deliver 由适配器 goroutine 调用。
func (e *Engine) deliver(id SourceID, ev market.Event) {
	e.post(func() { e.applyEvent(id, ev) })
}

func (e *Engine) deliverErr(id SourceID, err error) {
	e.post(func() { e.applyError(id, err) })
}

func (e *Engine) applyEvent(id SourceID, ev market.Event) {
	if !e.live(id) {
		metrics.DroppedEvents.WithLabelValues(id.Key).Inc()
		return
	}
	feed := ev.FeedKey()
	wasUnavailable := e.store.Feed(feed).State == market.FeedUnavailable
	_, ch := e.store.Apply(ev)
	if wasUnavailable && e.store.Feed(feed).State == market.FeedLive {
		e.logger.LogFeed("recovered", feed, nil)
		_ = e.alerts.FeedRecovered(feed)
	}
	e.publish(e.ctrl.Current(), ch)
}

func (e *Engine) applyError(id SourceID, err error) {
	if !e.live(id) {
		metrics.DroppedEvents.WithLabelValues(id.Key).Inc()
		return
	}
	var mp *gateway.MalformedPayloadError
	if errors.As(err, &mp) {
		metrics.MalformedPayloads.WithLabelValues(mp.Source).Inc()
		e.logger.Warn("malformed payload dropped",
			zap.String("feed", id.Key),
			zap.String("source", mp.Source),
			zap.String("reason", mp.Reason))
		return
	}
	e.logger.LogError(err, map[string]interface{}{"feed": id.Key})
	ch := e.store.MarkUnavailable(id.Key, err)
	if ch.Status {
		_ = e.alerts.FeedUnavailable(id.Key, err)
	}
	e.publish(e.ctrl.Current(), ch)
}

// publish 把数据变更发布给订阅者（选择不变）。
func (e *Engine) publish(sel selection.Selection, changes ...store.Change) {
	e.bus.Publish(bus.Publication{Prev: sel, Selection: sel, Changes: changes})
}

// reconcile 按订阅兴趣增删轮询任务。
func (e *Engine) reconcile() {
	want := e.bus.DemandedPollKeys(e.ctrl.Current())
	wanted := make(map[string]struct{}, len(want))
	for _, k := range want {
		wanted[k] = struct{}{}
	}

	stale := make([]string, 0)
	for key := range e.jobs {
		if _, ok := wanted[key]; !ok {
			stale = append(stale, key)
		}
	}
	sort.Strings(stale)
	for _, key := range stale {
		j := e.jobs[key]
		e.closeSource(key)
		j.detach()
		delete(e.jobs, key)
		// 没有订阅者再关心这个源，状态变化不用发布；重新订阅时初始视图会看到 stale
		e.store.MarkStale(key)
		e.logger.LogFeed("poll_detached", key, nil)
	}

	for _, key := range want {
		if _, ok := e.jobs[key]; ok {
			continue
		}
		fetcher, policy, err := e.polls(key)
		if err != nil {
			e.logger.LogError(err, map[string]interface{}{"feed": key, "op": "attach"})
			continue
		}
		id := e.openSource(key)
		detach := e.sched.Attach(key, fetcher, policy,
			func(ev market.Event) { e.deliver(id, ev) },
			func(err error) { e.deliverErr(id, err) })
		e.jobs[key] = pollJob{source: id, detach: detach}
		e.logger.LogFeed("poll_attached", key, map[string]interface{}{"interval": policy.Interval.String()})
	}
}

// StartPush 启动推送数据源；已有推送源时先停止旧的。
func (e *Engine) StartPush(feed PushFeed) error {
	var (
		old      PushFeed
		startErr error
	)
	err := e.do(func() {
		old = e.push
		e.push = nil
		id := e.openSource(market.ScreeningFeedKey)
		startErr = feed.Start(
			func(ev market.Event) { e.deliver(id, ev) },
			func(err error) { e.deliverErr(id, err) })
		if startErr != nil {
			e.closeSource(market.ScreeningFeedKey)
			return
		}
		e.push = feed
	})
	if old != nil {
		old.Stop()
	}
	if err != nil {
		return err
	}
	return startErr
}

// StopPush 停止推送数据源；返回后不会再合并该源的任何事件。
func (e *Engine) StopPush() error {
	var old PushFeed
	err := e.do(func() {
		e.closeSource(market.ScreeningFeedKey)
		old = e.push
		e.push = nil
	})
	if old != nil {
		old.Stop()
	}
	return err
}

// UpdatePolicies 配置热更新：把新节奏推给运行中的轮询任务。
func (e *Engine) UpdatePolicies(policyFor func(key string) (scheduler.Policy, bool)) error {
	return e.do(func() {
		for key := range e.jobs {
			if p, ok := policyFor(key); ok {
				e.sched.SetPolicy(key, p)
			}
		}
	})
}

// PollKeys 当前由引擎挂载的轮询任务键。
func (e *Engine) PollKeys() ([]string, error) {
	var out []string
	err := e.do(func() {
		out = make([]string, 0, len(e.jobs))
		for k := range e.jobs {
			out = append(out, k)
		}
		sort.Strings(out)
	})
	return out, err
}
