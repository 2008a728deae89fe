// Package bus delivers consistent (data, selection) views to subscribers.
package bus

import (
	"sort"

	"market-dashboard-go/internal/selection"
	"market-dashboard-go/internal/store"
	"market-dashboard-go/metrics"
)

// ID 订阅标识。
type ID uint64

// Handler 接收视图。在引擎循环上调用，不能同步回调引擎。
type Handler func(View)

// Publication 一次提交：选择变化（可选）与若干数据变更，合并为一次通知。
type Publication struct {
	Prev      selection.Selection
	Selection selection.Selection
	Changes   []store.Change
}

// SelectionChanged 选择是否变化。
func (p Publication) SelectionChanged() bool { return !p.Prev.Equal(p.Selection) }

type subscriber struct {
	id       ID
	interest Interest
	fn       Handler
}

// Bus 不加锁，只在引擎循环上使用。
type Bus struct {
	src    Source
	nextID ID
	seq    uint64
	subs   map[ID]*subscriber
	order  []ID
}

func New(src Source) *Bus {
	return &Bus{src: src, subs: make(map[ID]*subscriber)}
}

// Subscribe 注册订阅，返回 ID 和当前视图；之后只有变化时才回调。
func (b *Bus) Subscribe(in Interest, sel selection.Selection, fn Handler) (ID, View) {
	b.nextID++
	id := b.nextID
	b.subs[id] = &subscriber{id: id, interest: in, fn: fn}
	b.order = append(b.order, id)
	metrics.Subscribers.Set(float64(len(b.subs)))
	v := BuildView(b.src, in, sel)
	v.Seq = b.seq
	return id, v
}

// Unsubscribe 同步移除订阅；返回后不会再收到任何通知。
func (b *Bus) Unsubscribe(id ID) bool {
	if _, ok := b.subs[id]; !ok {
		return false
	}
	delete(b.subs, id)
	for i, x := range b.order {
		if x == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	metrics.Subscribers.Set(float64(len(b.subs)))
	return true
}

// Len 当前订阅数。
func (b *Bus) Len() int { return len(b.subs) }

// Interests 当前所有订阅的兴趣（按订阅顺序）。
func (b *Bus) Interests() []Interest {
	out := make([]Interest, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.subs[id].interest)
	}
	return out
}

// Publish 把一次提交分发给受影响的订阅者，每个订阅者至多一次通知。
// 返回被通知的订阅者数量。
func (b *Bus) Publish(p Publication) int {
	if !p.SelectionChanged() && !anyChange(p.Changes) {
		return 0
	}
	targets := make([]*subscriber, 0, len(b.order))
	for _, id := range b.order {
		s := b.subs[id]
		if b.interested(s.interest, p) {
			targets = append(targets, s)
		}
	}
	if len(targets) == 0 {
		return 0
	}
	b.seq++
	notified := 0
	for _, s := range targets {
		// 前一个回调里可能已取消订阅
		if _, ok := b.subs[s.id]; !ok {
			continue
		}
		v := BuildView(b.src, s.interest, p.Selection)
		v.Seq = b.seq
		s.fn(v)
		notified++
	}
	metrics.Notifications.Add(float64(notified))
	return notified
}

func (b *Bus) interested(in Interest, p Publication) bool {
	k := in.Resolve(p.Selection)
	if p.SelectionChanged() {
		if in.Topics.Has(TopicSelection) {
			return true
		}
		if in.FollowsSelection() && p.Prev.Instrument != p.Selection.Instrument {
			return true
		}
	}
	for _, ch := range p.Changes {
		if in.matches(ch, k) {
			return true
		}
	}
	return false
}

func anyChange(changes []store.Change) bool {
	for _, c := range changes {
		if !c.Empty() {
			return true
		}
	}
	return false
}

// DemandedPollKeys 所有订阅在当前选择下需要的轮询任务键（去重、排序）。
func (b *Bus) DemandedPollKeys(sel selection.Selection) []string {
	set := make(map[string]struct{})
	for _, id := range b.order {
		for _, k := range b.subs[id].interest.PollKeys(sel) {
			set[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
