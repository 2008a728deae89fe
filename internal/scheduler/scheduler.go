// Package scheduler drives poll adapters on a timer while anyone is interested.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"market-dashboard-go/infrastructure/logger"
	"market-dashboard-go/market"
	"market-dashboard-go/metrics"
)

// Fetcher 单次拉取（gateway 的各 Poller 实现）。
type Fetcher interface {
	FetchOnce(ctx context.Context) (market.Event, error)
}

// Policy 轮询节奏。
type Policy struct {
	Interval time.Duration
	// MaxInterval 退避上限；小于 Interval 时不退避。
	MaxInterval time.Duration
	// FailureThreshold 连续失败多少次后开始加倍间隔；<=0 视为 1。
	FailureThreshold int
}

func (p Policy) normalized() Policy {
	if p.Interval <= 0 {
		p.Interval = time.Second
	}
	if p.MaxInterval < p.Interval {
		p.MaxInterval = p.Interval
	}
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = 1
	}
	return p
}

type Sink func(market.Event)
type ErrSink func(error)

// Scheduler 按 key 引用计数的轮询任务集合。
type Scheduler struct {
	mu     sync.Mutex
	jobs   map[string]*job
	logger *logger.Logger
}

func New(log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Scheduler{jobs: make(map[string]*job), logger: log}
}

// Attach 增加 key 的引用；首次引用启动任务并立即拉取一次。
// 同一 key 的后续 Attach 共享首次注册的 fetcher 与回调。
// 返回的 detach 可重复调用；最后一个 detach 返回后不会再有新的拉取或回调。
// 回调在任务锁内执行，不能在回调里同步调用 detach。
func (s *Scheduler) Attach(key string, f Fetcher, p Policy, sink Sink, errSink ErrSink) (detach func()) {
	s.mu.Lock()
	j, ok := s.jobs[key]
	if ok {
		j.refs++
	} else {
		j = newJob(key, f, p.normalized(), sink, errSink, s.logger)
		j.refs = 1
		s.jobs[key] = j
		metrics.PollJobs.Set(float64(len(s.jobs)))
		go j.run()
		s.logger.Debug("poll job started", zap.String("job", key), zap.Duration("interval", j.policy.Interval))
	}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.release(key, j) })
	}
}

func (s *Scheduler) release(key string, j *job) {
	s.mu.Lock()
	j.refs--
	last := j.refs == 0
	if last && s.jobs[key] == j {
		delete(s.jobs, key)
		metrics.PollJobs.Set(float64(len(s.jobs)))
	}
	s.mu.Unlock()
	if last {
		j.stop()
		s.logger.Debug("poll job stopped", zap.String("job", key))
	}
}

// SetPolicy 更新运行中任务的节奏（配置热更新）；任务不存在或节奏未变返回 false。
func (s *Scheduler) SetPolicy(key string, p Policy) bool {
	s.mu.Lock()
	j, ok := s.jobs[key]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return j.setPolicy(p.normalized())
}

// Trigger 让运行中的任务立即拉取一次，随后按原节奏继续；任务不存在返回 false。
func (s *Scheduler) Trigger(key string) bool {
	s.mu.Lock()
	j, ok := s.jobs[key]
	s.mu.Unlock()
	if !ok {
		return false
	}
	j.trigger()
	return true
}

// Interval 任务当前间隔（含退避）。
func (s *Scheduler) Interval(key string) (time.Duration, bool) {
	s.mu.Lock()
	j, ok := s.jobs[key]
	s.mu.Unlock()
	if !ok {
		return 0, false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.interval, true
}

// Jobs 运行中的任务键。
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for k := range s.jobs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Stop 停止所有任务并等待其后台循环退出。
func (s *Scheduler) Stop() {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for k, j := range s.jobs {
		jobs = append(jobs, j)
		delete(s.jobs, k)
	}
	metrics.PollJobs.Set(0)
	s.mu.Unlock()
	for _, j := range jobs {
		j.stop()
	}
	for _, j := range jobs {
		<-j.done
	}
}
