package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"market-dashboard-go/infrastructure/logger"
	"market-dashboard-go/market"
	"market-dashboard-go/metrics"
)

type fetchResult struct {
	ev  market.Event
	err error
}

type job struct {
	key     string
	fetcher Fetcher
	sink    Sink
	errSink ErrSink
	logger  *logger.Logger
	refs    int // 由 Scheduler.mu 保护

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	reset  chan struct{}
	kick   chan struct{}

	// gate 拉取期间持读锁；stop 取写锁，返回时没有进行中的拉取。
	gate sync.RWMutex

	// mu 保护以下字段；回调在持锁时执行，stop 拿到锁后不会再有回调。
	mu       sync.Mutex
	stopped  bool
	policy   Policy
	interval time.Duration
	failures int
}

func newJob(key string, f Fetcher, p Policy, sink Sink, errSink ErrSink, log *logger.Logger) *job {
	ctx, cancel := context.WithCancel(context.Background())
	if sink == nil {
		sink = func(market.Event) {}
	}
	if errSink == nil {
		errSink = func(error) {}
	}
	return &job{
		key:      key,
		fetcher:  f,
		sink:     sink,
		errSink:  errSink,
		logger:   log,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		reset:    make(chan struct{}, 1),
		kick:     make(chan struct{}, 1),
		policy:   p,
		interval: p.Interval,
	}
}

// stop 标记停止、取消进行中的拉取并等待其返回。
func (j *job) stop() {
	j.mu.Lock()
	j.stopped = true
	j.mu.Unlock()
	j.cancel()
	j.gate.Lock()
	j.gate.Unlock()
	metrics.PollInterval.DeleteLabelValues(j.key)
}

// setPolicy 节奏未变时保留退避状态；否则按新节奏重排，
// 仍处于退避中的任务把当前间隔夹到新范围内。
func (j *job) setPolicy(p Policy) bool {
	j.mu.Lock()
	if p == j.policy {
		j.mu.Unlock()
		return false
	}
	j.policy = p
	if j.failures >= p.FailureThreshold {
		j.interval = min(max(j.interval, p.Interval), p.MaxInterval)
	} else {
		j.interval = p.Interval
	}
	j.mu.Unlock()
	select {
	case j.reset <- struct{}{}:
	default:
	}
	return true
}

// trigger 请求立即拉取一次；已有待处理请求时合并。
func (j *job) trigger() {
	select {
	case j.kick <- struct{}{}:
	default:
	}
}

func (j *job) currentInterval() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.interval
}

func (j *job) run() {
	defer close(j.done)
	results := make(chan fetchResult, 1)
	inFlight := false
	timer := time.NewTimer(0)
	defer timer.Stop()
	metrics.PollInterval.WithLabelValues(j.key).Set(j.currentInterval().Seconds())

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-j.reset:
			resetTimer(timer, j.currentInterval())
		case <-timer.C:
			timer.Reset(j.currentInterval())
			inFlight = j.fire(inFlight, results)
		case <-j.kick:
			if !inFlight {
				resetTimer(timer, j.currentInterval())
			}
			inFlight = j.fire(inFlight, results)
		case r := <-results:
			inFlight = false
			if prev, next := j.finish(r); next != prev {
				resetTimer(timer, next)
			}
		}
	}
}

// fire 发起一次拉取；已有拉取在进行时跳过并计数。
func (j *job) fire(inFlight bool, results chan<- fetchResult) bool {
	if inFlight {
		metrics.PollSkippedTicks.WithLabelValues(j.key).Inc()
		return true
	}
	go func() {
		j.gate.RLock()
		defer j.gate.RUnlock()
		// results 容量为 1 且同时只有一个拉取，发送不会阻塞
		if !j.begin() {
			results <- fetchResult{err: context.Canceled}
			return
		}
		ev, err := j.fetcher.FetchOnce(j.ctx)
		results <- fetchResult{ev: ev, err: err}
	}()
	return true
}

// begin 检查任务仍在运行；stop 之后不再发起拉取。
func (j *job) begin() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return !j.stopped
}

// finish 投递结果并调整退避，返回调整前后的间隔。
func (j *job) finish(r fetchResult) (time.Duration, time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	prev := j.interval
	if j.stopped || j.ctx.Err() != nil {
		return prev, prev
	}
	metrics.RecordPoll(j.key, r.err)
	if r.err != nil {
		j.failures++
		if j.failures >= j.policy.FailureThreshold {
			next := j.interval * 2
			if next > j.policy.MaxInterval {
				next = j.policy.MaxInterval
			}
			j.interval = next
		}
		j.logger.Warn("poll failed",
			zap.String("job", j.key),
			zap.Error(r.err),
			zap.Int("failures", j.failures),
			zap.Duration("interval", j.interval))
		j.errSink(r.err)
	} else {
		j.failures = 0
		j.interval = j.policy.Interval
		if r.ev != nil {
			j.sink(r.ev)
		}
	}
	metrics.PollInterval.WithLabelValues(j.key).Set(j.interval.Seconds())
	return prev, j.interval
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
