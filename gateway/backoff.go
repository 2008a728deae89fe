package gateway

import (
	"math/rand/v2"
	"time"
)

// Backoff 指数退避，带 full jitter：第 n 次重试等待 [0, min(Max, Base*2^(n-1))) 内的随机时长。
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// Jitter 把上限映射为实际等待时长；为空时使用均匀随机。
	Jitter func(ceiling time.Duration) time.Duration
}

// Ceiling 第 attempt 次重试（从 1 开始）的等待上限。
func (b Backoff) Ceiling(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	max := b.Max
	if max < base {
		max = base
	}
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	return d
}

// Next 第 attempt 次重试的实际等待时长。
func (b Backoff) Next(attempt int) time.Duration {
	ceiling := b.Ceiling(attempt)
	if b.Jitter != nil {
		return b.Jitter(ceiling)
	}
	return time.Duration(rand.Int64N(int64(ceiling)))
}
