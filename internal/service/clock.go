package service

import (
	"sync/atomic"
	"time"
)

// Clock stamps created_at in unix microseconds.
type Clock interface {
	NowMicro() int64
}

// monotonicClock 进程内严格递增：同一微秒内的多次调用依次 +1，保证游标不重复
type monotonicClock struct {
	last atomic.Int64
	now  func() time.Time
}

func NewClock() Clock { return &monotonicClock{now: time.Now} }

func (c *monotonicClock) NowMicro() int64 {
	for {
		now := c.now().UnixMicro()
		last := c.last.Load()
		if now <= last {
			now = last + 1
		}
		if c.last.CompareAndSwap(last, now) {
			return now
		}
	}
}
