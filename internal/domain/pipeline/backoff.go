package pipeline

import "time"

// Backoff 指数退避
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay 第 attempt 次失败后的等待时间（attempt 从 1 开始）
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
