package helper

import "time"

// SendLimiter paces datagrams of one destination. Excess accumulated above the
// configured rate turns into delay before the next send
type SendLimiter struct {
	perSecond int
	excess    time.Duration
	last      time.Time
	now       func() time.Time
}

// NewSendLimiter creates limiter. perSecond <= 0 disables limiting
func NewSendLimiter(perSecond int) *SendLimiter {
	return &SendLimiter{
		perSecond: perSecond,
		now:       time.Now,
	}
}

// Enabled ...
func (l *SendLimiter) Enabled() bool {
	return l != nil && l.perSecond > 0
}

// Delay registers one send and returns how long caller should wait before it
func (l *SendLimiter) Delay() time.Duration {
	if !l.Enabled() {
		return 0
	}

	now := l.now()

	if l.last.IsZero() {
		l.last = now
		return 0
	}

	elapsed := now.Sub(l.last)
	if elapsed < 0 {
		elapsed = -elapsed
	}

	rps := time.Duration(l.perSecond)
	excess := l.excess - rps*elapsed + time.Second
	if excess < 0 {
		excess = 0
	}

	l.excess = excess
	l.last = now

	delay := excess / rps

	// very short sleeps are skipped, rate stays correct on average
	if delay < 10*time.Millisecond {
		return 0
	}

	return delay
}

// Wait sleeps for Delay. Returns false if exit was closed while waiting
func (l *SendLimiter) Wait(exit <-chan struct{}) bool {
	delay := l.Delay()
	if delay <= 0 {
		return true
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-exit:
		return false
	}
}
