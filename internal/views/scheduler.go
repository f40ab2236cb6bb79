package views

import (
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	tokenPending int32 = iota
	tokenFired
	tokenCancelled
)

// Scheduler runs delayed callbacks that can be cancelled before they fire.
type Scheduler struct {
	clock clock.Clock
}

// NewScheduler returns a Scheduler driven by clk. A nil clk uses the wall clock.
func NewScheduler(clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{clock: clk}
}

// Token is a scheduled callback.
type Token struct {
	state atomic.Int32
	timer *clock.Timer
}

// Schedule runs fn once after delay unless the returned token is cancelled
// first.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) *Token {
	tok := &Token{}
	tok.timer = s.clock.AfterFunc(delay, func() {
		if tok.state.CompareAndSwap(tokenPending, tokenFired) {
			fn()
		}
	})
	return tok
}

// Cancel stops the callback. It reports whether the callback was still
// pending; false means it already ran or was already cancelled.
func (t *Token) Cancel() bool {
	if !t.state.CompareAndSwap(tokenPending, tokenCancelled) {
		return false
	}
	t.timer.Stop()
	return true
}

// Fired reports whether the callback has run.
func (t *Token) Fired() bool {
	return t.state.Load() == tokenFired
}
