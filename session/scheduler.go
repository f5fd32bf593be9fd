package session

import (
	"context"
	"sync/atomic"
	"time"

	channerics "github.com/niceyeti/channerics/channels"
)

// DefaultRunDelay is the auto-step interval when none is given.
const DefaultRunDelay = 200 * time.Millisecond

// TickerFunc returns a channel of ticks every d until done is closed, whereupon the channel
// is closed.
type TickerFunc func(done <-chan struct{}, d time.Duration) <-chan time.Time

// NewTicker is the default TickerFunc.
func NewTicker(done <-chan struct{}, d time.Duration) <-chan time.Time {
	ticks := make(chan time.Time)
	go func() {
		defer close(ticks)
		for range channerics.NewTicker(done, d) {
			select {
			case ticks <- time.Now():
			case <-done:
				return
			}
		}
	}()
	return ticks
}

// RunHandle is a cancellable auto-step loop. A handle is current from Run until the session
// pauses, resets, fails a step, or starts another run; a tick of a handle that is no longer
// current never reaches the engine.
type RunHandle struct {
	delay  time.Duration
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	// dropped counts ticks that found a step already in flight.
	dropped atomic.Int64
}

func newRunHandle(delay time.Duration) *RunHandle {
	ctx, cancel := context.WithCancel(context.Background())
	return &RunHandle{
		delay:  delay,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Delay is the interval between ticks.
func (handle *RunHandle) Delay() time.Duration {
	return handle.delay
}

// Done is closed once the tick loop has exited. Steps started by earlier ticks may still
// be in flight.
func (handle *RunHandle) Done() <-chan struct{} {
	return handle.done
}

// Dropped returns the number of ticks skipped so far because a step was still in flight.
func (handle *RunHandle) Dropped() int64 {
	return handle.dropped.Load()
}

func (handle *RunHandle) stop() {
	handle.cancel()
}

// loop calls onTick in its own goroutine for every tick, so that a slow step never delays
// the ticker; overlapping ticks are dropped by the session's busy guard.
func (handle *RunHandle) loop(ticker TickerFunc, onTick func(*RunHandle)) {
	defer close(handle.done)
	for range ticker(handle.ctx.Done(), handle.delay) {
		if handle.ctx.Err() != nil {
			return
		}
		go onTick(handle)
	}
}
