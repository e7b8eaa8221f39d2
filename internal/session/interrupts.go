package session

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Signal is one queued asynchronous event.
type Signal struct {
	Event Event
	At    time.Time
}

// InterruptLatch queues asynchronous events for the session loop. Producers
// only append; the loop drains the queue at the top of each iteration, so no
// state is ever touched from a signal context.
type InterruptLatch struct {
	mu      sync.Mutex
	pending []Signal
	wake    chan struct{}
	now     func() time.Time
}

// NewInterruptLatch creates an empty latch.
func NewInterruptLatch() *InterruptLatch {
	return &InterruptLatch{
		wake: make(chan struct{}, 1),
		now:  time.Now,
	}
}

// Post queues ev and wakes the loop.
func (l *InterruptLatch) Post(ev Event) {
	l.mu.Lock()
	l.pending = append(l.pending, Signal{Event: ev, At: l.now()})
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Drain returns and clears every queued event, oldest first.
func (l *InterruptLatch) Drain() []Signal {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.pending
	l.pending = nil
	return out
}

// Wake fires after Post so a sleeping loop can return early.
func (l *InterruptLatch) Wake() <-chan struct{} {
	return l.wake
}

// NotifySignals feeds SIGINT and SIGTERM into the latch until ctx is done
// or the returned stop func is called.
func NotifySignals(ctx context.Context, latch *InterruptLatch) (stop func()) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-ch:
				if sig == syscall.SIGTERM {
					latch.Post(EventTerminate)
				} else {
					latch.Post(EventInterrupt)
				}
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		cancel()
		<-done
	}
}
