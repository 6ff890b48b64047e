// Package eventbus provides the per-bridge control loop and its ordered event bus.
package eventbus

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrLoopClosed is returned when work is submitted to a stopped loop.
var ErrLoopClosed = errors.New("control loop closed")

// Loop runs submitted work one item at a time on a single goroutine.
//
// After every item the loop flushes the bus and runs the after-turn hook, so event
// delivery and persistence always observe the state left by a complete turn.
type Loop struct {
	bus       *Bus
	afterTurn func()

	workQueue chan func()
	deferred  []func() // owned by the loop goroutine
	wg        sync.WaitGroup

	closing   chan struct{}
	closeOnce sync.Once
}

// NewLoop creates a loop bound to bus. afterTurn may be nil.
func NewLoop(bus *Bus, queueSize int, afterTurn func()) *Loop {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Loop{
		bus:       bus,
		afterTurn: afterTurn,
		workQueue: make(chan func(), queueSize),
		closing:   make(chan struct{}),
	}
}

// Start launches the loop goroutine.
func (l *Loop) Start() {
	l.wg.Add(1)
	go l.run()
}

func (l *Loop) run() {
	defer l.wg.Done()

	for {
		if len(l.deferred) > 0 {
			// Deferred turns alternate with posted work so a chain of them cannot starve it.
			select {
			case <-l.closing:
				l.drain()
				return
			case fn := <-l.workQueue:
				l.turn(fn)
			default:
			}
			fn := l.deferred[0]
			l.deferred = l.deferred[1:]
			l.turn(fn)
			continue
		}

		select {
		case <-l.closing:
			l.drain()
			return
		case fn := <-l.workQueue:
			l.turn(fn)
		}
	}
}

// drain runs work that was queued before Close. Deferred turns are dropped.
func (l *Loop) drain() {
	if n := len(l.deferred); n > 0 {
		log.Debug().Int("deferred", n).Msg("Dropping deferred work on close")
		l.deferred = nil
	}
	for {
		select {
		case fn := <-l.workQueue:
			l.turn(fn)
		default:
			return
		}
	}
}

func (l *Loop) turn(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Control loop work panicked")
		}
	}()

	fn()
	l.bus.Flush()
	if l.afterTurn != nil {
		l.afterTurn()
	}
}

// Post queues fn for execution. Returns false if the loop is closing.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.closing:
		return false
	default:
	}

	select {
	case <-l.closing:
		return false
	case l.workQueue <- fn:
		return true
	}
}

// Defer schedules fn as a later turn of its own. It must only be called from the loop
// goroutine, where a blocking Post could wait on the queue it is supposed to drain.
// Returns false if the loop is closing or too much work is already deferred.
func (l *Loop) Defer(fn func()) bool {
	select {
	case <-l.closing:
		return false
	default:
	}
	if len(l.deferred) >= cap(l.workQueue) {
		log.Warn().Int("deferred", len(l.deferred)).Msg("Deferred work queue full, dropping work")
		return false
	}
	l.deferred = append(l.deferred, fn)
	return true
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	ok := l.Post(func() {
		defer close(done)
		fn()
	})
	if !ok {
		return ErrLoopClosed
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.closing:
		// The loop drains queued work before exiting.
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops accepting work, finishes what is queued and waits for the goroutine.
func (l *Loop) Close(ctx context.Context) {
	l.closeOnce.Do(func() {
		close(l.closing)
	})

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Control loop stopped")
	case <-ctx.Done():
		log.Warn().Msg("Control loop shutdown timed out")
	}
}
