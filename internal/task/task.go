// Package task runs the long-lived goroutines of the service and the
// transport: the serial read and write loops, the timeout sweep and the
// per-observer delivery queues.
//
// A Manager owns a context derived from its parent. Stop cancels it, Wait
// blocks until every task returned. Panics inside a task are recovered and
// logged so one faulty observer cannot take the read loop down with it.
//
//	mgr := task.NewManager(ctx, logger)
//	_ = mgr.Start("readLoop", func() bool {
//	    return readOne() // false stops the task
//	})
//	mgr.Stop()
//	mgr.Wait()
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-clacks/logger"
)

// ErrStopped is returned when starting a task on a stopped Manager.
var ErrStopped = errors.New("task: manager already stopped")

// Func is a task body. Return true to be called again, false to stop.
type Func func() bool

// Manager manages a group of named goroutines sharing one lifetime.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32
	names  sync.Map // name -> struct{}, running tasks
}

// NewManager creates a Manager whose tasks stop when ctx is done or Stop is called.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	mgr := &Manager{logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the Manager's context. It is cancelled by Stop.
func (mgr *Manager) Context() context.Context {
	return mgr.ctx
}

// Start runs fn in a loop on its own goroutine until fn returns false or
// the Manager is stopped.
func (mgr *Manager) Start(name string, fn Func) error {
	return mgr.spawn(name, func() {
		for {
			select {
			case <-mgr.ctx.Done():
				return
			default:
			}

			if !mgr.callWithRecover(name, fn) {
				return
			}
		}
	})
}

// StartInterval calls fn every interval until fn returns false or the
// Manager is stopped.
func (mgr *Manager) StartInterval(name string, fn Func, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("task: invalid interval %v for %s", interval, name)
	}

	return mgr.spawn(name, func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-mgr.ctx.Done():
				return
			case <-ticker.C:
				if !mgr.callWithRecover(name, fn) {
					return
				}
			}
		}
	})
}

// StartConsumer calls fn for every value received from in, until in is
// closed or mgr is stopped.
func StartConsumer[T any](mgr *Manager, name string, in <-chan T, fn func(T)) error {
	if in == nil {
		return fmt.Errorf("task: input channel of %s is nil", name)
	}

	return mgr.spawn(name, func() {
		for {
			select {
			case <-mgr.ctx.Done():
				return
			case v, ok := <-in:
				if !ok {
					mgr.logger.Debug("task: input channel closed", "name", name)
					return
				}
				mgr.callWithRecover(name, func() bool {
					fn(v)
					return true
				})
			}
		}
	})
}

// Stop signals every task to terminate. It does not wait.
func (mgr *Manager) Stop() {
	mgr.cancel()
}

// Wait blocks until all tasks have returned.
func (mgr *Manager) Wait() {
	mgr.wg.Wait()
}

// WaitTimeout is Wait bounded by d. It reports whether all tasks returned in time.
func (mgr *Manager) WaitTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		mgr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// TaskCount returns the number of running tasks.
func (mgr *Manager) TaskCount() int {
	return int(mgr.count.Load())
}

// Running reports whether a task named name is running.
func (mgr *Manager) Running(name string) bool {
	_, ok := mgr.names.Load(name)
	return ok
}

func (mgr *Manager) spawn(name string, body func()) error {
	select {
	case <-mgr.ctx.Done():
		return fmt.Errorf("%w: %s", ErrStopped, name)
	default:
	}

	if _, loaded := mgr.names.LoadOrStore(name, struct{}{}); loaded {
		return fmt.Errorf("task: %s already running", name)
	}

	mgr.logger.Debug("task: start", "name", name)
	mgr.wg.Add(1)
	mgr.count.Add(1)

	go func() {
		defer func() {
			mgr.names.Delete(name)
			mgr.count.Add(-1)
			mgr.wg.Done()
			mgr.logger.Debug("task: terminated", "name", name, "task_count", mgr.TaskCount())
		}()

		body()
	}()

	return nil
}

func (mgr *Manager) callWithRecover(name string, fn Func) (cont bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("task: panic recovered", "name", name, "panic", r)
		}
	}()

	return fn()
}
