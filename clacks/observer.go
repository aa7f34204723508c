package clacks

import (
	"strconv"
	"sync"
	"time"

	"github.com/arloliu/go-clacks/internal/pool"
	"github.com/arloliu/go-clacks/internal/task"
	"github.com/arloliu/go-clacks/packet"
)

// Observer receives status packets and uncorrelated device text.
//
// Observe runs on the observer's own goroutine, one packet at a time, in
// dispatch order. A slow observer only delays itself.
type Observer interface {
	Observe(p packet.Packet)
}

// ObserverFunc adapts a function to an Observer.
type ObserverFunc func(p packet.Packet)

// Observe calls f(p).
func (f ObserverFunc) Observe(p packet.Packet) { f(p) }

// ObserverID identifies a registered observer. The zero value is never assigned.
type ObserverID uint64

type observerEntry struct {
	id  ObserverID
	obs Observer

	mu     sync.RWMutex // guards ch against close during delivery
	ch     chan packet.Packet
	closed bool
}

func (e *observerEntry) taskName() string {
	return "clacks.observer." + strconv.FormatUint(uint64(e.id), 10)
}

// deliver queues p for the observer, waiting at most timeout on a full queue.
// It reports whether p was queued.
func (e *observerEntry) deliver(p packet.Packet, timeout time.Duration, stop <-chan struct{}) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return false
	}

	select {
	case e.ch <- p:
		return true
	default:
	}

	if timeout <= 0 {
		return false
	}

	timer := pool.GetTimer(timeout)
	defer pool.PutTimer(timer)

	select {
	case e.ch <- p:
		return true
	case <-timer.C:
		return false
	case <-stop:
		return false
	}
}

func (e *observerEntry) close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}

// RegisterObserver adds o to the set receiving broadcast packets and
// returns its handle. It is safe to call concurrently with Dispatch.
func (s *Service) RegisterObserver(o Observer) (ObserverID, error) {
	if o == nil {
		return 0, ErrNilObserver
	}
	if s.closed.Load() {
		return 0, ErrServiceClosed
	}

	entry := &observerEntry{
		id:  ObserverID(s.nextObserverID.Add(1)),
		obs: o,
		ch:  make(chan packet.Packet, s.cfg.observerQueueSize),
	}

	if err := task.StartConsumer(s.taskMgr, entry.taskName(), entry.ch, o.Observe); err != nil {
		return 0, err
	}
	s.observers.Store(entry.id, entry)

	s.logger.Debug("clacks: observer registered", "observer_id", entry.id)

	return entry.id, nil
}

// UnregisterObserver removes the observer registered as id. Packets already
// queued for it are still delivered. It reports whether id was registered.
func (s *Service) UnregisterObserver(id ObserverID) bool {
	entry, ok := s.observers.LoadAndDelete(id)
	if !ok {
		return false
	}

	entry.close()
	s.logger.Debug("clacks: observer unregistered", "observer_id", id)

	return true
}

// ObserverCount returns the number of registered observers.
func (s *Service) ObserverCount() int {
	return s.observers.Size()
}

// broadcast hands p to every observer the routing table allows.
func (s *Service) broadcast(p packet.Packet) {
	if packet.Route(p.Kind, packet.RecipientObserver) != packet.ActObserve {
		return
	}

	stop := s.taskMgr.Context().Done()

	s.observers.Range(func(id ObserverID, entry *observerEntry) bool {
		if !entry.deliver(p, s.cfg.observerSendTimeout, stop) {
			s.metrics.incObserverDropCount()
			s.logger.Warn("clacks: observer queue full, packet dropped",
				"observer_id", id, "kind", p.Kind)
		}

		return true
	})
}
