package clacks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-clacks/frame"
	"github.com/arloliu/go-clacks/internal/task"
	"github.com/arloliu/go-clacks/logger"
	"github.com/arloliu/go-clacks/packet"
	"github.com/arloliu/go-clacks/serial"
	"github.com/puzpuzpuz/xsync/v3"
)

const closeTimeout = 3 * time.Second

// Service correlates client requests with device replies.
//
// A Service owns at most one attached transport. Requests submitted with a
// positive timeout are kept in the pending table under their full id until
// a matching reply arrives or the deadline passes. Everything the service
// cannot correlate is broadcast to the registered observers.
type Service struct {
	cfg     *Config
	logger  logger.Logger
	taskMgr *task.Manager
	ids     *idGenerator

	mu        sync.RWMutex // guards transport
	transport *serial.Transport

	pending        *xsync.MapOf[string, *Request]
	observers      *xsync.MapOf[ObserverID, *observerEntry]
	nextObserverID atomic.Uint64

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	metrics Metrics
}

var _ serial.Dispatcher = (*Service)(nil)

// NewService creates a Service and starts its timeout sweep.
// No device is attached yet; see Attach.
func NewService(ctx context.Context, opts ...Option) (*Service, error) {
	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:       cfg,
		logger:    cfg.logger,
		taskMgr:   task.NewManager(ctx, cfg.logger),
		ids:       newIDGenerator(),
		pending:   xsync.NewMapOf[string, *Request](),
		observers: xsync.NewMapOf[ObserverID, *observerEntry](),
	}

	if err := s.taskMgr.StartInterval("clacks.sweep", s.sweep, cfg.sweepInterval); err != nil {
		return nil, err
	}

	return s, nil
}

// Attach creates a transport on port, with the service as its dispatcher,
// and starts it. A transport that lost its port is replaced.
func (s *Service) Attach(port io.ReadWriteCloser) error {
	if s.closed.Load() {
		return ErrServiceClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transport != nil && !s.transport.IsClosed() {
		return ErrAlreadyAttached
	}

	tr, err := serial.NewTransport(s.taskMgr.Context(), port, s, s.cfg.serialOptions()...)
	if err != nil {
		return fmt.Errorf("clacks: attach: %w", err)
	}
	if err := tr.Start(); err != nil {
		return fmt.Errorf("clacks: attach: %w", err)
	}

	s.transport = tr
	s.logger.Info("clacks: device attached")

	return nil
}

// Detach closes the attached transport, if any.
func (s *Service) Detach() error {
	s.mu.Lock()
	tr := s.transport
	s.transport = nil
	s.mu.Unlock()

	if tr == nil {
		return nil
	}

	s.logger.Info("clacks: device detached")

	return tr.Close()
}

// HasDevice reports whether a live transport is attached.
func (s *Service) HasDevice() bool {
	return s.device() != nil
}

// Transport returns the attached transport, or nil.
func (s *Service) Transport() *serial.Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.transport
}

func (s *Service) device() *serial.Transport {
	tr := s.Transport()
	if tr == nil || tr.IsClosed() {
		return nil
	}

	return tr
}

// Submit is ProcessRequest without a caller context.
func (s *Service) Submit(raw string, timeout time.Duration) (*Request, error) {
	return s.ProcessRequest(raw, nil, timeout)
}

// ProcessRequest sends raw to the device and returns its Request.
//
// With a zero timeout the request is fire-and-forget and already in
// StateDone. With a positive timeout it waits in the pending table for a
// reply carrying its full id. ProcessRequest does not wait for the reply;
// use Request.Wait or Request.Done. It does not wait for room in the
// transport queue either: a request that cannot be queued is reported to
// observers as a write error and left to time out.
//
// No Request is created when no device is attached (ErrNoDevice).
func (s *Service) ProcessRequest(raw string, caller any, timeout time.Duration) (*Request, error) {
	if s.closed.Load() {
		return nil, ErrServiceClosed
	}

	tr := s.device()
	if tr == nil {
		s.metrics.incRejectCount()
		return nil, ErrNoDevice
	}

	if timeout < 0 {
		s.metrics.incRejectCount()
		return nil, fmt.Errorf("%w: %v", ErrInvalidTimeout, timeout)
	}

	req := newRequest(s.ids.next(), raw, caller, timeout, &s.metrics)

	if _, err := frame.Encode(req.fullID, req.body); err != nil {
		s.metrics.incRejectCount()
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	if timeout > 0 {
		if err := s.addPending(req); err != nil {
			s.metrics.incRejectCount()
			return nil, err
		}
	}

	// never wait for queue room; a request that misses the queue times out
	if err := tr.TrySend(packet.NewRequest(req.fullID, req.body)); err != nil {
		if errors.Is(err, serial.ErrTransportClosed) {
			s.removePending(req)
			s.metrics.incRejectCount()

			return nil, ErrNoDevice
		}

		// the request stays and times out like any unanswered one
		s.logger.Warn("clacks: request not handed to transport", "id", req.fullID, "error", err)
		s.broadcast(packet.NewStatus(packet.LevelError, "Error writing to port: "+err.Error()))
	}

	req.startDeadline(time.Now())

	s.metrics.incRequestCount()
	if timeout == 0 {
		s.metrics.incFireAndForgetCount()
	}

	s.logger.Debug("clacks: request submitted", "id", req.fullID, "timeout", timeout)

	return req, nil
}

// Dispatch routes a packet arriving at the service.
//
// A reply whose full id matches a waiting request resolves it. Replies
// without a waiting request are forwarded to observers as device text, and
// status and device text packets are forwarded unchanged. An outbound
// request packet is handed to the transport.
func (s *Service) Dispatch(p packet.Packet) {
	act, err := packet.Resolve(p, packet.RecipientService)
	if err != nil {
		s.logger.Warn("clacks: drop packet", "kind", p.Kind, "error", err)
		return
	}

	switch act {
	case packet.ActCorrelate:
		if p.Direction == packet.ToDevice {
			s.forward(p)
			return
		}
		s.correlate(p)

	case packet.ActBroadcast:
		s.broadcast(p)

	default:
		s.logger.Warn("clacks: unexpected route", "kind", p.Kind, "action", act)
	}
}

func (s *Service) correlate(p packet.Packet) {
	if p.FullID != "" {
		if req, ok := s.pending.Load(p.FullID); ok && req.resolve(p.Body) {
			s.logger.Debug("clacks: request resolved", "id", p.FullID)
			return
		}
	}

	s.metrics.incUncorrelatedCount()
	s.logger.Debug("clacks: uncorrelated reply", "id", p.FullID)
	s.broadcast(p.Uncorrelated())
}

func (s *Service) forward(p packet.Packet) {
	tr := s.device()
	if tr == nil {
		s.logger.Warn("clacks: drop outbound packet, no device", "id", p.FullID)
		return
	}

	if err := tr.Send(p); err != nil {
		s.logger.Warn("clacks: drop outbound packet", "id", p.FullID, "error", err)
	}
}

// Release removes a terminal request from the pending table. A newer
// request with the same full id is left alone. It reports whether r was removed.
func (s *Service) Release(r *Request) bool {
	if r == nil || !r.State().IsTerminal() {
		return false
	}

	return s.removePending(r)
}

// Pending returns the number of requests in the pending table, terminal ones included.
func (s *Service) Pending() int {
	return s.pending.Size()
}

// Lookup returns the pending request with the given full id.
func (s *Service) Lookup(fullID string) (*Request, bool) {
	return s.pending.Load(fullID)
}

// Metrics returns the service counters.
func (s *Service) Metrics() *Metrics {
	return &s.metrics
}

// Close detaches the device, stops the sweep and all observer deliveries.
// It is safe to call more than once.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		detachErr := s.Detach()

		s.taskMgr.Stop()
		s.observers.Range(func(id ObserverID, entry *observerEntry) bool {
			s.observers.Delete(id)
			entry.close()

			return true
		})

		var waitErr error
		if !s.taskMgr.WaitTimeout(closeTimeout) {
			waitErr = fmt.Errorf("clacks: close timeout after %v", closeTimeout)
		}

		s.closeErr = errors.Join(detachErr, waitErr)
		s.logger.Debug("clacks: service closed")
	})

	return s.closeErr
}

func (s *Service) addPending(req *Request) error {
	var dup bool

	s.pending.Compute(req.fullID, func(old *Request, loaded bool) (*Request, bool) {
		if loaded && !old.State().IsTerminal() {
			dup = true
			return old, false
		}

		return req, false
	})

	if dup {
		return fmt.Errorf("%w: %s", ErrDuplicateID, req.fullID)
	}

	return nil
}

func (s *Service) removePending(req *Request) bool {
	var removed bool

	s.pending.Compute(req.fullID, func(old *Request, loaded bool) (*Request, bool) {
		if loaded && old == req {
			removed = true
			return nil, true
		}

		return old, !loaded
	})

	return removed
}

// sweep times out expired waiting requests and drops terminal ones past retention.
func (s *Service) sweep() bool {
	now := time.Now()

	s.pending.Range(func(fullID string, req *Request) bool {
		if req.expire(now) {
			s.logger.Debug("clacks: request timed out", "id", fullID)
			return true
		}

		if since, ok := req.terminalSince(); ok && now.Sub(since) > s.cfg.retention {
			s.removePending(req)
		}

		return true
	})

	return true
}
