package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/arloliu/go-clacks/frame"
	"github.com/arloliu/go-clacks/internal/pool"
	"github.com/arloliu/go-clacks/internal/task"
	"github.com/arloliu/go-clacks/logger"
	"github.com/arloliu/go-clacks/packet"
)

// Sentinel errors for the transport.
var (
	ErrTransportClosed = errors.New("serial: transport closed")
	ErrSendTimeout     = errors.New("serial: send queue timeout")
	ErrQueueFull       = errors.New("serial: send queue full")
	ErrAlreadyStarted  = errors.New("serial: transport already started")
	ErrNilPort         = errors.New("serial: port is nil")
	ErrNilDispatcher   = errors.New("serial: dispatcher is nil")
)

// Status texts reported to the dispatcher.
const (
	writeErrorText   = "Error writing to port"
	disconnectedText = "device disconnected"
)

// Dispatcher receives every packet produced by a Transport: replies and
// device text read from the port, and local status packets.
//
// Dispatch is called from the read and write loops; it must not block for long.
type Dispatcher interface {
	Dispatch(p packet.Packet)
}

// DispatcherFunc adapts a function to a Dispatcher.
type DispatcherFunc func(p packet.Packet)

// Dispatch calls f(p).
func (f DispatcherFunc) Dispatch(p packet.Packet) { f(p) }

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Transport moves frames over a byte-stream port.
//
// Outbound request packets are queued by Send and written in FIFO order by
// the write loop. Inbound lines are decoded by the read loop and handed to
// the Dispatcher. Writes through [Transport.Write] are serialized, so two
// frames never interleave on the wire.
type Transport struct {
	cfg        *Config
	logger     logger.Logger
	port       io.ReadWriteCloser
	dispatcher Dispatcher

	taskMgr    *task.Manager
	opState    atomicOpState
	closeOnce  sync.Once
	closeErr   error
	writeMu    sync.Mutex
	senderChan chan packet.Packet
	done       chan struct{}

	metrics Metrics
}

// NewTransport creates a Transport on port. Nothing is read or written
// until Start is called.
func NewTransport(ctx context.Context, port io.ReadWriteCloser, d Dispatcher, opts ...Option) (*Transport, error) {
	if port == nil {
		return nil, ErrNilPort
	}
	if d == nil {
		return nil, ErrNilDispatcher
	}

	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	t := &Transport{
		cfg:        cfg,
		logger:     cfg.logger,
		port:       port,
		dispatcher: d,
		taskMgr:    task.NewManager(ctx, cfg.logger),
		senderChan: make(chan packet.Packet, cfg.senderQueueSize),
		done:       make(chan struct{}),
	}

	return t, nil
}

// Start launches the read and write loops.
func (t *Transport) Start() error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	if !t.opState.toOpening() {
		return ErrAlreadyStarted
	}

	reader := frame.NewReader(t.port, t.cfg.maxLineLength)

	err := errors.Join(
		t.taskMgr.Start("serial.writeLoop", t.writeLoopIteration),
		t.taskMgr.Start("serial.readLoop", func() bool { return t.readLoopIteration(reader) }),
	)
	if err != nil {
		t.taskMgr.Stop()
		t.opState.toClosed()

		return fmt.Errorf("serial: start loops: %w", err)
	}

	t.opState.toOpened()
	t.logger.Debug("serial: transport started")

	return nil
}

// Send queues an outbound request packet for the write loop.
//
// It waits at most the configured send timeout for room in the queue.
// Only request packets can be sent; other kinds return packet.ErrNotRoutable.
func (t *Transport) Send(p packet.Packet) error {
	if err := t.checkSend(p); err != nil {
		return err
	}

	timer := pool.GetTimer(t.cfg.sendTimeout)
	defer pool.PutTimer(timer)

	select {
	case <-t.done:
		return ErrTransportClosed
	case <-t.taskMgr.Context().Done():
		return ErrTransportClosed
	case <-timer.C:
		return ErrSendTimeout
	case t.senderChan <- p:
		return nil
	}
}

// TrySend queues an outbound request packet without waiting.
// It returns ErrQueueFull when the write loop is behind.
func (t *Transport) TrySend(p packet.Packet) error {
	if err := t.checkSend(p); err != nil {
		return err
	}

	select {
	case <-t.done:
		return ErrTransportClosed
	case t.senderChan <- p:
		return nil
	default:
		return ErrQueueFull
	}
}

func (t *Transport) checkSend(p packet.Packet) error {
	if _, err := packet.Resolve(p, packet.RecipientTransport); err != nil {
		return err
	}
	if t.IsClosed() {
		return ErrTransportClosed
	}

	return nil
}

// Write writes one encoded frame to the port.
//
// Concurrent calls are serialized. When the port supports write deadlines
// the configured write timeout is applied.
func (t *Transport) Write(b []byte) error {
	if t.IsClosed() {
		return ErrTransportClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if dl, ok := t.port.(writeDeadliner); ok && t.cfg.writeTimeout > 0 {
		_ = dl.SetWriteDeadline(time.Now().Add(t.cfg.writeTimeout))
	}

	for len(b) > 0 {
		n, err := t.port.Write(b)
		if err != nil {
			t.metrics.incWriteErrCount()
			return err
		}
		if n == 0 {
			t.metrics.incWriteErrCount()
			return io.ErrShortWrite
		}
		b = b[n:]
	}

	return nil
}

// Close stops both loops and closes the port. It is safe to call more than once.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.doClose()
	})

	return t.closeErr
}

func (t *Transport) doClose() error {
	t.opState.toClosing()
	close(t.done)

	t.taskMgr.Stop()
	portErr := t.port.Close()

	t.drainSenderChan()

	var closeErr error
	if !t.taskMgr.WaitTimeout(t.cfg.closeTimeout) {
		t.logger.Error("serial: close timeout", "timeout", t.cfg.closeTimeout)
		closeErr = fmt.Errorf("serial: close timeout after %v", t.cfg.closeTimeout)
	}

	t.opState.toClosed()
	t.logger.Debug("serial: transport closed")

	if portErr != nil && !isClosedError(portErr) {
		closeErr = errors.Join(closeErr, fmt.Errorf("serial: close port: %w", portErr))
	}

	return closeErr
}

// IsClosed reports whether the transport is not running, either because it
// was never started or because it was closed or lost its port.
func (t *Transport) IsClosed() bool {
	select {
	case <-t.done:
		return true
	default:
	}

	return !t.opState.IsOpened()
}

// Done returns a channel closed when the transport shuts down.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// State returns the lifecycle state.
func (t *Transport) State() OpState {
	return t.opState.Get()
}

// Metrics returns the transport's counters.
func (t *Transport) Metrics() *Metrics {
	return &t.metrics
}

// QueueLen returns the number of packets waiting for the write loop.
func (t *Transport) QueueLen() int {
	return len(t.senderChan)
}

func (t *Transport) drainSenderChan() {
	for {
		select {
		case <-t.senderChan:
		default:
			return
		}
	}
}

func (t *Transport) writeLoopIteration() bool {
	select {
	case <-t.taskMgr.Context().Done():
		return false

	case p := <-t.senderChan:
		t.writePacket(p)
		return true
	}
}

func (t *Transport) writePacket(p packet.Packet) {
	b, err := frame.Encode(p.FullID, p.Body)
	if err != nil {
		t.logger.Warn("serial: drop unencodable packet", "id", p.FullID, "error", err)
		t.dispatcher.Dispatch(packet.NewStatus(packet.LevelError, writeErrorText+": "+err.Error()))

		return
	}

	if err := t.Write(b); err != nil {
		t.logger.Error("serial: write failed", "id", p.FullID, "error", err)
		t.dispatcher.Dispatch(packet.NewStatus(packet.LevelError, writeErrorText+": "+err.Error()))

		return
	}

	t.metrics.incFrameSendCount()

	if t.cfg.echoWrites {
		t.dispatcher.Dispatch(packet.NewStatus(packet.LevelOutput, "-> "+string(b[:len(b)-1])))
	}
}

func (t *Transport) readLoopIteration(r *frame.Reader) bool {
	line, err := r.ReadLine()
	if err != nil {
		if errors.Is(err, frame.ErrLineTooLong) {
			t.metrics.incMalformedCount()
			t.logger.Warn("serial: drop over-long line", "max", t.cfg.maxLineLength)

			return true
		}

		t.handleReadError(err)

		return false
	}

	if len(line) == 0 {
		return true
	}

	f, err := frame.Decode(line)
	switch {
	case err == nil:
		t.metrics.incFrameRecvCount()
		t.dispatcher.Dispatch(packet.NewReply(f.ID, f.Body, string(line)))

	case errors.Is(err, frame.ErrNotFrame):
		t.metrics.incDeviceTextCount()
		t.dispatcher.Dispatch(packet.NewDeviceText(string(line)))

	default:
		t.metrics.incMalformedCount()
		t.logger.Warn("serial: drop malformed frame", "line", string(line), "error", err)
	}

	return true
}

// handleReadError ends the read loop. A read failure that is not caused by
// Close means the device went away.
func (t *Transport) handleReadError(err error) {
	select {
	case <-t.done:
		return
	default:
	}

	if errors.Is(err, io.EOF) {
		t.logger.Info("serial: device disconnected")
	} else {
		t.logger.Error("serial: read failed", "error", err)
	}

	t.opState.toClosing()
	t.dispatcher.Dispatch(packet.NewStatus(packet.LevelError, disconnectedText))

	// Close waits for this loop, so it cannot run on this goroutine.
	go func() { _ = t.Close() }()
}

func isClosedError(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
