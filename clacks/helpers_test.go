package clacks

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-clacks/frame"
	"github.com/arloliu/go-clacks/logger"
	"github.com/arloliu/go-clacks/packet"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logger.InfoLevel
	}
	logger.SetLevel(level)

	os.Exit(m.Run())
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()

	s, err := NewService(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

// fakeDevice is the remote end of a net.Pipe attached to a Service.
type fakeDevice struct {
	conn   net.Conn
	frames chan frame.Frame
}

func attachFakeDevice(t *testing.T, s *Service) *fakeDevice {
	t.Helper()

	local, remote := net.Pipe()
	require.NoError(t, s.Attach(local))

	d := &fakeDevice{conn: remote, frames: make(chan frame.Frame, 64)}
	go d.readLoop()
	t.Cleanup(func() { _ = remote.Close() })

	return d
}

func (d *fakeDevice) readLoop() {
	defer close(d.frames)

	br := bufio.NewReader(d.conn)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return
		}
		if f, err := frame.Decode([]byte(line)); err == nil {
			d.frames <- f
		}
	}
}

func (d *fakeDevice) nextFrame(t *testing.T) frame.Frame {
	t.Helper()

	select {
	case f, ok := <-d.frames:
		require.True(t, ok, "device connection closed")
		return f
	case <-time.After(2 * time.Second):
		require.FailNow(t, "device received no frame")
		return frame.Frame{}
	}
}

func (d *fakeDevice) send(t *testing.T, line string) {
	t.Helper()

	_, err := d.conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

// chanObserver buffers observed packets and never blocks.
type chanObserver struct {
	ch chan packet.Packet
}

func newChanObserver() *chanObserver {
	return &chanObserver{ch: make(chan packet.Packet, 256)}
}

func (o *chanObserver) Observe(p packet.Packet) {
	select {
	case o.ch <- p:
	default:
	}
}

// next returns the next observed packet matching match.
func (o *chanObserver) next(t *testing.T, match func(packet.Packet) bool) packet.Packet {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case p := <-o.ch:
			if match(p) {
				return p
			}
		case <-timeout:
			require.FailNow(t, "expected packet not observed")
			return packet.Packet{}
		}
	}
}

func isKind(k packet.Kind) func(packet.Packet) bool {
	return func(p packet.Packet) bool { return p.Kind == k }
}

func isStatus(level string) func(packet.Packet) bool {
	return func(p packet.Packet) bool { return p.Kind == packet.KindStatus && p.Level == level }
}

// brokenPort fails every write; reads block until Close.
type brokenPort struct {
	closed chan struct{}
	once   sync.Once
}

func newBrokenPort() *brokenPort {
	return &brokenPort{closed: make(chan struct{})}
}

func (p *brokenPort) Read([]byte) (int, error) {
	<-p.closed
	return 0, io.EOF
}

func (p *brokenPort) Write([]byte) (int, error) {
	return 0, errors.New("device unplugged")
}

func (p *brokenPort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

// stalledPort blocks every write and read until Close, like a link that
// stopped draining.
type stalledPort struct {
	brokenPort
}

func newStalledPort() *stalledPort {
	return &stalledPort{brokenPort: brokenPort{closed: make(chan struct{})}}
}

func (p *stalledPort) Write([]byte) (int, error) {
	<-p.closed
	return 0, io.ErrClosedPipe
}
