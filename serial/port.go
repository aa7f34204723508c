package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	bugst "go.bug.st/serial"
)

// DefaultBaudRate is used by OpenSerial when baud is not positive.
const DefaultBaudRate = 115200

// DefaultDialTimeout is used by DialTCP when timeout is not positive.
const DefaultDialTimeout = 5 * time.Second

// DialTCP connects to a serial-over-TCP bridge (ser2net, an ESP link, or the
// echo device example) and returns the connection as a port.
func DialTCP(ctx context.Context, addr string, timeout time.Duration) (io.ReadWriteCloser, error) {
	if addr == "" {
		return nil, errors.New("serial: empty tcp address")
	}
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	dialer := net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("serial: dial %s: %w", addr, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	return conn, nil
}

// OpenSerial opens a local serial device in 8N1 mode at the given baud rate.
func OpenSerial(name string, baud int) (io.ReadWriteCloser, error) {
	if name == "" {
		return nil, errors.New("serial: empty port name")
	}
	if baud <= 0 {
		baud = DefaultBaudRate
	}

	mode := &bugst.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	}

	port, err := bugst.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", name, err)
	}

	return port, nil
}
