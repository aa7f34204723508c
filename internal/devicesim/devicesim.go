// Package devicesim simulates a device speaking the clacks line protocol.
// It answers every "[[id body]]" frame with "[[id reply]]" and is used by
// the echo device example and by tests.
package devicesim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/arloliu/go-clacks/frame"
	"github.com/arloliu/go-clacks/logger"
)

// Responder computes the reply body for a received frame. ok false sends no reply.
type Responder func(f frame.Frame) (body string, ok bool)

// Ack answers every frame with "ack".
func Ack(frame.Frame) (string, bool) { return "ack", true }

// Echo answers every frame with its own body.
func Echo(f frame.Frame) (string, bool) { return f.Body, true }

// Silent never answers.
func Silent(frame.Frame) (string, bool) { return "", false }

// Device is a simulated device.
type Device struct {
	respond Responder
	delay   time.Duration
	banner  string
	logger  logger.Logger
}

// Option configures a Device.
type Option func(*Device)

// WithDelay delays every reply by d.
func WithDelay(d time.Duration) Option {
	return func(dev *Device) { dev.delay = d }
}

// WithBanner makes the device print line, unframed, when a connection starts.
func WithBanner(line string) Option {
	return func(dev *Device) { dev.banner = line }
}

// WithLogger sets the device logger.
func WithLogger(l logger.Logger) Option {
	return func(dev *Device) {
		if l != nil {
			dev.logger = l
		}
	}
}

// New creates a Device answering through respond. A nil respond means Ack.
func New(respond Responder, opts ...Option) *Device {
	if respond == nil {
		respond = Ack
	}

	dev := &Device{respond: respond, logger: logger.GetLogger()}
	for _, opt := range opts {
		opt(dev)
	}

	return dev
}

// Serve talks to one connection until it is closed or ctx is done.
// It closes rw before returning.
func (dev *Device) Serve(ctx context.Context, rw io.ReadWriteCloser) error {
	stop := context.AfterFunc(ctx, func() { _ = rw.Close() })
	defer stop()
	defer rw.Close()

	var writeMu sync.Mutex
	writeLine := func(b []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()

		_, err := rw.Write(b)

		return err
	}

	if dev.banner != "" {
		if err := writeLine([]byte(dev.banner + "\n")); err != nil {
			return fmt.Errorf("devicesim: write banner: %w", err)
		}
	}

	r := frame.NewReader(rw, frame.DefaultMaxLineLength)
	for {
		line, err := r.ReadLine()
		if err != nil {
			if errors.Is(err, frame.ErrLineTooLong) {
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}

			return err
		}

		f, err := frame.Decode(line)
		if err != nil {
			dev.logger.Debug("devicesim: ignore line", "line", string(line), "error", err)
			continue
		}

		body, ok := dev.respond(f)
		if !ok {
			continue
		}

		reply, err := frame.Encode(f.ID, body)
		if err != nil {
			dev.logger.Warn("devicesim: cannot encode reply", "id", f.ID, "error", err)
			continue
		}

		if dev.delay > 0 {
			select {
			case <-time.After(dev.delay):
			case <-ctx.Done():
				return nil
			}
		}

		if err := writeLine(reply); err != nil {
			return fmt.Errorf("devicesim: write reply: %w", err)
		}
		dev.logger.Debug("devicesim: replied", "id", f.ID, "body", body)
	}
}

// ListenAndServe accepts TCP connections on addr and serves each one until
// ctx is done.
func (dev *Device) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("devicesim: listen %s: %w", addr, err)
	}

	return dev.ServeListener(ctx, ln)
}

// ServeListener accepts connections from ln until ctx is done. It closes ln.
func (dev *Device) ServeListener(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer ln.Close()

	dev.logger.Info("devicesim: listening", "addr", ln.Addr().String())

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			return fmt.Errorf("devicesim: accept: %w", err)
		}

		dev.logger.Info("devicesim: client connected", "remote", conn.RemoteAddr().String())

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dev.Serve(ctx, conn); err != nil {
				dev.logger.Warn("devicesim: connection ended", "error", err)
			}
		}()
	}
}
