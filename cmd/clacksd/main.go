// Command clacksd serves HTTP clients for a device on a serial link.
//
//	clacksd --port /dev/ttyUSB0 --baud 115200 --listen 127.0.0.1:54242
//	clacksd --tcp localhost:2000
//
// GET /serial?msg=<message>&timeout=<ms> sends one message to the device.
// GET /monitor streams device traffic over WebSocket and /monitor/log
// returns the recent display log.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"github.com/arloliu/go-clacks/adapter"
	"github.com/arloliu/go-clacks/clacks"
	"github.com/arloliu/go-clacks/internal/task"
	"github.com/arloliu/go-clacks/logger"
	"github.com/arloliu/go-clacks/monitor"
	"github.com/arloliu/go-clacks/serial"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printUsage()
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "clacksd: %v\n", err)
		os.Exit(2)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "clacksd: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *Config) error {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	l := logger.NewSlogWithOptions(logger.Options{
		Writer:      os.Stderr,
		Level:       level,
		Development: cfg.Development,
	})
	logger.SetDefault(l)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := clacks.NewService(ctx,
		clacks.WithLogger(l.With("component", "clacks")),
		clacks.WithSweepInterval(cfg.SweepInterval),
		clacks.WithRetention(cfg.Retention),
	)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	defer svc.Close()

	display := monitor.NewDisplayLog(cfg.MonitorLogLines)
	feed := monitor.NewFeed(l.With("component", "monitor"), monitor.DefaultClientBuffer)
	defer feed.Close()

	for _, obs := range []clacks.Observer{display, feed, monitor.NewLogObserver(l)} {
		if _, err := svc.RegisterObserver(obs); err != nil {
			return fmt.Errorf("register observer: %w", err)
		}
	}

	open := openerFor(cfg)
	if err := attach(ctx, svc, open); err != nil {
		// keep serving; clients get "No board listens!" until reconnected
		l.Error("clacksd: cannot open device", "error", err)
	}

	mgr := task.NewManager(ctx, l)
	defer mgr.Stop()

	if cfg.ReconnectEvery > 0 {
		if err := startReconnect(mgr, svc, open, cfg.ReconnectEvery, l); err != nil {
			return err
		}
	}

	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	handler := adapter.NewHandler(adapter.StaticService(svc), l.With("component", "adapter"),
		adapter.WithMaxTimeout(cfg.MaxTimeout))

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           adapter.NewRouter(handler, feed, display),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}

	return serve(ctx, srv, ln, feed, l)
}

// serve runs srv on ln until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, feed *monitor.Feed, l logger.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		l.Info("clacksd: listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}

		return nil
	case <-ctx.Done():
		l.Info("clacksd: shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// websocket clients hold their connection open, close them first
	if feed != nil {
		feed.Close()
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	return nil
}

// portOpener opens the device link.
type portOpener func(ctx context.Context) (io.ReadWriteCloser, error)

func openerFor(cfg *Config) portOpener {
	if cfg.TCP != "" {
		return func(ctx context.Context) (io.ReadWriteCloser, error) {
			return serial.DialTCP(ctx, cfg.TCP, serial.DefaultDialTimeout)
		}
	}

	return func(context.Context) (io.ReadWriteCloser, error) {
		return serial.OpenSerial(cfg.Port, cfg.Baud)
	}
}

// startReconnect re-opens and attaches the device every interval while svc
// has none.
func startReconnect(mgr *task.Manager, svc *clacks.Service, open portOpener, every time.Duration, l logger.Logger) error {
	return mgr.StartInterval("clacksd.reconnect", func() bool {
		if svc.HasDevice() {
			return true
		}

		if err := attach(mgr.Context(), svc, open); err != nil {
			l.Debug("clacksd: reconnect failed", "error", err)
			return true
		}
		l.Info("clacksd: device reconnected")

		return true
	}, every)
}

// attach opens the device and attaches it to svc.
func attach(ctx context.Context, svc *clacks.Service, open portOpener) error {
	port, err := open(ctx)
	if err != nil {
		return err
	}

	if err := svc.Attach(port); err != nil {
		_ = port.Close()
		return err
	}

	return nil
}
