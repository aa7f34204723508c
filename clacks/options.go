package clacks

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-clacks/logger"
	"github.com/arloliu/go-clacks/serial"
)

// Default service settings.
const (
	DefaultSweepInterval       = 25 * time.Millisecond
	DefaultRetention           = time.Minute // terminal requests never released are dropped after this
	DefaultObserverQueueSize   = 64
	DefaultObserverSendTimeout = 50 * time.Millisecond
)

// Limits for options.
const (
	MinSweepInterval     = time.Millisecond
	MaxSweepInterval     = 10 * time.Second
	MaxObserverQueueSize = 8192
)

// Config holds the service configuration.
type Config struct {
	sweepInterval       time.Duration
	retention           time.Duration
	observerQueueSize   int
	observerSendTimeout time.Duration

	// options handed to every attached transport
	transportOpts []serial.Option

	logger logger.Logger
}

// NewConfig creates a service configuration. opts are applied in order.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		sweepInterval:       DefaultSweepInterval,
		retention:           DefaultRetention,
		observerQueueSize:   DefaultObserverQueueSize,
		observerSendTimeout: DefaultObserverSendTimeout,
		logger:              logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// SweepInterval returns the timeout sweep period.
func (cfg *Config) SweepInterval() time.Duration { return cfg.sweepInterval }

// Retention returns how long unreleased terminal requests are kept.
func (cfg *Config) Retention() time.Duration { return cfg.retention }

// ObserverQueueSize returns the per-observer queue capacity.
func (cfg *Config) ObserverQueueSize() int { return cfg.observerQueueSize }

// ObserverSendTimeout returns how long delivery waits on a full observer queue.
func (cfg *Config) ObserverSendTimeout() time.Duration { return cfg.observerSendTimeout }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

func (cfg *Config) serialOptions() []serial.Option {
	opts := make([]serial.Option, 0, len(cfg.transportOpts)+1)
	opts = append(opts, serial.WithLogger(cfg.logger.With("component", "serial")))

	return append(opts, cfg.transportOpts...)
}

// Option is a functional option for Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithSweepInterval sets how often waiting requests are checked for expiry.
func WithSweepInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinSweepInterval || d > MaxSweepInterval {
			return fmt.Errorf("clacks: sweep interval %v out of range [%v, %v]", d, MinSweepInterval, MaxSweepInterval)
		}
		cfg.sweepInterval = d

		return nil
	})
}

// WithRetention sets how long a terminal request that was never released
// stays in the pending table.
func WithRetention(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("clacks: retention must be positive")
		}
		cfg.retention = d

		return nil
	})
}

// WithObserverQueueSize sets the capacity of each observer's delivery queue.
func WithObserverQueueSize(size int) Option {
	return optFunc(func(cfg *Config) error {
		if size < 1 || size > MaxObserverQueueSize {
			return fmt.Errorf("clacks: observer queue size %d out of range [1, %d]", size, MaxObserverQueueSize)
		}
		cfg.observerQueueSize = size

		return nil
	})
}

// WithObserverSendTimeout sets how long delivery waits on a full observer
// queue before the packet is dropped for that observer. Zero drops at once.
func WithObserverSendTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return errors.New("clacks: observer send timeout must not be negative")
		}
		cfg.observerSendTimeout = d

		return nil
	})
}

// WithSendTimeout bounds how long a submission waits for room in the transport send queue.
func WithSendTimeout(d time.Duration) Option {
	return WithTransportOptions(serial.WithSendTimeout(d))
}

// WithWriteTimeout sets the transport per-frame write deadline.
func WithWriteTimeout(d time.Duration) Option {
	return WithTransportOptions(serial.WithWriteTimeout(d))
}

// WithMaxLineLength sets the longest line accepted from the device.
func WithMaxLineLength(n int) Option {
	return WithTransportOptions(serial.WithMaxLineLength(n))
}

// WithTransportOptions appends options applied to every attached transport.
// They are validated here, so a bad option fails NewService rather than Attach.
func WithTransportOptions(opts ...serial.Option) Option {
	return optFunc(func(cfg *Config) error {
		if _, err := serial.NewConfig(opts...); err != nil {
			return err
		}
		cfg.transportOpts = append(cfg.transportOpts, opts...)

		return nil
	})
}

// WithLogger sets the service logger. Attached transports log through it too.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("clacks: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
