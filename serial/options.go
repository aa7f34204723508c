package serial

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-clacks/frame"
	"github.com/arloliu/go-clacks/logger"
)

// Default transport settings.
const (
	DefaultSendTimeout     = 3 * time.Second // wait for a slot in the send queue
	DefaultWriteTimeout    = 2 * time.Second // per-frame write deadline, when the port supports it
	DefaultCloseTimeout    = 3 * time.Second
	DefaultSenderQueueSize = 32
)

// Limits for options.
const (
	MinMaxLineLength = 16
	MaxMaxLineLength = 64 * 1024
	MaxSenderQueue   = 4096
)

// Config holds the transport configuration.
type Config struct {
	sendTimeout     time.Duration
	writeTimeout    time.Duration
	closeTimeout    time.Duration
	senderQueueSize int
	maxLineLength   int

	// echoWrites reports each written frame to the dispatcher as an
	// "output" status packet.
	echoWrites bool

	logger logger.Logger
}

// NewConfig creates a transport configuration. opts are applied in order.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		sendTimeout:     DefaultSendTimeout,
		writeTimeout:    DefaultWriteTimeout,
		closeTimeout:    DefaultCloseTimeout,
		senderQueueSize: DefaultSenderQueueSize,
		maxLineLength:   frame.DefaultMaxLineLength,
		echoWrites:      true,
		logger:          logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// SendTimeout returns the send queue hand-off timeout.
func (cfg *Config) SendTimeout() time.Duration { return cfg.sendTimeout }

// WriteTimeout returns the per-frame write deadline.
func (cfg *Config) WriteTimeout() time.Duration { return cfg.writeTimeout }

// CloseTimeout returns how long Close waits for the loops to stop.
func (cfg *Config) CloseTimeout() time.Duration { return cfg.closeTimeout }

// SenderQueueSize returns the outbound queue capacity.
func (cfg *Config) SenderQueueSize() int { return cfg.senderQueueSize }

// MaxLineLength returns the longest accepted inbound line.
func (cfg *Config) MaxLineLength() int { return cfg.maxLineLength }

// EchoWrites reports whether written frames are echoed as status packets.
func (cfg *Config) EchoWrites() bool { return cfg.echoWrites }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// Option is a functional option for Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithSendTimeout bounds how long Send waits for room in the send queue.
func WithSendTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("serial: send timeout must be positive")
		}
		cfg.sendTimeout = d

		return nil
	})
}

// WithWriteTimeout sets the write deadline applied to each frame.
// Zero disables the deadline.
func WithWriteTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return errors.New("serial: write timeout must not be negative")
		}
		cfg.writeTimeout = d

		return nil
	})
}

// WithCloseTimeout bounds how long Close waits for the loops to terminate.
func WithCloseTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("serial: close timeout must be positive")
		}
		cfg.closeTimeout = d

		return nil
	})
}

// WithSenderQueueSize sets the capacity of the outbound queue.
func WithSenderQueueSize(size int) Option {
	return optFunc(func(cfg *Config) error {
		if size < 1 || size > MaxSenderQueue {
			return fmt.Errorf("serial: sender queue size %d out of range [1, %d]", size, MaxSenderQueue)
		}
		cfg.senderQueueSize = size

		return nil
	})
}

// WithMaxLineLength sets the longest inbound line; longer lines are dropped.
func WithMaxLineLength(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < MinMaxLineLength || n > MaxMaxLineLength {
			return fmt.Errorf("serial: max line length %d out of range [%d, %d]", n, MinMaxLineLength, MaxMaxLineLength)
		}
		cfg.maxLineLength = n

		return nil
	})
}

// WithEchoWrites enables or disables the "output" status echo of written frames.
// Enabled by default.
func WithEchoWrites(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.echoWrites = enabled

		return nil
	})
}

// WithLogger sets the transport logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("serial: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
