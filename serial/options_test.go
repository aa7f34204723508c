package serial

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/arloliu/go-clacks/frame"
	"github.com/arloliu/go-clacks/logger"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	r := require.New(t)

	cfg, err := NewConfig()
	r.NoError(err)
	r.Equal(DefaultSendTimeout, cfg.SendTimeout())
	r.Equal(DefaultWriteTimeout, cfg.WriteTimeout())
	r.Equal(DefaultCloseTimeout, cfg.CloseTimeout())
	r.Equal(DefaultSenderQueueSize, cfg.SenderQueueSize())
	r.Equal(frame.DefaultMaxLineLength, cfg.MaxLineLength())
	r.True(cfg.EchoWrites())
	r.NotNil(cfg.GetLogger())
}

func TestNewConfig_Options(t *testing.T) {
	r := require.New(t)

	l := logger.NewSlog(logger.ErrorLevel, false)
	cfg, err := NewConfig(
		WithSendTimeout(time.Second),
		WithWriteTimeout(0),
		WithCloseTimeout(time.Second),
		WithSenderQueueSize(4),
		WithMaxLineLength(256),
		WithEchoWrites(false),
		WithLogger(l),
	)
	r.NoError(err)
	r.Equal(time.Second, cfg.SendTimeout())
	r.Zero(cfg.WriteTimeout())
	r.Equal(4, cfg.SenderQueueSize())
	r.Equal(256, cfg.MaxLineLength())
	r.False(cfg.EchoWrites())
	r.Same(l, cfg.GetLogger())
}

func TestNewConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"zero send timeout", WithSendTimeout(0)},
		{"negative write timeout", WithWriteTimeout(-time.Second)},
		{"zero close timeout", WithCloseTimeout(0)},
		{"empty queue", WithSenderQueueSize(0)},
		{"huge queue", WithSenderQueueSize(MaxSenderQueue + 1)},
		{"short lines", WithMaxLineLength(MinMaxLineLength - 1)},
		{"long lines", WithMaxLineLength(MaxMaxLineLength + 1)},
		{"nil logger", WithLogger(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfig(tt.opt)
			require.Error(t, err)
		})
	}
}

func TestDialTCP(t *testing.T) {
	r := require.New(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	r.NoError(err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	port, err := DialTCP(context.Background(), ln.Addr().String(), time.Second)
	r.NoError(err)
	defer port.Close()

	peer := <-accepted
	defer peer.Close()

	_, err = port.Write([]byte("[[1 ping]]\n"))
	r.NoError(err)

	buf := make([]byte, 64)
	n, err := peer.Read(buf)
	r.NoError(err)
	r.Equal("[[1 ping]]\n", string(buf[:n]))

	_, err = DialTCP(context.Background(), "", time.Second)
	r.Error(err)
}

func TestOpenSerial_Errors(t *testing.T) {
	_, err := OpenSerial("", 9600)
	require.Error(t, err)

	_, err = OpenSerial("/dev/clacks-does-not-exist", 9600)
	require.Error(t, err)
}
