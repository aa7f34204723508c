package devicesim

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/arloliu/go-clacks/frame"
	"github.com/stretchr/testify/require"
)

func TestDevice_Serve(t *testing.T) {
	r := require.New(t)

	local, remote := net.Pipe()
	defer local.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- New(Ack, WithBanner("clacks sim v1")).Serve(ctx, remote) }()

	br := bufio.NewReader(local)

	banner, err := br.ReadString('\n')
	r.NoError(err)
	r.Equal("clacks sim v1\n", banner)

	_, err = local.Write([]byte("noise\n[[7_A led on]]\n"))
	r.NoError(err)

	reply, err := br.ReadString('\n')
	r.NoError(err)
	r.Equal("[[7_A ack]]\n", reply)

	cancel()
	select {
	case err := <-errCh:
		r.NoError(err)
	case <-time.After(time.Second):
		r.FailNow("Serve did not return")
	}
}

func TestDevice_ResponderAndDelay(t *testing.T) {
	r := require.New(t)

	local, remote := net.Pipe()
	defer local.Close()

	upper := func(f frame.Frame) (string, bool) {
		if f.Body == "quiet" {
			return "", false
		}
		return strings.ToUpper(f.Body), true
	}

	go func() { _ = New(upper, WithDelay(20*time.Millisecond)).Serve(context.Background(), remote) }()

	br := bufio.NewReader(local)

	start := time.Now()
	_, err := local.Write([]byte("[[1 quiet]]\n[[2 hello]]\n"))
	r.NoError(err)

	reply, err := br.ReadString('\n')
	r.NoError(err)
	r.Equal("[[2 HELLO]]\n", reply)
	r.GreaterOrEqual(time.Since(start), 20*time.Millisecond)
}

func TestDevice_ServeListener(t *testing.T) {
	r := require.New(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	r.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(Echo).ServeListener(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	r.NoError(err)
	defer conn.Close()

	_, err = conn.Write([]byte("[[9 ping]]\n"))
	r.NoError(err)

	reply, err := bufio.NewReader(conn).ReadString('\n')
	r.NoError(err)
	r.Equal("[[9 ping]]\n", reply)

	cancel()
	select {
	case err := <-done:
		r.NoError(err)
	case <-time.After(2 * time.Second):
		r.FailNow("listener did not stop")
	}
}
