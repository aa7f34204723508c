package serial

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-clacks/frame"
	"github.com/arloliu/go-clacks/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransport_SendWritesFrame(t *testing.T) {
	r := require.New(t)

	tr, remote, rec := newPipeTransport(t)

	lines := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(remote).ReadString('\n')
		lines <- line
	}()

	r.NoError(tr.Send(packet.NewRequest("1_A", "led on")))

	select {
	case line := <-lines:
		r.Equal("[[1_A led on]]\n", line)
	case <-time.After(2 * time.Second):
		r.FailNow("frame not written")
	}

	status := rec.next(t, packet.KindStatus)
	r.Equal(packet.LevelOutput, status.Level)
	r.Equal("-> [[1_A led on]]", status.Body)
	r.Eventually(func() bool { return tr.Metrics().FrameSendCount.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestTransport_SendKeepsOrder(t *testing.T) {
	r := require.New(t)

	tr, remote, _ := newPipeTransport(t, WithEchoWrites(false))

	const count = 20
	got := make(chan []string, 1)
	go func() {
		br := bufio.NewReader(remote)
		var lines []string
		for n := 0; n < count; n++ {
			line, err := br.ReadString('\n')
			if err != nil {
				break
			}
			lines = append(lines, strings.TrimSuffix(line, "\n"))
		}
		got <- lines
	}()

	for i := 0; i < count; i++ {
		r.NoError(tr.Send(packet.NewRequest(fmt.Sprintf("%d", i), "ping")))
	}

	lines := <-got
	r.Len(lines, count)
	for i, line := range lines {
		r.Equal(fmt.Sprintf("[[%d ping]]", i), line)
	}
}

func TestTransport_ReadDispatch(t *testing.T) {
	r := require.New(t)

	tr, remote, rec := newPipeTransport(t)

	_, err := remote.Write([]byte("[[7_A ack]]\r\n"))
	r.NoError(err)

	reply := rec.next(t, packet.KindRequest)
	r.True(reply.IsReply())
	r.Equal("7_A", reply.FullID)
	r.Equal("ack", reply.Body)
	r.Equal("[[7_A ack]]", reply.Raw)

	_, err = remote.Write([]byte("booting v1.2\n"))
	r.NoError(err)

	text := rec.next(t, packet.KindDeviceText)
	r.Equal("booting v1.2", text.Body)
	r.Equal(packet.FromDevice, text.Direction)

	r.Equal(uint64(1), tr.Metrics().FrameRecvCount.Load())
	r.Equal(uint64(1), tr.Metrics().DeviceTextCount.Load())
}

func TestTransport_MalformedDropped(t *testing.T) {
	r := require.New(t)

	tr, remote, rec := newPipeTransport(t)

	_, err := remote.Write([]byte("[[9 no close\n\n[[ empty]]\n[[8 ok]]\n"))
	r.NoError(err)

	reply := rec.next(t, packet.KindRequest)
	r.Equal("8", reply.FullID)
	r.Equal(uint64(2), tr.Metrics().MalformedCount.Load())
	r.False(tr.IsClosed())
}

func TestTransport_LineTooLong(t *testing.T) {
	r := require.New(t)

	tr, remote, rec := newPipeTransport(t, WithMaxLineLength(MinMaxLineLength))

	go func() {
		_, _ = remote.Write([]byte(strings.Repeat("x", 40) + "\n[[1 x]]\n"))
	}()

	reply := rec.next(t, packet.KindRequest)
	r.Equal("1", reply.FullID)
	r.Equal("x", reply.Body)
	r.Equal(uint64(1), tr.Metrics().MalformedCount.Load())
}

func TestTransport_WriteFailureReportsStatus(t *testing.T) {
	r := require.New(t)

	rec := newRecorder()
	tr, err := NewTransport(context.Background(), newBrokenPort(), rec)
	r.NoError(err)
	r.NoError(tr.Start())
	defer tr.Close()

	r.NoError(tr.Send(packet.NewRequest("3", "led on")))

	status := rec.next(t, packet.KindStatus)
	r.Equal(packet.LevelError, status.Level)
	r.True(strings.HasPrefix(status.Body, "Error writing to port"), status.Body)
	r.Equal(uint64(1), tr.Metrics().WriteErrCount.Load())
	r.False(tr.IsClosed(), "write failure must not stop the transport")
}

func TestTransport_Disconnect(t *testing.T) {
	r := require.New(t)

	tr, remote, rec := newPipeTransport(t)

	r.NoError(remote.Close())

	status := rec.next(t, packet.KindStatus)
	r.Equal(packet.LevelError, status.Level)
	r.Equal("device disconnected", status.Body)

	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		r.FailNow("transport not closed after disconnect")
	}
	r.True(tr.IsClosed())
	r.Eventually(func() bool { return tr.State() == ClosedState }, time.Second, 5*time.Millisecond)
	r.ErrorIs(tr.Send(packet.NewRequest("1", "x")), ErrTransportClosed)
}

func TestTransport_Lifecycle(t *testing.T) {
	r := require.New(t)

	_, err := NewTransport(context.Background(), nil, newRecorder())
	r.ErrorIs(err, ErrNilPort)

	_, err = NewTransport(context.Background(), newBrokenPort(), nil)
	r.ErrorIs(err, ErrNilDispatcher)

	tr, err := NewTransport(context.Background(), newBrokenPort(), newRecorder())
	r.NoError(err)
	r.True(tr.IsClosed())
	r.ErrorIs(tr.Send(packet.NewRequest("1", "x")), ErrTransportClosed)

	r.NoError(tr.Start())
	r.False(tr.IsClosed())
	r.Equal(OpenedState, tr.State())
	r.ErrorIs(tr.Start(), ErrAlreadyStarted)

	r.NoError(tr.Close())
	r.NoError(tr.Close())
	r.True(tr.IsClosed())
	r.ErrorIs(tr.Start(), ErrTransportClosed)
	r.ErrorIs(tr.Write([]byte("[[1 x]]\n")), ErrTransportClosed)
}

func TestTransport_SendRejectsNonRequest(t *testing.T) {
	tr, _, _ := newPipeTransport(t)

	assert.ErrorIs(t, tr.Send(packet.NewStatus(packet.LevelInfo, "hello")), packet.ErrNotRoutable)
	assert.ErrorIs(t, tr.Send(packet.NewDeviceText("hello")), packet.ErrNotRoutable)
}

func TestTransport_SendQueueTimeout(t *testing.T) {
	r := require.New(t)

	// nobody reads the remote end, so the first frame blocks the write loop
	tr, _, _ := newPipeTransport(t,
		WithSenderQueueSize(1),
		WithSendTimeout(50*time.Millisecond),
		WithWriteTimeout(0),
	)

	r.NoError(tr.Send(packet.NewRequest("1", "a")))

	var err error
	for i := 2; i < 5 && err == nil; i++ {
		err = tr.Send(packet.NewRequest(fmt.Sprint(i), "a"))
	}
	r.ErrorIs(err, ErrSendTimeout)
}

func TestTransport_TrySendQueueFull(t *testing.T) {
	r := require.New(t)

	tr, _, _ := newPipeTransport(t,
		WithSenderQueueSize(1),
		WithSendTimeout(time.Second),
		WithWriteTimeout(0),
	)

	var err error
	start := time.Now()
	for i := 1; i < 5 && err == nil; i++ {
		err = tr.TrySend(packet.NewRequest(fmt.Sprint(i), "a"))
	}
	r.ErrorIs(err, ErrQueueFull)
	r.Less(time.Since(start), 200*time.Millisecond, "TrySend must not wait for queue room")

	r.ErrorIs(tr.TrySend(packet.NewStatus(packet.LevelInfo, "x")), packet.ErrNotRoutable)

	_ = tr.Close()
	r.ErrorIs(tr.TrySend(packet.NewRequest("9", "a")), ErrTransportClosed)
}

func TestTransport_ZeroLengthWrite(t *testing.T) {
	r := require.New(t)

	tr, err := NewTransport(context.Background(), newZeroPort(), newRecorder(), WithCloseTimeout(time.Second))
	r.NoError(err)
	r.NoError(tr.Start())

	done := make(chan error, 1)
	go func() { done <- tr.Write([]byte("[[1 a]]\n")) }()

	select {
	case err := <-done:
		r.ErrorIs(err, io.ErrShortWrite)
	case <-time.After(time.Second):
		r.FailNow("Write kept looping on a port that accepts no bytes")
	}
	r.Equal(uint64(1), tr.Metrics().WriteErrCount.Load())

	r.NoError(tr.Close())
}

func TestTransport_ConcurrentWritesDoNotInterleave(t *testing.T) {
	r := require.New(t)

	tr, remote, _ := newPipeTransport(t)

	const writers = 10
	got := make(chan []string, 1)
	go func() {
		br := bufio.NewReader(remote)
		var lines []string
		for n := 0; n < writers; n++ {
			line, err := br.ReadString('\n')
			if err != nil {
				break
			}
			lines = append(lines, line)
		}
		got <- lines
	}()

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := frame.Encode(fmt.Sprintf("%d_W", i), strings.Repeat("z", 64))
			if err == nil {
				err = tr.Write(b)
			}
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	lines := <-got
	r.Len(lines, writers)
	for _, line := range lines {
		f, err := frame.Decode([]byte(line))
		r.NoError(err)
		r.Equal(strings.Repeat("z", 64), f.Body)
	}
}
