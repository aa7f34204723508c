package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/go-clacks/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newMockLogger() *logger.MockLogger {
	return logger.NewMockLogger().AllowAll()
}

func TestManager_Start(t *testing.T) {
	mgr := NewManager(context.Background(), newMockLogger())

	var calls atomic.Int32
	require.NoError(t, mgr.Start("counter", func() bool {
		return calls.Add(1) < 5
	}))

	require.True(t, mgr.WaitTimeout(time.Second))
	assert.Equal(t, int32(5), calls.Load())
	assert.Equal(t, 0, mgr.TaskCount())
	assert.False(t, mgr.Running("counter"))
}

func TestManager_DuplicateName(t *testing.T) {
	mgr := NewManager(context.Background(), newMockLogger())
	defer func() {
		mgr.Stop()
		mgr.Wait()
	}()

	block := make(chan struct{})
	require.NoError(t, mgr.Start("loop", func() bool {
		<-block
		return false
	}))

	assert.True(t, mgr.Running("loop"))
	assert.Error(t, mgr.Start("loop", func() bool { return false }))
	close(block)
}

func TestManager_StartInterval(t *testing.T) {
	mgr := NewManager(context.Background(), newMockLogger())

	var ticks atomic.Int32
	require.NoError(t, mgr.StartInterval("tick", func() bool {
		return ticks.Add(1) < 3
	}, 5*time.Millisecond))

	require.True(t, mgr.WaitTimeout(time.Second))
	assert.Equal(t, int32(3), ticks.Load())

	assert.Error(t, mgr.StartInterval("bad", func() bool { return true }, 0))
}

func TestManager_StartConsumer(t *testing.T) {
	mgr := NewManager(context.Background(), newMockLogger())

	in := make(chan string, 3)
	got := make(chan string, 3)

	require.NoError(t, StartConsumer(mgr, "consumer", in, func(s string) {
		if s == "boom" {
			panic("observer failure")
		}
		got <- s
	}))

	in <- "a"
	in <- "boom"
	in <- "b"
	close(in)

	require.True(t, mgr.WaitTimeout(time.Second))
	assert.Equal(t, "a", <-got)
	assert.Equal(t, "b", <-got, "consumer must survive a panicking callback")

	var nilChan chan int
	assert.Error(t, StartConsumer(mgr, "nil", nilChan, func(int) {}))
}

func TestManager_StopAndRestartRejected(t *testing.T) {
	l := logger.NewMockLogger()
	l.On("Error", "task: panic recovered", mock.Anything).Once()
	l.AllowAll()

	mgr := NewManager(context.Background(), l)
	require.NoError(t, mgr.Start("panics", func() bool {
		panic("loop failure")
	}))
	require.True(t, mgr.WaitTimeout(time.Second))

	mgr.Stop()
	err := mgr.Start("late", func() bool { return false })
	assert.ErrorIs(t, err, ErrStopped)

	l.AssertCalled(t, "Error", "task: panic recovered", mock.Anything)
}
