package device

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStreamRunsInOrder(t *testing.T) {
	s := NewManager(1, 0).ForkStreams()[0]
	defer s.Close()

	var order []int
	for i := 0; i < 100; i++ {
		i := i
		s.Launch(func() error {
			order = append(order, i)
			return nil
		})
	}
	require.NoError(t, s.Synchronize())
	require.Len(t, order, 100)
	for i, v := range order {
		require.Equal(t, i, v)
	}
}

func TestStreamStickyError(t *testing.T) {
	s := NewManager(1, 0).ForkStreams()[0]
	defer s.Close()

	boom := errors.New("boom")
	var ran int32
	s.Launch(func() error { return boom })
	s.Launch(func() error {
		atomic.AddInt32(&ran, 1)
		return nil
	})
	ev := NewEvent()
	ev.Record(s)

	require.ErrorIs(t, ev.Wait(), boom)
	require.ErrorIs(t, s.Synchronize(), boom)
	require.Zero(t, atomic.LoadInt32(&ran))

	// cleared by Synchronize
	s.Launch(func() error {
		atomic.AddInt32(&ran, 1)
		return nil
	})
	require.NoError(t, s.Synchronize())
	require.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestStreamRecoversPanic(t *testing.T) {
	s := NewManager(1, 0).ForkStreams()[0]
	defer s.Close()

	s.Launch(func() error { panic("bad kernel") })
	err := s.Synchronize()
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad kernel")
}

func TestEventOrdersStreams(t *testing.T) {
	m := NewManager(2, 0)
	streams := m.ForkStreams()
	defer CloseStreams(streams)
	events := m.CreateEvents()

	release := make(chan struct{})
	var first int32
	streams[0].Launch(func() error {
		<-release
		atomic.StoreInt32(&first, 1)
		return nil
	})
	events[0].Record(streams[0])
	require.False(t, events[0].Query())

	var seen int32 = -1
	streams[1].WaitEvent(events[0])
	streams[1].Launch(func() error {
		atomic.StoreInt32(&seen, atomic.LoadInt32(&first))
		return nil
	})

	time.Sleep(10 * time.Millisecond)
	require.Equal(t, int32(-1), atomic.LoadInt32(&seen))
	close(release)

	require.NoError(t, AwaitStreams(streams))
	require.True(t, events[0].Query())
	require.Equal(t, int32(1), atomic.LoadInt32(&seen))
}

func TestUnrecordedEvent(t *testing.T) {
	ev := NewEvent()
	require.True(t, ev.Query())
	require.NoError(t, ev.Wait())
}

func TestClosedStream(t *testing.T) {
	s := NewManager(1, 0).ForkStreams()[0]
	s.Close()

	ev := NewEvent()
	ev.Record(s)
	require.ErrorIs(t, ev.Wait(), ErrStreamClosed)

	s.Launch(func() error { return nil })
	require.ErrorIs(t, s.Synchronize(), ErrStreamClosed)
}

func TestDeviceMemory(t *testing.T) {
	m := NewManager(2, 100)
	require.Equal(t, 2, m.DeviceCount())
	d := m.Devices()[1]
	require.Equal(t, 1, d.ID())

	require.NoError(t, d.Alloc(60))
	require.ErrorIs(t, d.Alloc(50), ErrOutOfMemory)
	require.NoError(t, d.Alloc(40))
	require.Equal(t, int64(100), d.MemUsed())

	d.Free(70)
	require.Equal(t, int64(30), d.MemUsed())
	require.Equal(t, int64(100), d.PeakMem())

	require.Zero(t, m.Devices()[0].MemUsed())
}

func TestDefaultDeviceCount(t *testing.T) {
	require.Positive(t, NewManager(0, 0).DeviceCount())
}
