package serialscope

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushRamp(t *testing.T, cs *ChannelSet, first, n int) {
	t.Helper()
	for i := first; i < first+n; i++ {
		values := make([]float64, cs.Nchan())
		for c := range values {
			values[c] = float64(100*(c+1) + i)
		}
		require.NoError(t, cs.PushSample(Sample{Timestamp: float64(i), Values: values, HasTimestamp: true}))
	}
}

func TestChannelSetPushAndSnapshot(t *testing.T) {
	cs, err := NewChannelSet(3, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, cs.Nchan())
	assert.False(t, cs.IsFull())

	pushRamp(t, cs, 0, 6)
	assert.True(t, cs.IsFull())
	snap := cs.SnapshotAll()
	assert.Equal(t, []float64{2, 3, 4, 5}, snap.Timestamps)
	assert.Equal(t, []float64{102, 103, 104, 105}, snap.Channels[0])
	assert.Equal(t, []float64{202, 203, 204, 205}, snap.Channels[1])
	assert.Equal(t, []float64{302, 303, 304, 305}, snap.Channels[2])

	v, ok := cs.ValueAt(1, 2)
	assert.True(t, ok)
	assert.Equal(t, 204.0, v)
	_, ok = cs.ValueAt(3, 0)
	assert.False(t, ok, "channel 3 does not exist")
}

func TestChannelSetRejectsWrongWidth(t *testing.T) {
	cs, _ := NewChannelSet(2, 8)
	err := cs.PushSample(Sample{Values: []float64{1}})
	assert.ErrorIs(t, err, ErrFieldCount)
	assert.Equal(t, 0, cs.Len(), "a rejected sample must not be partially pushed")
}

func TestChannelSetResize(t *testing.T) {
	cs, _ := NewChannelSet(2, 8)
	pushRamp(t, cs, 0, 8)
	require.NoError(t, cs.Resize(3))
	snap := cs.SnapshotAll()
	assert.Equal(t, []float64{5, 6, 7}, snap.Timestamps)
	assert.Equal(t, []float64{105, 106, 107}, snap.Channels[0])
	assert.Equal(t, []float64{205, 206, 207}, snap.Channels[1])
	assert.True(t, cs.IsFull())

	require.NoError(t, cs.Resize(32))
	assert.Equal(t, 3, cs.Len())
	assert.Equal(t, 32, cs.Cap())

	assert.ErrorIs(t, cs.Resize(0), ErrInvalidCapacity)
	assert.Equal(t, 32, cs.Cap())
	assert.Equal(t, 3, cs.Len())
}

func TestChannelSetClear(t *testing.T) {
	cs, _ := NewChannelSet(1, 5)
	pushRamp(t, cs, 0, 3)
	cs.Clear()
	assert.Equal(t, 0, cs.Len())
	assert.Equal(t, 5, cs.Cap())
	snap := cs.SnapshotAll()
	assert.Equal(t, 0, snap.Len())
}

func TestNewChannelSetErrors(t *testing.T) {
	if _, err := NewChannelSet(0, 10); err == nil {
		t.Error("NewChannelSet(0, 10) should fail")
	}
	if _, err := NewChannelSet(4, 10); err == nil {
		t.Error("NewChannelSet(4, 10) should fail")
	}
	if _, err := NewChannelSet(1, 0); err == nil {
		t.Error("NewChannelSet(1, 0) should fail")
	}
}

// TestChannelSetSnapshotDuringPush checks that concurrent observers never see
// the timestamp buffer at a different length from a value buffer.
func TestChannelSetSnapshotDuringPush(t *testing.T) {
	cs, _ := NewChannelSet(3, 64)
	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5000; i++ {
			cs.PushSample(Sample{Timestamp: float64(i), Values: []float64{1, 2, 3}, HasTimestamp: true})
			if i%700 == 0 {
				cs.Resize(16 + i%48)
			}
		}
		close(done)
	}()
	for {
		snap := cs.SnapshotAll()
		for c, ch := range snap.Channels {
			if len(ch) != len(snap.Timestamps) {
				t.Fatalf("channel %d has %d values but %d timestamps", c, len(ch), len(snap.Timestamps))
			}
		}
		select {
		case <-done:
			wg.Wait()
			return
		default:
		}
	}
}
