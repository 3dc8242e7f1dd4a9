package serialscope

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets a test advance a simulated source's notion of time.
type fakeClock struct{ t time.Time }

func (fc *fakeClock) now() time.Time { return fc.t }

func useClock(ss *simulatedSource, fc *fakeClock) {
	ss.now = fc.now
	ss.lastread = fc.t
}

func TestTriangleSourcePacing(t *testing.T) {
	ts := NewTriangleSource(1, 1000, 0, 10, 0)
	fc := &fakeClock{t: time.Unix(1000, 0)}
	useClock(&ts.simulatedSource, fc)

	lines, err := ts.Available()
	require.NoError(t, err)
	assert.Empty(t, lines, "no time has passed")

	fc.t = fc.t.Add(5500 * time.Microsecond)
	lines, _ = ts.Available()
	require.Len(t, lines, 5)
	assert.Equal(t, "0.000000 0", string(lines[0]))
	assert.Equal(t, "0.004000 4", string(lines[4]))

	fc.t = fc.t.Add(700 * time.Microsecond)
	lines, _ = ts.Available()
	assert.Len(t, lines, 1, "the fraction owed from the last call is carried over")

	require.NoError(t, ts.Close())
	_, err = ts.Available()
	assert.ErrorIs(t, err, io.EOF)
}

func TestTriangleSourceDecodes(t *testing.T) {
	ts := NewTriangleSource(3, 100, 0, 4095, 0)
	fc := &fakeClock{t: time.Unix(0, 0)}
	useClock(&ts.simulatedSource, fc)
	fc.t = fc.t.Add(time.Second)
	lines, _ := ts.Available()
	require.Len(t, lines, 100)

	d, _ := NewLineDecoder(3)
	for _, l := range lines {
		s, err := d.Decode(l)
		require.NoError(t, err, "line %q", l)
		for _, v := range s.Values {
			assert.True(t, v >= 0 && v <= 4095)
		}
	}
}

func TestSimulatedSourceOverrun(t *testing.T) {
	ps := NewPulseSource(1, 10000, 500, 3000, 64, 50)
	fc := &fakeClock{t: time.Unix(0, 0)}
	useClock(&ps.simulatedSource, fc)
	fc.t = fc.t.Add(100 * time.Millisecond)
	lines, _ := ps.Available()
	assert.Len(t, lines, 50)
	assert.Equal(t, 1000, ps.index, "overrun samples are skipped, not delayed")
}

func TestPulseSourceFiresTrigger(t *testing.T) {
	ps := NewPulseSource(1, 1000, 500, 3000, 256, 0)
	fc := &fakeClock{t: time.Unix(0, 0)}
	useClock(&ps.simulatedSource, fc)

	cfg := DefaultEngineConfig()
	cfg.Capacity = 128
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Arm())

	var frame *ReadyFrame
	for i := 0; i < 100 && frame == nil; i++ {
		fc.t = fc.t.Add(10 * time.Millisecond)
		lines, _ := ps.Available()
		frame = e.Tick(lines)
	}
	require.NotNil(t, frame, "a pulse above 2048 should fire the default trigger")
	assert.Equal(t, Triggered, frame.Mode)
	assert.Greater(t, frame.Trigger.Value, 2048.0)
	assert.Equal(t, Stopped, e.Mode())
}
