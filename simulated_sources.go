package serialscope

import (
	"io"
	"math"
	"strconv"
	"sync"
	"time"
)

// simulatedSource paces synthetic samples against the wall clock: each call
// to Available yields as many lines as the sample rate says have elapsed.
type simulatedSource struct {
	nchan      int
	sampleRate float64 // samples per second
	maxLines   int
	onecycle   []float64
	cycleLen   int

	now      func() time.Time
	lastread time.Time
	owed     float64 // fractional samples carried to the next call
	index    int     // samples produced so far
	closed   bool
	lock     sync.Mutex
}

func (ss *simulatedSource) start(nchan int, rate float64, maxLines int, cycle []float64) {
	ss.nchan = max(1, min(nchan, MaxChannels))
	ss.sampleRate = rate
	ss.maxLines = maxLines
	ss.onecycle = cycle
	ss.cycleLen = len(cycle)
	if ss.now == nil {
		ss.now = time.Now
	}
	ss.lastread = ss.now()
}

// Available returns the lines due since the last call, at most maxLines of
// them. Lines beyond the limit are dropped, as a real port would overrun.
func (ss *simulatedSource) Available() ([][]byte, error) {
	ss.lock.Lock()
	defer ss.lock.Unlock()
	if ss.closed {
		return nil, io.EOF
	}
	now := ss.now()
	ss.owed += now.Sub(ss.lastread).Seconds() * ss.sampleRate
	ss.lastread = now
	n := int(ss.owed)
	ss.owed -= float64(n)
	if ss.maxLines > 0 && n > ss.maxLines {
		ss.index += n - ss.maxLines
		n = ss.maxLines
	}
	lines := make([][]byte, n)
	for i := range lines {
		lines[i] = ss.line(ss.index)
		ss.index++
	}
	return lines, nil
}

// line formats sample idx as "<timestamp> <v1> ... <vnchan>", with the
// channels spread evenly in phase across one cycle.
func (ss *simulatedSource) line(idx int) []byte {
	buf := strconv.AppendFloat(nil, float64(idx)/ss.sampleRate, 'f', 6, 64)
	for c := 0; c < ss.nchan; c++ {
		phase := (idx + c*ss.cycleLen/ss.nchan) % ss.cycleLen
		buf = append(buf, ' ')
		buf = strconv.AppendFloat(buf, ss.onecycle[phase], 'f', -1, 64)
	}
	return buf
}

func (ss *simulatedSource) Close() error {
	ss.lock.Lock()
	defer ss.lock.Unlock()
	ss.closed = true
	return nil
}

// TriangleSource is a LineSource that synthesizes triangle waves.
type TriangleSource struct {
	minval float64
	maxval float64
	simulatedSource
}

// NewTriangleSource creates a TriangleSource of nchan channels running
// between min and max at rate samples per second, one step per sample.
func NewTriangleSource(nchan int, rate, min, max float64, maxLines int) *TriangleSource {
	ts := &TriangleSource{minval: min, maxval: max}
	nrise := int(max - min)
	if nrise < 1 {
		nrise = 1
	}
	cycle := make([]float64, 2*nrise)
	for i := 0; i < nrise; i++ {
		cycle[i] = min + float64(i)
		cycle[i+nrise] = max - float64(i)
	}
	ts.start(nchan, rate, maxLines, cycle)
	return ts
}

// PulseSource simulates a detector: a flat pedestal with one pulse per
// period, each a fast rise and slow exponential decay.
type PulseSource struct {
	pedestal  float64
	amplitude float64
	simulatedSource
}

// NewPulseSource creates a PulseSource with a pulse every period samples.
func NewPulseSource(nchan int, rate, pedestal, amplitude float64, period, maxLines int) *PulseSource {
	ps := &PulseSource{pedestal: pedestal, amplitude: amplitude}
	if period < 8 {
		period = 8
	}
	cycle := make([]float64, period)
	firstIdx := period / 4
	ampl := []float64{amplitude, -amplitude}
	exprate := []float64{.98, .7}
	for i := range cycle {
		value := pedestal
		if i >= firstIdx {
			value = pedestal + ampl[0] + ampl[1]
			ampl[0] *= exprate[0]
			ampl[1] *= exprate[1]
		}
		cycle[i] = math.Round(value)
	}
	ps.start(nchan, rate, maxLines, cycle)
	return ps
}
