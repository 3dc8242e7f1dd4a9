package serialscope

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fillConstant fills a 1-channel set of the given capacity, putting midval
// at the midpoint and baseline everywhere else.
func fillConstant(t *testing.T, capacity int, baseline, midval float64) *ChannelSet {
	t.Helper()
	cs, err := NewChannelSet(1, capacity)
	require.NoError(t, err)
	for i := 0; i < capacity; i++ {
		v := baseline
		if i == capacity/2 {
			v = midval
		}
		require.NoError(t, cs.PushSample(Sample{Timestamp: float64(i), Values: []float64{v}, HasTimestamp: true}))
	}
	return cs
}

func TestTriggerNotFullNeverFires(t *testing.T) {
	cs, _ := NewChannelSet(1, 16)
	cfg := TriggerConfig{Threshold: 2048, Edge: Rising}
	det := TriggerDetector{}
	for i := 0; i < 15; i++ {
		cs.PushSample(Sample{Timestamp: float64(i), Values: []float64{4095}, HasTimestamp: true})
		if ev := det.Evaluate(cs, cfg); ev != nil {
			t.Fatalf("trigger fired with %d of 16 samples: %+v", i+1, ev.TriggerMark)
		}
	}
	cs.PushSample(Sample{Timestamp: 15, Values: []float64{4095}, HasTimestamp: true})
	assert.NotNil(t, det.Evaluate(cs, cfg), "a full buffer of 4095 should fire a rising 2048 trigger")
}

func TestTriggerEdgeThresholds(t *testing.T) {
	var tests = []struct {
		edge   Edge
		value  float64
		expect bool
	}{
		{Rising, 2049, true},
		{Rising, 2047, false},
		{Rising, 2048, false},
		{Falling, 2047, true},
		{Falling, 2049, false},
		{Falling, 2048, false},
	}
	det := TriggerDetector{}
	for _, test := range tests {
		// Baseline on the non-firing side, so only the midpoint can fire.
		baseline := 0.0
		if test.edge == Falling {
			baseline = 4095
		}
		cs := fillConstant(t, 64, baseline, test.value)
		cfg := TriggerConfig{Threshold: 2048, Edge: test.edge}
		ev := det.Evaluate(cs, cfg)
		if (ev != nil) != test.expect {
			t.Errorf("%v edge with midpoint value %v: fired=%t, want %t", test.edge, test.value, ev != nil, test.expect)
		}
		if ev != nil {
			assert.Equal(t, 32, ev.Index)
			assert.Equal(t, test.value, ev.Value)
			assert.Equal(t, 32.0, ev.Timestamp)
			assert.Equal(t, 64, ev.Snapshot.Len())
		}
	}
}

func TestTriggerBandPolicy(t *testing.T) {
	det := TriggerDetector{}
	cfg := TriggerConfig{Threshold: 2048, Policy: PolicyBand, Tolerance: 100, Position: PositionFirst}
	for _, test := range []struct {
		first  float64
		expect bool
	}{
		{1948, true}, {2148, true}, {2048, true}, {1947.9, false}, {2148.1, false}, {0, false},
	} {
		cs, _ := NewChannelSet(1, 8)
		cs.PushSample(Sample{Values: []float64{test.first}})
		for i := 1; i < 8; i++ {
			cs.PushSample(Sample{Values: []float64{0}})
		}
		if fired := det.Evaluate(cs, cfg) != nil; fired != test.expect {
			t.Errorf("band trigger with first value %v fired=%t, want %t", test.first, fired, test.expect)
		}
	}
}

func TestTriggerChannelAndIndex(t *testing.T) {
	cs, _ := NewChannelSet(3, 10)
	for i := 0; i < 10; i++ {
		v := []float64{0, 0, 0}
		if i == 7 {
			v[2] = 3000
		}
		cs.PushSample(Sample{Timestamp: float64(100 + i), Values: v, HasTimestamp: true})
	}
	det := TriggerDetector{}
	cfg := TriggerConfig{Threshold: 2048, Position: PositionIndex, Index: 7, Channel: 2}
	ev := det.Evaluate(cs, cfg)
	require.NotNil(t, ev)
	assert.Equal(t, 2, ev.Channel)
	assert.Equal(t, 107.0, ev.Timestamp)

	cfg.Channel = 1
	assert.Nil(t, det.Evaluate(cs, cfg), "channel 1 is flat and must not fire")

	cfg.Channel = 2
	cfg.Index = 10
	assert.Nil(t, det.Evaluate(cs, cfg), "an index beyond capacity can never fire")
}

func TestTriggerIdempotent(t *testing.T) {
	cs := fillConstant(t, 32, 0, 3000)
	det := TriggerDetector{}
	cfg := DefaultTriggerConfig()
	a := det.Evaluate(cs, cfg)
	b := det.Evaluate(cs, cfg)
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Equal(t, a, b, "evaluating an unchanged buffer twice must give identical events")
	assert.Equal(t, 32, cs.Len(), "Evaluate must not modify the buffer")
}

func TestTriggerConfigValidate(t *testing.T) {
	good := DefaultTriggerConfig()
	assert.NoError(t, good.Validate(1))

	bad := []TriggerConfig{
		{Channel: 1},
		{Channel: -1},
		{Edge: Edge(7)},
		{Policy: TriggerPolicy(9)},
		{Policy: PolicyBand, Tolerance: -1},
		{Position: PositionIndex, Index: -3},
		{Position: TriggerPosition(4)},
	}
	for _, cfg := range bad {
		if err := cfg.Validate(1); !errors.Is(err, ErrInvalidTrigger) {
			t.Errorf("Validate(%+v) = %v, want ErrInvalidTrigger", cfg, err)
		}
	}
}

func TestTriggerEvalIndex(t *testing.T) {
	assert.Equal(t, 512, TriggerConfig{Position: PositionMidpoint}.EvalIndex(1024))
	assert.Equal(t, 16, TriggerConfig{Position: PositionMidpoint}.EvalIndex(33))
	assert.Equal(t, 0, TriggerConfig{Position: PositionFirst}.EvalIndex(1024))
	assert.Equal(t, 5, TriggerConfig{Position: PositionIndex, Index: 5}.EvalIndex(1024))
}

func TestTriggerNamesRoundTrip(t *testing.T) {
	cfg := TriggerConfig{Threshold: 100, Edge: Falling, Policy: PolicyBand, Tolerance: 5, Position: PositionFirst}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Edge":"falling"`)
	assert.Contains(t, string(data), `"Policy":"band"`)
	assert.Contains(t, string(data), `"Position":"first"`)

	var back TriggerConfig
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, cfg, back)

	for _, s := range []string{"Posedge", "rising", "+"} {
		e, err := ParseEdge(s)
		assert.NoError(t, err)
		assert.Equal(t, Rising, e)
	}
	e, err := ParseEdge("Negedge")
	assert.NoError(t, err)
	assert.Equal(t, Falling, e)
	_, err = ParseEdge("sideways")
	assert.ErrorIs(t, err, ErrInvalidTrigger)
	_, err = ParseTriggerPolicy("sometimes")
	assert.ErrorIs(t, err, ErrInvalidTrigger)
	_, err = ParseTriggerPosition("last")
	assert.ErrorIs(t, err, ErrInvalidTrigger)
}
