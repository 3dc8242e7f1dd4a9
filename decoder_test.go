package serialscope

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeShapes(t *testing.T) {
	var tests = []struct {
		nchan  int
		line   string
		expect Sample
	}{
		{1, "1.5", Sample{Values: []float64{1.5}}},
		{1, "  1.5\r\n", Sample{Values: []float64{1.5}}},
		{2, "10 1.1 2.2", Sample{Timestamp: 10, Values: []float64{1.1, 2.2}, HasTimestamp: true}},
		{1, "10 1.1 2.2 3.3", Sample{Timestamp: 10, Values: []float64{1.1}, HasTimestamp: true}},
		{3, "12.5\t100 200 300 999 junk", Sample{Timestamp: 12.5, Values: []float64{100, 200, 300}, HasTimestamp: true}},
		{1, "-3e2 4095", Sample{Timestamp: -300, Values: []float64{4095}, HasTimestamp: true}},
	}
	for _, test := range tests {
		d, err := NewLineDecoder(test.nchan)
		require.NoError(t, err)
		s, err := d.DecodeString(test.line)
		if err != nil {
			t.Errorf("Decode(%q) with nchan=%d returned error %v", test.line, test.nchan, err)
			continue
		}
		assert.Equal(t, test.expect, s, "Decode(%q) with nchan=%d", test.line, test.nchan)
	}
}

func TestDecodeErrors(t *testing.T) {
	var tests = []struct {
		nchan int
		line  string
		kind  error
	}{
		{1, "", ErrEmpty},
		{1, "   \t\r\n", ErrEmpty},
		{1, "abc", ErrMalformed},
		{2, "10 1.1", ErrFieldCount},
		{3, "10 1.1 2.2", ErrFieldCount},
		{2, "1.5", ErrFieldCount},
		{2, "10 1.1 x", ErrMalformed},
		{1, "t0 5", ErrMalformed},
		{1, "1,5", ErrMalformed},
		{1, "nan", ErrMalformed},
		{1, "inf", ErrMalformed},
		{1, "-Inf", ErrMalformed},
		{1, "0x1p4", ErrMalformed},
		{1, "1e999", ErrMalformed},
		{2, "10 1 NaN", ErrMalformed},
		{1, "+Inf 3", ErrMalformed},
	}
	for _, test := range tests {
		d, _ := NewLineDecoder(test.nchan)
		_, err := d.DecodeString(test.line)
		if !errors.Is(err, test.kind) {
			t.Errorf("Decode(%q) with nchan=%d error=%v, want %v", test.line, test.nchan, err, test.kind)
		}
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Errorf("Decode(%q) error is %T, want *DecodeError", test.line, err)
		}
	}
}

func TestDecodeInvalidBytes(t *testing.T) {
	d, _ := NewLineDecoder(1)
	raw := []byte{'1', '0', ' ', 0xff, 0xfe, '2'}
	_, err := d.Decode(raw)
	assert.ErrorIs(t, err, ErrEncoding)

	// Trailing junk with bad bytes still poisons the whole line.
	d3, _ := NewLineDecoder(3)
	_, err = d3.Decode(append([]byte("1 2 3 4 "), 0xc3, 0x28))
	assert.ErrorIs(t, err, ErrEncoding)
}

func TestDecodeIsPure(t *testing.T) {
	d, _ := NewLineDecoder(1)
	a, errA := d.DecodeString("7")
	b, errB := d.DecodeString("7")
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, a, b, "decoding the same line twice must give the same sample")
	assert.False(t, a.HasTimestamp)
}

func TestNewLineDecoderChannels(t *testing.T) {
	for _, n := range []int{0, 4, -1} {
		if _, err := NewLineDecoder(n); err == nil {
			t.Errorf("NewLineDecoder(%d) succeeded, want error", n)
		}
	}
	for n := 1; n <= MaxChannels; n++ {
		d, err := NewLineDecoder(n)
		require.NoError(t, err)
		assert.Equal(t, n, d.Nchan())
	}
}

func TestSampleWithTimestamp(t *testing.T) {
	s := Sample{Values: []float64{1, 2}}
	stamped := s.withTimestamp(42)
	assert.True(t, stamped.HasTimestamp)
	assert.Equal(t, 42.0, stamped.Timestamp)
	stamped.Values[0] = -1
	assert.Equal(t, 1.0, s.Values[0], "stamping must not alias the original values")
}

func TestDecodeErrorKind(t *testing.T) {
	d, _ := NewLineDecoder(2)
	_, err := d.DecodeString("1 2")
	assert.Equal(t, "field_count", DecodeErrorKind(err))
	_, err = d.DecodeString("")
	assert.Equal(t, "empty", DecodeErrorKind(err))
	assert.Equal(t, "other", DecodeErrorKind(errors.New("boom")))
}
