package serialscope

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"
)

// MaxChannels is the largest number of value channels a Sample may carry.
const MaxChannels = 3

// Decode failures. All of them are recoverable: the offending line is dropped.
var (
	ErrEmpty      = errors.New("empty line")
	ErrMalformed  = errors.New("malformed number")
	ErrEncoding   = errors.New("invalid byte sequence")
	ErrFieldCount = errors.New("wrong number of fields")
)

// DecodeError describes why one raw line was rejected.
type DecodeError struct {
	Kind error  // one of ErrEmpty, ErrMalformed, ErrEncoding, ErrFieldCount
	Line string // the line as received, possibly with invalid bytes replaced
	msg  string
}

func (e *DecodeError) Error() string {
	if e.msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

// Unwrap lets errors.Is match the Kind sentinel.
func (e *DecodeError) Unwrap() error {
	return e.Kind
}

// Sample is one decoded observation: a timestamp and one value per channel.
// HasTimestamp is false for single-value lines, whose timestamp is assigned
// later from a sample counter.
type Sample struct {
	Timestamp    float64
	Values       []float64
	HasTimestamp bool
}

// withTimestamp returns a copy of s stamped with ts.
func (s Sample) withTimestamp(ts float64) Sample {
	values := make([]float64, len(s.Values))
	copy(values, s.Values)
	return Sample{Timestamp: ts, Values: values, HasTimestamp: true}
}

// LineDecoder parses raw text lines into Samples. It has no state beyond its
// channel count, so one decoder may be shared freely.
type LineDecoder struct {
	nchan int
}

// NewLineDecoder returns a decoder for lines carrying nchan values.
func NewLineDecoder(nchan int) (LineDecoder, error) {
	if nchan < 1 || nchan > MaxChannels {
		return LineDecoder{}, fmt.Errorf("channel count %d outside [1, %d]", nchan, MaxChannels)
	}
	return LineDecoder{nchan: nchan}, nil
}

// Nchan returns the number of value channels the decoder expects.
func (d LineDecoder) Nchan() int {
	return d.nchan
}

// Decode parses one raw line. Two shapes are accepted:
//
//	<value>                              (nchan must be 1; no timestamp)
//	<timestamp> <v1> ... <vnchan> [extra ...]
//
// Extra trailing fields are ignored. No partial Sample is ever returned.
func (d LineDecoder) Decode(raw []byte) (Sample, error) {
	if !utf8.Valid(raw) {
		return Sample{}, &DecodeError{Kind: ErrEncoding, Line: string(bytes.ToValidUTF8(raw, []byte("?")))}
	}
	fields := bytes.Fields(raw)
	if len(fields) == 0 {
		return Sample{}, &DecodeError{Kind: ErrEmpty}
	}

	if len(fields) == 1 {
		v, err := parseField(fields[0])
		if err != nil {
			return Sample{}, &DecodeError{Kind: ErrMalformed, Line: string(raw), msg: err.Error()}
		}
		if d.nchan != 1 {
			return Sample{}, &DecodeError{Kind: ErrFieldCount, Line: string(raw),
				msg: fmt.Sprintf("single value but %d channels configured", d.nchan)}
		}
		return Sample{Values: []float64{v}}, nil
	}

	if len(fields) < 1+d.nchan {
		return Sample{}, &DecodeError{Kind: ErrFieldCount, Line: string(raw),
			msg: fmt.Sprintf("have %d fields, want at least %d", len(fields), 1+d.nchan)}
	}
	ts, err := parseField(fields[0])
	if err != nil {
		return Sample{}, &DecodeError{Kind: ErrMalformed, Line: string(raw), msg: err.Error()}
	}
	values := make([]float64, d.nchan)
	for i := range values {
		if values[i], err = parseField(fields[i+1]); err != nil {
			return Sample{}, &DecodeError{Kind: ErrMalformed, Line: string(raw), msg: err.Error()}
		}
	}
	return Sample{Timestamp: ts, Values: values, HasTimestamp: true}, nil
}

// DecodeString is Decode for a line already held as a string.
func (d LineDecoder) DecodeString(line string) (Sample, error) {
	return d.Decode([]byte(line))
}

// DecodeErrorKind names the kind of a decode failure for counters and
// metric labels: "empty", "malformed", "encoding", "field_count" or "other".
func DecodeErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrEmpty):
		return "empty"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrEncoding):
		return "encoding"
	case errors.Is(err, ErrFieldCount):
		return "field_count"
	}
	return "other"
}

// parseField accepts finite decimal numbers only. ParseFloat would also take
// "nan", "inf" and hex floats, which would poison frames and their JSON.
func parseField(field []byte) (float64, error) {
	if bytes.ContainsAny(field, "xX_") {
		return 0, fmt.Errorf("field %q is not a decimal number", field)
	}
	v, err := strconv.ParseFloat(string(field), 64)
	if err != nil {
		return 0, fmt.Errorf("field %q is not a number", field)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("field %q is not finite", field)
	}
	return v, nil
}
