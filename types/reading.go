package types

import (
	"math"
	"strconv"
)

// ReadingKind tags a Reading. Out-of-range values are reported as kinds
// rather than IEEE infinities; the wire form still uses "inf"/"-inf".
type ReadingKind uint8

const (
	InRange ReadingKind = iota
	AboveRange
	BelowRange
	Fault // the source could not be read
)

func (k ReadingKind) String() string {
	switch k {
	case InRange:
		return "in_range"
	case AboveRange:
		return "above_range"
	case BelowRange:
		return "below_range"
	default:
		return "fault"
	}
}

// Reading is one converted sample for one port.
type Reading struct {
	Kind  ReadingKind `json:"kind"`
	Value float32     `json:"value,omitempty"` // meaningful for InRange only
}

func Value(v float32) Reading { return Reading{Kind: InRange, Value: v} }
func Above() Reading          { return Reading{Kind: AboveRange} }
func Below() Reading          { return Reading{Kind: BelowRange} }
func Faulted() Reading        { return Reading{Kind: Fault} }

// Float returns the IEEE form expected downstream: +Inf, -Inf or NaN for
// the error kinds.
func (r Reading) Float() float64 {
	switch r.Kind {
	case InRange:
		return float64(r.Value)
	case AboveRange:
		return math.Inf(1)
	case BelowRange:
		return math.Inf(-1)
	default:
		return math.NaN()
	}
}

// String renders the value the way the backlog file and the query encoder
// carry it: six decimals, or inf / -inf / nan.
func (r Reading) String() string {
	switch r.Kind {
	case InRange:
		return strconv.FormatFloat(float64(r.Value), 'f', 6, 32)
	case AboveRange:
		return "inf"
	case BelowRange:
		return "-inf"
	default:
		return "nan"
	}
}

// ParseReading is the inverse of String. It also accepts any spelling
// strconv understands ("+Inf", "Infinity", "NaN").
func ParseReading(s string) (Reading, error) {
	f, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return Reading{}, err
	}
	switch {
	case math.IsNaN(f):
		return Faulted(), nil
	case math.IsInf(f, 1):
		return Above(), nil
	case math.IsInf(f, -1):
		return Below(), nil
	}
	return Value(float32(f)), nil
}
