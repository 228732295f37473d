// Package units converts byte counts into the human-scaled values shown in
// snapshots ("7.5G", "512.0M").
package units

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Scale selects the binary divisor and suffix of a conversion.
type Scale string

const (
	Mebi Scale = "M"
	Gibi Scale = "G"
	Tebi Scale = "T"
)

// ErrInvalidScale is returned for a Scale outside Mebi, Gibi and Tebi.
var ErrInvalidScale = errors.New("units: invalid scale")

func (s Scale) divisor() (float64, error) {
	switch s {
	case Mebi:
		return 1 << 20, nil
	case Gibi:
		return 1 << 30, nil
	case Tebi:
		return 1 << 40, nil
	default:
		return 0, fmt.Errorf("%w %q, expected one of M, G, T", ErrInvalidScale, string(s))
	}
}

// Convert divides bytes by the scale's divisor and rounds the result to
// digits decimal places, half to even.
func Convert(bytes float64, scale Scale, digits int) (float64, error) {
	div, err := scale.divisor()
	if err != nil {
		return 0, err
	}
	return Round(bytes/div, digits), nil
}

// Format is Convert with the unit suffix appended. Integral values keep a
// trailing ".0" so that 1<<30 bytes in Gibi reads "1.0G".
func Format(bytes float64, scale Scale, digits int) (string, error) {
	v, err := Convert(bytes, scale, digits)
	if err != nil {
		return "", err
	}
	return formatFloat(v) + string(scale), nil
}

// MustFormat is Format for callers passing a constant scale. It panics on
// an invalid scale.
func MustFormat(bytes float64, scale Scale, digits int) string {
	s, err := Format(bytes, scale, digits)
	if err != nil {
		panic(err)
	}
	return s
}

// UsedTotal renders "used / total" in gibibytes with one decimal place.
func UsedTotal(used, total float64) string {
	return MustFormat(used, Gibi, 1) + " / " + MustFormat(total, Gibi, 1)
}

// Percent returns part/whole*100 rounded to one decimal place, or 0 when
// whole is zero.
func Percent(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return Round(part/whole*100, 1)
}

// Round rounds v to digits decimal places using round-half-to-even.
func Round(v float64, digits int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	if digits < 0 {
		digits = 0
	}
	pow := math.Pow(10, float64(digits))
	return math.RoundToEven(v*pow) / pow
}

func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
