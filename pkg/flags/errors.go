package flags

import (
	"errors"
	"fmt"
)

// ErrInvalidWindow is returned by ResampleFraction for a non-positive window.
var ErrInvalidWindow = errors.New("flags: window duration must be positive")

// EmptySeriesError reports an aggregation over a series (or window) without
// a single non-missing sample.
type EmptySeriesError struct {
	Series string
}

func (e *EmptySeriesError) Error() string {
	if e.Series == "" {
		return "flags: no non-missing samples to aggregate"
	}
	return fmt.Sprintf("flags: no non-missing samples to aggregate in %s", e.Series)
}

// UnknownFlagNameError reports a flag name absent from the flag table.
type UnknownFlagNameError struct {
	Name  string
	Known []string
}

func (e *UnknownFlagNameError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("flags: unknown flag %q (no flag table)", e.Name)
	}
	return fmt.Sprintf("flags: unknown flag %q, known flags are %v", e.Name, e.Known)
}

// MalformedFlagTableError reports duplicate codes or names, or misaligned
// flag_values / flag_meanings.
type MalformedFlagTableError struct {
	Reason string
}

func (e *MalformedFlagTableError) Error() string {
	return "flags: malformed flag table: " + e.Reason
}

// CodeError reports a sample value that is not an integral flag code.
type CodeError struct {
	Series string
	Value  float64
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("flags: %s holds non-integral flag code %g", e.Series, e.Value)
}
