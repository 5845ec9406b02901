package build

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedCross is returned when no cross-compilation route exists
// from the host to a target.
var ErrUnsupportedCross = errors.New("unsupported cross compilation")

// StepError wraps the failure of one step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// MissingBinary names a binary a step promised but did not produce.
type MissingBinary struct {
	Package string
	Binary  string
}

// MissingBinariesError is returned when a build step finishes without
// producing every expected binary.
type MissingBinariesError struct {
	Step    string
	Missing []MissingBinary
}

func (e *MissingBinariesError) Error() string {
	names := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		names = append(names, m.Package+"/"+m.Binary)
	}
	return fmt.Sprintf("%s did not produce %s", e.Step, strings.Join(names, ", "))
}
