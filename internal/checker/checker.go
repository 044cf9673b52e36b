// Package checker defines the pluggable output-comparison interface and its
// default tolerant-diff implementation.
package checker

import (
	"github.com/neohoj/iruka-worker/internal/verdict"
)

// Input carries everything a Checker needs to judge one task's output.
type Input struct {
	InfilePath     string
	ExpectedOutput string
	UserOutput     string
	// PrecedingVerdict is the verdict the sandbox oracle already produced
	// for this task (possibly PENDING). A checker must never upgrade a
	// real failure; it only has a say when the preceding verdict is
	// PENDING.
	PrecedingVerdict verdict.Verdict
}

// Output is what a Checker returns: a verdict plus optional free-form
// metadata (e.g. the first differing line number).
type Output struct {
	Verdict  verdict.Verdict
	Metadata map[string]string
}

// Checker maps an Input to an Output. Any callable satisfying this
// signature may be registered as the judge's output comparator.
type Checker func(Input) (Output, error)
