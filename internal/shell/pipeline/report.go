package pipeline

import (
	"fmt"
	"strings"
)

// Status is the outcome of one build.
type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusFailure Status = "failure"
	StatusSkipped Status = "skipped"
)

// Outcome records what happened to one build.
type Outcome struct {
	Key      string
	Status   Status
	Message  string
	Warnings []string
}

// RunReport is the result of a pipeline run.
type RunReport struct {
	Operation Operation
	Outcomes  []Outcome

	// WorkPerformed is set once any build got past the skip checks.
	WorkPerformed bool
}

// Count returns how many outcomes have status s.
func (r *RunReport) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Failed reports whether any build failed.
func (r *RunReport) Failed() bool {
	return r.Count(StatusFailure) > 0
}

// Summary renders one line per build followed by the totals.
//
// Example:
//
//	agro/portal@beta: success
//	fin/ledger@alpha: failure (Repository not found)
//	deploy: 1 success, 0 warning, 1 failure, 0 skipped
func (r *RunReport) Summary() string {
	var b strings.Builder
	for _, o := range r.Outcomes {
		fmt.Fprintf(&b, "%s: %s", o.Key, o.Status)
		if o.Message != "" && o.Status != StatusSuccess {
			fmt.Fprintf(&b, " (%s)", o.Message)
		}
		b.WriteByte('\n')
		for _, w := range o.Warnings {
			fmt.Fprintf(&b, "  - %s\n", w)
		}
	}
	fmt.Fprintf(&b, "%s: %d success, %d warning, %d failure, %d skipped\n",
		r.Operation, r.Count(StatusSuccess), r.Count(StatusWarning), r.Count(StatusFailure), r.Count(StatusSkipped))
	return b.String()
}
