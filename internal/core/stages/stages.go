// Package stages runs an ordered list of actions where each action reports
// success, warning or fatal. A fatal result stops the list; a warning is
// recorded and the list continues.
//
// The runner itself has no side effects; the actions it calls may.
//
//	report := stages.Run(ctx, []stages.Stage{
//		stages.Must("build images", build),
//		stages.Try("backup", backup),
//		stages.Must("deploy stack", deploy),
//	}, nil)
//	if report.Failed() {
//		return report.Err()
//	}
package stages

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// Status
// =============================================================================

// Status is the tagged outcome of a stage.
type Status int

const (
	Success Status = iota
	Warning
	Fatal
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Warning:
		return "warning"
	case Fatal:
		return "fatal"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// =============================================================================
// Stage
// =============================================================================

// Result is what a stage returns.
type Result struct {
	Stage   string
	Status  Status
	Message string
	Err     error
}

// Stage is one named step.
type Stage struct {
	Name string
	Run  func(ctx context.Context) Result
}

// Ok is a successful result.
func Ok(message string) Result {
	return Result{Status: Success, Message: message}
}

// Warn is a non-aborting failure.
func Warn(message string, err error) Result {
	return Result{Status: Warning, Message: message, Err: err}
}

// Abort is a fatal failure.
func Abort(message string, err error) Result {
	return Result{Status: Fatal, Message: message, Err: err}
}

// Must wraps fn so that an error is fatal.
func Must(name string, fn func(ctx context.Context) error) Stage {
	return Stage{Name: name, Run: func(ctx context.Context) Result {
		if err := fn(ctx); err != nil {
			return Abort(name+" failed", err)
		}
		return Ok(name + " succeeded")
	}}
}

// Try wraps fn so that an error is only a warning.
func Try(name string, fn func(ctx context.Context) error) Stage {
	return Stage{Name: name, Run: func(ctx context.Context) Result {
		if err := fn(ctx); err != nil {
			return Warn(name+" failed", err)
		}
		return Ok(name + " succeeded")
	}}
}

// =============================================================================
// Runner
// =============================================================================

// Observer is notified around each stage. Used for progress output.
type Observer interface {
	Started(stage string)
	Finished(result Result)
}

// Report is the outcome of a stage list.
type Report struct {
	Results []Result
	Status  Status // worst status seen
}

// Run executes stages in order. It stops after the first fatal result and
// continues past warnings. obs may be nil.
func Run(ctx context.Context, stages []Stage, obs Observer) Report {
	report := Report{Status: Success}

	for _, st := range stages {
		if obs != nil {
			obs.Started(st.Name)
		}

		res := st.Run(ctx)
		res.Stage = st.Name
		report.Results = append(report.Results, res)
		if res.Status > report.Status {
			report.Status = res.Status
		}

		if obs != nil {
			obs.Finished(res)
		}

		if res.Status == Fatal {
			break
		}
	}

	return report
}

// Failed reports whether a fatal stage stopped the list.
func (r Report) Failed() bool {
	return r.Status == Fatal
}

// Warnings returns the messages of every warning result.
func (r Report) Warnings() []string {
	var out []string
	for _, res := range r.Results {
		if res.Status == Warning {
			out = append(out, describe(res))
		}
	}
	return out
}

// Fatal returns the fatal result, if any.
func (r Report) Fatal() (Result, bool) {
	for _, res := range r.Results {
		if res.Status == Fatal {
			return res, true
		}
	}
	return Result{}, false
}

// Err returns an error describing the fatal stage, or nil.
func (r Report) Err() error {
	res, ok := r.Fatal()
	if !ok {
		return nil
	}
	if res.Err != nil {
		return fmt.Errorf("%s: %w", res.Stage, res.Err)
	}
	return errors.New(describe(res))
}

// Merge appends other to r, as if other's stages had run after r's.
func (r Report) Merge(other Report) Report {
	r.Results = append(r.Results, other.Results...)
	if other.Status > r.Status {
		r.Status = other.Status
	}
	return r
}

func describe(res Result) string {
	switch {
	case res.Message != "" && res.Err != nil:
		return fmt.Sprintf("%s: %v", res.Message, res.Err)
	case res.Message != "":
		return res.Message
	case res.Err != nil:
		return fmt.Sprintf("%s: %v", res.Stage, res.Err)
	}
	return res.Stage
}
