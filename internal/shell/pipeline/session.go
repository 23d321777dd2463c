package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/releaser/internal/core/domain"
	"github.com/artpar/releaser/internal/shell/console"
	"github.com/artpar/releaser/internal/shell/lock"
)

// Notification subjects.
const (
	SubjectSuccess  = "SUCCESS EXECUTION of Releaser Script"
	SubjectCritical = "CRITICAL ERROR of Releaser Script"
)

// Notifier delivers run reports.
type Notifier interface {
	Send(ctx context.Context, subject, body string, cc []string) error
}

// Locker guards unattended runs.
type Locker interface {
	TryAcquire(operation string, ttl time.Duration) (*lock.Lock, error)
	Release(l *lock.Lock) error
}

// Session wraps a run with the single-flight lock, the transcript and the
// notification of unattended runs. Interactive runs get neither lock nor
// notification.
type Session struct {
	Server   string
	Locks    Locker
	Notifier Notifier

	// Transcript holds the console output of the run. Optional.
	Transcript *console.Transcript

	// CC receives copies of every notification.
	CC []string

	// DeployLockMinutes overrides the deploy lock TTL when positive.
	DeployLockMinutes int

	Metrics Metrics // optional
	Logger  *slog.Logger
	Now     func() time.Time
}

// RunFunc performs the run body.
type RunFunc func(ctx context.Context) (*RunReport, error)

// Run executes fn for op.
func (s *Session) Run(ctx context.Context, op Operation, unattended bool, fn RunFunc) (*RunReport, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := s.Now
	if now == nil {
		now = time.Now
	}

	runID := uuid.NewString()
	logger = logger.With("component", "session")
	start := now()
	logger.Info(fmt.Sprintf("Starting %s", op), "run", runID, "unattended", unattended)

	if unattended {
		if !op.Unattended() {
			return nil, domain.ConfigError("Session.Run", fmt.Sprintf("%s cannot run unattended", op), nil)
		}
		ttl, _ := lock.TTL(string(op), s.DeployLockMinutes)
		l, err := s.Locks.TryAcquire(string(op), ttl)
		if err != nil {
			if s.Metrics != nil && errors.Is(err, domain.ErrLockHeld) {
				s.Metrics.LockRejected(string(op))
			}
			return nil, err
		}
		defer func() {
			if err := s.Locks.Release(l); err != nil {
				logger.Warn("could not release lock", "operation", op, "error", err)
			}
		}()
	}

	report, err := fn(ctx)
	elapsed := now().Sub(start)
	seconds := int(elapsed.Round(time.Second).Seconds())

	if s.Metrics != nil {
		s.Metrics.RunFinished(string(op), elapsed, err != nil)
	}

	if err != nil {
		logger.Log(ctx, console.LevelCritical, err.Error())
		logger.Error(fmt.Sprintf("Stopped after %d seconds!", seconds))
		if unattended {
			s.notify(ctx, logger, SubjectCritical, runID, s.failureBody(err))
		}
		return report, err
	}

	logger.Log(ctx, console.LevelSuccess, fmt.Sprintf("All done after %d seconds!", seconds))
	if unattended && report != nil && report.WorkPerformed {
		s.notify(ctx, logger, SubjectSuccess, runID, s.successBody(report))
	}
	return report, nil
}

func (s *Session) notify(ctx context.Context, logger *slog.Logger, subject, runID, body string) {
	if s.Notifier == nil {
		return
	}
	full := fmt.Sprintf("%s at %s (run %s)", subject, s.Server, runID[:8])
	if err := s.Notifier.Send(ctx, full, body, s.CC); err != nil {
		logger.Error("could not send notification", "subject", subject, "error", err)
	}
}

func (s *Session) successBody(r *RunReport) string {
	var b strings.Builder
	b.WriteString(r.Summary())
	if s.Transcript != nil {
		b.WriteString("\n")
		b.WriteString(s.Transcript.String())
	}
	return b.String()
}

func (s *Session) failureBody(err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%v\n", err)
	if s.Transcript != nil {
		b.WriteString("\n")
		b.WriteString(s.Transcript.String())
	}
	return b.String()
}
