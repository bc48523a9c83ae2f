// Package monitor implements the polling loop that reads
// a plug, records its readings and publishes the resulting status.
package monitor

import (
	"context"
	"time"

	"github.com/juju/loggo"
	"gopkg.in/errgo.v1"
	"gopkg.in/retry.v1"

	"github.com/rogpeppe/plugmon/plug"
	"github.com/rogpeppe/plugmon/plugstat"
	"github.com/rogpeppe/plugmon/readinglog"
)

var logger = loggo.GetLogger("plugmon.monitor")

const (
	DefaultInterval = 30 * time.Second
	DefaultHistory  = 100
)

// ErrGaveUp is the cause of the error returned by Run when
// too many consecutive iterations have failed.
var ErrGaveUp = errgo.New("too many consecutive failures")

// Clock is used to find out the current time and to sleep.
// It is compatible with retry.Clock.
type Clock interface {
	Now() time.Time
	After(time.Duration) <-chan time.Time
}

// WallClock is a Clock that uses the system time.
var WallClock Clock = wallClock{}

type wallClock struct{}

func (wallClock) Now() time.Time {
	return time.Now()
}

func (wallClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Params holds the parameters for a call to New.
type Params struct {
	// Source holds the plug to poll.
	Source plug.Source
	// Log holds the log that readings are appended to
	// and that the energy total is computed from.
	Log readinglog.Log
	// Clock is used to time stamp readings and to sleep
	// between iterations. If it's nil, WallClock is used.
	Clock Clock
	// Interval holds the time between successful polls.
	// If it's zero, DefaultInterval is used.
	Interval time.Duration
	// Retry determines how long to wait after a failed iteration.
	Retry RetryPolicy
	// History holds the number of recent readings included in
	// each status. If it's zero, DefaultHistory is used.
	History int
	// Updater is notified of the status after each iteration.
	// It may be nil.
	Updater Updater
}

// Status holds the state published after each iteration.
// It must not be changed by its recipient.
type Status struct {
	// Time holds the time of the iteration.
	Time time.Time
	// Reading holds the reading recorded in the log by the
	// iteration, or nil if none was recorded. The iteration can
	// still have failed afterwards, in which case Warning is set
	// and TotalKWh and Recent hold their previous values.
	Reading *plugstat.Reading
	// Latest holds the most recent successfully recorded
	// reading, or nil if there has never been one.
	Latest *plugstat.Reading
	// TotalKWh holds the total energy recorded in the log.
	TotalKWh float64
	// Recent holds the most recent readings in the log,
	// oldest first.
	Recent []plugstat.Reading
	// Warning holds a description of why the iteration failed,
	// or the empty string if it succeeded.
	Warning string
	// Failures holds the number of consecutive iterations that have failed.
	Failures int
}

// Updater is used to inform an external party of the current status.
type Updater interface {
	// UpdateStatus is called with the status after each iteration.
	// It should not block.
	UpdateStatus(*Status)
}

// MultiUpdater is an Updater that informs all its members in order.
type MultiUpdater []Updater

// UpdateStatus implements Updater.UpdateStatus.
func (u MultiUpdater) UpdateStatus(s *Status) {
	for _, u1 := range u {
		u1.UpdateStatus(s)
	}
}

// LoopState holds the state carried from one iteration to the next.
type LoopState struct {
	// Status holds the status published by the last iteration.
	Status Status
	// Failures holds the number of consecutive iterations that have failed.
	Failures int
}

// Monitor polls a plug and records its readings.
type Monitor struct {
	p        Params
	strategy retry.Strategy
}

// New returns a new Monitor that uses the given parameters.
func New(p Params) (*Monitor, error) {
	if p.Source == nil {
		return nil, errgo.Newf("no telemetry source set")
	}
	if p.Log == nil {
		return nil, errgo.Newf("no reading log set")
	}
	if p.Clock == nil {
		p.Clock = WallClock
	}
	if p.Interval == 0 {
		p.Interval = DefaultInterval
	}
	if p.History == 0 {
		p.History = DefaultHistory
	}
	if p.Updater == nil {
		p.Updater = MultiUpdater(nil)
	}
	strategy, err := p.Retry.strategy()
	if err != nil {
		return nil, errgo.Mask(err)
	}
	return &Monitor{
		p:        p,
		strategy: strategy,
	}, nil
}

// Step runs a single iteration of the loop: it polls the plug,
// appends the reading to the log, recomputes the energy total
// from the whole log and publishes the new status to the updater.
//
// If any of those fails, the published status retains
// the values from st with a warning added, and the error is returned.
func (m *Monitor) Step(ctx context.Context, st *LoopState) error {
	status := st.Status
	status.Time = m.p.Clock.Now()
	status.Reading = nil
	status.Warning = ""
	err := m.step(ctx, &status)
	if err != nil {
		st.Failures++
		status.Warning = err.Error()
	} else {
		st.Failures = 0
	}
	status.Failures = st.Failures
	st.Status = status
	published := status
	m.p.Updater.UpdateStatus(&published)
	return err
}

func (m *Monitor) step(ctx context.Context, status *Status) error {
	meas, err := m.p.Source.Poll(ctx)
	if err != nil {
		return errgo.Notef(err, "cannot poll plug")
	}
	r := plugstat.Reading{
		Time:    m.p.Clock.Now(),
		Power:   meas.Power,
		Voltage: meas.Voltage,
		Current: meas.Current,
	}
	if err := m.p.Log.Append(r); err != nil {
		return errgo.Notef(err, "cannot record reading")
	}
	// The reading is in the log now, so it's reported
	// even if the total can't be brought up to date.
	status.Reading = &r
	status.Latest = &r
	rs, err := m.p.Log.ReadAll()
	if err != nil {
		return errgo.Notef(err, "cannot read reading log")
	}
	status.TotalKWh = plugstat.TotalKWh(rs)
	status.Recent = plugstat.Recent(rs, m.p.History)
	return nil
}

// Run runs the loop until the context is cancelled, when it returns nil.
// After a successful iteration it waits for the poll interval;
// after a failed one it waits as determined by the retry policy.
// If the retry policy gives up, Run returns an error with ErrGaveUp
// as its cause.
func (m *Monitor) Run(ctx context.Context) error {
	var st LoopState
	var attempt *retry.Attempt
	for {
		err := m.Step(ctx, &st)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			attempt = nil
			logger.Debugf("reading %v; total %.4f kWh", st.Status.Reading, st.Status.TotalKWh)
			select {
			case <-m.p.Clock.After(m.p.Interval):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		logger.Warningf("iteration failed (%d consecutive failures): %v", st.Failures, err)
		if attempt == nil {
			attempt = retry.StartWithCancel(m.strategy, m.p.Clock, ctx.Done())
			// The first attempt has already been made.
			attempt.Next()
		}
		if !attempt.Next() {
			if attempt.Stopped() {
				return nil
			}
			return errgo.WithCausef(err, ErrGaveUp, "giving up after %d consecutive failures", st.Failures)
		}
	}
}
