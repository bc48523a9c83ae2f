// Package ntpclock provides a clock that is disciplined by NTP,
// for use when the system clock can't be relied upon to give
// accurate timestamps for readings.
package ntpclock

import (
	"sync"
	"time"

	"github.com/beevik/ntp"
	"github.com/juju/loggo"
	"gopkg.in/errgo.v1"
)

var logger = loggo.GetLogger("plugmon.ntpclock")

const (
	DefaultHost           = "pool.ntp.org"
	DefaultTimeout        = 30 * time.Second
	DefaultUpdateInterval = 30 * time.Minute
)

// ntpQuery is used to query the current NTP time.
// It's overridden for tests.
var ntpQuery = ntp.QueryWithOptions

// systemNow is used to read the system clock.
// It's overridden for tests.
var systemNow = time.Now

// Params holds the parameters for a call to New.
type Params struct {
	// Host holds the NTP host to use.
	// If it's empty, DefaultHost is used.
	Host string
	// Timeout holds the timeout on each NTP query.
	// If it's zero, DefaultTimeout is used.
	Timeout time.Duration
	// UpdateInterval holds the interval between NTP queries.
	// If it's zero, DefaultUpdateInterval is used.
	UpdateInterval time.Duration
	// Location holds the time zone name to use for the returned times.
	// If it's empty, the times are in UTC.
	Location string
}

// Clock provides the current time corrected by the offset most
// recently reported by an NTP server. It implements monitor.Clock.
type Clock struct {
	p        Params
	location *time.Location
	closed   chan struct{}
	wg       sync.WaitGroup

	// mu guards the fields below it.
	mu sync.Mutex
	// offset holds the difference between NTP time
	// and the system clock.
	offset time.Duration
	// prevTime holds the previous time returned from Now.
	prevTime time.Time
}

// New returns a Clock that queries the given NTP host for time.
// It blocks until the first query has completed; an error means
// that the NTP server could not be reached.
// The Clock should be closed after use.
func New(p Params) (*Clock, error) {
	if p.Host == "" {
		p.Host = DefaultHost
	}
	if p.Timeout == 0 {
		p.Timeout = DefaultTimeout
	}
	if p.UpdateInterval == 0 {
		p.UpdateInterval = DefaultUpdateInterval
	}
	c := &Clock{
		p:        p,
		location: time.UTC,
		closed:   make(chan struct{}),
	}
	if p.Location != "" {
		loc, err := time.LoadLocation(p.Location)
		if err != nil {
			return nil, errgo.Notef(err, "cannot load time zone %q", p.Location)
		}
		c.location = loc
	}
	if err := c.update(); err != nil {
		return nil, errgo.Mask(err)
	}
	c.wg.Add(1)
	go c.updater()
	return c, nil
}

// Now returns a best-effort representation of the absolute time.
// Successive calls never return decreasing times.
// The returned time does not contain a monotonic clock reading.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := systemNow().Add(c.offset).Round(0).In(c.location)
	if t.Before(c.prevTime) {
		return c.prevTime
	}
	c.prevTime = t
	return t
}

// After implements monitor.Clock.After. Durations are
// unaffected by the NTP offset, so it uses the system timer.
func (c *Clock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Offset returns the most recently measured difference between
// NTP time and the system clock.
func (c *Clock) Offset() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

// Close stops the clock from querying the NTP server.
// The clock may still be used after it's closed.
func (c *Clock) Close() error {
	close(c.closed)
	c.wg.Wait()
	return nil
}

func (c *Clock) updater() {
	defer c.wg.Done()
	for {
		select {
		case <-c.closed:
			return
		case <-time.After(c.p.UpdateInterval):
		}
		if err := c.update(); err != nil {
			logger.Warningf("cannot update time from NTP: %v", err)
		}
	}
}

func (c *Clock) update() error {
	resp, err := ntpQuery(c.p.Host, ntp.QueryOptions{
		Timeout: c.p.Timeout,
	})
	if err != nil {
		return errgo.Notef(err, "cannot query NTP server %q", c.p.Host)
	}
	if err := resp.Validate(); err != nil {
		return errgo.Notef(err, "invalid response from NTP server %q", c.p.Host)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offset != resp.ClockOffset {
		logger.Debugf("clock offset now %v", resp.ClockOffset)
	}
	c.offset = resp.ClockOffset
	return nil
}
