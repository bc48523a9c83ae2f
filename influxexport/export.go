// Package influxexport mirrors plug readings to an InfluxDB v2 bucket.
// The reading log remains the record of energy use; the export
// is best effort.
package influxexport

import (
	"context"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/juju/loggo"
	"gopkg.in/errgo.v1"

	"github.com/rogpeppe/plugmon/monitor"
)

var logger = loggo.GetLogger("plugmon.influxexport")

// Measurement holds the name of the measurement that readings
// are written to.
const Measurement = "plug_reading"

const (
	DefaultQueueSize = 100
	DefaultTimeout   = 10 * time.Second
)

// Writer writes points to a bucket. It is implemented by
// api.WriteAPIBlocking.
type Writer interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Params holds the parameters for a call to New.
type Params struct {
	// URL holds the address of the InfluxDB server.
	URL string
	// Token holds the API token used to authenticate.
	Token string
	// Org and Bucket name the bucket to write to.
	Org    string
	Bucket string
	// Device holds the value of the device tag attached to
	// each point.
	Device string
	// Writer is used to write points. If it's nil,
	// a client for URL is created.
	Writer Writer
	// QueueSize holds the number of points that can be waiting to be
	// written. When the queue is full, new points are dropped.
	// If it's zero, DefaultQueueSize is used.
	QueueSize int
	// Timeout holds the maximum time allowed to write a point.
	// If it's zero, DefaultTimeout is used.
	Timeout time.Duration
}

// Exporter writes each new reading to InfluxDB. It implements monitor.Updater.
type Exporter struct {
	p      Params
	client influxdb2.Client
	queue  chan *write.Point
	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	dropped int
}

var _ monitor.Updater = (*Exporter)(nil)

// New returns a new Exporter. It should be closed after use.
func New(p Params) (*Exporter, error) {
	if p.Device == "" {
		return nil, errgo.Newf("no device name set")
	}
	if p.QueueSize == 0 {
		p.QueueSize = DefaultQueueSize
	}
	if p.Timeout == 0 {
		p.Timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Exporter{
		p:      p,
		queue:  make(chan *write.Point, p.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	if e.p.Writer == nil {
		if p.URL == "" {
			cancel()
			return nil, errgo.Newf("no InfluxDB URL set")
		}
		if p.Org == "" || p.Bucket == "" {
			cancel()
			return nil, errgo.Newf("InfluxDB organization and bucket must both be set")
		}
		e.client = influxdb2.NewClient(p.URL, p.Token)
		e.p.Writer = e.client.WriteAPIBlocking(p.Org, p.Bucket)
	}
	e.wg.Add(1)
	go e.run()
	return e, nil
}

// UpdateStatus implements monitor.Updater by queueing
// the status's reading, if any, to be written.
func (e *Exporter) UpdateStatus(s *monitor.Status) {
	if s.Reading == nil {
		return
	}
	r := s.Reading
	point := write.NewPoint(
		Measurement,
		map[string]string{
			"device": e.p.Device,
		},
		map[string]interface{}{
			"power_w":    r.Power,
			"voltage_v":  r.Voltage,
			"current_ma": r.Current,
			"energy_kwh": s.TotalKWh,
		},
		r.Time,
	)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.queue <- point:
	default:
		e.dropped++
		logger.Warningf("export queue full; dropped reading at %v (%d dropped so far)", r.Time, e.dropped)
	}
}

// Dropped returns the number of readings dropped
// because the queue was full.
func (e *Exporter) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Close writes any queued points and shuts down the exporter.
func (e *Exporter) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(e.p.Timeout):
		logger.Warningf("timed out waiting for queued points to be written")
		e.cancel()
		<-done
	}
	e.cancel()
	if e.client != nil {
		e.client.Close()
	}
	return nil
}

func (e *Exporter) run() {
	defer e.wg.Done()
	for point := range e.queue {
		if err := e.write(point); err != nil {
			logger.Errorf("cannot export reading: %v", err)
		}
	}
}

func (e *Exporter) write(point *write.Point) error {
	ctx, cancel := context.WithTimeout(e.ctx, e.p.Timeout)
	defer cancel()
	if err := e.p.Writer.WritePoint(ctx, point); err != nil {
		return errgo.Mask(err)
	}
	return nil
}
