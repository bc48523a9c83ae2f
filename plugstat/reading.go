// Package plugstat holds the telemetry readings taken from a smart plug
// and the energy calculations derived from them.
package plugstat

import (
	"io"
	"time"
)

// Reading represents one telemetry sample taken from a plug.
type Reading struct {
	// Time holds the time that the reading was taken.
	Time time.Time
	// Power holds the instantaneous real power in W.
	Power float64
	// Voltage holds the instantaneous voltage in V.
	Voltage float64
	// Current holds the instantaneous current in mA.
	Current float64
}

// ReadingReader represents a source of readings.
// Each call to ReadReading returns the next reading in the stream.
type ReadingReader interface {
	// ReadReading returns the next reading in the stream.
	// It returns io.EOF at the end of the available readings.
	ReadReading() (Reading, error)
}

// NewMemReader returns a ReadingReader that returns
// successive values from the given slice.
func NewMemReader(rs []Reading) ReadingReader {
	return &memReader{rs}
}

type memReader struct {
	rs []Reading
}

func (r *memReader) ReadReading() (Reading, error) {
	if len(r.rs) == 0 {
		return Reading{}, io.EOF
	}
	rd := r.rs[0]
	r.rs = r.rs[1:]
	return rd, nil
}

// ReadAll reads all the readings from r until io.EOF.
func ReadAll(r ReadingReader) ([]Reading, error) {
	var rs []Reading
	for {
		rd, err := r.ReadReading()
		if err == io.EOF {
			return rs, nil
		}
		if err != nil {
			return rs, err
		}
		rs = append(rs, rd)
	}
}

// Recent returns the last n readings of rs, or all of them
// if there are fewer than n. The returned slice shares
// storage with rs.
func Recent(rs []Reading, n int) []Reading {
	if n <= 0 {
		return nil
	}
	if len(rs) <= n {
		return rs
	}
	return rs[len(rs)-n:]
}
