// Package readinglog implements the persistent, append-only log of
// plug readings. The log is the only record of energy use: totals are
// always derived from its contents.
package readinglog

import (
	"github.com/juju/loggo"
	"gopkg.in/errgo.v1"

	"github.com/rogpeppe/plugmon/plugstat"
)

var logger = loggo.GetLogger("plugmon.readinglog")

// Log represents an append-only sequence of readings.
type Log interface {
	// Append durably appends r to the end of the log.
	Append(r plugstat.Reading) error

	// ReadAll returns all the readings in the log
	// in the order they were appended.
	ReadAll() ([]plugstat.Reading, error)

	// Close closes the log.
	Close() error
}

// Formats supported by Open.
const (
	FormatCSV  = "csv"
	FormatBolt = "bolt"
)

// ErrUnknownFormat is the cause of the error returned by Open
// when asked for an unsupported format.
var ErrUnknownFormat = errgo.New("unknown reading log format")

// Open opens the log at the given path, creating it if necessary.
// The format must be FormatCSV or FormatBolt; if it's empty,
// FormatCSV is used. CSV timestamps are interpreted in the local
// time zone.
func Open(format, path string) (Log, error) {
	switch format {
	case FormatCSV, "":
		l, err := OpenCSV(path, nil)
		if err != nil {
			return nil, errgo.Mask(err, errgo.Any)
		}
		return l, nil
	case FormatBolt:
		l, err := OpenBolt(path)
		if err != nil {
			return nil, errgo.Mask(err, errgo.Any)
		}
		return l, nil
	}
	return nil, errgo.WithCausef(nil, ErrUnknownFormat, "unknown reading log format %q", format)
}
