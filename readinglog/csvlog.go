package readinglog

import (
	"bytes"
	"encoding/csv"
	"io"
	"io/ioutil"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/errgo.v1"

	"github.com/rogpeppe/plugmon/plugstat"
)

// header holds the column names of a CSV reading log.
var header = []string{"timestamp", "power_w", "voltage_v", "current_ma"}

// TimeFormat is the format used for timestamps in a CSV log.
// The UTC offset keeps timestamps unambiguous when the clocks
// go back and when the log's time zone changes.
const TimeFormat = "2006-01-02 15:04:05.000000-07:00"

// legacyTimeFormat is the zone-less format written by earlier
// versions. Such timestamps are taken to be in the log's time zone.
const legacyTimeFormat = "2006-01-02 15:04:05"

// CSVLog is a Log that stores readings as rows in a CSV file
// with a header row. Methods may be called concurrently.
type CSVLog struct {
	path string
	tz   *time.Location

	// mu guards f and serializes appends.
	mu sync.Mutex
	f  *os.File
}

var _ Log = (*CSVLog)(nil)

// OpenCSV opens the CSV reading log at the given path, creating it
// with a header row if it doesn't exist. Timestamps are written and
// read in the given time zone, or the local time zone if tz is nil.
func OpenCSV(path string, tz *time.Location) (*CSVLog, error) {
	if tz == nil {
		tz = time.Local
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, errgo.NoteMask(err, "cannot open reading log", errgo.Any)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errgo.Notef(err, "cannot stat reading log")
	}
	l := &CSVLog{
		path: path,
		tz:   tz,
		f:    f,
	}
	if info.Size() == 0 {
		if err := l.writeRecord(header); err != nil {
			f.Close()
			return nil, errgo.Notef(err, "cannot write header to %q", path)
		}
	}
	return l, nil
}

// Path returns the path of the log file.
func (l *CSVLog) Path() string {
	return l.path
}

// Append implements Log.Append by writing a single row
// and syncing the file.
func (l *CSVLog) Append(r plugstat.Reading) error {
	if err := l.writeRecord(l.formatReading(r)); err != nil {
		return errgo.Notef(err, "cannot append to %q", l.path)
	}
	return nil
}

func (l *CSVLog) writeRecord(record []string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(record); err != nil {
		return errgo.Mask(err)
	}
	w.Flush()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return errgo.New("reading log closed")
	}
	// Write the whole row in one call so that a concurrent
	// reader sees either all of it or none of it.
	if _, err := l.f.Write(buf.Bytes()); err != nil {
		return errgo.Mask(err)
	}
	return errgo.Mask(l.f.Sync())
}

func (l *CSVLog) formatReading(r plugstat.Reading) []string {
	return []string{
		r.Time.In(l.tz).Format(TimeFormat),
		formatFloat(r.Power),
		formatFloat(r.Voltage),
		formatFloat(r.Current),
	}
}

// ReadAll implements Log.ReadAll. A final row without a trailing
// newline is assumed to be an append in progress and is ignored.
func (l *CSVLog) ReadAll() ([]plugstat.Reading, error) {
	data, err := ioutil.ReadFile(l.path)
	if err != nil {
		return nil, errgo.Notef(err, "cannot read reading log")
	}
	if i := bytes.LastIndexByte(data, '\n'); i != len(data)-1 {
		if len(data) > 0 {
			logger.Warningf("ignoring incomplete final line in %q", l.path)
		}
		data = data[0 : i+1]
	}
	rs, err := ParseCSV(bytes.NewReader(data), l.tz)
	if err != nil {
		return nil, errgo.Notef(err, "bad reading log %q", l.path)
	}
	return rs, nil
}

// Close implements Log.Close.
func (l *CSVLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return errgo.Mask(err)
}

// ParseCSV parses readings in CSV reading log format from r.
// Timestamps without a zone are interpreted in tz.
// An empty numeric field is read as zero.
func ParseCSV(r io.Reader, tz *time.Location) ([]plugstat.Reading, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(header)
	cr.ReuseRecord = true
	first, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errgo.Mask(err)
	}
	if !isHeader(first) {
		return nil, errgo.Newf("unexpected header %q", first)
	}
	var rs []plugstat.Reading
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			return rs, nil
		}
		if err != nil {
			return nil, errgo.Mask(err)
		}
		r, err := parseRecord(record, tz)
		if err != nil {
			return nil, errgo.Notef(err, "line %d", line)
		}
		rs = append(rs, r)
	}
}

func isHeader(record []string) bool {
	for i, f := range record {
		if strings.TrimSpace(f) != header[i] {
			return false
		}
	}
	return true
}

func parseRecord(record []string, tz *time.Location) (plugstat.Reading, error) {
	t, err := parseTime(strings.TrimSpace(record[0]), tz)
	if err != nil {
		return plugstat.Reading{}, errgo.Mask(err)
	}
	var vals [3]float64
	for i := range vals {
		vals[i], err = parseFloat(record[i+1])
		if err != nil {
			return plugstat.Reading{}, errgo.Notef(err, "invalid %s", header[i+1])
		}
	}
	return plugstat.Reading{
		Time:    t,
		Power:   vals[0],
		Voltage: vals[1],
		Current: vals[2],
	}, nil
}

// parseTime parses a timestamp in TimeFormat or RFC 3339 format,
// or a zone-less timestamp in legacyTimeFormat, which is
// interpreted in tz. Fractional seconds are optional.
func parseTime(s string, tz *time.Location) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05Z07:00", time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.In(tz), nil
		}
	}
	if t, err := time.ParseInLocation(legacyTimeFormat, s, tz); err == nil {
		return t, nil
	}
	return time.Time{}, errgo.Newf("invalid timestamp %q", s)
}

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errgo.Newf("invalid number %q", s)
	}
	return f, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
