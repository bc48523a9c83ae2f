package readinglog_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	qt "github.com/frankban/quicktest"

	"github.com/rogpeppe/plugmon/plugstat"
	"github.com/rogpeppe/plugmon/readinglog"
)

var epoch = time.Date(2024, time.March, 1, 17, 30, 0, int(250*time.Microsecond), time.UTC)

var testReadings = []plugstat.Reading{{
	Time:    epoch,
	Power:   23.5,
	Voltage: 230.1,
	Current: 1500,
}, {
	Time:    epoch.Add(30 * time.Second),
	Power:   0,
	Voltage: 229.8,
	Current: 0,
}, {
	// Out of order timestamps are stored as they arrive.
	Time:    epoch.Add(10 * time.Second),
	Power:   1200.7,
	Voltage: 231,
	Current: 5221,
}}

func TestCSVLogAppendReadAll(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(c.Mkdir(), "energy_log.csv")
	l, err := readinglog.OpenCSV(path, time.UTC)
	c.Assert(err, qt.IsNil)
	defer l.Close()

	rs, err := l.ReadAll()
	c.Assert(err, qt.IsNil)
	c.Assert(rs, qt.HasLen, 0)

	for _, r := range testReadings {
		err := l.Append(r)
		c.Assert(err, qt.IsNil)
	}
	rs, err = l.ReadAll()
	c.Assert(err, qt.IsNil)
	c.Assert(rs, qt.DeepEquals, testReadings)

	data, err := ioutil.ReadFile(path)
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Equals, `
timestamp,power_w,voltage_v,current_ma
2024-03-01 17:30:00.000250+00:00,23.5,230.1,1500
2024-03-01 17:30:30.000250+00:00,0,229.8,0
2024-03-01 17:30:10.000250+00:00,1200.7,231,5221
`[1:])
}

func TestCSVLogAcrossClockChange(t *testing.T) {
	c := qt.New(t)
	london, err := time.LoadLocation("Europe/London")
	c.Assert(err, qt.IsNil)
	// British Summer Time ends at 01:00 UTC on 29 October 2023,
	// so local times between 01:00 and 02:00 happen twice.
	start := time.Date(2023, time.October, 28, 23, 30, 0, 0, time.UTC)
	var readings []plugstat.Reading
	for i := 0; i < 13; i++ {
		readings = append(readings, plugstat.Reading{
			Time:    start.Add(time.Duration(i) * 15 * time.Minute),
			Power:   float64(100 * i),
			Voltage: 230,
		})
	}
	path := filepath.Join(c.Mkdir(), "energy_log.csv")
	l, err := readinglog.OpenCSV(path, london)
	c.Assert(err, qt.IsNil)
	defer l.Close()
	for _, r := range readings {
		c.Assert(l.Append(r), qt.IsNil)
	}
	rs, err := l.ReadAll()
	c.Assert(err, qt.IsNil)
	c.Assert(rs, qt.DeepEquals, readings)
	c.Assert(plugstat.TotalKWh(rs), qt.Equals, plugstat.TotalKWh(readings))

	data, err := ioutil.ReadFile(path)
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Contains, "\n2023-10-29 01:15:00.000000+01:00,")
	c.Assert(string(data), qt.Contains, "\n2023-10-29 01:15:00.000000+00:00,")

	// Reading the same log with a different time zone
	// yields the same instants.
	l2, err := readinglog.OpenCSV(path, time.UTC)
	c.Assert(err, qt.IsNil)
	defer l2.Close()
	rs, err = l2.ReadAll()
	c.Assert(err, qt.IsNil)
	c.Assert(rs, qt.DeepEquals, readings)
}

func TestCSVLogReopen(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(c.Mkdir(), "energy_log.csv")
	l, err := readinglog.OpenCSV(path, time.UTC)
	c.Assert(err, qt.IsNil)
	c.Assert(l.Append(testReadings[0]), qt.IsNil)
	c.Assert(l.Close(), qt.IsNil)

	// Reopening must not write another header.
	l, err = readinglog.OpenCSV(path, time.UTC)
	c.Assert(err, qt.IsNil)
	defer l.Close()
	c.Assert(l.Append(testReadings[1]), qt.IsNil)
	rs, err := l.ReadAll()
	c.Assert(err, qt.IsNil)
	c.Assert(rs, qt.DeepEquals, testReadings[0:2])
}

func TestCSVLogAppendAfterClose(t *testing.T) {
	c := qt.New(t)
	l, err := readinglog.OpenCSV(filepath.Join(c.Mkdir(), "log.csv"), time.UTC)
	c.Assert(err, qt.IsNil)
	c.Assert(l.Close(), qt.IsNil)
	err = l.Append(testReadings[0])
	c.Assert(err, qt.ErrorMatches, `cannot append to ".*": reading log closed`)
}

func TestCSVLogIgnoresPartialFinalLine(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(c.Mkdir(), "energy_log.csv")
	err := ioutil.WriteFile(path, []byte(`
timestamp,power_w,voltage_v,current_ma
2024-03-01 17:30:00.000250,23.5,230.1,1500
2024-03-01 17:30:30,0,2`[1:]), 0666)
	c.Assert(err, qt.IsNil)
	l, err := readinglog.OpenCSV(path, time.UTC)
	c.Assert(err, qt.IsNil)
	defer l.Close()
	rs, err := l.ReadAll()
	c.Assert(err, qt.IsNil)
	c.Assert(rs, qt.DeepEquals, testReadings[0:1])
}

var parseCSVTests = []struct {
	testName    string
	data        string
	expect      []plugstat.Reading
	expectError string
}{{
	testName: "empty",
	data:     "",
}, {
	testName: "header-only",
	data:     "timestamp,power_w,voltage_v,current_ma\n",
}, {
	testName: "pandas-style",
	data: `
timestamp,power_w,voltage_v,current_ma
2024-03-01 17:30:00.000250,23.5,230.1,1500
2024-03-01 17:30:30,,229.8,
`[1:],
	expect: []plugstat.Reading{
		testReadings[0], {
			Time:    time.Date(2024, time.March, 1, 17, 30, 30, 0, time.UTC),
			Voltage: 229.8,
		},
	},
}, {
	testName: "with-offset",
	data: `
timestamp,power_w,voltage_v,current_ma
2024-03-01 18:30:00.000250+01:00,23.5,230.1,1500
2024-03-01 17:30:30Z,0,229.8,0
`[1:],
	expect: testReadings[0:2],
}, {
	testName: "rfc3339",
	data: `
timestamp,power_w,voltage_v,current_ma
2024-03-01T18:30:00+01:00,1,2,3
`[1:],
	expect: []plugstat.Reading{{
		Time:    time.Date(2024, time.March, 1, 17, 30, 0, 0, time.UTC),
		Power:   1,
		Voltage: 2,
		Current: 3,
	}},
}, {
	testName: "bad-header",
	data: `
time,power
`[1:],
	expectError: `.*wrong number of fields`,
}, {
	testName: "wrong-header-names",
	data: `
a,b,c,d
`[1:],
	expectError: `unexpected header \["a" "b" "c" "d"\]`,
}, {
	testName: "bad-timestamp",
	data: `
timestamp,power_w,voltage_v,current_ma
yesterday,1,2,3
`[1:],
	expectError: `line 2: invalid timestamp "yesterday"`,
}, {
	testName: "bad-number",
	data: `
timestamp,power_w,voltage_v,current_ma
2024-03-01 17:30:00,1,2,lots
`[1:],
	expectError: `line 2: invalid current_ma: invalid number "lots"`,
}}

func TestParseCSV(t *testing.T) {
	c := qt.New(t)
	for _, test := range parseCSVTests {
		c.Run(test.testName, func(c *qt.C) {
			rs, err := readinglog.ParseCSV(strings.NewReader(test.data), time.UTC)
			if test.expectError != "" {
				c.Assert(err, qt.ErrorMatches, test.expectError)
				return
			}
			c.Assert(err, qt.IsNil)
			c.Assert(rs, qt.DeepEquals, test.expect)
		})
	}
}

func TestOpenUnknownFormat(t *testing.T) {
	c := qt.New(t)
	_, err := readinglog.Open("xml", filepath.Join(c.Mkdir(), "x"))
	c.Assert(err, qt.ErrorMatches, `unknown reading log format "xml"`)
}

func TestOpenCSVNoDirectory(t *testing.T) {
	c := qt.New(t)
	_, err := readinglog.OpenCSV(filepath.Join(c.Mkdir(), "nonexistent", "log.csv"), nil)
	c.Assert(err, qt.ErrorMatches, `cannot open reading log: .*`)
	c.Assert(os.IsNotExist(errCause(err)), qt.IsTrue)
}
