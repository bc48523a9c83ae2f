package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestReadReadingsReadOnlyFile(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(c.TempDir(), "energy_log.csv")
	err := os.WriteFile(path, []byte(`
timestamp,power_w,voltage_v,current_ma
2024-03-01 00:00:00.000000+00:00,100,230,435
2024-03-01 01:00:00.000000+00:00,100,230,435
`[1:]), 0444)
	c.Assert(err, qt.IsNil)
	rs, err := readReadings("csv", path, time.UTC)
	c.Assert(err, qt.IsNil)
	c.Assert(rs, qt.HasLen, 2)
	c.Assert(rs[1].Time.Equal(time.Date(2024, time.March, 1, 1, 0, 0, 0, time.UTC)), qt.IsTrue)
}

func TestReadReadingsEmptyFileUnchanged(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(c.TempDir(), "energy_log.csv")
	c.Assert(os.WriteFile(path, nil, 0666), qt.IsNil)
	rs, err := readReadings("csv", path, time.UTC)
	c.Assert(err, qt.IsNil)
	c.Assert(rs, qt.HasLen, 0)
	data, err := os.ReadFile(path)
	c.Assert(err, qt.IsNil)
	c.Assert(data, qt.HasLen, 0)
}

func TestReadReadingsMissingFile(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(c.TempDir(), "nothing.csv")
	_, err := readReadings("csv", path, time.UTC)
	c.Assert(err, qt.ErrorMatches, `open .*nothing.csv: no such file or directory`)
	_, err = os.Stat(path)
	c.Assert(os.IsNotExist(err), qt.IsTrue)
}

func TestReadReadingsBoltNeedsFile(t *testing.T) {
	c := qt.New(t)
	_, err := readReadings("bolt", "", time.UTC)
	c.Assert(err, qt.ErrorMatches, `a file must be given for bolt logs`)
}

func TestPrintUsage(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(c.TempDir(), "energy_log.csv")
	err := os.WriteFile(path, []byte(`
timestamp,power_w,voltage_v,current_ma
2024-03-01 23:00:00.000000+00:00,1000,230,4350
2024-03-02 01:00:00.000000+00:00,1000,230,4350
`[1:]), 0666)
	c.Assert(err, qt.IsNil)
	rs, err := readReadings("csv", path, time.UTC)
	c.Assert(err, qt.IsNil)
	var buf bytes.Buffer
	printUsage(&buf, rs, time.UTC)
	c.Assert(buf.String(), qt.Matches, `(?s).*2024-03-01 +1\.000\n.*2024-03-02 +1\.000\n.*total +2\.000\n.*`)
}
