// The plugstat command reads a plug reading log and prints
// the energy used on each day and in total.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/juju/ansiterm"
	"gopkg.in/errgo.v1"

	"github.com/rogpeppe/plugmon/plugstat"
	"github.com/rogpeppe/plugmon/readinglog"
)

var (
	formatFlag = flag.String("format", readinglog.FormatCSV, "format of the reading log (csv or bolt)")
	tzFlag     = flag.String("tz", "", "time zone for day boundaries and CSV timestamps (default local)")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: plugstat [flags] [<logfile>]\n")
		fmt.Fprintf(os.Stderr, "Reads plug readings and prints the energy used per day.\n")
		fmt.Fprintf(os.Stderr, "A CSV log is read from stdin if no file is given.\n")
		flag.PrintDefaults()
		os.Exit(2)
	}
	flag.Parse()
	if flag.NArg() > 1 {
		flag.Usage()
	}
	tz := time.Local
	if *tzFlag != "" {
		loc, err := time.LoadLocation(*tzFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "plugstat: %v\n", err)
			os.Exit(2)
		}
		tz = loc
	}
	rs, err := readReadings(*formatFlag, flag.Arg(0), tz)
	if err != nil {
		fmt.Fprintf(os.Stderr, "plugstat: %v\n", err)
		os.Exit(1)
	}
	for i := 1; i < len(rs); i++ {
		if rs[i].Time.Before(rs[i-1].Time) {
			fmt.Fprintf(os.Stderr, "warning: reading %d is out of time order (time %v is before previous %v)\n", i, rs[i].Time, rs[i-1].Time)
		}
	}
	printUsage(os.Stdout, rs, tz)
}

// readReadings reads all the readings from the log at path,
// or from stdin if path is empty. The log is never written to.
func readReadings(format, path string, tz *time.Location) ([]plugstat.Reading, error) {
	if format == readinglog.FormatCSV {
		if path == "" {
			return readinglog.ParseCSV(os.Stdin, tz)
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, errgo.Mask(err)
		}
		defer f.Close()
		rs, err := readinglog.ParseCSV(f, tz)
		if err != nil {
			return nil, errgo.Notef(err, "bad reading log %q", path)
		}
		return rs, nil
	}
	if path == "" {
		return nil, errgo.Newf("a file must be given for %s logs", format)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errgo.Mask(err)
	}
	l, err := readinglog.Open(format, path)
	if err != nil {
		return nil, errgo.Mask(err)
	}
	defer l.Close()
	return l.ReadAll()
}

func printUsage(w io.Writer, rs []plugstat.Reading, tz *time.Location) {
	tw := ansiterm.NewTabWriter(w, 0, 8, 2, ' ', 0)
	defer tw.Flush()
	tw.SetForeground(ansiterm.Yellow)
	fmt.Fprintf(tw, "DAY\tKWH\n")
	tw.Reset()
	for _, d := range plugstat.DailyUsage(rs, tz) {
		fmt.Fprintf(tw, "%s\t%.3f\n", d.Day.Format("2006-01-02"), d.KWh)
	}
	tw.SetForeground(ansiterm.Green)
	fmt.Fprintf(tw, "total\t%.3f\n", plugstat.TotalKWh(rs))
	tw.Reset()
}
