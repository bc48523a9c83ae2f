// The plugmon command polls a smart plug for power, voltage and
// current, appends each reading to a log and serves a live dashboard
// showing the readings and the energy used.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/loggo"
	"gopkg.in/errgo.v1"

	"github.com/rogpeppe/plugmon/dashboard"
	"github.com/rogpeppe/plugmon/influxexport"
	"github.com/rogpeppe/plugmon/monitor"
	"github.com/rogpeppe/plugmon/ntpclock"
	"github.com/rogpeppe/plugmon/plugconfig"
	"github.com/rogpeppe/plugmon/plugmetrics"
	"github.com/rogpeppe/plugmon/readinglog"
)

var logger = loggo.GetLogger("plugmon")

var configFlag = flag.String("config", plugconfig.DefaultPath, "path to configuration file")

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: plugmon [-config path]\n")
		flag.PrintDefaults()
		os.Exit(2)
	}
	flag.Parse()
	if flag.NArg() != 0 {
		flag.Usage()
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, *configFlag); err != nil {
		fmt.Fprintf(os.Stderr, "plugmon: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := plugconfig.Load(configPath)
	if err != nil {
		return errgo.Mask(err)
	}
	if err := loggo.ConfigureLoggers(cfg.LogLevel); err != nil {
		return errgo.Notef(err, "bad log level")
	}
	if err := cfg.Validate(); err != nil {
		return errgo.Mask(err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return errgo.Mask(err)
	}
	rlog, err := openLog(cfg, loc)
	if err != nil {
		return errgo.Mask(err)
	}
	defer rlog.Close()

	var clock monitor.Clock = monitor.WallClock
	if cfg.NTP.Enabled {
		ntpClock, err := ntpclock.New(ntpclock.Params{
			Host:     cfg.NTP.Host,
			Location: cfg.TimeZone,
		})
		if err != nil {
			return errgo.Mask(err)
		}
		defer ntpClock.Close()
		clock = ntpClock
	}

	logger.Infof("connecting to plug %s via %s", cfg.DeviceID, cfg.Source)
	src, err := cfg.OpenSource(ctx)
	if err != nil {
		return errgo.Mask(err)
	}
	defer src.Close()

	dp := dashboard.Params{
		Title:    cfg.DeviceName,
		Location: loc,
	}
	updaters := monitor.MultiUpdater{}
	if cfg.Metrics {
		metrics := plugmetrics.New(cfg.DeviceName, true)
		dp.Metrics = metrics.Handler()
		updaters = append(updaters, metrics)
	}
	if cfg.Influx.URL != "" {
		exporter, err := influxexport.New(influxexport.Params{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
			Device: cfg.DeviceName,
		})
		if err != nil {
			return errgo.Notef(err, "cannot start InfluxDB export")
		}
		defer exporter.Close()
		updaters = append(updaters, exporter)
	}
	dash := dashboard.New(dp)
	defer dash.Close()
	updaters = append(updaters, dash)

	m, err := monitor.New(monitor.Params{
		Source:   src,
		Log:      rlog,
		Clock:    clock,
		Interval: cfg.Interval.Duration,
		Retry:    cfg.RetryPolicy(),
		History:  cfg.History,
		Updater:  updaters,
	})
	if err != nil {
		return errgo.Mask(err)
	}

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: dash,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("dashboard listening on %s", cfg.HTTPAddr)
		serveErr <- srv.ListenAndServe()
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	monitorErr := make(chan error, 1)
	go func() {
		monitorErr <- m.Run(ctx)
	}()
	select {
	case err := <-serveErr:
		cancel()
		<-monitorErr
		return errgo.Notef(err, "cannot serve dashboard")
	case err := <-monitorErr:
		if err != nil {
			return errgo.Mask(err, errgo.Any)
		}
		logger.Infof("shutting down")
		return nil
	}
}

// openLog opens the reading log named by the configuration.
// CSV timestamps are written in the configured time zone.
func openLog(cfg *plugconfig.Config, loc *time.Location) (readinglog.Log, error) {
	switch cfg.LogFormat {
	case readinglog.FormatCSV, "":
		l, err := readinglog.OpenCSV(cfg.LogPath, loc)
		if err != nil {
			return nil, errgo.Mask(err)
		}
		return l, nil
	}
	return readinglog.Open(cfg.LogFormat, cfg.LogPath)
}
