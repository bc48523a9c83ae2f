// Package plugconfig holds the configuration of the plug monitor.
//
// Configuration is read from an optional YAML file; the device
// secrets can also be supplied (and overridden) by environment
// variables so that they need not be stored in the file.
package plugconfig

import (
	"context"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/errgo.v1"
	"gopkg.in/yaml.v2"

	"github.com/rogpeppe/plugmon/monitor"
	"github.com/rogpeppe/plugmon/plug"
	"github.com/rogpeppe/plugmon/tuyacloud"
	"github.com/rogpeppe/plugmon/tuyalocal"
)

// DefaultPath holds the configuration file read when no
// other path is specified. It's not an error for it not to exist.
const DefaultPath = "plugmon.yaml"

// Source kinds.
const (
	SourceCloud = "cloud"
	SourceLocal = "local"
)

const (
	DefaultCloudInterval = 30 * time.Second
	DefaultLocalInterval = 15 * time.Second
	DefaultLogPath       = "readings.csv"
	DefaultHTTPAddr      = ":8080"
	DefaultDeviceName    = "plug"
)

// ErrMissingSecret is the cause of the error returned by
// Validate when a required secret has not been supplied.
var ErrMissingSecret = errgo.New("missing required secret")

// Config holds the plug monitor configuration.
type Config struct {
	// Source holds the kind of telemetry source to use,
	// SourceCloud or SourceLocal. If it's empty, SourceLocal
	// is used when a device address is known, otherwise SourceCloud.
	Source string `yaml:"source"`
	// DeviceName holds a human-readable name for the plug. It's used
	// as the dashboard title and to label exported data.
	DeviceName string `yaml:"device_name"`
	// DeviceID holds the id of the plug.
	DeviceID string `yaml:"device_id"`

	Cloud CloudConfig `yaml:"cloud"`
	Local LocalConfig `yaml:"local"`

	// Interval holds the time between polls.
	Interval Duration `yaml:"interval"`
	// Retry holds the policy for waiting after failed polls.
	Retry RetryConfig `yaml:"retry"`
	// History holds the number of readings shown in the chart.
	History int `yaml:"history"`

	// LogFormat and LogPath specify the reading log.
	LogFormat string `yaml:"log_format"`
	LogPath   string `yaml:"log_path"`
	// TimeZone holds the time zone used for the reading log
	// timestamps and for display. If it's empty, the local time zone is used.
	TimeZone string `yaml:"time_zone"`

	// HTTPAddr holds the address the dashboard listens on.
	HTTPAddr string `yaml:"http_addr"`
	// Metrics enables the Prometheus /metrics endpoint.
	Metrics bool `yaml:"metrics"`
	// LogLevel holds the logging configuration in loggo.ConfigureLoggers form,
	// for example "<root>=INFO;plugmon.tuyalocal=DEBUG".
	LogLevel string `yaml:"log_level"`

	NTP    NTPConfig    `yaml:"ntp"`
	Influx InfluxConfig `yaml:"influx"`
}

// CloudConfig holds the Tuya cloud project credentials.
type CloudConfig struct {
	Endpoint     string          `yaml:"endpoint"`
	AccessID     string          `yaml:"access_id"`
	AccessSecret string          `yaml:"access_secret"`
	Codes        tuyacloud.Codes `yaml:"codes"`
}

// LocalConfig holds the parameters for talking directly to the plug.
type LocalConfig struct {
	Address  string `yaml:"address"`
	LocalKey string `yaml:"local_key"`
	// Version holds the protocol version. If it's empty,
	// tuyalocal.Version33 is used.
	Version string        `yaml:"version"`
	DPS     tuyalocal.DPS `yaml:"dps"`
	Timeout Duration      `yaml:"timeout"`
}

// RetryConfig holds the yaml form of monitor.RetryPolicy.
type RetryConfig struct {
	Initial     Duration `yaml:"initial"`
	Factor      float64  `yaml:"factor"`
	MaxDelay    Duration `yaml:"max_delay"`
	Jitter      bool     `yaml:"jitter"`
	MaxAttempts int      `yaml:"max_attempts"`
}

// NTPConfig configures the use of an NTP-disciplined clock
// for time stamping readings.
type NTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
}

// InfluxConfig configures export of readings to InfluxDB.
// Export is enabled when URL is set.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// Duration is a time.Duration that is represented in YAML
// in time.ParseDuration format.
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return errgo.Mask(err)
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return errgo.Mask(err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// envVars maps environment variables to the configuration
// fields that they set.
var envVars = []struct {
	name string
	set  func(c *Config, val string)
}{
	{"ACCESS_ID", func(c *Config, v string) { c.Cloud.AccessID = v }},
	{"ACCESS_SECRET", func(c *Config, v string) { c.Cloud.AccessSecret = v }},
	{"API_ENDPOINT", func(c *Config, v string) { c.Cloud.Endpoint = v }},
	{"DEVICE_ID", func(c *Config, v string) { c.DeviceID = v }},
	{"DEVICE_IP", func(c *Config, v string) { c.Local.Address = v }},
	{"LOCAL_KEY", func(c *Config, v string) { c.Local.LocalKey = v }},
	{"PROTOCOL_VERSION", func(c *Config, v string) { c.Local.Version = v }},
	{"PLUGMON_SOURCE", func(c *Config, v string) { c.Source = v }},
	{"PLUGMON_LOG_LEVEL", func(c *Config, v string) { c.LogLevel = v }},
}

// Load reads the configuration from the YAML file at path,
// applies any overrides from the environment and fills in defaults.
// If path is DefaultPath, the file need not exist.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) || path != DefaultPath {
			return nil, errgo.Notef(err, "cannot read configuration")
		}
		data = nil
	}
	cfg, err := Parse(data, os.Getenv)
	if err != nil {
		return nil, errgo.Notef(err, "bad configuration in %q", path)
	}
	return cfg, nil
}

// Parse parses the given YAML configuration, applies overrides
// from environment variables obtained by calling getenv
// and fills in defaults.
func Parse(data []byte, getenv func(string) string) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, errgo.Mask(err)
	}
	for _, v := range envVars {
		if val := getenv(v.name); val != "" {
			v.set(&cfg, val)
		}
	}
	if err := cfg.setDefaults(); err != nil {
		return nil, errgo.Mask(err)
	}
	return &cfg, nil
}

func (c *Config) setDefaults() error {
	switch c.Source {
	case "":
		if c.Local.Address != "" {
			c.Source = SourceLocal
		} else {
			c.Source = SourceCloud
		}
	case SourceCloud, SourceLocal:
	default:
		return errgo.Newf("unknown source %q (must be %q or %q)", c.Source, SourceCloud, SourceLocal)
	}
	if c.Interval.Duration == 0 {
		if c.Source == SourceLocal {
			c.Interval.Duration = DefaultLocalInterval
		} else {
			c.Interval.Duration = DefaultCloudInterval
		}
	}
	if c.Retry.Initial.Duration == 0 {
		// Failed polls are retried at the polling interval by default.
		c.Retry.Initial = c.Interval
	}
	if c.History == 0 {
		c.History = monitor.DefaultHistory
	}
	if c.LogPath == "" {
		c.LogPath = DefaultLogPath
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	if c.DeviceName == "" {
		c.DeviceName = DefaultDeviceName
	}
	if c.LogLevel == "" {
		c.LogLevel = "<root>=INFO"
	}
	return nil
}

// Validate checks that all the secrets required by the
// configured source are present. The local protocol version
// is not required; tuyalocal uses version 3.3 when it's empty. The returned error
// has ErrMissingSecret as its cause and names all the
// missing secrets by their environment variable.
func (c *Config) Validate() error {
	var missing []string
	check := func(val, env string) {
		if val == "" {
			missing = append(missing, env)
		}
	}
	check(c.DeviceID, "DEVICE_ID")
	switch c.Source {
	case SourceCloud:
		check(c.Cloud.AccessID, "ACCESS_ID")
		check(c.Cloud.AccessSecret, "ACCESS_SECRET")
		check(c.Cloud.Endpoint, "API_ENDPOINT")
	case SourceLocal:
		check(c.Local.Address, "DEVICE_IP")
		check(c.Local.LocalKey, "LOCAL_KEY")
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return errgo.WithCausef(nil, ErrMissingSecret, "missing required secrets for %s source: %s", c.Source, strings.Join(missing, ", "))
	}
	return nil
}

// RetryPolicy returns the retry policy for the monitor.
func (c *Config) RetryPolicy() monitor.RetryPolicy {
	return monitor.RetryPolicy{
		Initial:     c.Retry.Initial.Duration,
		Factor:      c.Retry.Factor,
		MaxDelay:    c.Retry.MaxDelay.Duration,
		Jitter:      c.Retry.Jitter,
		MaxAttempts: c.Retry.MaxAttempts,
	}
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, errgo.Notef(err, "cannot load time zone %q", c.TimeZone)
	}
	return loc, nil
}

// OpenSource validates the configuration and opens the configured
// telemetry source. An error means that the monitor cannot start.
func (c *Config) OpenSource(ctx context.Context) (plug.Source, error) {
	if err := c.Validate(); err != nil {
		return nil, errgo.Mask(err, errgo.Is(ErrMissingSecret))
	}
	switch c.Source {
	case SourceCloud:
		src, err := tuyacloud.Open(ctx, tuyacloud.Params{
			Endpoint:     c.Cloud.Endpoint,
			AccessID:     c.Cloud.AccessID,
			AccessSecret: c.Cloud.AccessSecret,
			DeviceID:     c.DeviceID,
			Codes:        c.Cloud.Codes,
		})
		if err != nil {
			return nil, errgo.Mask(err, errgo.Any)
		}
		return src, nil
	case SourceLocal:
		src, err := tuyalocal.Open(ctx, tuyalocal.Params{
			DeviceID: c.DeviceID,
			Address:  c.Local.Address,
			LocalKey: c.Local.LocalKey,
			Version:  c.Local.Version,
			DPS:      c.Local.DPS,
			Timeout:  c.Local.Timeout.Duration,
		})
		if err != nil {
			return nil, errgo.Mask(err, errgo.Any)
		}
		return src, nil
	}
	return nil, errgo.Newf("unknown source %q", c.Source)
}
