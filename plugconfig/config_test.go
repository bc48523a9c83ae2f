package plugconfig_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"gopkg.in/errgo.v1"

	"github.com/rogpeppe/plugmon/monitor"
	"github.com/rogpeppe/plugmon/plugconfig"
	"github.com/rogpeppe/plugmon/tuyacloud"
	"github.com/rogpeppe/plugmon/tuyacloudtest"
	"github.com/rogpeppe/plugmon/tuyalocaltest"
)

const testKey = "0123456789abcdef"

func env(m map[string]string) func(string) string {
	return func(k string) string {
		return m[k]
	}
}

func TestParseDefaults(t *testing.T) {
	c := qt.New(t)
	cfg, err := plugconfig.Parse(nil, env(nil))
	c.Assert(err, qt.IsNil)
	c.Assert(cfg, qt.DeepEquals, &plugconfig.Config{
		Source:     plugconfig.SourceCloud,
		DeviceName: plugconfig.DefaultDeviceName,
		Interval:   plugconfig.Duration{30 * time.Second},
		Retry: plugconfig.RetryConfig{
			Initial: plugconfig.Duration{30 * time.Second},
		},
		History:  monitor.DefaultHistory,
		LogPath:  plugconfig.DefaultLogPath,
		HTTPAddr: plugconfig.DefaultHTTPAddr,
		LogLevel: "<root>=INFO",
	})
}

func TestParseLocalFromEnvironment(t *testing.T) {
	c := qt.New(t)
	cfg, err := plugconfig.Parse(nil, env(map[string]string{
		"DEVICE_ID":        "dev1",
		"DEVICE_IP":        "192.168.1.20",
		"LOCAL_KEY":        testKey,
		"PROTOCOL_VERSION": "3.1",
	}))
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.Source, qt.Equals, plugconfig.SourceLocal)
	c.Assert(cfg.Interval.Duration, qt.Equals, 15*time.Second)
	c.Assert(cfg.Retry.Initial.Duration, qt.Equals, 15*time.Second)
	c.Assert(cfg.DeviceID, qt.Equals, "dev1")
	c.Assert(cfg.Local, qt.DeepEquals, plugconfig.LocalConfig{
		Address:  "192.168.1.20",
		LocalKey: testKey,
		Version:  "3.1",
	})
	c.Assert(cfg.Validate(), qt.IsNil)
}

var parseTests = []struct {
	testName    string
	yaml        string
	env         map[string]string
	expectError string
	check       func(c *qt.C, cfg *plugconfig.Config)
}{{
	testName: "full-file",
	yaml: `
source: cloud
device_name: kettle
device_id: abc
cloud:
    endpoint: https://openapi.tuyaeu.com
    access_id: id
    access_secret: secret
    codes:
        power: power
interval: 1m
retry:
    initial: 5s
    factor: 2
    max_delay: 5m
    jitter: true
    max_attempts: 10
history: 50
log_format: bolt
log_path: /var/lib/plugmon/readings.db
time_zone: Europe/London
http_addr: localhost:9000
metrics: true
log_level: plugmon=DEBUG
ntp:
    enabled: true
    host: time.google.com
influx:
    url: http://localhost:8086
    token: tok
    org: home
    bucket: power
`,
	check: func(c *qt.C, cfg *plugconfig.Config) {
		c.Assert(cfg, qt.DeepEquals, &plugconfig.Config{
			Source:     "cloud",
			DeviceName: "kettle",
			DeviceID:   "abc",
			Cloud: plugconfig.CloudConfig{
				Endpoint:     "https://openapi.tuyaeu.com",
				AccessID:     "id",
				AccessSecret: "secret",
				Codes: tuyacloud.Codes{
					Power: "power",
				},
			},
			Interval: plugconfig.Duration{time.Minute},
			Retry: plugconfig.RetryConfig{
				Initial:     plugconfig.Duration{5 * time.Second},
				Factor:      2,
				MaxDelay:    plugconfig.Duration{5 * time.Minute},
				Jitter:      true,
				MaxAttempts: 10,
			},
			History:   50,
			LogFormat: "bolt",
			LogPath:   "/var/lib/plugmon/readings.db",
			TimeZone:  "Europe/London",
			HTTPAddr:  "localhost:9000",
			Metrics:   true,
			LogLevel:  "plugmon=DEBUG",
			NTP: plugconfig.NTPConfig{
				Enabled: true,
				Host:    "time.google.com",
			},
			Influx: plugconfig.InfluxConfig{
				URL:    "http://localhost:8086",
				Token:  "tok",
				Org:    "home",
				Bucket: "power",
			},
		})
		c.Assert(cfg.RetryPolicy(), qt.DeepEquals, monitor.RetryPolicy{
			Initial:     5 * time.Second,
			Factor:      2,
			MaxDelay:    5 * time.Minute,
			Jitter:      true,
			MaxAttempts: 10,
		})
	},
}, {
	testName: "environment-overrides-file",
	yaml: `
device_id: fromfile
cloud:
    access_secret: fromfile
`,
	env: map[string]string{
		"ACCESS_SECRET":     "fromenv",
		"PLUGMON_LOG_LEVEL": "<root>=TRACE",
	},
	check: func(c *qt.C, cfg *plugconfig.Config) {
		c.Assert(cfg.DeviceID, qt.Equals, "fromfile")
		c.Assert(cfg.Cloud.AccessSecret, qt.Equals, "fromenv")
		c.Assert(cfg.LogLevel, qt.Equals, "<root>=TRACE")
	},
}, {
	testName: "explicit-source-wins",
	env: map[string]string{
		"DEVICE_IP":      "10.0.0.1",
		"PLUGMON_SOURCE": "cloud",
	},
	check: func(c *qt.C, cfg *plugconfig.Config) {
		c.Assert(cfg.Source, qt.Equals, plugconfig.SourceCloud)
		c.Assert(cfg.Interval.Duration, qt.Equals, plugconfig.DefaultCloudInterval)
	},
}, {
	testName:    "unknown-source",
	yaml:        `source: bluetooth`,
	expectError: `unknown source "bluetooth" \(must be "cloud" or "local"\)`,
}, {
	testName:    "unknown-field",
	yaml:        `colour: red`,
	expectError: `(?s)yaml: unmarshal errors:\n.*field colour not found.*`,
}, {
	testName:    "bad-duration",
	yaml:        `interval: soon`,
	expectError: `time: invalid duration "?soon"?`,
}}

func TestParse(t *testing.T) {
	c := qt.New(t)
	for _, test := range parseTests {
		c.Run(test.testName, func(c *qt.C) {
			cfg, err := plugconfig.Parse([]byte(test.yaml), env(test.env))
			if test.expectError != "" {
				c.Assert(err, qt.ErrorMatches, test.expectError)
				return
			}
			c.Assert(err, qt.IsNil)
			test.check(c, cfg)
		})
	}
}

var validateTests = []struct {
	testName    string
	env         map[string]string
	expectError string
}{{
	testName:    "cloud-nothing-set",
	expectError: `missing required secrets for cloud source: ACCESS_ID, ACCESS_SECRET, API_ENDPOINT, DEVICE_ID`,
}, {
	testName: "cloud-some-set",
	env: map[string]string{
		"ACCESS_ID": "id",
		"DEVICE_ID": "dev",
	},
	expectError: `missing required secrets for cloud source: ACCESS_SECRET, API_ENDPOINT`,
}, {
	testName: "local-missing-key",
	env: map[string]string{
		"DEVICE_IP": "10.0.0.1",
	},
	expectError: `missing required secrets for local source: DEVICE_ID, LOCAL_KEY`,
}, {
	testName: "local-without-version",
	env: map[string]string{
		"DEVICE_ID": "dev",
		"DEVICE_IP": "10.0.0.1",
		"LOCAL_KEY": testKey,
	},
}, {
	testName: "cloud-complete",
	env: map[string]string{
		"ACCESS_ID":     "id",
		"ACCESS_SECRET": "secret",
		"API_ENDPOINT":  "https://openapi.tuyaus.com",
		"DEVICE_ID":     "dev",
	},
}}

func TestValidate(t *testing.T) {
	c := qt.New(t)
	for _, test := range validateTests {
		c.Run(test.testName, func(c *qt.C) {
			cfg, err := plugconfig.Parse(nil, env(test.env))
			c.Assert(err, qt.IsNil)
			err = cfg.Validate()
			if test.expectError == "" {
				c.Assert(err, qt.IsNil)
				return
			}
			c.Assert(err, qt.ErrorMatches, test.expectError)
			c.Assert(errgo.Cause(err), qt.Equals, plugconfig.ErrMissingSecret)
		})
	}
}

func TestLoadMissingDefaultFile(t *testing.T) {
	c := qt.New(t)
	dir := c.TempDir()
	cwd, err := os.Getwd()
	c.Assert(err, qt.IsNil)
	c.Assert(os.Chdir(dir), qt.IsNil)
	c.Cleanup(func() {
		os.Chdir(cwd)
	})
	c.Setenv("DEVICE_ID", "envdevice")
	cfg, err := plugconfig.Load(plugconfig.DefaultPath)
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.DeviceID, qt.Equals, "envdevice")
}

func TestLoadMissingFile(t *testing.T) {
	c := qt.New(t)
	_, err := plugconfig.Load(filepath.Join(c.TempDir(), "nope.yaml"))
	c.Assert(err, qt.ErrorMatches, `cannot read configuration: open .*nope.yaml: no such file or directory`)
}

func TestLoadBadFile(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(c.TempDir(), "plugmon.yaml")
	err := os.WriteFile(path, []byte("interval: [1, 2]\n"), 0666)
	c.Assert(err, qt.IsNil)
	_, err = plugconfig.Load(path)
	c.Assert(err, qt.ErrorMatches, `(?s)bad configuration in ".*plugmon.yaml": .*`)
}

func TestLocation(t *testing.T) {
	c := qt.New(t)
	cfg := &plugconfig.Config{}
	loc, err := cfg.Location()
	c.Assert(err, qt.IsNil)
	c.Assert(loc, qt.Equals, time.Local)

	cfg.TimeZone = "Nowhere/Special"
	_, err = cfg.Location()
	c.Assert(err, qt.ErrorMatches, `cannot load time zone "Nowhere/Special": .*`)
}

func TestOpenSourceMissingSecrets(t *testing.T) {
	c := qt.New(t)
	cfg, err := plugconfig.Parse(nil, env(nil))
	c.Assert(err, qt.IsNil)
	_, err = cfg.OpenSource(context.Background())
	c.Assert(errgo.Cause(err), qt.Equals, plugconfig.ErrMissingSecret)
}

func TestOpenSourceCloud(t *testing.T) {
	c := qt.New(t)
	srv := tuyacloudtest.NewServer("id", "secret")
	defer srv.Close()
	srv.SetStatus("dev", tuyacloudtest.StatusItem{Code: "cur_power", Value: 235})
	cfg, err := plugconfig.Parse(nil, env(map[string]string{
		"ACCESS_ID":     "id",
		"ACCESS_SECRET": "secret",
		"API_ENDPOINT":  srv.URL,
		"DEVICE_ID":     "dev",
	}))
	c.Assert(err, qt.IsNil)
	src, err := cfg.OpenSource(context.Background())
	c.Assert(err, qt.IsNil)
	defer src.Close()
	_, ok := src.(*tuyacloud.Client)
	c.Assert(ok, qt.IsTrue)
	m, err := src.Poll(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(m.Power, qt.Equals, 23.5)
}

func TestOpenSourceCloudBadCredentials(t *testing.T) {
	c := qt.New(t)
	srv := tuyacloudtest.NewServer("id", "secret")
	defer srv.Close()
	cfg, err := plugconfig.Parse(nil, env(map[string]string{
		"ACCESS_ID":     "id",
		"ACCESS_SECRET": "wrong",
		"API_ENDPOINT":  srv.URL,
		"DEVICE_ID":     "dev",
	}))
	c.Assert(err, qt.IsNil)
	_, err = cfg.OpenSource(context.Background())
	c.Assert(err, qt.ErrorMatches, `cannot connect to Tuya cloud: .*`)
}

func TestOpenSourceLocal(t *testing.T) {
	c := qt.New(t)
	dev, err := tuyalocaltest.NewDevice("localhost:0", "dev", "3.3", testKey)
	c.Assert(err, qt.IsNil)
	defer dev.Close()
	dev.SetDPS(map[string]interface{}{
		"18": 1500,
		"19": 235,
		"20": 2301,
	})
	cfg, err := plugconfig.Parse(nil, env(map[string]string{
		"DEVICE_ID":        "dev",
		"DEVICE_IP":        dev.Addr,
		"LOCAL_KEY":        testKey,
		"PROTOCOL_VERSION": "3.3",
	}))
	c.Assert(err, qt.IsNil)
	src, err := cfg.OpenSource(context.Background())
	c.Assert(err, qt.IsNil)
	defer src.Close()
	m, err := src.Poll(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(m.Power, qt.Equals, 23.5)
	c.Assert(m.Voltage, qt.Equals, 230.1)
	c.Assert(m.Current, qt.Equals, 1500.0)
}

func TestOpenSourceLocalDefaultVersion(t *testing.T) {
	c := qt.New(t)
	dev, err := tuyalocaltest.NewDevice("localhost:0", "dev", "3.3", testKey)
	c.Assert(err, qt.IsNil)
	defer dev.Close()
	dev.SetDPS(map[string]interface{}{
		"19": 120,
	})
	cfg, err := plugconfig.Parse(nil, env(map[string]string{
		"DEVICE_ID": "dev",
		"DEVICE_IP": dev.Addr,
		"LOCAL_KEY": testKey,
	}))
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.Local.Version, qt.Equals, "")
	src, err := cfg.OpenSource(context.Background())
	c.Assert(err, qt.IsNil)
	defer src.Close()
	m, err := src.Poll(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(m.Power, qt.Equals, 12.0)
}
