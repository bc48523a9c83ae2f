// The fakeplug command runs a fake Tuya cloud server and a fake
// local plug, both reporting a slowly varying load, so that plugmon
// can be tried out without real hardware.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/rogpeppe/plugmon/tuyacloudtest"
	"github.com/rogpeppe/plugmon/tuyalocal"
	"github.com/rogpeppe/plugmon/tuyalocaltest"
)

var (
	localAddr    = flag.String("local", fmt.Sprintf("localhost:%d", tuyalocal.DefaultPort), "listen address of the fake local plug")
	deviceID     = flag.String("id", "fakeplug0001", "device id")
	localKey     = flag.String("key", "0123456789abcdef", "local key of the fake plug")
	version      = flag.String("version", tuyalocal.Version33, "local protocol version")
	accessID     = flag.String("access-id", "fakeid", "cloud access id")
	accessSecret = flag.String("access-secret", "fakesecret", "cloud access secret")
	interval     = flag.Duration("interval", 5*time.Second, "interval between load changes")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: fakeplug [flags]\n")
		flag.PrintDefaults()
		os.Exit(2)
	}
	flag.Parse()
	if flag.NArg() != 0 {
		flag.Usage()
	}
	cloud := tuyacloudtest.NewServer(*accessID, *accessSecret)
	defer cloud.Close()
	dev, err := tuyalocaltest.NewDevice(*localAddr, *deviceID, *version, *localKey)
	if err != nil {
		log.Fatalf("cannot start local plug: %v", err)
	}
	defer dev.Close()

	fmt.Printf("API_ENDPOINT=%s\n", cloud.URL)
	fmt.Printf("ACCESS_ID=%s\n", *accessID)
	fmt.Printf("ACCESS_SECRET=%s\n", *accessSecret)
	fmt.Printf("DEVICE_ID=%s\n", *deviceID)
	fmt.Printf("DEVICE_IP=%s\n", dev.Addr)
	fmt.Printf("LOCAL_KEY=%s\n", *localKey)
	fmt.Printf("PROTOCOL_VERSION=%s\n", *version)

	load := newLoad()
	for {
		power, voltage, current := load.next()
		cloud.SetStatus(*deviceID,
			tuyacloudtest.StatusItem{Code: "switch_1", Value: true},
			tuyacloudtest.StatusItem{Code: "cur_power", Value: power},
			tuyacloudtest.StatusItem{Code: "cur_voltage", Value: voltage},
			tuyacloudtest.StatusItem{Code: "cur_current", Value: current},
		)
		dev.SetDPS(map[string]interface{}{
			"1":  true,
			"18": current,
			"19": power,
			"20": voltage,
		})
		time.Sleep(*interval)
	}
}

// load simulates an appliance whose power draw wanders
// between zero and 3kW.
type load struct {
	rand  *rand.Rand
	watts float64
}

func newLoad() *load {
	return &load{
		rand:  rand.New(rand.NewSource(time.Now().UnixNano())),
		watts: 100,
	}
}

// next returns the next raw values as reported by a plug:
// power in tenths of a watt, voltage in tenths of a volt
// and current in milliamps.
func (l *load) next() (power, voltage, current int) {
	l.watts += l.rand.NormFloat64() * 50
	if l.watts < 0 {
		l.watts = 0
	}
	if l.watts > 3000 {
		l.watts = 3000
	}
	volts := 230 + l.rand.NormFloat64()*2
	return int(l.watts * 10), int(volts * 10), int(l.watts / volts * 1000)
}
