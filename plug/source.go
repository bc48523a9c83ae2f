// Package plug defines the interface presented by a source of smart
// plug telemetry, and helpers shared by its implementations.
package plug

import (
	"context"
	"encoding/json"
	"strconv"
)

// Source represents a smart plug that can be asked
// for its current power, voltage and current.
type Source interface {
	// Poll asks the plug for its current measurement.
	// Each call is independent of any other.
	// An error is a transient failure; the caller may
	// try again later.
	Poll(ctx context.Context) (Measurement, error)

	// Close releases any resources held by the source.
	Close() error
}

// Measurement holds the instantaneous values reported by a plug.
type Measurement struct {
	// Power holds the real power in W.
	Power float64
	// Voltage holds the voltage in V.
	Voltage float64
	// Current holds the current in mA.
	Current float64
}

// FromRaw returns the measurement corresponding to the raw
// values reported by a plug. Plugs report power and voltage in
// tenths of a unit, and current in mA.
func FromRaw(power, voltage, current float64) Measurement {
	return Measurement{
		Power:   power / 10,
		Voltage: voltage / 10,
		Current: current,
	}
}

// Number returns the numeric value of a raw status value as
// decoded from JSON. Numbers held in strings are also accepted.
// It reports whether v held a number.
func Number(v interface{}) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

// Values holds the raw power, voltage and current values reported
// by a plug, looked up by key in a status map. A value that's
// missing or not numeric is taken as zero.
func Values[K comparable](status map[K]interface{}, power, voltage, current K) Measurement {
	get := func(k K) float64 {
		f, _ := Number(status[k])
		return f
	}
	return FromRaw(get(power), get(voltage), get(current))
}
