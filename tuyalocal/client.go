// Package tuyalocal implements a plug.Source that reads plug
// status directly from the plug over the Tuya local network protocol.
package tuyalocal

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/juju/loggo"
	"gopkg.in/errgo.v1"

	"github.com/rogpeppe/plugmon/plug"
)

var logger = loggo.GetLogger("plugmon.tuyalocal")

// DefaultPort holds the TCP port that plugs listen on.
const DefaultPort = 6668

// DefaultTimeout holds the default timeout for a single poll.
const DefaultTimeout = 5 * time.Second

// DPS holds the data point indices that a plug uses
// to report each measured quantity.
type DPS struct {
	Power   int
	Voltage int
	Current int
}

// DefaultDPS holds the data point indices used by most metering plugs.
var DefaultDPS = DPS{
	Power:   19,
	Voltage: 20,
	Current: 18,
}

// Params holds the parameters for a call to Open.
type Params struct {
	// DeviceID holds the id of the plug.
	DeviceID string
	// Address holds the host name or IP address of the plug,
	// optionally with a port. If there is no port, DefaultPort is used.
	Address string
	// LocalKey holds the plug's 16 byte local key.
	LocalKey string
	// Version holds the protocol version, "3.1" or "3.3".
	// If it's empty, "3.3" is used.
	Version string
	// DPS holds the data point indices to read. Any zero
	// index is taken from DefaultDPS.
	DPS DPS
	// Timeout holds the maximum time a poll can take.
	// If it's zero, DefaultTimeout is used.
	Timeout time.Duration
	// Now is used to query the current time. If it's nil, time.Now will be used.
	Now func() time.Time
}

// Client is a plug.Source that talks directly to a plug.
type Client struct {
	p      Params
	cipher *Cipher
	dialer net.Dialer

	// mu guards seq and serializes polls.
	mu  sync.Mutex
	seq uint32
}

var _ plug.Source = (*Client)(nil)

// Open returns a new Client that reads from the given plug.
// It polls the plug once before returning, so an error
// means that the plug could not be read with the given parameters.
func Open(ctx context.Context, p Params) (*Client, error) {
	if p.DeviceID == "" {
		return nil, errgo.Newf("no device id set")
	}
	if p.Address == "" {
		return nil, errgo.Newf("no device address set")
	}
	if p.Version == "" {
		p.Version = Version33
	}
	cipher, err := NewCipher(p.Version, p.LocalKey)
	if err != nil {
		return nil, errgo.Mask(err)
	}
	if _, _, err := net.SplitHostPort(p.Address); err != nil {
		p.Address = net.JoinHostPort(p.Address, strconv.Itoa(DefaultPort))
	}
	if p.DPS.Power == 0 {
		p.DPS.Power = DefaultDPS.Power
	}
	if p.DPS.Voltage == 0 {
		p.DPS.Voltage = DefaultDPS.Voltage
	}
	if p.DPS.Current == 0 {
		p.DPS.Current = DefaultDPS.Current
	}
	if p.Timeout == 0 {
		p.Timeout = DefaultTimeout
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	c := &Client{
		p:      p,
		cipher: cipher,
	}
	if _, err := c.Poll(ctx); err != nil {
		return nil, errgo.Notef(err, "cannot connect to plug")
	}
	return c, nil
}

// Poll implements plug.Source.Poll by querying the
// plug's data points over a new connection.
func (c *Client) Poll(ctx context.Context) (plug.Measurement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dps, err := c.query(ctx)
	if err != nil {
		return plug.Measurement{}, errgo.Mask(err)
	}
	return plug.Values(dps,
		strconv.Itoa(c.p.DPS.Power),
		strconv.Itoa(c.p.DPS.Voltage),
		strconv.Itoa(c.p.DPS.Current),
	), nil
}

// Close implements plug.Source.Close.
func (c *Client) Close() error {
	return nil
}

// Query holds the JSON payload of a data point query.
type Query struct {
	GwID  string `json:"gwId"`
	DevID string `json:"devId"`
	UID   string `json:"uid"`
	T     string `json:"t"`
}

// Status holds the JSON payload of a device status reply.
type Status struct {
	DevID string                 `json:"devId,omitempty"`
	DPS   map[string]interface{} `json:"dps"`
	T     int64                  `json:"t,omitempty"`
}

// query makes a single data point query and returns the
// reported data points.
func (c *Client) query(ctx context.Context) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.p.Timeout)
	defer cancel()
	conn, err := c.dialer.DialContext(ctx, "tcp", c.p.Address)
	if err != nil {
		return nil, errgo.Mask(err)
	}
	defer conn.Close()
	// Unblock any pending I/O when the context is done, which
	// includes when the poll times out.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.SetDeadline(time.Now())
		case <-done:
		}
	}()

	data, err := json.Marshal(Query{
		GwID:  c.p.DeviceID,
		DevID: c.p.DeviceID,
		UID:   c.p.DeviceID,
		T:     strconv.FormatInt(c.p.Now().Unix(), 10),
	})
	if err != nil {
		return nil, errgo.Mask(err)
	}
	c.seq++
	req := &Message{
		Seq:     c.seq,
		Cmd:     CmdDPQuery,
		Payload: c.cipher.EncodeQuery(CmdDPQuery, data),
	}
	if _, err := conn.Write(req.Marshal()); err != nil {
		return nil, errgo.Notef(err, "cannot send query")
	}
	for {
		m, err := ReadMessage(conn, true)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errgo.Notef(ctx.Err(), "cannot read reply")
			}
			return nil, errgo.Notef(err, "cannot read reply")
		}
		if m.Cmd != CmdDPQuery && m.Cmd != CmdStatus {
			logger.Debugf("ignoring message with command %#x", m.Cmd)
			continue
		}
		if m.HasRetCode && m.RetCode != 0 {
			return nil, errgo.Newf("plug returned error code %d", m.RetCode)
		}
		data, err := c.cipher.Decode(m.Payload)
		if err != nil {
			return nil, errgo.Mask(err)
		}
		if len(data) == 0 {
			logger.Debugf("ignoring empty reply")
			continue
		}
		var status Status
		if err := json.Unmarshal(data, &status); err != nil {
			return nil, errgo.Newf("unexpected reply from plug: %q", data)
		}
		return status.DPS, nil
	}
}
