// Package tuyalocaltest provides a fake plug that speaks the
// Tuya local protocol, for testing.
package tuyalocaltest

import (
	"encoding/json"
	"log"
	"net"
	"sync"

	"github.com/rogpeppe/plugmon/tuyalocal"
)

// Device is a fake plug listening on a TCP address.
type Device struct {
	// Addr holds the address the device is listening on.
	Addr string

	id     string
	cipher *tuyalocal.Cipher
	lis    net.Listener
	wg     sync.WaitGroup

	mu  sync.Mutex
	dps map[string]interface{}
	// retCode holds the return code sent in replies.
	retCode uint32
	// heartbeat causes a heartbeat to be sent before each reply.
	heartbeat bool
	queries   []tuyalocal.Query
}

// NewDevice starts a fake plug listening on addr that
// uses the given protocol version and local key.
// Use "localhost:0" to listen on any free port.
func NewDevice(addr, id, version, localKey string) (*Device, error) {
	cipher, err := tuyalocal.NewCipher(version, localKey)
	if err != nil {
		return nil, err
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	d := &Device{
		Addr:   lis.Addr().String(),
		id:     id,
		cipher: cipher,
		lis:    lis,
		dps:    make(map[string]interface{}),
	}
	d.wg.Add(1)
	go d.serve()
	return d, nil
}

// SetDPS sets the data points reported by the device.
func (d *Device) SetDPS(dps map[string]interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dps = dps
}

// SetRetCode sets the return code sent in replies.
func (d *Device) SetRetCode(code uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.retCode = code
}

// SetHeartbeat sets whether the device sends a heartbeat
// message before each reply.
func (d *Device) SetHeartbeat(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.heartbeat = on
}

// Queries returns all the queries received so far.
func (d *Device) Queries() []tuyalocal.Query {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]tuyalocal.Query(nil), d.queries...)
}

// Close stops the device.
func (d *Device) Close() error {
	err := d.lis.Close()
	d.wg.Wait()
	return err
}

func (d *Device) serve() {
	defer d.wg.Done()
	for {
		conn, err := d.lis.Accept()
		if err != nil {
			return
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer conn.Close()
			if err := d.handle(conn); err != nil {
				log.Printf("fake device: %v", err)
			}
		}()
	}
}

func (d *Device) handle(conn net.Conn) error {
	for {
		m, err := tuyalocal.ReadMessage(conn, false)
		if err != nil {
			return nil
		}
		if m.Cmd != tuyalocal.CmdDPQuery {
			continue
		}
		data, err := d.cipher.Decode(m.Payload)
		if err != nil {
			return err
		}
		var q tuyalocal.Query
		if err := json.Unmarshal(data, &q); err != nil {
			return err
		}
		d.mu.Lock()
		d.queries = append(d.queries, q)
		reply, err := json.Marshal(tuyalocal.Status{
			DevID: d.id,
			DPS:   d.dps,
		})
		retCode, heartbeat := d.retCode, d.heartbeat
		d.mu.Unlock()
		if err != nil {
			return err
		}
		if heartbeat {
			hb := &tuyalocal.Message{
				Seq:        m.Seq,
				Cmd:        tuyalocal.CmdHeartBeat,
				HasRetCode: true,
			}
			if _, err := conn.Write(hb.Marshal()); err != nil {
				return err
			}
		}
		resp := &tuyalocal.Message{
			Seq:        m.Seq,
			Cmd:        tuyalocal.CmdDPQuery,
			RetCode:    retCode,
			HasRetCode: true,
			Payload:    d.cipher.EncodeReply(reply),
		}
		if _, err := conn.Write(resp.Marshal()); err != nil {
			return err
		}
	}
}
