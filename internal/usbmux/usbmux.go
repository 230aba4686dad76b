// Package usbmux talks to usbmuxd and, through it, to lockdownd on a
// connected iOS device: enumerating devices, opening TCP-like byte
// channels to device ports, starting named lockdown services, and
// resolving installed app bundle ids to filesystem paths.
package usbmux

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"howett.net/plist"
)

const progName = "idev"

var (
	// ErrNoDevice means no attached device matched the selector.
	ErrNoDevice = errors.New("usbmux: no device found")

	// ErrNotFound covers unresolvable services and app identifiers.
	ErrNotFound = errors.New("usbmux: not found")
)

// Client speaks the usbmuxd plist protocol. Each request opens its own
// connection; a successful Connect hands the connection over to the
// caller as a raw byte pipe. Safe for concurrent use: the relay opens
// one channel per accepted client from pump goroutines.
type Client struct {
	dial func() (net.Conn, error)
	tag  atomic.Uint32
}

// New returns a client for the given usbmuxd endpoint. An endpoint
// containing ":" is dialed as TCP, anything else as a unix socket path.
func New(socket string) *Client {
	network := "unix"
	if strings.Contains(socket, ":") {
		network = "tcp"
	}
	return &Client{
		dial: func() (net.Conn, error) {
			return net.DialTimeout(network, socket, 5*time.Second)
		},
	}
}

type Device struct {
	ID     int
	Serial string
}

// usbmuxd frames: 16-byte little-endian header (total length including
// the header, version=1, message type=8 for plist, tag) followed by an
// XML plist payload.
const (
	muxHeaderLen    = 16
	muxVersion      = 1
	muxTypePlist    = 8
	muxMaxPlistSize = 1 << 20
)

func writeMux(c net.Conn, tag uint32, msg any) error {
	body, err := plist.Marshal(msg, plist.XMLFormat)
	if err != nil {
		return fmt.Errorf("marshal usbmux request: %w", err)
	}
	hdr := make([]byte, muxHeaderLen, muxHeaderLen+len(body))
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(muxHeaderLen+len(body)))
	binary.LittleEndian.PutUint32(hdr[4:8], muxVersion)
	binary.LittleEndian.PutUint32(hdr[8:12], muxTypePlist)
	binary.LittleEndian.PutUint32(hdr[12:16], tag)
	if _, err := c.Write(append(hdr, body...)); err != nil {
		return fmt.Errorf("write usbmux request: %w", err)
	}
	return nil
}

func readMux(c net.Conn) (map[string]any, error) {
	hdr := make([]byte, muxHeaderLen)
	if _, err := io.ReadFull(c, hdr); err != nil {
		return nil, fmt.Errorf("read usbmux header: %w", err)
	}
	total := binary.LittleEndian.Uint32(hdr[0:4])
	if total < muxHeaderLen || total > muxMaxPlistSize {
		return nil, fmt.Errorf("usbmux reply length %d out of range", total)
	}
	body := make([]byte, total-muxHeaderLen)
	if _, err := io.ReadFull(c, body); err != nil {
		return nil, fmt.Errorf("read usbmux payload: %w", err)
	}
	var msg map[string]any
	if _, err := plist.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("parse usbmux reply: %w", err)
	}
	return msg, nil
}

func (m *Client) exchange(c net.Conn, req map[string]any) (map[string]any, error) {
	tag := m.tag.Add(1)
	req["ProgName"] = progName
	req["ClientVersionString"] = progName
	_ = c.SetDeadline(time.Now().Add(30 * time.Second))
	if err := writeMux(c, tag, req); err != nil {
		return nil, err
	}
	resp, err := readMux(c)
	if err != nil {
		return nil, err
	}
	_ = c.SetDeadline(time.Time{})
	return resp, nil
}

// ListDevices returns the currently attached devices.
func (m *Client) ListDevices() ([]Device, error) {
	c, err := m.dial()
	if err != nil {
		return nil, fmt.Errorf("dial usbmuxd: %w", err)
	}
	defer c.Close()

	resp, err := m.exchange(c, map[string]any{"MessageType": "ListDevices"})
	if err != nil {
		return nil, err
	}
	list, _ := resp["DeviceList"].([]any)
	devices := make([]Device, 0, len(list))
	for _, entry := range list {
		rec, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		dev := Device{ID: asInt(rec["DeviceID"])}
		if props, ok := rec["Properties"].(map[string]any); ok {
			dev.Serial, _ = props["SerialNumber"].(string)
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

// DeviceBySerial resolves a device by its 40-character serial. An empty
// serial selects the first attached device.
func (m *Client) DeviceBySerial(serial string) (Device, error) {
	devices, err := m.ListDevices()
	if err != nil {
		return Device{}, err
	}
	if len(devices) == 0 {
		return Device{}, fmt.Errorf("%w: is it plugged in?", ErrNoDevice)
	}
	if serial == "" {
		return devices[0], nil
	}
	for _, d := range devices {
		if d.Serial == serial {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("%w: serial %s", ErrNoDevice, serial)
}

// Connect opens a byte-duplex channel to a TCP port on the device. On
// success the returned connection carries the service traffic directly.
func (m *Client) Connect(dev Device, port int) (net.Conn, error) {
	c, err := m.dial()
	if err != nil {
		return nil, fmt.Errorf("dial usbmuxd: %w", err)
	}

	resp, err := m.exchange(c, map[string]any{
		"MessageType": "Connect",
		"DeviceID":    dev.ID,
		// Port travels in network byte order inside the LE message.
		"PortNumber": ((port << 8) | (port >> 8)) & 0xFFFF,
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	if n := asInt(resp["Number"]); n != 0 {
		c.Close()
		if n == 2 {
			return nil, fmt.Errorf("%w: device %d port %d", ErrNoDevice, dev.ID, port)
		}
		return nil, fmt.Errorf("usbmux connect to device %d port %d refused (result %d)", dev.ID, port, n)
	}
	return c, nil
}

// asInt converts the integer shapes the plist decoder produces.
func asInt(v any) int {
	switch n := v.(type) {
	case uint64:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
