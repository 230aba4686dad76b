package usbmux

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"howett.net/plist"
)

// lockdownd listens on a fixed device port and frames plist documents
// with a 4-byte big-endian length prefix.
const lockdownPort = 62078

const lockdownMaxPlistSize = 1 << 20

func writeLockdown(c net.Conn, msg any, format int) error {
	body, err := plist.Marshal(msg, format)
	if err != nil {
		return fmt.Errorf("marshal lockdown request: %w", err)
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := c.Write(append(hdr[:], body...)); err != nil {
		return fmt.Errorf("write lockdown request: %w", err)
	}
	return nil
}

func readLockdown(c net.Conn) (map[string]any, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c, hdr[:]); err != nil {
		return nil, fmt.Errorf("read lockdown header: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 || n > lockdownMaxPlistSize {
		return nil, fmt.Errorf("lockdown reply length %d out of range", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(c, body); err != nil {
		return nil, fmt.Errorf("read lockdown payload: %w", err)
	}
	var msg map[string]any
	if _, err := plist.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("parse lockdown reply: %w", err)
	}
	return msg, nil
}

// StartService asks lockdownd for the device port of a named service.
// The device is assumed to be previously paired and trusted; no session
// negotiation is performed.
func (m *Client) StartService(dev Device, service string) (int, error) {
	c, err := m.Connect(dev, lockdownPort)
	if err != nil {
		return 0, err
	}
	defer c.Close()

	_ = c.SetDeadline(time.Now().Add(30 * time.Second))
	req := map[string]any{
		"Label":   progName,
		"Request": "StartService",
		"Service": service,
	}
	if err := writeLockdown(c, req, plist.XMLFormat); err != nil {
		return 0, err
	}
	resp, err := readLockdown(c)
	if err != nil {
		return 0, err
	}
	if e, ok := resp["Error"].(string); ok && e != "" {
		return 0, fmt.Errorf("%w: service %s: %s", ErrNotFound, service, e)
	}
	port := asInt(resp["Port"])
	if port == 0 {
		return 0, fmt.Errorf("%w: service %s reported no port", ErrNotFound, service)
	}
	return port, nil
}

// ServiceConn starts a named service and opens a channel to it.
func (m *Client) ServiceConn(dev Device, service string) (net.Conn, error) {
	port, err := m.StartService(dev, service)
	if err != nil {
		return nil, err
	}
	return m.Connect(dev, port)
}
