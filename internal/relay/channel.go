package relay

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"howett.net/plist"
)

// Channel is the structured-document connection to the device's
// WebInspector service: 4-byte big-endian length prefix plus a binary
// plist, in both directions. One goroutine may send while another
// receives, and Close may be called from a third to unblock a pending
// Receive or Send; that close is how a connection handler cancels its
// pumps.
type Channel struct {
	c   net.Conn
	buf []byte
}

func NewChannel(c net.Conn, maxMessage int) *Channel {
	if maxMessage <= 0 {
		maxMessage = DefaultMaxMessage
	}
	return &Channel{c: c, buf: make([]byte, maxMessage)}
}

// Send writes one document to the device.
func (ch *Channel) Send(doc any) error {
	payload, err := plist.Marshal(doc, plist.BinaryFormat)
	if err != nil {
		return fmt.Errorf("serialize device message: %w", err)
	}
	return writeFrame(ch.c, payload)
}

// Receive waits up to timeout for one document. A quiet window returns
// (nil, nil) so the caller can poll its stop conditions; a timeout in
// the middle of a frame is an error, the stream cannot be resynced.
func (ch *Channel) Receive(timeout time.Duration) (any, error) {
	_ = ch.c.SetReadDeadline(time.Now().Add(timeout))
	var hdr [4]byte
	n, err := io.ReadFull(ch.c, hdr[:])
	if err != nil {
		if n == 0 && isTimeout(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("receive header: %w", err)
	}
	mlen := binary4(hdr)
	if mlen == 0 || mlen > len(ch.buf) {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrFrameLength, mlen, len(ch.buf))
	}
	_ = ch.c.SetReadDeadline(time.Now().Add(timeout))
	if _, err := io.ReadFull(ch.c, ch.buf[:mlen]); err != nil {
		return nil, fmt.Errorf("receive payload: %w", err)
	}
	var doc any
	if _, err := plist.Unmarshal(ch.buf[:mlen], &doc); err != nil {
		return nil, fmt.Errorf("parse device message: %w", err)
	}
	return doc, nil
}

func (ch *Channel) Close() error {
	return ch.c.Close()
}

func binary4(hdr [4]byte) int {
	return int(hdr[0])<<24 | int(hdr[1])<<16 | int(hdr[2])<<8 | int(hdr[3])
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
