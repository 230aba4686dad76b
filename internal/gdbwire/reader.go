package gdbwire

import (
	"bytes"
	"fmt"
	"time"

	"idev/internal/flog"
)

const (
	// DefaultBufSize is the fixed receive buffer capacity. The buffer is
	// allocated once per session and compacted in place, never grown.
	DefaultBufSize = 16 * 1024

	defaultPollInterval = 500 * time.Millisecond
	defaultIdleTimeout  = 10 * time.Second
)

// reader assembles discrete packets from a byte stream that arrives in
// arbitrary chunks. The buffer is a fixed arena with three indices:
//
//	head: start of the packet currently being assembled or consumed
//	next: read cursor, advances byte by byte
//	tail: end of valid received bytes
//
// 0 <= head <= next <= tail <= len(buf) holds at all times. A returned
// packet is a view into the arena, valid only until the next read.
type reader struct {
	t     Transport
	st    *errState
	debug bool

	buf  []byte
	head int
	next int
	tail int

	pollInterval time.Duration
	idleTimeout  time.Duration
}

func newReader(t Transport, st *errState, size int, debug bool) *reader {
	if size <= 0 {
		size = DefaultBufSize
	}
	return &reader{
		t:            t,
		st:           st,
		debug:        debug,
		buf:          make([]byte, size),
		pollInterval: defaultPollInterval,
		idleTimeout:  defaultIdleTimeout,
	}
}

// readByte returns one byte, refilling the arena from the transport when
// all received bytes are consumed. With allowEmpty set, a poll window
// that yields no bytes returns empty=true instead of waiting; otherwise
// polling continues until the idle timeout elapses.
func (r *reader) readByte(allowEmpty bool) (b byte, empty bool, err error) {
	if r.st.err != nil {
		return 0, false, r.st.err
	}
	if r.next == r.tail {
		avail := len(r.buf) - r.tail
		if avail < len(r.buf)/4 {
			if r.head == 0 && avail == 0 {
				return 0, false, r.st.set(fmt.Errorf("%w (%d bytes, nothing consumable)", ErrBufferFull, len(r.buf)))
			}
			// Shift the unconsumed span to the front of the arena.
			used := r.tail - r.head
			if r.head > 0 && used > 0 {
				copy(r.buf, r.buf[r.head:r.tail])
			}
			r.head = 0
			r.next = used
			r.tail = used
			avail = len(r.buf) - r.tail
		}

		start := time.Now()
		for {
			n, rerr := r.t.Receive(r.buf[r.tail:], r.pollInterval)
			if rerr != nil {
				return 0, false, r.st.set(fmt.Errorf("receive: %w", rerr))
			}
			if n == 0 {
				if allowEmpty {
					return 0, true, nil
				}
				if time.Since(start) > r.idleTimeout {
					return 0, false, r.st.set(ErrTimeout)
				}
				continue
			}
			if r.debug {
				flog.Debugf("recv[%d] (%s)", n, r.buf[r.tail:r.tail+n])
			}
			r.tail += n
			break
		}
	}
	b = r.buf[r.next]
	r.next++
	return b, false, nil
}

// readPacket consumes and returns one packet: a single +/- ack byte, or
// $<payload>#<two hex digits>. The checksum digits must be hex but their
// value is never verified against the payload; the rest of the session
// relies on that. With allowEmpty set, a quiet transport yields
// (nil, nil), distinguishable from any real packet (packets are never
// empty).
func (r *reader) readPacket(allowEmpty bool) ([]byte, error) {
	if r.st.err != nil {
		return nil, r.st.err
	}
	b, empty, err := r.readByte(allowEmpty)
	if err != nil {
		return nil, err
	}
	if empty {
		return nil, nil
	}

	valid := false
	switch b {
	case '+', '-':
		valid = true
	case '$':
		for {
			c, _, err := r.readByte(false)
			if err != nil {
				return nil, err
			}
			if c == '#' {
				break
			}
		}
		ok := true
		for i := 0; i < 2; i++ {
			c, _, err := r.readByte(false)
			if err != nil {
				return nil, err
			}
			if hexVal(c) < 0 {
				ok = false
			}
		}
		valid = ok
	}

	pkt := r.buf[r.head:r.next]
	r.head = r.next
	if !valid {
		return nil, r.st.set(fmt.Errorf("%w: invalid packet (%s)", ErrProtocol, pkt))
	}
	return pkt, nil
}

// expect reads one packet and fails unless its leading bytes match
// expected. Trailing bytes beyond expected's length are not checked; the
// replies matched this way have fixed shapes.
func (r *reader) expect(expected string) error {
	pkt, err := r.readPacket(false)
	if err != nil {
		return err
	}
	if len(pkt) < len(expected) || !bytes.Equal(pkt[:len(expected)], []byte(expected)) {
		return r.st.set(fmt.Errorf("%w: received (%s) instead of expected (%s)", ErrProtocol, pkt, expected))
	}
	return nil
}
