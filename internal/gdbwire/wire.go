package gdbwire

import (
	"errors"
	"net"
	"time"
)

var (
	// ErrTimeout is returned when a mandatory read stays empty past the
	// session idle limit.
	ErrTimeout = errors.New("gdbwire: receive timed out")

	// ErrBufferFull is returned when the receive buffer holds no
	// consumable packet and has no free space left. The buffer never
	// grows; this is fatal for the session.
	ErrBufferFull = errors.New("gdbwire: receive buffer full")

	// ErrProtocol covers malformed packets and unexpected replies.
	ErrProtocol = errors.New("gdbwire: protocol violation")

	// ErrStopped is returned when the remote process reports an
	// abnormal stop (a T packet) instead of exiting.
	ErrStopped = errors.New("gdbwire: remote process stopped abnormally")
)

// Transport is one byte-duplex connection to the remote debugserver
// service. Receive waits at most timeout and reports (0, nil) when no
// bytes arrived in that window.
type Transport interface {
	Send(p []byte) (int, error)
	Receive(p []byte, timeout time.Duration) (int, error)
}

// errState is the session's sticky fault. Once set, every further
// protocol call on the reader or writer fails fast with the same error.
type errState struct {
	err error
}

func (e *errState) set(err error) error {
	if e.err == nil {
		e.err = err
	}
	return e.err
}

type netTransport struct {
	c net.Conn
}

// NewNetTransport adapts a net.Conn to Transport using read deadlines
// for the bounded receive wait.
func NewNetTransport(c net.Conn) Transport {
	return &netTransport{c: c}
}

func (t *netTransport) Send(p []byte) (int, error) {
	return t.c.Write(p)
}

func (t *netTransport) Receive(p []byte, timeout time.Duration) (int, error) {
	if err := t.c.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}
	n, err := t.c.Read(p)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return n, nil
		}
		return n, err
	}
	return n, nil
}
