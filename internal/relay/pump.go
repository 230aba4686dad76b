package relay

import (
	"context"
	"fmt"
	"net"
)

// localToDevice moves framed messages from the local client to the
// device. The device channel is opened only after the first complete
// local message parses; it is handed to the supervisor over ready so
// the opposite pump can start. The read blocks without a deadline, so
// the supervisor stops this pump by closing the local socket.
func (r *Relay) localToDevice(ctx context.Context, local net.Conn, ready chan<- *Channel) error {
	bp := r.bufs.Get()
	defer r.bufs.Put(bp)
	buf := *bp

	var ch *Channel
	for {
		if ctx.Err() != nil {
			return nil
		}
		payload, err := readFrame(local, buf)
		if err != nil {
			return err
		}
		doc, err := decodeDocument(payload)
		if err != nil {
			return err
		}
		if ch == nil {
			ch, err = r.open()
			if err != nil {
				return fmt.Errorf("open device channel: %w", err)
			}
			ready <- ch
		}
		if err := ch.Send(doc); err != nil {
			return fmt.Errorf("send to device: %w", err)
		}
	}
}

// deviceToLocal moves documents from the device to the local client,
// re-serializing each in the configured local form. Receives are
// bounded, so a stop is observed within one timeout interval even when
// the device is silent.
func (r *Relay) deviceToLocal(ctx context.Context, local net.Conn, ch *Channel) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		doc, err := ch.Receive(r.timeout)
		if err != nil {
			return err
		}
		if doc == nil {
			continue
		}
		payload, err := encodeDocument(doc, r.xml)
		if err != nil {
			return err
		}
		if err := writeFrame(local, payload); err != nil {
			return fmt.Errorf("send to client: %w", err)
		}
	}
}
