package relay

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"howett.net/plist"
)

// DefaultMaxMessage caps one framed message payload. A length prefix of
// zero or above the cap tears the connection down.
const DefaultMaxMessage = 128 * 1024

var (
	ErrFrameLength = errors.New("relay: invalid message length")
	ErrBadDocument = errors.New("relay: unrecognized message serialization")
)

var (
	binaryMagic = []byte("bplist00")
	xmlProlog   = []byte("<?xml")
)

// readFrame reads one message: a 4-byte big-endian length prefix and
// exactly that many payload bytes into buf. A zero or over-capacity
// length fails before any payload byte is consumed, leaving the stream
// positioned after the prefix.
func readFrame(r io.Reader, buf []byte) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 || n > uint32(len(buf)) {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrFrameLength, n, len(buf))
	}
	if _, err := io.ReadFull(r, buf[:n]); err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// writeFrame sends the length prefix followed by the payload.
func writeFrame(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// decodeDocument sniffs the payload's leading bytes (binary plist magic
// or XML prolog) and parses one structured document. Anything else is a
// protocol violation.
func decodeDocument(raw []byte) (any, error) {
	switch {
	case len(raw) > len(binaryMagic) && bytes.HasPrefix(raw, binaryMagic):
	case len(raw) > len(xmlProlog) && bytes.HasPrefix(raw, xmlProlog):
	default:
		return nil, fmt.Errorf("%w (%d bytes)", ErrBadDocument, len(raw))
	}
	var doc any
	if _, err := plist.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return doc, nil
}

// encodeDocument serializes a document in the binary or XML form.
func encodeDocument(doc any, xml bool) ([]byte, error) {
	format := plist.BinaryFormat
	if xml {
		format = plist.XMLFormat
	}
	payload, err := plist.Marshal(doc, format)
	if err != nil {
		return nil, fmt.Errorf("serialize message: %w", err)
	}
	return payload, nil
}
