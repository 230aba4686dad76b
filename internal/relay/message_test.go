package relay

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	doc := map[string]any{
		"__selector": "_rpc_reportIdentifier:",
		"__argument": map[string]any{
			"WIRConnectionIdentifierKey": "17858421-36EF-4752-89F7-7A13ED5782C5",
		},
	}

	for _, xml := range []bool{false, true} {
		payload, err := encodeDocument(doc, xml)
		if err != nil {
			t.Fatalf("encodeDocument(xml=%v): %v", xml, err)
		}

		var stream bytes.Buffer
		if err := writeFrame(&stream, payload); err != nil {
			t.Fatalf("writeFrame: %v", err)
		}
		if stream.Len() != 4+len(payload) {
			t.Fatalf("frame length = %d, want %d", stream.Len(), 4+len(payload))
		}

		buf := make([]byte, DefaultMaxMessage)
		got, err := readFrame(&stream, buf)
		if err != nil {
			t.Fatalf("readFrame: %v", err)
		}
		back, err := decodeDocument(got)
		if err != nil {
			t.Fatalf("decodeDocument(xml=%v): %v", xml, err)
		}
		if !reflect.DeepEqual(back, doc) {
			t.Fatalf("round trip (xml=%v) = %#v, want %#v", xml, back, doc)
		}
	}
}

func TestEncodeSelectsSerialization(t *testing.T) {
	doc := map[string]any{"k": "v"}

	bin, err := encodeDocument(doc, false)
	if err != nil {
		t.Fatalf("encodeDocument(binary): %v", err)
	}
	if !bytes.HasPrefix(bin, binaryMagic) {
		t.Fatalf("binary payload starts with %q", bin[:8])
	}

	xml, err := encodeDocument(doc, true)
	if err != nil {
		t.Fatalf("encodeDocument(xml): %v", err)
	}
	if !bytes.HasPrefix(xml, xmlProlog) {
		t.Fatalf("xml payload starts with %q", xml[:5])
	}
}

func TestReadFrameRejectsBadLengths(t *testing.T) {
	tests := []struct {
		name   string
		header []byte
	}{
		{"zero", []byte{0, 0, 0, 0}},
		{"oversized", []byte{0, 2, 0, 1}}, // 128 KiB + 1
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stream := bytes.NewBuffer(append(tc.header, "leftover"...))
			buf := make([]byte, DefaultMaxMessage)

			_, err := readFrame(stream, buf)
			if !errors.Is(err, ErrFrameLength) {
				t.Fatalf("readFrame error = %v, want ErrFrameLength", err)
			}
			// The violation is detected from the prefix alone.
			if stream.String() != "leftover" {
				t.Fatalf("payload bytes consumed, remaining %q", stream.String())
			}
		})
	}
}

func TestDecodeDocumentRejectsUnknownPayload(t *testing.T) {
	for _, raw := range [][]byte{
		[]byte("GET / HTTP/1.1\r\n"),
		[]byte("bplist0"), // magic truncated
		{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
	} {
		if _, err := decodeDocument(raw); !errors.Is(err, ErrBadDocument) {
			t.Fatalf("decodeDocument(%q) error = %v, want ErrBadDocument", raw, err)
		}
	}
}
