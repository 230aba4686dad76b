package gdbwire

import (
	"fmt"
	"strings"
)

const hexDigits = "0123456789ABCDEF"

// ToHex encodes src as uppercase hex pairs, high nibble first, no separators.
func ToHex(src []byte) string {
	var b strings.Builder
	b.Grow(2 * len(src))
	for _, c := range src {
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0xF])
	}
	return b.String()
}

// FromHex decodes an even-length hex span. Callers only ever pass spans
// already validated as hex; odd-length or non-hex input yields garbage,
// not an error.
func FromHex(src []byte) []byte {
	out := make([]byte, len(src)/2)
	for i := range out {
		out[i] = byte(hexVal(src[2*i]))<<4 | byte(hexVal(src[2*i+1]))
	}
	return out
}

func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return 10 + int(c-'a')
	case c >= 'A' && c <= 'F':
		return 10 + int(c-'A')
	default:
		return -1
	}
}

// EnvPacket builds the QEnvironmentHexEncoded packet for one KEY=VALUE
// entry. The checksum is the literal "00"; debugserver does not check it
// in no-ack mode.
func EnvPacket(entry string) string {
	return "$QEnvironmentHexEncoded:" + ToHex([]byte(entry)) + "#00"
}

// LaunchPacket builds the A (set program arguments) packet. Each token is
// <hex-length>,<argument-index>,<hex-payload>; the executable path is
// argument zero.
func LaunchPacket(appPath string, args []string) string {
	var b strings.Builder
	b.WriteString("$A")
	for i, s := range append([]string{appPath}, args...) {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d,%d,%s", 2*len(s), i, ToHex([]byte(s)))
	}
	b.WriteString("#00")
	return b.String()
}
