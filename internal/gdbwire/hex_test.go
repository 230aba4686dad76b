package gdbwire

import (
	"bytes"
	"testing"
)

func TestHexRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		{0xFF},
		[]byte("hello, world"),
		{0x00, 0x01, 0x7F, 0x80, 0xFE, 0xFF},
		bytes.Repeat([]byte{0xA5, 0x5A}, 300),
	}
	for _, in := range cases {
		enc := ToHex(in)
		if got := FromHex([]byte(enc)); !bytes.Equal(got, in) {
			t.Errorf("FromHex(ToHex(%x)) = %x", in, got)
		}
	}
}

func TestToHexUppercase(t *testing.T) {
	if got := ToHex([]byte{0xab, 0xcd, 0xef}); got != "ABCDEF" {
		t.Errorf("ToHex = %q, want %q", got, "ABCDEF")
	}
}

func TestFromHexAcceptsLowercase(t *testing.T) {
	if got := FromHex([]byte("2f61")); !bytes.Equal(got, []byte("/a")) {
		t.Errorf("FromHex(2f61) = %q, want %q", got, "/a")
	}
}

func TestEnvPacket(t *testing.T) {
	got := EnvPacket("K=v")
	want := "$QEnvironmentHexEncoded:4B3D76#00"
	if got != want {
		t.Errorf("EnvPacket(K=v) = %q, want %q", got, want)
	}
}

func TestLaunchPacket(t *testing.T) {
	tests := []struct {
		path string
		args []string
		want string
	}{
		{"/a", nil, "$A4,0,2F61#00"},
		{"/a", []string{"x"}, "$A4,0,2F61,2,1,78#00"},
		{"/a", []string{"x", "yz"}, "$A4,0,2F61,2,1,78,4,2,797A#00"},
	}
	for _, tc := range tests {
		if got := LaunchPacket(tc.path, tc.args); got != tc.want {
			t.Errorf("LaunchPacket(%q, %q) = %q, want %q", tc.path, tc.args, got, tc.want)
		}
	}
}
