package cnl

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"testing"

	"github.com/kstaniek/go-mcp25xx/internal/can"
)

func mkFrame(id uint32, n int) can.Frame {
	data := make([]byte, n)
	rand.Read(data)
	f, err := can.NewExtended(id&can.CAN_EFF_MASK, data)
	if err != nil {
		panic(err)
	}
	return f
}

func decodeAll(t *testing.T, wire []byte) []can.Frame {
	t.Helper()
	var out []can.Frame
	_, err := (&Codec{}).DecodeN(bytes.NewReader(wire), 0, func(f can.Frame) { out = append(out, f) })
	if err != nil && err != io.EOF {
		t.Fatalf("DecodeN: %v", err)
	}
	return out
}

func TestCodecRoundTrip(t *testing.T) {
	codec := Codec{}
	in := []can.Frame{mkFrame(0x1E5A, 8), mkFrame(0x1F55, 6), mkFrame(0x12345, 0)}
	out := decodeAll(t, codec.Encode(in))
	if len(out) != len(in) {
		t.Fatalf("decoded %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i].CANID != in[i].CANID || out[i].DLC != in[i].DLC || !bytes.Equal(out[i].Payload(), in[i].Payload()) {
			t.Fatalf("frame %d mismatch: %v vs %v", i, out[i], in[i])
		}
	}
}

func TestCodecFDRoundTrip(t *testing.T) {
	codec := Codec{}
	fd := mkFrame(0x1ABCDE, 64)
	fd.ESI = true
	mid := mkFrame(0x42, 12)
	in := []can.Frame{fd, mkFrame(0x10, 3), mid}
	wire := codec.Encode(in)
	// id, len|0x80, flags, 64 bytes
	if wire[4] != 0x80|64 || wire[5] != flagBRS|flagESI {
		t.Fatalf("fd header % X", wire[:6])
	}
	out := decodeAll(t, wire)
	if len(out) != 3 {
		t.Fatalf("decoded %d", len(out))
	}
	if !out[0].ESI || out[0].Len() != 64 || !bytes.Equal(out[0].Payload(), fd.Payload()) {
		t.Fatalf("fd frame %+v", out[0])
	}
	if out[1].IsFD() || out[1].Len() != 3 {
		t.Fatalf("classic frame %+v", out[1])
	}
	if out[2].Len() != 12 || out[2].ESI {
		t.Fatalf("12-byte frame %+v", out[2])
	}
}

func TestCodecClassicWire(t *testing.T) {
	f, _ := can.NewStandard(0x123, []byte{1, 2})
	got := (&Codec{}).Encode([]can.Frame{f})
	want := []byte{0, 0, 0x01, 0x23, 2, 1, 2}
	if !bytes.Equal(got, want) {
		t.Fatalf("wire % X want % X", got, want)
	}
}

func TestCodecEncodeToMatchesEncode(t *testing.T) {
	codec := Codec{}
	frames := []can.Frame{mkFrame(0x10, 8), mkFrame(0x11, 3), mkFrame(0x12, 48)}
	a := codec.Encode(frames)
	var buf bytes.Buffer
	n, err := codec.EncodeTo(&buf, frames)
	if err != nil {
		t.Fatalf("EncodeTo: %v", err)
	}
	if n != len(a) || !bytes.Equal(a, buf.Bytes()) {
		t.Fatalf("Encode vs EncodeTo mismatch\nenc=% X\nencTo=% X", a, buf.Bytes())
	}
}

func TestCodecDecodeErrors(t *testing.T) {
	cases := []struct {
		name string
		wire []byte
		want error
	}{
		{"classic over 8", []byte{0, 0, 0, 1, 0x09}, ErrInvalidLength},
		{"fd not a dlc size", []byte{0, 0, 0, 1, 0x80 | 13, 0}, ErrInvalidLength},
		{"fd over 64", []byte{0, 0, 0, 1, 0x80 | 65, 0}, ErrInvalidLength},
		{"payload cut", []byte{0, 0, 0, 2, 5, 1, 2, 3}, ErrTruncatedFrame},
		{"no length", []byte{0, 0, 0, 2}, ErrTruncatedFrame},
		{"no flags", []byte{0, 0, 0, 2, 0x80 | 12}, ErrTruncatedFrame},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := (&Codec{}).Decode(bytes.NewReader(tc.wire))
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v want %v", err, tc.want)
			}
		})
	}
}

func TestDecodeNStopsAtMax(t *testing.T) {
	c := Codec{}
	wire := c.Encode([]can.Frame{mkFrame(1, 1), mkFrame(2, 2), mkFrame(3, 3)})
	n, err := c.DecodeN(bytes.NewReader(wire), 2, func(can.Frame) {})
	if n != 2 || err != nil {
		t.Fatalf("n=%d err=%v", n, err)
	}
}

func TestDecodeCleanEOF(t *testing.T) {
	if _, err := (&Codec{}).Decode(bytes.NewReader(nil)); err != io.EOF {
		t.Fatalf("err = %v", err)
	}
}

func benchmarkFrames(n, size int) []can.Frame {
	frames := make([]can.Frame, n)
	for i := range frames {
		frames[i] = mkFrame(uint32(0x500+i), size)
	}
	return frames
}

func BenchmarkCodecEncodeTo(b *testing.B) {
	c := Codec{}
	frs := benchmarkFrames(64, 8)
	var buf bytes.Buffer
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		_, _ = c.EncodeTo(&buf, frs)
	}
}

func BenchmarkCodecDecodeNFD(b *testing.B) {
	c := Codec{}
	wire := c.Encode(benchmarkFrames(64, 64))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = c.DecodeN(bytes.NewReader(wire), 0, func(can.Frame) {})
	}
}
