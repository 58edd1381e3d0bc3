package cnl

import (
	"bytes"
	"testing"

	"github.com/kstaniek/go-mcp25xx/internal/can"
)

// FuzzDecode feeds arbitrary bytes to the decoder; whatever decodes must
// survive another encode/decode pass.
func FuzzDecode(f *testing.F) {
	c := Codec{}
	for _, s := range [][]can.Frame{{mkFrame(0x100, 0)}, {mkFrame(0x200, 8)}, {mkFrame(0x300, 20), mkFrame(0x301, 5)}} {
		f.Add(c.Encode(s))
	}
	f.Add([]byte{0, 0, 0, 1, 0x89})
	f.Fuzz(func(t *testing.T, data []byte) {
		r := bytes.NewReader(data)
		var frs []can.Frame
		_, _ = c.DecodeN(r, 16, func(fr can.Frame) { frs = append(frs, fr) })
		if len(frs) == 0 {
			return
		}
		var again []can.Frame
		_, _ = c.DecodeN(bytes.NewReader(c.Encode(frs)), 0, func(fr can.Frame) { again = append(again, fr) })
		if len(again) != len(frs) {
			t.Fatalf("decoded %d frames, %d after re-encode", len(frs), len(again))
		}
		for i := range frs {
			a, b := frs[i], again[i]
			if a.CANID != b.CANID || a.DLC != b.DLC || !bytes.Equal(a.Payload(), b.Payload()) {
				t.Fatalf("frame %d: %v became %v", i, a, b)
			}
			if a.IsFD() && a.ESI != b.ESI {
				t.Fatalf("frame %d lost ESI", i)
			}
		}
	})
}
