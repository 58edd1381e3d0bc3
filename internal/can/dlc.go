package can

import (
	"errors"
	"fmt"
)

// MaxPayload is the largest CAN FD payload.
const MaxPayload = 64

// ErrPayloadTooLarge is returned when no length code can hold the payload.
var ErrPayloadTooLarge = errors.New("can: payload too large")

// DLC is a 4-bit data length code.
type DLC uint8

var dlcBytes = [16]uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// Bytes returns the payload length the code stands for. Codes above 15 are
// reduced to their low nibble as the hardware does.
func (d DLC) Bytes() int { return int(dlcBytes[d&0xF]) }

// BestFit returns the smallest code whose length is at least n.
func BestFit(n int) (DLC, error) {
	if n < 0 || n > MaxPayload {
		return 0, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, n)
	}
	if n <= 8 {
		return DLC(n), nil
	}
	for i := 9; i < len(dlcBytes); i++ {
		if int(dlcBytes[i]) >= n {
			return DLC(i), nil
		}
	}
	return 15, nil
}

// ClassicDLC clamps a raw classic length field (0..15) to the 8-byte maximum.
func ClassicDLC(raw uint8) DLC {
	raw &= 0xF
	if raw > 8 {
		return 8
	}
	return DLC(raw)
}
