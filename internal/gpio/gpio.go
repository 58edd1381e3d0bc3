// Package gpio exposes a controller's active-low interrupt output through
// the GPIO character device.
package gpio

import "errors"

var ErrUnsupported = errors.New("gpio: only supported on linux")

// DefaultChip is the GPIO controller used when none is named.
const DefaultChip = "gpiochip0"
