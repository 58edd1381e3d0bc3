package cnl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Hello is the greeting both peers send before the first frame.
const Hello = "CANNELLONIv1"

var ErrBadHello = errors.New("cnl: unexpected hello")

// Handshake sends Hello and waits for the peer's within timeout. Both
// directions run at once since neither side waits for the other to speak
// first. Cancelling ctx expires the connection deadline.
func Handshake(ctx context.Context, c net.Conn, timeout time.Duration) error {
	if err := c.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	defer c.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() { _ = c.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	werr := make(chan error, 1)
	go func() {
		_, err := io.WriteString(c, Hello)
		werr <- err
	}()
	buf := make([]byte, len(Hello))
	_, rerr := io.ReadFull(c, buf)
	err := <-werr
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case rerr != nil:
		return fmt.Errorf("read hello: %w", rerr)
	case err != nil:
		return fmt.Errorf("write hello: %w", err)
	case string(buf) != Hello:
		return fmt.Errorf("%w: %q", ErrBadHello, buf)
	}
	return nil
}
