//go:build !linux

package gpio

import "context"

type Line struct{}

func Open(string, int) (*Line, error) { return nil, ErrUnsupported }

func (*Line) Low() (bool, error)                { return false, ErrUnsupported }
func (*Line) WaitLow(ctx context.Context) error { return ErrUnsupported }
func (*Line) Close() error                      { return nil }
