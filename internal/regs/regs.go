// Package regs describes controller registers as typed descriptors whose
// access class (read-only, read-write, modifiable) is fixed at the type level.
//
// A read-only register has no Write method, and only Mod registers offer a
// read-modify-write. Field layouts live with the chip packages as named
// accessors over the register value type.
package regs

import (
	"errors"
	"fmt"
)

// ErrIndexRange is returned when an indexed register is addressed outside
// its legal range.
var ErrIndexRange = errors.New("regs: index out of range")

// Bus is the register-level view of the chip.
type Bus interface {
	ReadRegister(addr uint16) (uint32, error)
	WriteRegister(addr uint16, v uint32) error
}

// MaskedBus adds partial writes and atomic read-modify-write.
type MaskedBus interface {
	Bus
	// WriteMasked writes only the bits (FD: bytes) covered by mask.
	WriteMasked(addr uint16, v, mask uint32) error
	// ModifyRegister replaces the bits in mask with v, holding the bus for
	// the whole read-modify-write.
	ModifyRegister(addr uint16, mask, v uint32) error
}

// Word is the set of register value types.
type Word interface{ ~uint8 | ~uint32 }

// RO is a read-only register.
type RO[T Word] struct{ Addr uint16 }

func (r RO[T]) Read(b Bus) (T, error) {
	v, err := b.ReadRegister(r.Addr)
	if err != nil {
		return 0, fmt.Errorf("read 0x%03X: %w", r.Addr, err)
	}
	return T(v), nil
}

// RW is a register that can be read and written as a whole.
type RW[T Word] struct{ Addr uint16 }

func (r RW[T]) Read(b Bus) (T, error) { return RO[T](r).Read(b) }

func (r RW[T]) Write(b Bus, v T) error {
	if err := b.WriteRegister(r.Addr, uint32(v)); err != nil {
		return fmt.Errorf("write 0x%03X: %w", r.Addr, err)
	}
	return nil
}

// Mod is a register that also supports partial writes and read-modify-write.
type Mod[T Word] struct{ Addr uint16 }

func (r Mod[T]) Read(b Bus) (T, error)  { return RO[T](r).Read(b) }
func (r Mod[T]) Write(b Bus, v T) error { return RW[T](r).Write(b, v) }

// WriteMasked writes the bits of v selected by mask. On the FD chip whole
// bytes spanned by mask are written, so callers must pass the full byte
// content for those bytes.
func (r Mod[T]) WriteMasked(b MaskedBus, v, mask T) error {
	if err := b.WriteMasked(r.Addr, uint32(v), uint32(mask)); err != nil {
		return fmt.Errorf("write masked 0x%03X: %w", r.Addr, err)
	}
	return nil
}

// Modify replaces the bits in mask with the matching bits of v.
func (r Mod[T]) Modify(b MaskedBus, mask, v T) error {
	if err := b.ModifyRegister(r.Addr, uint32(mask), uint32(v)); err != nil {
		return fmt.Errorf("modify 0x%03X: %w", r.Addr, err)
	}
	return nil
}

// Index returns base + (index-min)*stride after checking min <= index <= max.
func Index(base, stride uint16, index, min, max int) (uint16, error) {
	if index < min || index > max {
		return 0, fmt.Errorf("%w: %d not in [%d,%d]", ErrIndexRange, index, min, max)
	}
	return base + uint16(index-min)*stride, nil
}

// Field extracts width bits at shift.
func Field(v uint32, shift, width uint) uint32 { return (v >> shift) & (1<<width - 1) }

// SetField returns v with width bits at shift replaced by f (truncated).
func SetField(v uint32, shift, width uint, f uint32) uint32 {
	m := uint32(1<<width-1) << shift
	return v&^m | (f<<shift)&m
}

// Bit reports whether bit n is set.
func Bit(v uint32, n uint) bool { return v&(1<<n) != 0 }

// SetBit returns v with bit n set to on.
func SetBit(v uint32, n uint, on bool) uint32 {
	if on {
		return v | 1<<n
	}
	return v &^ (1 << n)
}
