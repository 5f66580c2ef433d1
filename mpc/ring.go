package mpc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Bit is an element of Z/2. Only the lowest bit is ever set.
type Bit uint8

// Word lists the supported ring base types: Z/2, Z/2^16, Z/2^32, Z/2^64.
type Word interface {
	Bit | uint16 | uint32 | uint64
}

// RingElement is a value in Z/2^k where k is the width of T.
// All arithmetic wraps silently.
type RingElement[T Word] struct {
	v T
}

func NewRingElement[T Word](v T) RingElement[T] {
	return RingElement[T]{v: reduce(v)}
}

// BitWidth returns k for the ring Z/2^k backed by T.
func BitWidth[T Word]() int {
	var z T
	switch any(z).(type) {
	case Bit:
		return 1
	case uint16:
		return 16
	case uint32:
		return 32
	default:
		return 64
	}
}

// ByteWidth returns the wire size of one element of T.
func ByteWidth[T Word]() int {
	if BitWidth[T]() == 1 {
		return 1
	}
	return BitWidth[T]() / 8
}

func reduce[T Word](v T) T {
	if BitWidth[T]() == 1 {
		return v & 1
	}
	return v
}

func (a RingElement[T]) Value() T { return a.v }

func (a RingElement[T]) Add(b RingElement[T]) RingElement[T] {
	return RingElement[T]{v: reduce(a.v + b.v)}
}

func (a RingElement[T]) Sub(b RingElement[T]) RingElement[T] {
	return RingElement[T]{v: reduce(a.v - b.v)}
}

func (a RingElement[T]) Neg() RingElement[T] {
	return RingElement[T]{v: reduce(-a.v)}
}

func (a RingElement[T]) Mul(b RingElement[T]) RingElement[T] {
	return RingElement[T]{v: reduce(a.v * b.v)}
}

func (a RingElement[T]) And(b RingElement[T]) RingElement[T] {
	return RingElement[T]{v: a.v & b.v}
}

func (a RingElement[T]) Xor(b RingElement[T]) RingElement[T] {
	return RingElement[T]{v: a.v ^ b.v}
}

func (a RingElement[T]) Shl(n uint) RingElement[T] {
	return RingElement[T]{v: reduce(a.v << n)}
}

func (a RingElement[T]) Shr(n uint) RingElement[T] {
	return RingElement[T]{v: a.v >> n}
}

// BitAt returns bit i of the element, 0 for i outside the ring width.
func (a RingElement[T]) BitAt(i int) Bit {
	if i < 0 || i >= BitWidth[T]() {
		return 0
	}
	return Bit(uint64(a.v)>>uint(i)) & 1
}

func (a RingElement[T]) Msb() Bit {
	return a.BitAt(BitWidth[T]() - 1)
}

func (a RingElement[T]) Equal(b RingElement[T]) bool {
	return a.v == b.v
}

func (a RingElement[T]) String() string {
	return fmt.Sprintf("%d", uint64(a.v))
}

// Elements wraps raw values into ring elements.
func Elements[T Word](vals []T) []RingElement[T] {
	out := make([]RingElement[T], len(vals))
	for i, v := range vals {
		out[i] = NewRingElement(v)
	}
	return out
}

// Values unwraps ring elements.
func Values[T Word](elems []RingElement[T]) []T {
	out := make([]T, len(elems))
	for i, e := range elems {
		out[i] = e.v
	}
	return out
}

func appendElement[T Word](buf []byte, e RingElement[T]) []byte {
	switch v := any(e.v).(type) {
	case Bit:
		return append(buf, byte(v))
	case uint16:
		return binary.LittleEndian.AppendUint16(buf, v)
	case uint32:
		return binary.LittleEndian.AppendUint32(buf, v)
	default:
		return binary.LittleEndian.AppendUint64(buf, uint64(e.v))
	}
}

// readElement decodes one little-endian element. The caller checks the
// buffer length.
func readElement[T Word](buf []byte) (RingElement[T], bool) {
	var out T
	switch any(out).(type) {
	case Bit:
		if buf[0] > 1 {
			return RingElement[T]{}, false
		}
		out = T(buf[0])
	case uint16:
		out = T(binary.LittleEndian.Uint16(buf))
	case uint32:
		out = T(binary.LittleEndian.Uint32(buf))
	default:
		out = T(binary.LittleEndian.Uint64(buf))
	}
	return RingElement[T]{v: out}, true
}

// randomElement draws a uniform element from rng.
func randomElement[T Word](rng io.Reader) (RingElement[T], error) {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(rng, buf); err != nil {
		return RingElement[T]{}, err
	}
	return RingElement[T]{v: reduce(T(binary.LittleEndian.Uint64(buf)))}, nil
}
