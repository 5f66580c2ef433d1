package mpc

import (
	"encoding/binary"
	"fmt"
	"time"

	mpc_core "github.com/hhcho/mpc-core"
	"go.dedis.ch/onet/v3/log"
)

// WireVersion is the first byte of every encoded NetworkValue.
const WireVersion byte = 1

// PrfKeySize is the byte length of a pairwise PRF key.
const PrfKeySize = 16

// ValueTag identifies the payload shape of a NetworkValue.
type ValueTag byte

const (
	TagPrfKey ValueTag = iota + 1
	TagRingBit
	TagRing16
	TagRing32
	TagRing64
	TagVecRingBit
	TagVecRing16
	TagVecRing32
	TagVecRing64
)

func (t ValueTag) String() string {
	switch t {
	case TagPrfKey:
		return "PrfKey"
	case TagRingBit:
		return "RingBit"
	case TagRing16:
		return "Ring16"
	case TagRing32:
		return "Ring32"
	case TagRing64:
		return "Ring64"
	case TagVecRingBit:
		return "VecRingBit"
	case TagVecRing16:
		return "VecRing16"
	case TagVecRing32:
		return "VecRing32"
	case TagVecRing64:
		return "VecRing64"
	}
	return fmt.Sprintf("ValueTag(%d)", byte(t))
}

// NetworkValue is the unit exchanged between parties.
//
// Layout: [version][tag][payload]. Scalars are fixed-width little endian,
// a PrfKey is 16 raw bytes, vectors carry a little-endian u32 element
// count followed by the elements. Bits take one byte each.
type NetworkValue interface {
	Tag() ValueTag
	appendPayload(buf []byte) []byte
}

type PrfKey [PrfKeySize]byte

func (PrfKey) Tag() ValueTag { return TagPrfKey }

func (k PrfKey) appendPayload(buf []byte) []byte { return append(buf, k[:]...) }

// RingValue carries a single ring element.
type RingValue[T Word] struct {
	Elem RingElement[T]
}

func (RingValue[T]) Tag() ValueTag { return scalarTag[T]() }

func (v RingValue[T]) appendPayload(buf []byte) []byte { return appendElement(buf, v.Elem) }

// VecValue carries a vector of ring elements of one width.
type VecValue[T Word] struct {
	Elems []RingElement[T]
}

func (VecValue[T]) Tag() ValueTag { return vecTag[T]() }

func (v VecValue[T]) appendPayload(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Elems)))
	for _, e := range v.Elems {
		buf = appendElement(buf, e)
	}
	return buf
}

func scalarTag[T Word]() ValueTag {
	switch BitWidth[T]() {
	case 1:
		return TagRingBit
	case 16:
		return TagRing16
	case 32:
		return TagRing32
	}
	return TagRing64
}

func vecTag[T Word]() ValueTag {
	return scalarTag[T]() + (TagVecRingBit - TagRingBit)
}

// ToWire encodes v. Encoding is deterministic.
func ToWire(v NetworkValue) []byte {
	buf := make([]byte, 0, 16)
	buf = append(buf, WireVersion, byte(v.Tag()))
	return v.appendPayload(buf)
}

// FromWire decodes a buffer produced by ToWire. The whole buffer must be
// consumed.
func FromWire(buf []byte) (NetworkValue, error) {
	if len(buf) < 2 {
		return nil, decodeErrorf("NetworkValue", len(buf), "truncated header")
	}
	if buf[0] != WireVersion {
		return nil, decodeErrorf("NetworkValue", 0, "unsupported version %d", buf[0])
	}
	tag := ValueTag(buf[1])
	payload := buf[2:]
	switch tag {
	case TagPrfKey:
		if len(payload) != PrfKeySize {
			return nil, decodeErrorf(tag.String(), 2, "payload is %d bytes, want %d", len(payload), PrfKeySize)
		}
		var k PrfKey
		copy(k[:], payload)
		return k, nil
	case TagRingBit:
		return decodeScalar[Bit](tag, payload)
	case TagRing16:
		return decodeScalar[uint16](tag, payload)
	case TagRing32:
		return decodeScalar[uint32](tag, payload)
	case TagRing64:
		return decodeScalar[uint64](tag, payload)
	case TagVecRingBit:
		return decodeVec[Bit](tag, payload)
	case TagVecRing16:
		return decodeVec[uint16](tag, payload)
	case TagVecRing32:
		return decodeVec[uint32](tag, payload)
	case TagVecRing64:
		return decodeVec[uint64](tag, payload)
	}
	return nil, decodeErrorf("NetworkValue", 1, "unknown tag %d", byte(tag))
}

func decodeScalar[T Word](tag ValueTag, payload []byte) (NetworkValue, error) {
	if len(payload) != ByteWidth[T]() {
		return nil, decodeErrorf(tag.String(), 2, "payload is %d bytes, want %d", len(payload), ByteWidth[T]())
	}
	e, ok := readElement[T](payload)
	if !ok {
		return nil, decodeErrorf(tag.String(), 2, "invalid bit value %d", payload[0])
	}
	return RingValue[T]{Elem: e}, nil
}

func decodeVec[T Word](tag ValueTag, payload []byte) (NetworkValue, error) {
	if len(payload) < 4 {
		return nil, decodeErrorf(tag.String(), 2, "truncated length prefix")
	}
	n := int(binary.LittleEndian.Uint32(payload))
	width := ByteWidth[T]()
	body := payload[4:]
	if len(body)/width < n || len(body) != n*width {
		return nil, decodeErrorf(tag.String(), 6, "payload is %d bytes, want %d elements of %d bytes", len(body), n, width)
	}
	elems := make([]RingElement[T], n)
	for i := range elems {
		e, ok := readElement[T](body[i*width:])
		if !ok {
			return nil, decodeErrorf(tag.String(), 6+i*width, "invalid bit value %d", body[i*width])
		}
		elems[i] = e
	}
	return VecValue[T]{Elems: elems}, nil
}

// MarshalRData encodes mpc-core ring data for the barrier and sync checks.
func MarshalRData(val interface{}) []byte {
	switch t := val.(type) {
	case mpc_core.RElem:
		buf := make([]byte, t.NumBytes())
		t.ToBytes(buf)
		return buf
	case mpc_core.RVec:
		buf, _ := t.MarshalBinary()
		return buf
	default:
		log.Warn(time.Now().Format(time.RFC3339), "Cannot marshal unknown type, ", t)
	}
	return nil
}
