package mpc

import (
	"encoding/binary"
	"fmt"
	"math"

	mpc_core "github.com/hhcho/mpc-core"
)

// maxFrameSize bounds a length-prefixed message.
const maxFrameSize = 1 << 30

func (netObj *Network) SendBytes(buf []byte, to PartyID) error {
	if err := netObj.writeFull(to, buf); err != nil {
		return err
	}
	netObj.UpdateSenderLog(to, len(buf))
	return nil
}

// ReceiveBytes fills buf with exactly len(buf) bytes from party from.
func (netObj *Network) ReceiveBytes(buf []byte, from PartyID) error {
	if err := netObj.readFull(from, buf); err != nil {
		return err
	}
	netObj.UpdateReceiverLog(from, len(buf))
	return nil
}

func (netObj *Network) SendInt(val int, to PartyID) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(val))
	return netObj.SendBytes(buf, to)
}

func (netObj *Network) ReceiveInt(from PartyID) (int, error) {
	buf := make([]byte, 8)
	if err := netObj.ReceiveBytes(buf, from); err != nil {
		return 0, err
	}
	return int(binary.LittleEndian.Uint64(buf)), nil
}

func (netObj *Network) SendWords(v []uint64, to PartyID) error {
	buf := make([]byte, 8*len(v))
	for i := range v {
		binary.LittleEndian.PutUint64(buf[8*i:], v[i])
	}
	return netObj.SendBytes(buf, to)
}

// ReceiveWords reads exactly n words.
func (netObj *Network) ReceiveWords(n int, from PartyID) ([]uint64, error) {
	buf := make([]byte, 8*n)
	if err := netObj.ReceiveBytes(buf, from); err != nil {
		return nil, err
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(buf[8*i:])
	}
	return out, nil
}

// SendRing sends a flat buffer of ring elements. The receiver knows the
// length.
func SendRing[T Word](netObj *Network, v []RingElement[T], to PartyID) error {
	buf := make([]byte, 0, len(v)*ByteWidth[T]())
	for _, e := range v {
		buf = appendElement(buf, e)
	}
	return netObj.SendBytes(buf, to)
}

func ReceiveRing[T Word](netObj *Network, n int, from PartyID) ([]RingElement[T], error) {
	width := ByteWidth[T]()
	buf := make([]byte, n*width)
	if err := netObj.ReceiveBytes(buf, from); err != nil {
		return nil, err
	}
	out := make([]RingElement[T], n)
	for i := range out {
		e, ok := readElement[T](buf[i*width:])
		if !ok {
			return nil, decodeErrorf("ring buffer", i*width, "invalid bit value %d", buf[i*width])
		}
		out[i] = e
	}
	return out, nil
}

// SendValue sends a NetworkValue framed by a u32 length.
func (netObj *Network) SendValue(v NetworkValue, to PartyID) error {
	payload := ToWire(v)
	if uint64(len(payload)) > math.MaxUint32 {
		return configErrorf("send", "value of %d bytes does not fit a frame", len(payload))
	}
	buf := make([]byte, 4, 4+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	return netObj.SendBytes(append(buf, payload...), to)
}

func (netObj *Network) ReceiveValue(from PartyID) (NetworkValue, error) {
	sbuf := make([]byte, 4)
	if err := netObj.ReceiveBytes(sbuf, from); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(sbuf)
	if size > maxFrameSize {
		return nil, decodeErrorf("frame", 0, "frame of %d bytes exceeds limit", size)
	}
	payload := make([]byte, size)
	if err := netObj.ReceiveBytes(payload, from); err != nil {
		return nil, err
	}
	return FromWire(payload)
}

//SendRData sends a ring element to party p
func (netObj *Network) SendRData(data mpc_core.RElem, p PartyID) error {
	return netObj.SendBytes(MarshalRData(data), p)
}

func (netObj *Network) ReceiveRElem(rtype mpc_core.RElem, p PartyID) (mpc_core.RElem, error) {
	buf := make([]byte, rtype.NumBytes())
	if err := netObj.ReceiveBytes(buf, p); err != nil {
		return nil, err
	}
	return rtype.FromBytes(buf), nil
}

// Exchange sends buf to one neighbour while receiving len(recv) bytes from
// another. Both directions run concurrently, so a ring of parties calling
// Exchange at the same time cannot deadlock.
func (netObj *Network) Exchange(buf []byte, to PartyID, recv []byte, from PartyID) error {
	g := GroupStart()
	g.Send(netObj, buf, to)
	g.Receive(netObj, recv, from)
	if err := g.End(); err != nil {
		return fmt.Errorf("exchange on device %d: %w", netObj.device, err)
	}
	return nil
}
