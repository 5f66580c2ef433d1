package mpc

import (
	"encoding/binary"
)

// boolShare is one party's replicated XOR sharing of a vector of words.
// Every word carries all bits of one element.
type boolShare struct {
	a, b []uint64
}

func newBoolShare(n int) boolShare {
	return boolShare{a: make([]uint64, n), b: make([]uint64, n)}
}

func (x boolShare) len() int { return len(x.a) }

func (x boolShare) xor(y boolShare) boolShare {
	out := newBoolShare(x.len())
	for i := range out.a {
		out.a[i] = x.a[i] ^ y.a[i]
		out.b[i] = x.b[i] ^ y.b[i]
	}
	return out
}

// shl shifts every word left by s and keeps the bits in mask.
func (x boolShare) shl(s uint, mask uint64) boolShare {
	out := newBoolShare(x.len())
	for i := range out.a {
		out.a[i] = (x.a[i] << s) & mask
		out.b[i] = (x.b[i] << s) & mask
	}
	return out
}

func (x boolShare) andConst(c uint64) boolShare {
	out := newBoolShare(x.len())
	for i := range out.a {
		out.a[i] = x.a[i] & c
		out.b[i] = x.b[i] & c
	}
	return out
}

// spread copies bit i of every word into all 64 bits.
func (x boolShare) spread(i uint) boolShare {
	out := newBoolShare(x.len())
	for j := range out.a {
		out.a[j] = -((x.a[j] >> i) & 1)
		out.b[j] = -((x.b[j] >> i) & 1)
	}
	return out
}

// injectShares turns the local pair of an arithmetic sharing into three
// boolean sharings, one per additive share x_k: party k holds (x_k, 0),
// party k-1 holds (0, x_k) and party k+1 holds nothing.
func injectShares(pid PartyID, a, b []uint64) [NumParties]boolShare {
	var out [NumParties]boolShare
	zeros := make([]uint64, len(a))
	out[pid] = boolShare{a: a, b: zeros}
	out[pid.Next()] = boolShare{a: zeros, b: b}
	out[pid.Prev()] = boolShare{a: zeros, b: zeros}
	return out
}

// andWords computes xs[k] & ys[k] for every k in a single round: each
// party masks its cross terms with a zero sharing, sends the result to
// the previous party and receives the next party's.
func (mpcObj *MPC) andWords(xs, ys []boolShare) ([]boolShare, error) {
	total := 0
	for k := range xs {
		total += xs[k].len()
	}

	z := mpcObj.Network.Rand.ZeroShareXor(total)
	off := 0
	for k := range xs {
		x, y := xs[k], ys[k]
		for i := range x.a {
			z[off+i] ^= (x.a[i] & y.a[i]) ^ (x.a[i] & y.b[i]) ^ (x.b[i] & y.a[i])
		}
		off += x.len()
	}

	send := make([]byte, 8*total)
	for i := range z {
		binary.LittleEndian.PutUint64(send[8*i:], z[i])
	}
	recv := make([]byte, 8*total)
	if err := mpcObj.Network.Exchange(send, mpcObj.PrevID(), recv, mpcObj.NextID()); err != nil {
		return nil, err
	}

	out := make([]boolShare, len(xs))
	off = 0
	for k := range xs {
		n := xs[k].len()
		out[k] = boolShare{a: z[off : off+n], b: make([]uint64, n)}
		for i := range out[k].b {
			out[k].b[i] = binary.LittleEndian.Uint64(recv[8*(off+i):])
		}
		off += n
	}
	return out, nil
}

// csaInput is one carry-save addition x + y + z over the bits in mask.
type csaInput struct {
	x, y, z boolShare
	mask    uint64
}

// carrySave reduces every triple to a sum word and a majority word in one
// round. The majority is returned unshifted: bit j carries into bit j+1.
func (mpcObj *MPC) carrySave(in []csaInput) (sums, majs []boolShare, err error) {
	xs := make([]boolShare, len(in))
	ys := make([]boolShare, len(in))
	for k, t := range in {
		xs[k] = t.x.xor(t.z)
		ys[k] = t.y.xor(t.z)
	}
	ands, err := mpcObj.andWords(xs, ys)
	if err != nil {
		return nil, nil, err
	}

	sums = make([]boolShare, len(in))
	majs = make([]boolShare, len(in))
	for k, t := range in {
		sums[k] = t.x.xor(t.y).xor(t.z).andConst(t.mask)
		majs[k] = ands[k].xor(t.z).andConst(t.mask)
	}
	return sums, majs, nil
}

// prefixCarries returns, for every bit j < nbits, the carry out of bit j
// of x + y. Kogge-Stone: log2(nbits) rounds after the generate round.
func (mpcObj *MPC) prefixCarries(x, y boolShare, nbits uint) (boolShare, error) {
	mask := bitMask(nbits)
	x = x.andConst(mask)
	y = y.andConst(mask)

	gs, err := mpcObj.andWords([]boolShare{x}, []boolShare{y})
	if err != nil {
		return boolShare{}, err
	}
	g, p := gs[0], x.xor(y)

	for s := uint(1); s < nbits; s <<= 1 {
		res, err := mpcObj.andWords(
			[]boolShare{p, p},
			[]boolShare{g.shl(s, mask), p.shl(s, mask)},
		)
		if err != nil {
			return boolShare{}, err
		}
		// generate and propagate stay disjoint, so XOR acts as OR
		g = g.xor(res[0])
		p = res[1]
	}
	return g, nil
}

func bitMask(nbits uint) uint64 {
	if nbits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << nbits) - 1
}

func packBits(bits []RingElement[Bit]) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		out[i/8] |= byte(b.Value()) << (i % 8)
	}
	return out
}

func unpackBits(buf []byte, n int) []Bit {
	out := make([]Bit, n)
	for i := range out {
		out[i] = Bit(buf[i/8]>>(i%8)) & 1
	}
	return out
}
