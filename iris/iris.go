// Package iris is the application layer: iris code model, protocol
// bootstrap, batch matching and storage synchronization.
package iris

import (
	"encoding/binary"
	"io"
	"math/bits"

	"github.com/hhcho/irismpc/mpc"
)

const (
	IrisCodeBits = 12800
	irisWords    = IrisCodeBits / 64
)

// IrisCode is a binary template and its validity mask.
type IrisCode struct {
	Code [irisWords]uint64
	Mask [irisWords]uint64
}

func randWord(rng io.Reader) uint64 {
	var buf [8]byte
	if _, err := io.ReadFull(rng, buf[:]); err != nil {
		panic(err)
	}
	return binary.LittleEndian.Uint64(buf[:])
}

// RandomIrisCode samples a code with roughly 1/16 of the bits masked out.
func RandomIrisCode(rng io.Reader) *IrisCode {
	out := new(IrisCode)
	for i := range out.Code {
		out.Code[i] = randWord(rng)
		out.Mask[i] = randWord(rng) | randWord(rng) | randWord(rng) | randWord(rng)
	}
	return out
}

// SimilarCode flips about flipRatio of the bits of c.
func (c *IrisCode) SimilarCode(rng io.Reader, flipRatio float64) *IrisCode {
	out := *c
	threshold := uint64(flipRatio * float64(1<<32))
	for i := range out.Code {
		for j := 0; j < 64; j++ {
			if randWord(rng)>>32 < threshold {
				out.Code[i] ^= uint64(1) << j
			}
		}
	}
	return &out
}

// Distance returns the Hamming distance over the commonly valid bits and
// the number of such bits.
func (c *IrisCode) Distance(other *IrisCode) (hd, valid int) {
	for i := range c.Code {
		mask := c.Mask[i] & other.Mask[i]
		valid += bits.OnesCount64(mask)
		hd += bits.OnesCount64((c.Code[i] ^ other.Code[i]) & mask)
	}
	return hd, valid
}

// Dots returns the code dot-product (agreements minus disagreements over
// the valid bits) and the mask dot-product (number of valid bits), both
// as elements of Z/2^16.
func (c *IrisCode) Dots(other *IrisCode) (code, mask uint16) {
	hd, valid := c.Distance(other)
	return uint16(valid - 2*hd), uint16(valid)
}

func (c *IrisCode) FractionalHammingDistance(other *IrisCode) float64 {
	hd, valid := c.Distance(other)
	if valid == 0 {
		return 1
	}
	return float64(hd) / float64(valid)
}

func (c *IrisCode) IsMatch(other *IrisCode) bool {
	return c.FractionalHammingDistance(other) < mpc.MatchThresholdRatio
}

// PairDots computes the dot-products of every query against every
// database entry, query-major.
func PairDots(queries, db []*IrisCode) (codes, masks []uint16) {
	codes = make([]uint16, 0, len(queries)*len(db))
	masks = make([]uint16, 0, len(queries)*len(db))
	for _, q := range queries {
		for _, d := range db {
			c, m := q.Dots(d)
			codes = append(codes, c)
			masks = append(masks, m)
		}
	}
	return codes, masks
}
