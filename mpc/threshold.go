package mpc

import (
	"fmt"
	"sync"

	"github.com/hhcho/irismpc/device"
	libunlynx "github.com/ldsec/unlynx/lib"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/onet/v3/simul/monitor"
)

const (
	// MatchThresholdRatio is the fractional Hamming distance below which
	// two iris codes match.
	MatchThresholdRatio = 0.375
	// DefaultBBits is the fixed-point precision of the threshold.
	DefaultBBits = 16
	// maskBits is the width of the mask dot-product ring.
	maskBits = 16
)

// ThresholdParams fixes the linear transform r = m*A - (c << BBits) whose
// most significant bit in Z/2^(16+BBits) decides a comparison.
type ThresholdParams struct {
	BBits uint
	A     uint64
}

// NewThresholdParams derives A = floor((1 - 2*ratio) * 2^bBits).
func NewThresholdParams(ratio float64, bBits uint) (ThresholdParams, error) {
	if !(ratio > 0 && ratio < 0.5) {
		return ThresholdParams{}, configErrorf("threshold", "ratio %v outside (0, 0.5)", ratio)
	}
	if bBits < 1 || bBits > 64-maskBits {
		return ThresholdParams{}, configErrorf("threshold", "precision of %d bits outside [1, %d]", bBits, 64-maskBits)
	}
	b := uint64(1) << bBits
	return ThresholdParams{
		BBits: bBits,
		A:     uint64((1 - 2*ratio) * float64(b)),
	}, nil
}

func DefaultThresholdParams() ThresholdParams {
	params, err := NewThresholdParams(MatchThresholdRatio, DefaultBBits)
	if err != nil {
		panic(err)
	}
	return params
}

func (p ThresholdParams) B() uint64 { return uint64(1) << p.BBits }

// RingBits is the width of the ring the transform is evaluated in.
func (p ThresholdParams) RingBits() uint { return maskBits + p.BBits }

func (p ThresholdParams) transform(c, m uint64) uint64 {
	return (m*p.A - c<<p.BBits) & bitMask(p.RingBits())
}

// Reference evaluates the comparison in the clear. It returns 1 when
// c*B > m*A, which for a code dot-product c = agreements - disagreements
// over the m valid bits means a fractional Hamming distance below the
// ratio.
func (p ThresholdParams) Reference(c, m uint16) Bit {
	return Bit(p.transform(uint64(c), uint64(m)) >> (p.RingBits() - 1))
}

// ResultBuffer holds the shared match bits of one batch, one chunk per
// device. It belongs to the Circuits that produced it and must be handed
// back with ReturnResultBuffer.
type ResultBuffer struct {
	Chunks []ChunkShare[Bit]

	events   []*device.Event
	reserved []int64
}

// Len is the number of compared pairs.
func (r *ResultBuffer) Len() int {
	n := 0
	for _, c := range r.Chunks {
		n += c.Len()
	}
	return n
}

// Circuits evaluates the masked threshold comparison for one party over
// all of its devices.
type Circuits struct {
	params    ThresholdParams
	mpcObjs   ParallelMPC
	devices   []*device.Device
	chunkSize int

	mu     sync.Mutex
	buffer *ResultBuffer // nil while taken

	// TimerTag enables phase timers when set.
	TimerTag string
}

// NewCircuits binds one MPC context to each device. chunkSize bounds the
// number of pairs a device evaluates per communication round, 0 for no
// bound.
func NewCircuits(params ThresholdParams, mpcObjs ParallelMPC, devices []*device.Device, chunkSize int) (*Circuits, error) {
	if len(mpcObjs) == 0 || len(mpcObjs) != len(devices) {
		return nil, configErrorf("circuits", "%d mpc contexts for %d devices", len(mpcObjs), len(devices))
	}
	pid := mpcObjs[0].GetPid()
	for d, mpcObj := range mpcObjs {
		if mpcObj.GetPid() != pid {
			return nil, configErrorf("circuits", "device %d belongs to %s, not %s", d, mpcObj.GetPid(), pid)
		}
	}
	if chunkSize < 0 {
		return nil, configErrorf("circuits", "negative chunk size %d", chunkSize)
	}
	return &Circuits{
		params:    params,
		mpcObjs:   mpcObjs,
		devices:   devices,
		chunkSize: chunkSize,
		buffer: &ResultBuffer{
			Chunks:   make([]ChunkShare[Bit], len(devices)),
			events:   make([]*device.Event, len(devices)),
			reserved: make([]int64, len(devices)),
		},
	}, nil
}

func (c *Circuits) Params() ThresholdParams { return c.params }

func (c *Circuits) PartyID() PartyID { return c.mpcObjs[0].GetPid() }

func (c *Circuits) NextID() PartyID { return c.PartyID().Next() }

func (c *Circuits) PrevID() PartyID { return c.PartyID().Prev() }

func (c *Circuits) MPC() ParallelMPC { return c.mpcObjs }

func (c *Circuits) validate(codes, masks []ChunkShare[uint16], streams []*device.Stream) error {
	nDev := len(c.devices)
	if len(codes) != nDev || len(masks) != nDev || len(streams) != nDev {
		return configErrorf("compare", "%d code chunks, %d mask chunks and %d streams for %d devices",
			len(codes), len(masks), len(streams), nDev)
	}
	for d := range codes {
		if len(codes[d].A) != len(codes[d].B) || len(masks[d].A) != len(masks[d].B) {
			return configErrorf("compare", "device %d: share buffers differ in length", d)
		}
		if codes[d].Len() != masks[d].Len() {
			return configErrorf("compare", "device %d: %d code shares but %d mask shares", d, codes[d].Len(), masks[d].Len())
		}
		if streams[d] == nil || streams[d].Device() != c.devices[d] {
			return configErrorf("compare", "stream %d does not belong to device %d", d, c.devices[d].ID())
		}
	}
	return nil
}

// CompareThresholdMasked launches the comparison of every code/mask pair
// on the streams and returns the result buffer immediately. Shapes are
// checked before any device work. Device errors surface through
// SynchronizeStreams or Open.
func (c *Circuits) CompareThresholdMasked(codes, masks []ChunkShare[uint16], streams []*device.Stream) (*ResultBuffer, error) {
	if err := c.validate(codes, masks, streams); err != nil {
		return nil, err
	}

	sizes := make([]int, len(codes))
	for d := range codes {
		sizes[d] = codes[d].Len()
	}
	res, err := c.takeResultBuffer(sizes)
	if err != nil {
		return nil, err
	}

	for d := range c.devices {
		d := d
		streams[d].Launch(func() error {
			var tm *monitor.TimeMeasure
			if c.TimerTag != "" {
				tm = libunlynx.StartTimer(fmt.Sprintf("%s_CompareThreshold_dev%d", c.TimerTag, d))
			}
			err := c.mpcObjs[d].CompareThresholdMasked(c.params, codes[d], masks[d], res.Chunks[d], c.chunkSize)
			if c.TimerTag != "" {
				libunlynx.EndTimer(tm)
			}
			if err != nil {
				return fmt.Errorf("device %d: %w", d, err)
			}
			return nil
		})
		res.events[d].Record(streams[d])
	}
	return res, nil
}

// takeResultBuffer hands out the single result buffer, grown to sizes.
func (c *Circuits) takeResultBuffer(sizes []int) (*ResultBuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buffer == nil {
		return nil, ErrResultBufferInUse
	}
	res := c.buffer

	for d, n := range sizes {
		need := int64(2 * n)
		if need > res.reserved[d] {
			if err := c.devices[d].Alloc(need - res.reserved[d]); err != nil {
				return nil, err
			}
			res.reserved[d] = need
			res.Chunks[d] = ChunkShare[Bit]{
				A: make([]RingElement[Bit], n),
				B: make([]RingElement[Bit], n),
			}
		}
		res.Chunks[d].A = res.Chunks[d].A[:n]
		res.Chunks[d].B = res.Chunks[d].B[:n]
		if res.events[d] == nil {
			res.events[d] = device.NewEvent()
		}
	}

	c.buffer = nil
	return res, nil
}

// ReturnResultBuffer waits for pending work on res and makes it available
// to the next batch.
func (c *Circuits) ReturnResultBuffer(res *ResultBuffer) error {
	if res == nil {
		return configErrorf("return", "nil result buffer")
	}
	for _, ev := range res.events {
		ev.Wait()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buffer != nil {
		return configErrorf("return", "result buffer was not taken")
	}
	c.buffer = res
	return nil
}

// SynchronizeStreams blocks until all launched work finished.
func (c *Circuits) SynchronizeStreams(streams []*device.Stream) error {
	return device.AwaitStreams(streams)
}

// WithResultBuffer runs a comparison, waits for it and passes the result
// to fn. The buffer is returned on every path.
func (c *Circuits) WithResultBuffer(codes, masks []ChunkShare[uint16], streams []*device.Stream, fn func(*ResultBuffer) error) (err error) {
	res, err := c.CompareThresholdMasked(codes, masks, streams)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := c.ReturnResultBuffer(res); err == nil {
			err = rerr
		}
	}()

	if err := c.SynchronizeStreams(streams); err != nil {
		return err
	}
	return fn(res)
}

// CompareAndOpen compares a batch and reveals the match bits.
func (c *Circuits) CompareAndOpen(codes, masks []ChunkShare[uint16], streams []*device.Stream) ([]bool, error) {
	var out []bool
	err := c.WithResultBuffer(codes, masks, streams, func(res *ResultBuffer) error {
		var err error
		out, err = c.Open(res)
		return err
	})
	return out, err
}

// Free releases the device memory of the idle result buffer.
func (c *Circuits) Free() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buffer == nil {
		log.Warn("Freeing circuits while the result buffer is taken")
		return
	}
	for d, n := range c.buffer.reserved {
		c.devices[d].Free(n)
		c.buffer.reserved[d] = 0
		c.buffer.Chunks[d] = ChunkShare[Bit]{}
	}
}

// CompareThresholdMasked evaluates the comparison for one device chunk,
// chunkSize pairs per round, and writes the shared bits into out.
func (mpcObj *MPC) CompareThresholdMasked(params ThresholdParams, code, mask ChunkShare[uint16], out ChunkShare[Bit], chunkSize int) error {
	n := code.Len()
	if mask.Len() != n || out.Len() != n {
		return configErrorf("compare", "%d code shares, %d mask shares, %d outputs", n, mask.Len(), out.Len())
	}
	if chunkSize <= 0 {
		chunkSize = n
	}

	for off := 0; off < n; off += chunkSize {
		size := chunkSize
		if off+size > n {
			size = n - off
		}
		codeView, _ := code.View(off, size)
		maskView, _ := mask.View(off, size)
		msb, err := mpcObj.thresholdMsb(params, codeView, maskView)
		if err != nil {
			return err
		}
		top := params.RingBits() - 1
		for i := 0; i < size; i++ {
			out.A[off+i] = NewRingElement(Bit(msb.a[i] >> top))
			out.B[off+i] = NewRingElement(Bit(msb.b[i] >> top))
		}
	}
	return nil
}

// thresholdMsb returns a boolean sharing of r = (m*A - (c << BBits)) mod
// 2^W for W = 16 + BBits, of which only bit W-1 is meaningful.
//
// The arithmetic shares of r are injected as three boolean addends. The
// mask shares live in Z/2^16, so their sum as integers overshoots m by
// k * 2^16 for k in {0, 1, 2}; k is recovered from the carries of the
// mask addition and k * (A << 16) is subtracted through two extra
// addends. The code shares need no correction since c << BBits already
// discards the overflow.
func (mpcObj *MPC) thresholdMsb(params ThresholdParams, code, mask ChunkShare[uint16]) (boolShare, error) {
	n := code.Len()
	pid := mpcObj.GetPid()
	ringBits := params.RingBits()
	ringMask := bitMask(ringBits)
	m16 := bitMask(maskBits)

	rA := make([]uint64, n)
	rB := make([]uint64, n)
	mA := make([]uint64, n)
	mB := make([]uint64, n)
	for i := 0; i < n; i++ {
		rA[i] = params.transform(uint64(code.A[i].Value()), uint64(mask.A[i].Value()))
		rB[i] = params.transform(uint64(code.B[i].Value()), uint64(mask.B[i].Value()))
		mA[i] = uint64(mask.A[i].Value())
		mB[i] = uint64(mask.B[i].Value())
	}
	t := injectShares(pid, rA, rB)
	ms := injectShares(pid, mA, mB)

	sums, majs, err := mpcObj.carrySave([]csaInput{
		{x: t[0], y: t[1], z: t[2], mask: ringMask},
		{x: ms[0], y: ms[1], z: ms[2], mask: m16},
	})
	if err != nil {
		return boolShare{}, err
	}
	s1, c1 := sums[0], majs[0].shl(1, ringMask)
	sm, cm := sums[1], majs[1].shl(1, m16)

	// overflow of the mask sum: k = b1 + b2
	b1 := majs[1].spread(maskBits - 1)
	mCarries, err := mpcObj.prefixCarries(sm, cm, maskBits)
	if err != nil {
		return boolShare{}, err
	}
	b2 := mCarries.spread(maskBits - 1)

	negLift := (-((params.A << maskBits) & ringMask)) & ringMask
	e1 := b1.andConst(negLift)
	e2 := b2.andConst(negLift)

	sums, majs, err = mpcObj.carrySave([]csaInput{{x: s1, y: c1, z: e1, mask: ringMask}})
	if err != nil {
		return boolShare{}, err
	}
	s2, c2 := sums[0], majs[0].shl(1, ringMask)

	sums, majs, err = mpcObj.carrySave([]csaInput{{x: s2, y: c2, z: e2, mask: ringMask}})
	if err != nil {
		return boolShare{}, err
	}
	s3, c3 := sums[0], majs[0].shl(1, ringMask)

	carries, err := mpcObj.prefixCarries(s3, c3, ringBits-1)
	if err != nil {
		return boolShare{}, err
	}
	return s3.xor(c3).xor(carries.shl(1, ringMask)), nil
}
