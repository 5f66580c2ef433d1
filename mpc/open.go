package mpc

import (
	"fmt"

	libunlynx "github.com/ldsec/unlynx/lib"
	"go.dedis.ch/onet/v3/simul/monitor"
)

// Open reveals every match bit of res, concatenated in device order.
func (c *Circuits) Open(res *ResultBuffer) ([]bool, error) {
	longest := 0
	for _, chunk := range res.Chunks {
		if chunk.Len() > longest {
			longest = chunk.Len()
		}
	}
	return c.OpenRange(res, 0, longest)
}

// OpenRange reveals the bits [offset, offset+n) of every device chunk,
// clipped to the chunk length. The other bits stay shared.
//
// Each party sends its first share to the next party, receives the
// previous party's first share and XORs it with its own two.
func (c *Circuits) OpenRange(res *ResultBuffer, offset, n int) ([]bool, error) {
	if res == nil || len(res.Chunks) != len(c.mpcObjs) {
		return nil, configErrorf("open", "result buffer does not match %d devices", len(c.mpcObjs))
	}
	if offset < 0 || n < 0 {
		return nil, configErrorf("open", "invalid range offset %d length %d", offset, n)
	}

	var tm *monitor.TimeMeasure
	if c.TimerTag != "" {
		tm = libunlynx.StartTimer(c.TimerTag + "_Open")
	}

	// the comparison must be complete on every device
	for d, ev := range res.events {
		if ev == nil {
			continue
		}
		if err := ev.Wait(); err != nil {
			return nil, fmt.Errorf("open: device %d: %w", d, err)
		}
	}

	views := make([]ChunkShare[Bit], len(res.Chunks))
	recv := make([][]byte, len(res.Chunks))
	g := GroupStart()
	for d, chunk := range res.Chunks {
		lo := clip(offset, chunk.Len())
		hi := clip(offset+n, chunk.Len())
		view, err := chunk.View(lo, hi-lo)
		if err != nil {
			return nil, err
		}
		views[d] = view
		recv[d] = make([]byte, (view.Len()+7)/8)
		g.Send(c.mpcObjs[d].Network, packBits(view.A), c.NextID())
		g.Receive(c.mpcObjs[d].Network, recv[d], c.PrevID())
	}
	if err := g.End(); err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	out := make([]bool, 0, res.Len())
	for d, view := range views {
		third := unpackBits(recv[d], view.Len())
		for i := range third {
			out = append(out, view.A[i].Value()^view.B[i].Value()^third[i] == 1)
		}
	}

	if c.TimerTag != "" {
		libunlynx.EndTimer(tm)
	}
	return out, nil
}

func clip(v, hi int) int {
	if v > hi {
		return hi
	}
	return v
}
