package mpc

import (
	"golang.org/x/sync/errgroup"
)

type groupOp struct {
	netObj *Network
	peer   PartyID
	send   bool
	buf    []byte
}

// Group collects point-to-point operations across device networks and
// issues them together. A peer that does not complete its side within the
// network timeout fails the whole group.
type Group struct {
	ops []groupOp
}

func GroupStart() *Group {
	return &Group{}
}

// Send queues buf for delivery to party to. buf must not be modified
// until End returns.
func (g *Group) Send(netObj *Network, buf []byte, to PartyID) {
	g.ops = append(g.ops, groupOp{netObj: netObj, peer: to, send: true, buf: buf})
}

// Receive queues a read of exactly len(buf) bytes from party from.
func (g *Group) Receive(netObj *Network, buf []byte, from PartyID) {
	g.ops = append(g.ops, groupOp{netObj: netObj, peer: from, buf: buf})
}

// End runs all queued operations concurrently and waits for them. The
// first failure is returned as a *PeerError.
func (g *Group) End() error {
	var eg errgroup.Group
	for _, op := range g.ops {
		op := op
		eg.Go(func() error {
			if op.send {
				return op.netObj.SendBytes(op.buf, op.peer)
			}
			return op.netObj.ReceiveBytes(op.buf, op.peer)
		})
	}
	g.ops = nil
	return eg.Wait()
}
