package mpc

import (
	"fmt"
	"io"
)

// NumParties is fixed by the 2-out-of-3 replicated scheme.
const NumParties = 3

// PartyID indexes the closed set {0, 1, 2}.
type PartyID int

func (p PartyID) Next() PartyID { return (p + 1) % NumParties }
func (p PartyID) Prev() PartyID { return (p + NumParties - 1) % NumParties }

func (p PartyID) Valid() bool { return p >= 0 && p < NumParties }

func (p PartyID) String() string { return fmt.Sprintf("party%d", int(p)) }

// ReplicatedShare is what party i holds of a secret v = x0 + x1 + x2:
// A = x_i and B = x_{i+1}.
type ReplicatedShare[T Word] struct {
	A, B RingElement[T]
}

// ShareAdditive splits v into three additive shares and returns the pair
// held by each party, indexed by PartyID.
func ShareAdditive[T Word](v RingElement[T], rng io.Reader) ([NumParties]ReplicatedShare[T], error) {
	var out [NumParties]ReplicatedShare[T]
	x0, err := randomElement[T](rng)
	if err != nil {
		return out, err
	}
	x1, err := randomElement[T](rng)
	if err != nil {
		return out, err
	}
	x := [NumParties]RingElement[T]{x0, x1, v.Sub(x0).Sub(x1)}
	for i := range out {
		out[i] = ReplicatedShare[T]{A: x[i], B: x[(i+1)%NumParties]}
	}
	return out, nil
}

// ShareXor is ShareAdditive for XOR sharing.
func ShareXor[T Word](v RingElement[T], rng io.Reader) ([NumParties]ReplicatedShare[T], error) {
	var out [NumParties]ReplicatedShare[T]
	x0, err := randomElement[T](rng)
	if err != nil {
		return out, err
	}
	x1, err := randomElement[T](rng)
	if err != nil {
		return out, err
	}
	x := [NumParties]RingElement[T]{x0, x1, v.Xor(x0).Xor(x1)}
	for i := range out {
		out[i] = ReplicatedShare[T]{A: x[i], B: x[(i+1)%NumParties]}
	}
	return out, nil
}

func checkReplicated[T Word](shares [NumParties]ReplicatedShare[T]) error {
	for i := range shares {
		if !shares[i].B.Equal(shares[(i+1)%NumParties].A) {
			return configErrorf("reconstruct", "share of party %d does not overlap party %d", i, (i+1)%NumParties)
		}
	}
	return nil
}

// ReconstructAdditive recombines the three parties' pairs.
func ReconstructAdditive[T Word](shares [NumParties]ReplicatedShare[T]) (RingElement[T], error) {
	if err := checkReplicated(shares); err != nil {
		return RingElement[T]{}, err
	}
	return shares[0].A.Add(shares[1].A).Add(shares[2].A), nil
}

func ReconstructXor[T Word](shares [NumParties]ReplicatedShare[T]) (RingElement[T], error) {
	if err := checkReplicated(shares); err != nil {
		return RingElement[T]{}, err
	}
	return shares[0].A.Xor(shares[1].A).Xor(shares[2].A), nil
}

// ShareAdditiveVec shares every value of vals and returns one chunk per
// party.
func ShareAdditiveVec[T Word](vals []T, rng io.Reader) ([NumParties]ChunkShare[T], error) {
	var out [NumParties]ChunkShare[T]
	for p := range out {
		out[p] = ChunkShare[T]{
			A: make([]RingElement[T], len(vals)),
			B: make([]RingElement[T], len(vals)),
		}
	}
	for i, v := range vals {
		shares, err := ShareAdditive(NewRingElement(v), rng)
		if err != nil {
			return out, err
		}
		for p := range out {
			out[p].A[i] = shares[p].A
			out[p].B[i] = shares[p].B
		}
	}
	return out, nil
}
