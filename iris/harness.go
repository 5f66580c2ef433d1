package iris

import (
	"io"

	"github.com/aead/chacha20/chacha"
	"github.com/hhcho/frand"
	"github.com/hhcho/irismpc/mpc"
)

// SharesObject holds the replicated shares of a batch of dot-products for
// all three parties. Only a test dealer ever holds all of them.
type SharesObject struct {
	codes [mpc.NumParties]mpc.ChunkShare[uint16]
	masks [mpc.NumParties]mpc.ChunkShare[uint16]
}

// Get returns the shares destined for party pid.
func (s *SharesObject) Get(pid mpc.PartyID) (codes, masks mpc.ChunkShare[uint16]) {
	return s.codes[pid], s.masks[pid]
}

// ShareDots secret-shares code and mask dot-products.
func ShareDots(codes, masks []uint16, rng io.Reader) (*SharesObject, error) {
	if len(codes) != len(masks) {
		return nil, &mpc.ConfigError{Op: "share", Msg: "code and mask dot-products differ in length"}
	}
	codeShares, err := mpc.ShareAdditiveVec(codes, rng)
	if err != nil {
		return nil, err
	}
	maskShares, err := mpc.ShareAdditiveVec(masks, rng)
	if err != nil {
		return nil, err
	}
	return &SharesObject{codes: codeShares, masks: maskShares}, nil
}

// Batch is a plaintext test batch together with its shares.
type Batch struct {
	Queries []*IrisCode
	DB      []*IrisCode
	Shares  *SharesObject
	// Expected holds the plaintext match decision per pair, query-major.
	Expected []bool
}

func (b *Batch) NumPairs() int { return len(b.Expected) }

// GenerateBatch builds a database of random codes and queries of which
// every other one is a noisy copy of a database entry. The same seed
// yields the same batch on every party.
func GenerateBatch(seed []byte, numQueries, dbSize int, params mpc.ThresholdParams) (*Batch, error) {
	key := make([]byte, chacha.KeySize)
	copy(key, seed)
	rng := frand.NewCustom(key, 1024, 20)

	batch := &Batch{
		Queries: make([]*IrisCode, numQueries),
		DB:      make([]*IrisCode, dbSize),
	}
	for i := range batch.DB {
		batch.DB[i] = RandomIrisCode(rng)
	}
	for i := range batch.Queries {
		if i%2 == 0 && dbSize > 0 {
			batch.Queries[i] = batch.DB[(i/2)%dbSize].SimilarCode(rng, 0.2)
		} else {
			batch.Queries[i] = RandomIrisCode(rng)
		}
	}

	codes, masks := PairDots(batch.Queries, batch.DB)
	batch.Expected = make([]bool, len(codes))
	for i := range codes {
		batch.Expected[i] = params.Reference(codes[i], masks[i]) == 1
	}

	shares, err := ShareDots(codes, masks, rng)
	if err != nil {
		return nil, err
	}
	batch.Shares = shares
	return batch, nil
}
