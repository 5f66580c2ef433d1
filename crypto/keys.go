// Package crypto manages the key material behind the parties' shared
// randomness.
package crypto

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/aead/chacha20/chacha"
	"github.com/hhcho/frand"
	"github.com/ldsec/lattigo/v2/ring"
	"go.dedis.ch/onet/v3/log"
)

// PrfKeySize is the size of a key exchanged between neighbouring parties.
const PrfKeySize = 16

// NewPrfKey samples a fresh uniformly random PRF key.
func NewPrfKey() [PrfKeySize]byte {
	bound := new(big.Int).Lsh(big.NewInt(1), 8*PrfKeySize)
	var key [PrfKeySize]byte
	ring.RandInt(bound).FillBytes(key[:])
	return key
}

// ExpandSeed stretches a PRF key into a PRG seed. Different labels give
// independent seeds for the same key.
func ExpandSeed(key [PrfKeySize]byte, label byte) []byte {
	k := make([]byte, chacha.KeySize)
	copy(k, key[:])
	nonce := make([]byte, chacha.NonceSize)
	nonce[0] = label
	seed := make([]byte, chacha.KeySize)
	chacha.XORKeyStream(seed, seed, nonce, k, 20)
	return seed
}

func GlobalKeyPath(dir string) string {
	return filepath.Join(dir, "shared_key_global.bin")
}

// SharedKeyPath names the key file shared by parties a and b.
func SharedKeyPath(dir string, a, b int) string {
	if a > b {
		a, b = b, a
	}
	return filepath.Join(dir, fmt.Sprintf("shared_key_%d_%d.bin", a, b))
}

// LoadKey reads a PRG seed written by WriteSharedKeys.
func LoadKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(key) != chacha.KeySize {
		return nil, fmt.Errorf("crypto: key file %s has %d bytes, want %d", path, len(key), chacha.KeySize)
	}
	return key, nil
}

// WriteSharedKeys generates the global key and one key per party pair
// into dir. Each file must then be distributed to the parties named in it.
func WriteSharedKeys(dir string, nparties int) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	write := func(path string) error {
		key := make([]byte, chacha.KeySize)
		frand.Read(key)
		return os.WriteFile(path, key, 0600)
	}

	if err := write(GlobalKeyPath(dir)); err != nil {
		return err
	}
	for a := 0; a < nparties; a++ {
		for b := a + 1; b < nparties; b++ {
			if err := write(SharedKeyPath(dir, a, b)); err != nil {
				return err
			}
		}
	}
	log.Lvl1("Wrote shared keys for", nparties, "parties to", dir)
	return nil
}
