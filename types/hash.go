package types

import (
	"bytes"
	"encoding/hex"
	"slices"

	"github.com/pkg/errors"
)

const HashSize = 32

type Hash [HashSize]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) IsNull() bool {
	return h == Hash{}
}

// Less orders hashes by their raw bytes, the order used for every sorted member and peer list.
func (h Hash) Less(other Hash) bool {
	return bytes.Compare(h[:], other[:]) < 0
}

func (h Hash) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, h[:])
	return b
}

func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, errors.Errorf("invalid hash length %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

func HashFromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, errors.Wrap(err, "decoding hash hex")
	}
	return HashFromBytes(b)
}

func SortHashes(hashes []Hash) {
	slices.SortFunc(hashes, func(a, b Hash) int {
		return bytes.Compare(a[:], b[:])
	})
}
