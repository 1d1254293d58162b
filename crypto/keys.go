package crypto

import (
	"bytes"
	"crypto/rand"
	"io"

	bls "github.com/cloudflare/circl/ecc/bls12381"
	"github.com/pkg/errors"
	"github.com/qubic/go-llmq/types"
)

var ErrInvalidKey = errors.New("invalid key")

// SecretKey is a scalar of the BLS12-381 group order. The zero value is invalid.
type SecretKey struct {
	s     bls.Scalar
	valid bool
}

func GenerateSecretKey(rnd io.Reader) (SecretKey, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	var sk SecretKey
	for {
		if err := sk.s.Random(rnd); err != nil {
			return SecretKey{}, errors.Wrap(err, "sampling scalar")
		}
		if !scalarIsZero(&sk.s) {
			sk.valid = true
			return sk, nil
		}
	}
}

func SecretKeyFromBytes(b []byte) (SecretKey, error) {
	var sk SecretKey
	if err := sk.s.UnmarshalBinary(b); err != nil {
		return SecretKey{}, errors.Wrap(err, "unmarshalling secret key")
	}
	if scalarIsZero(&sk.s) {
		return SecretKey{}, ErrInvalidKey
	}
	sk.valid = true
	return sk, nil
}

func (sk SecretKey) IsValid() bool {
	return sk.valid
}

func (sk SecretKey) Bytes() []byte {
	if !sk.valid {
		return nil
	}
	b, err := sk.s.MarshalBinary()
	if err != nil {
		return nil
	}
	return b
}

func (sk SecretKey) Equal(other SecretKey) bool {
	if !sk.valid || !other.valid {
		return sk.valid == other.valid
	}
	return bytes.Equal(sk.Bytes(), other.Bytes())
}

func (sk SecretKey) PublicKey() PublicKey {
	if !sk.valid {
		return PublicKey{}
	}
	var pk PublicKey
	pk.p.ScalarMult(&sk.s, bls.G1Generator())
	pk.valid = true
	return pk
}

// PublicKey is a point of G1. The zero value is invalid.
type PublicKey struct {
	p     bls.G1
	valid bool
}

func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if err := pk.p.SetBytes(b); err != nil {
		return PublicKey{}, errors.Wrap(err, "decoding G1 point")
	}
	if !pk.p.IsOnG1() {
		return PublicKey{}, errors.Wrap(ErrInvalidKey, "point not in G1")
	}
	pk.valid = true
	return pk, nil
}

func (pk PublicKey) IsValid() bool {
	return pk.valid
}

func (pk PublicKey) Bytes() []byte {
	if !pk.valid {
		return nil
	}
	return pk.p.BytesCompressed()
}

func (pk PublicKey) Equal(other PublicKey) bool {
	if !pk.valid || !other.valid {
		return pk.valid == other.valid
	}
	return pk.p.IsEqual(&other.p)
}

func scalarIsZero(s *bls.Scalar) bool {
	b, err := s.MarshalBinary()
	if err != nil {
		return true
	}
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// idScalar maps a member identity onto the evaluation point of its key share: the id read as a
// big-endian integer, reduced modulo the group order. Distinct ids collide only if they differ by a
// multiple of the order.
func idScalar(id types.Hash) bls.Scalar {
	var s bls.Scalar
	s.SetBytes(id[:])
	if scalarIsZero(&s) {
		s.SetUint64(1)
	}
	return s
}
