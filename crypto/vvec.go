package crypto

import (
	"github.com/pkg/errors"
	"github.com/qubic/go-llmq/types"
	"github.com/qubic/go-llmq/utils"
	"google.golang.org/protobuf/encoding/protowire"
)

const vvecPointField protowire.Number = 1

// VerificationVector holds the commitments to the coefficients of a quorum polynomial, lowest
// degree first. Entry 0 is the quorum public key.
type VerificationVector []PublicKey

func (v VerificationVector) IsValid() bool {
	if len(v) == 0 {
		return false
	}
	for _, pk := range v {
		if !pk.IsValid() {
			return false
		}
	}
	return true
}

func (v VerificationVector) Equal(other VerificationVector) bool {
	if len(v) != len(other) {
		return false
	}
	for i := range v {
		if !v[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

// Marshal encodes each point as a repeated bytes field.
func (v VerificationVector) Marshal() []byte {
	var b []byte
	for _, pk := range v {
		b = protowire.AppendTag(b, vvecPointField, protowire.BytesType)
		b = protowire.AppendBytes(b, pk.Bytes())
	}
	return b
}

func UnmarshalVerificationVector(b []byte) (VerificationVector, error) {
	var v VerificationVector
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "consuming tag")
		}
		b = b[n:]
		if num != vvecPointField || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "skipping field")
			}
			b = b[n:]
			continue
		}
		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "consuming point")
		}
		b = b[n:]
		pk, err := PublicKeyFromBytes(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding point %d", len(v))
		}
		v = append(v, pk)
	}
	return v, nil
}

// Hash is the value a final commitment carries as its verification vector hash.
func (v VerificationVector) Hash() types.Hash {
	hw := utils.NewHashWriter("llmq/vvec").WriteUint64(uint64(len(v)))
	for _, pk := range v {
		hw.WriteBytes(pk.Bytes())
	}
	return hw.MustSum()
}
