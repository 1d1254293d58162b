package crypto

import (
	bls "github.com/cloudflare/circl/ecc/bls12381"
	"github.com/pkg/errors"
	"github.com/qubic/go-llmq/types"
)

var (
	ErrEmptyInput    = errors.New("empty input")
	ErrSizeMismatch  = errors.New("verification vectors differ in size")
	ErrInvalidVector = errors.New("invalid verification vector")
)

// Worker performs the threshold arithmetic needed to assemble a quorum from DKG output.
type Worker struct{}

func NewWorker() *Worker {
	return &Worker{}
}

// BuildQuorumVerificationVector sums the member vectors coefficient-wise.
func (w *Worker) BuildQuorumVerificationVector(vvecs []VerificationVector) (VerificationVector, error) {
	if len(vvecs) == 0 {
		return nil, ErrEmptyInput
	}
	size := len(vvecs[0])
	for i, v := range vvecs {
		if len(v) != size {
			return nil, errors.Wrapf(ErrSizeMismatch, "vector %d has %d entries, expected %d", i, len(v), size)
		}
		if !v.IsValid() {
			return nil, errors.Wrapf(ErrInvalidVector, "vector %d", i)
		}
	}

	out := make(VerificationVector, size)
	for j := 0; j < size; j++ {
		acc := vvecs[0][j].p
		for _, v := range vvecs[1:] {
			var sum bls.G1
			sum.Add(&acc, &v[j].p)
			acc = sum
		}
		out[j] = PublicKey{p: acc, valid: true}
	}
	return out, nil
}

// AggregateSecretKeys sums the secret contributions a member received.
func (w *Worker) AggregateSecretKeys(keys []SecretKey) (SecretKey, error) {
	if len(keys) == 0 {
		return SecretKey{}, ErrEmptyInput
	}
	for i, k := range keys {
		if !k.IsValid() {
			return SecretKey{}, errors.Wrapf(ErrInvalidKey, "contribution %d", i)
		}
	}
	acc := keys[0].s
	for _, k := range keys[1:] {
		var sum bls.Scalar
		sum.Add(&acc, &k.s)
		acc = sum
	}
	if scalarIsZero(&acc) {
		return SecretKey{}, errors.Wrap(ErrInvalidKey, "aggregate is zero")
	}
	return SecretKey{s: acc, valid: true}, nil
}

// BuildPubKeyShare evaluates the committed polynomial at the member id.
func (w *Worker) BuildPubKeyShare(id types.Hash, vvec VerificationVector) (PublicKey, error) {
	if !vvec.IsValid() {
		return PublicKey{}, ErrInvalidVector
	}
	x := idScalar(id)

	acc := vvec[len(vvec)-1].p
	for j := len(vvec) - 2; j >= 0; j-- {
		var scaled, sum bls.G1
		scaled.ScalarMult(&x, &acc)
		sum.Add(&scaled, &vvec[j].p)
		acc = sum
	}
	return PublicKey{p: acc, valid: true}, nil
}

// evalSecret evaluates a scalar polynomial at the member id.
func evalSecret(id types.Hash, coeffs []bls.Scalar) (SecretKey, error) {
	x := idScalar(id)
	acc := coeffs[len(coeffs)-1]
	for j := len(coeffs) - 2; j >= 0; j-- {
		var scaled, sum bls.Scalar
		scaled.Mul(&x, &acc)
		sum.Add(&scaled, &coeffs[j])
		acc = sum
	}
	if scalarIsZero(&acc) {
		return SecretKey{}, errors.Wrap(ErrInvalidKey, "share evaluates to zero")
	}
	return SecretKey{s: acc, valid: true}, nil
}
