package crypto

import (
	"crypto/rand"
	"io"

	bls "github.com/cloudflare/circl/ecc/bls12381"
	"github.com/pkg/errors"
	"github.com/qubic/go-llmq/types"
)

// Contribution is what a single DKG participant deals: the commitment to its polynomial and the
// share it sends to every member, ordered like the member ids it was generated for.
type Contribution struct {
	VerificationVector VerificationVector
	Shares             []SecretKey
}

// GenerateContribution deals a random polynomial of degree threshold-1 to the given ids.
func GenerateContribution(rnd io.Reader, threshold int, ids []types.Hash) (Contribution, error) {
	if threshold <= 0 {
		return Contribution{}, errors.Errorf("invalid threshold %d", threshold)
	}
	if rnd == nil {
		rnd = rand.Reader
	}

	coeffs := make([]bls.Scalar, threshold)
	vvec := make(VerificationVector, threshold)
	for i := range coeffs {
		sk, err := GenerateSecretKey(rnd)
		if err != nil {
			return Contribution{}, errors.Wrapf(err, "generating coefficient %d", i)
		}
		coeffs[i] = sk.s
		vvec[i] = sk.PublicKey()
	}

	shares := make([]SecretKey, len(ids))
	for i, id := range ids {
		share, err := evalSecret(id, coeffs)
		if err != nil {
			return Contribution{}, errors.Wrapf(err, "evaluating share for %s", id)
		}
		shares[i] = share
	}

	return Contribution{VerificationVector: vvec, Shares: shares}, nil
}
