package store

import (
	"github.com/qubic/go-llmq/types"
)

const (
	VerificationVector = 0x00
	SecretKeyShare     = 0x01
	LastProcessedBlock = 0x02
)

func verificationVectorKey(quorumKey types.Hash) []byte {
	key := []byte{VerificationVector}
	key = append(key, quorumKey[:]...)

	return key
}

func secretKeyShareKey(quorumKey types.Hash) []byte {
	key := []byte{SecretKeyShare}
	key = append(key, quorumKey[:]...)

	return key
}

func lastProcessedBlockKey() []byte {
	return []byte{LastProcessedBlock}
}

// prefixUpperBound returns the first key past every key starting with prefix.
func prefixUpperBound(prefix byte) []byte {
	return []byte{prefix + 1}
}
