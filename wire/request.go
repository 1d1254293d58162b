package wire

import (
	"fmt"
	"strings"
	"time"

	"github.com/qubic/go-llmq/types"
)

const (
	CmdQGetData = "qgetdata"
	CmdQData    = "qdata"

	// LLMQDataMessagesVersion is the first protocol version that understands qgetdata/qdata.
	LLMQDataMessagesVersion = 70219

	// RequestTTL bounds how long a request stays outstanding or blocks a duplicate.
	RequestTTL = 300 * time.Second
)

type DataMask uint16

const (
	VerificationVector     DataMask = 0x0001
	EncryptedContributions DataMask = 0x0002
)

func (m DataMask) Has(flag DataMask) bool {
	return m&flag != 0
}

func (m DataMask) String() string {
	var parts []string
	if m.Has(VerificationVector) {
		parts = append(parts, "vvec")
	}
	if m.Has(EncryptedContributions) {
		parts = append(parts, "contributions")
	}
	if rest := m &^ (VerificationVector | EncryptedContributions); rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint16(rest)))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

type ErrorCode uint8

const (
	ErrNone                            ErrorCode = 0x00
	ErrQuorumTypeInvalid               ErrorCode = 0x01
	ErrQuorumBlockNotFound             ErrorCode = 0x02
	ErrQuorumNotFound                  ErrorCode = 0x03
	ErrMasternodeIsNoMember            ErrorCode = 0x04
	ErrQuorumVerificationVectorMissing ErrorCode = 0x05
	ErrEncryptedContributionsMissing   ErrorCode = 0x06
	ErrUndefined                       ErrorCode = 0xff
)

var errorCodeNames = map[ErrorCode]string{
	ErrNone:                            "NONE",
	ErrQuorumTypeInvalid:               "QUORUM_TYPE_INVALID",
	ErrQuorumBlockNotFound:             "QUORUM_BLOCK_NOT_FOUND",
	ErrQuorumNotFound:                  "QUORUM_NOT_FOUND",
	ErrMasternodeIsNoMember:            "MASTERNODE_IS_NO_MEMBER",
	ErrQuorumVerificationVectorMissing: "QUORUM_VERIFICATION_VECTOR_MISSING",
	ErrEncryptedContributionsMissing:   "ENCRYPTED_CONTRIBUTIONS_MISSING",
	ErrUndefined:                       "UNDEFINED",
}

func (e ErrorCode) String() string {
	if name, ok := errorCodeNames[e]; ok {
		return name
	}
	return fmt.Sprintf("ERROR_%d", uint8(e))
}

// QuorumDataRequest is what a node asks a peer for. Processed and Created are local bookkeeping
// and never go over the wire.
type QuorumDataRequest struct {
	LLMQType   types.LLMQType
	QuorumHash types.Hash
	DataMask   DataMask
	ProTxHash  types.Hash
	Error      ErrorCode

	Processed bool
	Created   time.Time
}

func NewQuorumDataRequest(llmqType types.LLMQType, quorumHash types.Hash, mask DataMask, proTxHash types.Hash, now time.Time) QuorumDataRequest {
	return QuorumDataRequest{
		LLMQType:   llmqType,
		QuorumHash: quorumHash,
		DataMask:   mask,
		ProTxHash:  proTxHash,
		Error:      ErrUndefined,
		Created:    now,
	}
}

func (r QuorumDataRequest) IsExpired(now time.Time) bool {
	return now.Sub(r.Created) >= RequestTTL
}

// Equal compares what identifies a request on the wire.
func (r QuorumDataRequest) Equal(other QuorumDataRequest) bool {
	return r.LLMQType == other.LLMQType &&
		r.QuorumHash == other.QuorumHash &&
		r.DataMask == other.DataMask &&
		r.ProTxHash == other.ProTxHash
}

func (r QuorumDataRequest) String() string {
	return fmt.Sprintf("QuorumDataRequest(type=%s, hash=%s, mask=%s, proTxHash=%s, error=%s)",
		r.LLMQType, r.QuorumHash, r.DataMask, r.ProTxHash, r.Error)
}
