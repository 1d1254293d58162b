package wire

import (
	"github.com/pkg/errors"
	"github.com/qubic/go-llmq/crypto"
	"github.com/qubic/go-llmq/types"
	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformed = errors.New("malformed message")

const (
	requestTypeField      protowire.Number = 1
	requestHashField      protowire.Number = 2
	requestMaskField      protowire.Number = 3
	requestProTxHashField protowire.Number = 4

	dataRequestField       protowire.Number = 1
	dataErrorField         protowire.Number = 2
	dataVvecField          protowire.Number = 3
	dataContributionsField protowire.Number = 4
)

// QData is the response to a qgetdata message. The body is only set when Error is ErrNone.
type QData struct {
	Request                QuorumDataRequest
	Error                  ErrorCode
	VerificationVector     crypto.VerificationVector
	EncryptedContributions []crypto.EncryptedSecretKey
}

func MarshalQGetData(r QuorumDataRequest) []byte {
	var b []byte
	b = protowire.AppendTag(b, requestTypeField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.LLMQType))
	b = protowire.AppendTag(b, requestHashField, protowire.BytesType)
	b = protowire.AppendBytes(b, r.QuorumHash[:])
	b = protowire.AppendTag(b, requestMaskField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.DataMask))
	b = protowire.AppendTag(b, requestProTxHashField, protowire.BytesType)
	b = protowire.AppendBytes(b, r.ProTxHash[:])
	return b
}

// UnmarshalQGetData decodes a request. Error is left at ErrUndefined and Created at zero; the
// caller stamps its own receive time.
func UnmarshalQGetData(b []byte) (QuorumDataRequest, error) {
	r := QuorumDataRequest{Error: ErrUndefined}
	var seenType, seenHash bool

	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		switch {
		case num == requestTypeField && typ == protowire.VarintType:
			if v > 0xff {
				return errors.Errorf("llmq type %d out of range", v)
			}
			r.LLMQType = types.LLMQType(v)
			seenType = true
		case num == requestHashField && typ == protowire.BytesType:
			h, err := types.HashFromBytes(raw)
			if err != nil {
				return errors.Wrap(err, "quorum hash")
			}
			r.QuorumHash = h
			seenHash = true
		case num == requestMaskField && typ == protowire.VarintType:
			if v > 0xffff {
				return errors.Errorf("data mask %d out of range", v)
			}
			r.DataMask = DataMask(v)
		case num == requestProTxHashField && typ == protowire.BytesType:
			h, err := types.HashFromBytes(raw)
			if err != nil {
				return errors.Wrap(err, "protx hash")
			}
			r.ProTxHash = h
		}
		return nil
	})
	if err != nil {
		return QuorumDataRequest{}, err
	}
	if !seenType || !seenHash {
		return QuorumDataRequest{}, errors.Wrap(ErrMalformed, "request misses type or hash")
	}
	return r, nil
}

func MarshalQData(d QData) []byte {
	var b []byte
	b = protowire.AppendTag(b, dataRequestField, protowire.BytesType)
	b = protowire.AppendBytes(b, MarshalQGetData(d.Request))
	b = protowire.AppendTag(b, dataErrorField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.Error))
	if d.VerificationVector != nil {
		b = protowire.AppendTag(b, dataVvecField, protowire.BytesType)
		b = protowire.AppendBytes(b, d.VerificationVector.Marshal())
	}
	for _, c := range d.EncryptedContributions {
		b = protowire.AppendTag(b, dataContributionsField, protowire.BytesType)
		b = protowire.AppendBytes(b, c.Marshal())
	}
	return b
}

func UnmarshalQData(b []byte) (QData, error) {
	var (
		d           QData
		seenRequest bool
	)
	d.Error = ErrUndefined

	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		switch {
		case num == dataRequestField && typ == protowire.BytesType:
			r, err := UnmarshalQGetData(raw)
			if err != nil {
				return errors.Wrap(err, "echoed request")
			}
			d.Request = r
			seenRequest = true
		case num == dataErrorField && typ == protowire.VarintType:
			if v > 0xff {
				return errors.Errorf("error code %d out of range", v)
			}
			d.Error = ErrorCode(v)
		case num == dataVvecField && typ == protowire.BytesType:
			vvec, err := crypto.UnmarshalVerificationVector(raw)
			if err != nil {
				return errors.Wrap(err, "verification vector")
			}
			d.VerificationVector = vvec
		case num == dataContributionsField && typ == protowire.BytesType:
			c, err := crypto.UnmarshalEncryptedSecretKey(raw)
			if err != nil {
				return errors.Wrapf(err, "encrypted contribution %d", len(d.EncryptedContributions))
			}
			d.EncryptedContributions = append(d.EncryptedContributions, c)
		}
		return nil
	})
	if err != nil {
		return QData{}, err
	}
	if !seenRequest {
		return QData{}, errors.Wrap(ErrMalformed, "missing echoed request")
	}
	d.Request.Error = d.Error
	return d, nil
}

// walkFields calls fn for every top level field. Varint fields pass their value in v, length
// delimited ones their payload in raw; unknown wire types are skipped.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
			}
			b = b[n:]
			if err := fn(num, typ, v, nil); err != nil {
				return errors.Wrap(ErrMalformed, err.Error())
			}
		case protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
			}
			b = b[n:]
			if err := fn(num, typ, 0, raw); err != nil {
				return errors.Wrap(ErrMalformed, err.Error())
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
			}
			b = b[n:]
		}
	}
	return nil
}
