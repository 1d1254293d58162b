package utils

import (
	"bytes"
	"encoding/binary"

	"github.com/cloudflare/circl/xof/k12"
	"github.com/pkg/errors"
	"github.com/qubic/go-llmq/types"
)

func K12Hash(data []byte) ([32]byte, error) {
	h := k12.NewDraft10([]byte{}) // Using K12 for hashing, equivalent to KangarooTwelve(temp, 96, h, 64).
	_, err := h.Write(data)
	if err != nil {
		return [32]byte{}, errors.Wrap(err, "k12 hashing")
	}

	var out [32]byte
	_, err = h.Read(out[:])
	if err != nil {
		return [32]byte{}, errors.Wrap(err, "reading k12 digest")
	}

	return out, nil
}

// HashWriter serializes fields little endian and hashes them with K12. The domain tag is
// written first so that digests of different structures never collide.
type HashWriter struct {
	buff bytes.Buffer
}

func NewHashWriter(domain string) *HashWriter {
	hw := HashWriter{}
	hw.WriteBytes([]byte(domain))
	return &hw
}

func (hw *HashWriter) WriteUint8(v uint8) *HashWriter {
	hw.buff.WriteByte(v)
	return hw
}

func (hw *HashWriter) WriteUint64(v uint64) *HashWriter {
	hw.buff.Write(binary.LittleEndian.AppendUint64(nil, v))
	return hw
}

func (hw *HashWriter) WriteHash(h types.Hash) *HashWriter {
	hw.buff.Write(h[:])
	return hw
}

// WriteBytes writes a length prefixed byte slice.
func (hw *HashWriter) WriteBytes(b []byte) *HashWriter {
	hw.WriteUint64(uint64(len(b)))
	hw.buff.Write(b)
	return hw
}

func (hw *HashWriter) Sum() (types.Hash, error) {
	digest, err := K12Hash(hw.buff.Bytes())
	if err != nil {
		return types.Hash{}, errors.Wrap(err, "hashing writer content")
	}
	return types.Hash(digest), nil
}

// MustSum is Sum for callers hashing in-memory data, where K12 cannot fail.
func (hw *HashWriter) MustSum() types.Hash {
	h, err := hw.Sum()
	if err != nil {
		panic(err)
	}
	return h
}
