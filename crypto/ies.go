package crypto

import (
	"encoding/binary"
	"io"

	"github.com/cloudflare/circl/hpke"
	"github.com/cloudflare/circl/kem"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

var contributionSuite = hpke.NewSuite(hpke.KEM_X25519_HKDF_SHA256, hpke.KDF_HKDF_SHA256, hpke.AEAD_AES128GCM)

var contributionInfo = []byte("llmq contribution")

const (
	encField        protowire.Number = 1
	ciphertextField protowire.Number = 2
)

// EncryptionKey is the operator key contributions are encrypted to.
type EncryptionKey struct {
	private kem.PrivateKey
	public  kem.PublicKey
}

func GenerateEncryptionKey() (*EncryptionKey, error) {
	pub, priv, err := hpke.KEM_X25519_HKDF_SHA256.Scheme().GenerateKeyPair()
	if err != nil {
		return nil, errors.Wrap(err, "generating encryption key")
	}
	return &EncryptionKey{private: priv, public: pub}, nil
}

// EncryptionKeyFromSeed derives the key deterministically. The seed must be at least 32 bytes.
func EncryptionKeyFromSeed(seed []byte) (*EncryptionKey, error) {
	scheme := hpke.KEM_X25519_HKDF_SHA256.Scheme()
	if len(seed) < scheme.SeedSize() {
		return nil, errors.Errorf("seed too short: %d < %d", len(seed), scheme.SeedSize())
	}
	pub, priv := scheme.DeriveKeyPair(seed[:scheme.SeedSize()])
	return &EncryptionKey{private: priv, public: pub}, nil
}

func (k *EncryptionKey) PublicKeyBytes() ([]byte, error) {
	b, err := k.public.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "marshalling encryption public key")
	}
	return b, nil
}

// EncryptedSecretKey is one secret key contribution sealed to a single recipient.
type EncryptedSecretKey struct {
	Enc        []byte
	Ciphertext []byte
}

func memberAAD(memberIndex int) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(memberIndex))
}

// EncryptSecretKey seals sk to the recipient, binding it to the recipient's member index.
func EncryptSecretKey(rnd io.Reader, recipient []byte, memberIndex int, sk SecretKey) (EncryptedSecretKey, error) {
	if !sk.IsValid() {
		return EncryptedSecretKey{}, ErrInvalidKey
	}
	pub, err := hpke.KEM_X25519_HKDF_SHA256.Scheme().UnmarshalBinaryPublicKey(recipient)
	if err != nil {
		return EncryptedSecretKey{}, errors.Wrap(err, "decoding recipient key")
	}
	sender, err := contributionSuite.NewSender(pub, contributionInfo)
	if err != nil {
		return EncryptedSecretKey{}, errors.Wrap(err, "creating sender")
	}
	enc, sealer, err := sender.Setup(rnd)
	if err != nil {
		return EncryptedSecretKey{}, errors.Wrap(err, "setting up sender")
	}
	ct, err := sealer.Seal(sk.Bytes(), memberAAD(memberIndex))
	if err != nil {
		return EncryptedSecretKey{}, errors.Wrap(err, "sealing contribution")
	}
	return EncryptedSecretKey{Enc: enc, Ciphertext: ct}, nil
}

func (e EncryptedSecretKey) Decrypt(memberIndex int, key *EncryptionKey) (SecretKey, error) {
	if key == nil {
		return SecretKey{}, errors.New("no encryption key")
	}
	receiver, err := contributionSuite.NewReceiver(key.private, contributionInfo)
	if err != nil {
		return SecretKey{}, errors.Wrap(err, "creating receiver")
	}
	opener, err := receiver.Setup(e.Enc)
	if err != nil {
		return SecretKey{}, errors.Wrap(err, "setting up receiver")
	}
	pt, err := opener.Open(e.Ciphertext, memberAAD(memberIndex))
	if err != nil {
		return SecretKey{}, errors.Wrap(err, "opening contribution")
	}
	return SecretKeyFromBytes(pt)
}

func (e EncryptedSecretKey) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, encField, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Enc)
	b = protowire.AppendTag(b, ciphertextField, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Ciphertext)
	return b
}

func UnmarshalEncryptedSecretKey(b []byte) (EncryptedSecretKey, error) {
	var e EncryptedSecretKey
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return e, errors.Wrap(protowire.ParseError(n), "consuming tag")
		}
		b = b[n:]
		if typ != protowire.BytesType || (num != encField && num != ciphertextField) {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return e, errors.Wrap(protowire.ParseError(n), "skipping field")
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return e, errors.Wrap(protowire.ParseError(n), "consuming bytes")
		}
		b = b[n:]
		if num == encField {
			e.Enc = append([]byte(nil), v...)
		} else {
			e.Ciphertext = append([]byte(nil), v...)
		}
	}
	if len(e.Enc) == 0 || len(e.Ciphertext) == 0 {
		return e, errors.New("incomplete encrypted secret key")
	}
	return e, nil
}
