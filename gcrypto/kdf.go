package gcrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// Tier selects the memory-hardness of passphrase derivation. Standard is
// the OWASP-minimum floor for mainstream devices; High is the
// device-adaptive upper tier spec.md §3/§4.2 permit for capable hardware.
// Constrained is only for explicitly constrained targets and MUST NOT be
// the default.
type Tier uint8

const (
	// TierStandard uses 19 MiB memory and 2 iterations, the OWASP floor
	// spec.md §3 names explicitly ("minimum ≈ 19 MiB memory cost, 2+
	// iterations").
	TierStandard Tier = iota
	// TierHigh uses 64 MiB memory and 3 iterations for devices that can
	// afford it (spec.md §3: "device-adaptive upper tiers permitted to
	// 64 MiB").
	TierHigh
	// TierConstrained lowers memory cost for explicitly constrained
	// targets only (spec.md §4.2: "MAY offer a lower tier only for
	// explicitly constrained targets").
	TierConstrained
)

type tierParams struct {
	memoryKiB uint32
	time      uint32
	threads   uint8
}

func (t Tier) params() tierParams {
	switch t {
	case TierHigh:
		return tierParams{memoryKiB: 64 * 1024, time: 3, threads: 4}
	case TierConstrained:
		return tierParams{memoryKiB: 12 * 1024, time: 2, threads: 1}
	default:
		return tierParams{memoryKiB: 19 * 1024, time: 2, threads: 2}
	}
}

// ErrInvalidSalt indicates a salt of the wrong width was supplied. A
// fixed or shared salt defeats the point of the derivation (spec.md §3:
// "Using a fixed or universal salt is forbidden") and this package
// refuses to proceed without a caller-supplied, per-group salt.
var ErrInvalidSalt = errors.New("gcrypto: salt must be exactly 16 bytes, freshly generated per group")

// NewSalt generates a fresh, random 16-byte per-group salt. Callers MUST
// generate a new salt per group and persist it alongside group config
// (spec.md §3); never reuse a salt across groups.
func NewSalt() ([SaltSize]byte, error) {
	var salt [SaltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewSalt",
			"package":  "gcrypto",
			"error":    err.Error(),
		}).Error("failed to generate group salt")
		return salt, err
	}
	return salt, nil
}

// RandomGroupSecret generates a GroupSecret from the system CSPRNG, for
// groups created without a passphrase (spec.md §3: "Produced either (a)
// randomly at group creation").
func RandomGroupSecret() (GroupSecret, error) {
	var raw [KeySize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "RandomGroupSecret",
			"package":  "gcrypto",
			"error":    err.Error(),
		}).Error("failed to generate random group secret")
		return GroupSecret{}, err
	}
	return newGroupSecret(raw[:]), nil
}

// Derive computes a GroupSecret from a passphrase and a per-group salt
// using Argon2id at the given Tier (spec.md §3, §4.2). The salt MUST be
// 16 bytes and MUST be freshly random per group; Derive does not
// validate freshness (callers own that via NewSalt), only width.
func Derive(passphrase string, salt []byte, tier Tier) (GroupSecret, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Derive",
		"package":  "gcrypto",
		"tier":     tier,
	})

	if len(salt) != SaltSize {
		logger.WithField("salt_len", len(salt)).Error("rejecting derivation: invalid salt width")
		return GroupSecret{}, ErrInvalidSalt
	}
	if len(passphrase) == 0 {
		return GroupSecret{}, errors.New("gcrypto: passphrase must not be empty")
	}

	p := tier.params()
	logger.WithFields(logrus.Fields{
		"memory_kib": p.memoryKiB,
		"time":       p.time,
		"threads":    p.threads,
	}).Debug("deriving group secret with argon2id")

	key := argon2.IDKey([]byte(passphrase), salt, p.time, p.memoryKiB, p.threads, KeySize)
	secret := newGroupSecret(key)
	ZeroBytes(key)

	logger.Debug("group secret derived successfully")
	return secret, nil
}

// expand runs the HKDF-Expand step with a domain-separation label,
// producing KeySize bytes of independent key material. Distinct labels
// yield independent keys from the same GroupSecret (spec.md §4.2).
func expand(secret []byte, label string) ([]byte, error) {
	reader := hkdf.Expand(sha256.New, secret, []byte(label))
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

const (
	labelGroupEncryption = "group-encryption-v1"
	labelGroupAuth       = "group-auth-v1"
	labelContentKey      = "content-key"
)

// GroupEncryptionKey expands the GroupKey used for envelope AEAD.
func GroupEncryptionKey(secret *GroupSecret) (GroupKey, error) {
	raw, err := expand(secret.Bytes(), labelGroupEncryption)
	if err != nil {
		return GroupKey{}, err
	}
	var k GroupKey
	copy(k.b[:], raw)
	ZeroBytes(raw)
	return k, nil
}

// AuthenticationKey expands the reserved AuthKey. See AuthKey's doc
// comment: the expansion exists but no operation in this module
// currently consumes it.
func AuthenticationKey(secret *GroupSecret) (AuthKey, error) {
	raw, err := expand(secret.Bytes(), labelGroupAuth)
	if err != nil {
		return AuthKey{}, err
	}
	var k AuthKey
	copy(k.b[:], raw)
	ZeroBytes(raw)
	return k, nil
}

// DeriveContentKey expands a per-blob ContentKey from the GroupSecret and
// the blob's identifier, as required by the encrypt-then-hash pipeline
// (spec.md §4.2: `expand("content-key" || blob_id) -> ContentKey`).
func DeriveContentKey(secret *GroupSecret, blobID []byte) (ContentKey, error) {
	raw, err := expand(secret.Bytes(), labelContentKey+string(blobID))
	if err != nil {
		return ContentKey{}, err
	}
	var k ContentKey
	copy(k.b[:], raw)
	ZeroBytes(raw)
	return k, nil
}

// ShortCodeKey expands an auxiliary 32-byte key used to derive the
// human-readable pairing short code (synccore's invite codec), keeping
// that derivation independent of the AEAD and auth keys.
func ShortCodeKey(secret *GroupSecret) ([]byte, error) {
	return expand(secret.Bytes(), "invite-short-code-v1")
}
