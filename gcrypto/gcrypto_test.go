package gcrypto

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0k-sync/relay-core/wire"
)

func TestDeriveDistinctSaltsYieldDistinctSecrets(t *testing.T) {
	salt1, err := NewSalt()
	require.NoError(t, err)
	salt2, err := NewSalt()
	require.NoError(t, err)
	require.NotEqual(t, salt1, salt2)

	s1, err := Derive("correct horse battery staple", salt1[:], TierConstrained)
	require.NoError(t, err)
	s2, err := Derive("correct horse battery staple", salt2[:], TierConstrained)
	require.NoError(t, err)

	assert.False(t, bytes.Equal(s1.Bytes(), s2.Bytes()))
}

func TestDeriveDeterministicForSameInputs(t *testing.T) {
	salt := [SaltSize]byte{}
	s1, err := Derive("hunter2", salt[:], TierConstrained)
	require.NoError(t, err)
	s2, err := Derive("hunter2", salt[:], TierConstrained)
	require.NoError(t, err)
	assert.Equal(t, s1.Bytes(), s2.Bytes())
}

func TestDeriveRejectsWrongSaltWidth(t *testing.T) {
	_, err := Derive("passphrase", []byte{1, 2, 3}, TierStandard)
	require.ErrorIs(t, err, ErrInvalidSalt)
}

func TestExpandLabelsAreIndependent(t *testing.T) {
	secret, err := RandomGroupSecret()
	require.NoError(t, err)

	groupKey, err := GroupEncryptionKey(&secret)
	require.NoError(t, err)
	authKey, err := AuthenticationKey(&secret)
	require.NoError(t, err)

	assert.False(t, bytes.Equal(groupKey.Bytes(), authKey.Bytes()))
}

func TestContentKeyIsPerBlob(t *testing.T) {
	secret, err := RandomGroupSecret()
	require.NoError(t, err)

	k1, err := DeriveContentKey(&secret, []byte("blob-a"))
	require.NoError(t, err)
	k2, err := DeriveContentKey(&secret, []byte("blob-b"))
	require.NoError(t, err)

	assert.False(t, bytes.Equal(k1.Bytes(), k2.Bytes()))
}

func TestGroupIdDiffersAcrossSecrets(t *testing.T) {
	s1, err := RandomGroupSecret()
	require.NoError(t, err)
	s2, err := RandomGroupSecret()
	require.NoError(t, err)

	id1, err := DeriveGroupId(&s1)
	require.NoError(t, err)
	id2, err := DeriveGroupId(&s2)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
}

func TestGroupIdStableForSameSecret(t *testing.T) {
	secret, err := RandomGroupSecret()
	require.NoError(t, err)

	id1, err := DeriveGroupId(&secret)
	require.NoError(t, err)
	id2, err := DeriveGroupId(&secret)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
}

func TestAEADRoundTrip(t *testing.T) {
	secret, err := RandomGroupSecret()
	require.NoError(t, err)
	key, err := GroupEncryptionKey(&secret)
	require.NoError(t, err)

	plaintext := []byte("hello")
	sealed, err := EncryptWithGroupKey(&key, plaintext)
	require.NoError(t, err)

	decrypted, err := DecryptWithGroupKey(&key, sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestAEADTagTamperFailsOpaquely(t *testing.T) {
	secret, err := RandomGroupSecret()
	require.NoError(t, err)
	key, err := GroupEncryptionKey(&secret)
	require.NoError(t, err)

	sealed, err := EncryptWithGroupKey(&key, []byte("hello"))
	require.NoError(t, err)
	sealed.Ciphertext[0] ^= 0xFF

	_, err = DecryptWithGroupKey(&key, sealed)
	require.Error(t, err)
	assert.Equal(t, "decryption_failed: decryption failed", err.Error())
}

func TestPayloadCodecRoundTrip(t *testing.T) {
	secret, err := RandomGroupSecret()
	require.NoError(t, err)
	key, err := GroupEncryptionKey(&secret)
	require.NoError(t, err)

	sealed, err := EncryptWithGroupKey(&key, []byte("payload"))
	require.NoError(t, err)

	packed := sealed.EncodePayload()
	unpacked, err := DecodePayload(packed)
	require.NoError(t, err)

	decrypted, err := DecryptWithGroupKey(&key, unpacked)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), decrypted)
}

func TestKeyCarriersRedactInDiagnosticOutput(t *testing.T) {
	secret, err := RandomGroupSecret()
	require.NoError(t, err)

	assert.Equal(t, redacted, secret.String())
	assert.Equal(t, redacted, fmt.Sprintf("%v", secret))
	assert.Equal(t, redacted, fmt.Sprintf("%x", secret))
	assert.Equal(t, redacted, fmt.Sprintf("%s", secret))
}

func TestSealOpenContentRoundTrip(t *testing.T) {
	secret, err := RandomGroupSecret()
	require.NoError(t, err)
	blobID := wire.NewBlobId()

	ref, sealed, err := SealContent(&secret, blobID, []byte("large content body"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, blobID, ref.BlobId)
	assert.Equal(t, uint64(len(sealed.Ciphertext)), ref.SizeCT)

	plaintext, err := OpenContent(&secret, ref, sealed.Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("large content body"), plaintext)
}

func TestOpenContentRejectsTamperedCiphertext(t *testing.T) {
	secret, err := RandomGroupSecret()
	require.NoError(t, err)
	blobID := wire.NewBlobId()

	ref, sealed, err := SealContent(&secret, blobID, []byte("large content body"), "image/png")
	require.NoError(t, err)

	tampered := append([]byte(nil), sealed.Ciphertext...)
	tampered[0] ^= 0xFF

	_, err = OpenContent(&secret, ref, tampered)
	require.Error(t, err)
}

func TestContentRefRedactsHashAndNonce(t *testing.T) {
	secret, err := RandomGroupSecret()
	require.NoError(t, err)
	blobID := wire.NewBlobId()

	ref, _, err := SealContent(&secret, blobID, []byte("body"), "text/plain")
	require.NoError(t, err)

	rendered := fmt.Sprintf("%v", ref)
	assert.Contains(t, rendered, blobID.Prefix())
	assert.Contains(t, rendered, redacted)
	assert.NotContains(t, rendered, fmt.Sprintf("%x", ref.ContentHash))
	assert.NotContains(t, rendered, fmt.Sprintf("%x", ref.Nonce))
}

func TestDropZeroizes(t *testing.T) {
	secret, err := RandomGroupSecret()
	require.NoError(t, err)
	secret.Drop()
	for _, b := range secret.Bytes() {
		assert.Equal(t, byte(0), b)
	}
}
