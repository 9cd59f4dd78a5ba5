package gcrypto

import (
	"golang.org/x/crypto/blake2b"

	"github.com/0k-sync/relay-core/wire"
)

// DeriveGroupId computes the GroupId as a labeled, keyed BLAKE2b-256 hash
// of the GroupSecret: a stable one-way function such that distinct
// GroupSecrets yield distinct GroupIds with overwhelming probability, and
// distinct groups created from the same passphrase (but different salts,
// hence different GroupSecrets) still yield distinct GroupIds
// (spec.md §3 invariant 3, §4.2).
func DeriveGroupId(secret *GroupSecret) (wire.GroupId, error) {
	h, err := blake2b.New256(secret.Bytes())
	if err != nil {
		return wire.GroupId{}, err
	}
	h.Write([]byte("group-id-v1"))
	sum := h.Sum(nil)
	return wire.GroupIdFromBytes(sum)
}
