package synccore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/0k-sync/relay-core/gcrypto"
)

// InviteVersion is the canonical invite payload schema version.
const InviteVersion uint8 = 1

// maxRelayAddresses bounds the relay list an invite may carry, so a
// corrupt or adversarial QR payload cannot force an unbounded allocation
// while parsing.
const maxRelayAddresses = 32

// maxRelayAddressLen bounds a single relay address string length for the
// same reason.
const maxRelayAddressLen = 256

var (
	// ErrInvalidInvite covers any structurally malformed invite payload:
	// wrong version, truncated fields, or an address list/lengths outside
	// the bounds this package enforces before interpreting anything.
	ErrInvalidInvite = errors.New("synccore: invalid invite payload")

	shortCodePattern = regexp.MustCompile(`^[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)
)

// Invite is the pairing artifact exchanged out-of-band (QR code or typed
// short code) that lets a new device join an existing sync group
// (spec.md §4.3, §6).
type Invite struct {
	Version        uint8
	GroupSecret    [32]byte
	Salt           [16]byte
	RelayAddresses []string
}

// EncodeQR serializes the invite into the canonical versioned binary form
// and base64url-encodes it for embedding in a QR code.
func (inv Invite) EncodeQR() (string, error) {
	if len(inv.RelayAddresses) > maxRelayAddresses {
		return "", fmt.Errorf("synccore: invite carries %d relay addresses, max %d", len(inv.RelayAddresses), maxRelayAddresses)
	}

	buf := make([]byte, 0, 1+32+16+2+len(inv.RelayAddresses)*2)
	buf = append(buf, InviteVersion)
	buf = append(buf, inv.GroupSecret[:]...)
	buf = append(buf, inv.Salt[:]...)
	buf = append(buf, byte(len(inv.RelayAddresses)>>8), byte(len(inv.RelayAddresses)))

	for _, addr := range inv.RelayAddresses {
		if len(addr) > maxRelayAddressLen {
			return "", fmt.Errorf("synccore: relay address exceeds %d bytes", maxRelayAddressLen)
		}
		buf = append(buf, byte(len(addr)>>8), byte(len(addr)))
		buf = append(buf, addr...)
	}

	return base64.URLEncoding.EncodeToString(buf), nil
}

// DecodeQR parses and validates a QR-carried invite payload. It validates
// version, lengths, and bounds before interpreting any field, per spec.md
// §6: "validate version, lengths, and alphabet before interpreting".
func DecodeQR(encoded string) (Invite, error) {
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return Invite{}, ErrInvalidInvite
	}

	const headerLen = 1 + 32 + 16 + 2
	if len(raw) < headerLen {
		return Invite{}, ErrInvalidInvite
	}

	var inv Invite
	inv.Version = raw[0]
	if inv.Version != InviteVersion {
		return Invite{}, ErrInvalidInvite
	}
	copy(inv.GroupSecret[:], raw[1:33])
	copy(inv.Salt[:], raw[33:49])

	count := int(raw[49])<<8 | int(raw[50])
	if count > maxRelayAddresses {
		return Invite{}, ErrInvalidInvite
	}

	rest := raw[headerLen:]
	addrs := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if len(rest) < 2 {
			return Invite{}, ErrInvalidInvite
		}
		addrLen := int(rest[0])<<8 | int(rest[1])
		rest = rest[2:]
		if addrLen > maxRelayAddressLen || len(rest) < addrLen {
			return Invite{}, ErrInvalidInvite
		}
		addrs = append(addrs, string(rest[:addrLen]))
		rest = rest[addrLen:]
	}
	if len(rest) != 0 {
		return Invite{}, ErrInvalidInvite
	}

	inv.RelayAddresses = addrs
	return inv, nil
}

const shortCodeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// ShortCode derives the 16-character human-readable pairing code,
// formatted XXXX-XXXX-XXXX-XXXX, from an auxiliary expansion of the
// group secret (spec.md §4.3). The short code carries no relay
// information; pairing via short code assumes the relay list is shared
// out of band.
func ShortCode(secret *gcrypto.GroupSecret) (string, error) {
	raw, err := gcrypto.ShortCodeKey(secret)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	base := len(shortCodeAlphabet)
	for i := 0; i < 16; i++ {
		sb.WriteByte(shortCodeAlphabet[int(raw[i])%base])
	}
	code := sb.String()

	return fmt.Sprintf("%s-%s-%s-%s", code[0:4], code[4:8], code[8:12], code[12:16]), nil
}

// ParseShortCode validates a typed short code's length, alphabet, and
// group separators before accepting it. It does not (and cannot) recover
// the group secret — the short code is a one-way derivation used only to
// confirm a human is pairing the device the operator expects.
func ParseShortCode(code string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if !shortCodePattern.MatchString(normalized) {
		return "", fmt.Errorf("synccore: short code must match XXXX-XXXX-XXXX-XXXX")
	}
	return normalized, nil
}
