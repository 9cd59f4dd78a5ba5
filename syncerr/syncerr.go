// Package syncerr defines the shared error taxonomy used across the sync
// relay and client core. Every subsystem — wire framing, crypto, the blob
// store, the relay session engine, and the client engine — reports failures
// through this taxonomy so callers can distinguish "transient, retry" from
// "permanent, act" from "integrity failure, alarm" without parsing strings.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation-policy decisions (spec.md §7).
type Kind uint8

const (
	// KindUnsupportedVersion indicates a schema/ALPN version mismatch.
	KindUnsupportedVersion Kind = iota + 1
	// KindInvalidMessage indicates malformed wire input from a client.
	KindInvalidMessage
	// KindBlobTooLarge indicates a push payload exceeded max_blob_size.
	KindBlobTooLarge
	// KindQuotaExceeded indicates a group's storage quota would be exceeded.
	KindQuotaExceeded
	// KindRateLimited indicates a per-client or global rate limit was hit.
	KindRateLimited
	// KindTimeout indicates a bounded wait expired (e.g. AwaitingHello).
	KindTimeout
	// KindNotConnected indicates an operation required an active connection.
	KindNotConnected
	// KindAllRelaysFailed indicates every configured relay failed to connect.
	KindAllRelaysFailed
	// KindDecryptionFailed is an opaque AEAD failure; never distinguishes cause.
	KindDecryptionFailed
	// KindInternal indicates a storage or server fault; retryable.
	KindInternal
	// KindShuttingDown indicates the server is draining and rejects new work.
	KindShuttingDown
)

// String returns a stable, lowercase identifier for the Kind, suitable for
// metrics labels and log fields (error_class).
func (k Kind) String() string {
	switch k {
	case KindUnsupportedVersion:
		return "unsupported_version"
	case KindInvalidMessage:
		return "invalid_message"
	case KindBlobTooLarge:
		return "blob_too_large"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindNotConnected:
		return "not_connected"
	case KindAllRelaysFailed:
		return "all_relays_failed"
	case KindDecryptionFailed:
		return "decryption_failed"
	case KindInternal:
		return "internal"
	case KindShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Retryable reports whether a caller should retry the operation that
// produced an error of this Kind. Client-protocol errors are generally
// non-retryable without changing something; storage/server faults are.
func (k Kind) Retryable() bool {
	switch k {
	case KindInternal, KindTimeout, KindRateLimited, KindAllRelaysFailed:
		return true
	default:
		return false
	}
}

// SyncError is the concrete error type carried across package boundaries.
// Scope, when set, distinguishes a RateLimited error's per-client vs global
// origin per spec.md §7.
type SyncError struct {
	Kind   Kind
	Reason string
	Scope  string
	Stage  string
	Cause  error
}

func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s", e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Scope != "" {
		msg += " (scope=" + e.Scope + ")"
	}
	if e.Stage != "" {
		msg += " (stage=" + e.Stage + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *SyncError) Unwrap() error { return e.Cause }

// New constructs a SyncError of the given Kind with a reason string.
func New(kind Kind, reason string) *SyncError {
	return &SyncError{Kind: kind, Reason: reason}
}

// Wrap constructs a SyncError of the given Kind wrapping an underlying cause.
func Wrap(kind Kind, reason string, cause error) *SyncError {
	return &SyncError{Kind: kind, Reason: reason, Cause: cause}
}

// RateLimited constructs a KindRateLimited error scoped to "per_client" or
// "global", as required by spec.md §7.
func RateLimited(scope string) *SyncError {
	return &SyncError{Kind: KindRateLimited, Scope: scope, Reason: "rate limit exceeded"}
}

// TimeoutAt constructs a KindTimeout error identifying the protocol stage
// that expired (e.g. "awaiting_hello").
func TimeoutAt(stage string) *SyncError {
	return &SyncError{Kind: KindTimeout, Stage: stage, Reason: "deadline exceeded"}
}

// AllRelaysFailed constructs a KindAllRelaysFailed error carrying the last
// underlying connection failure, per spec.md §7.
func AllRelaysFailed(lastCause error) *SyncError {
	return &SyncError{Kind: KindAllRelaysFailed, Reason: "no relay in the configured list was reachable", Cause: lastCause}
}

// Is reports whether err (or anything it wraps) is a SyncError of kind k.
func Is(err error, k Kind) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind == k
	}
	return false
}

// ErrDecryptionFailed is the single, opaque decryption-failure sentinel.
// It deliberately carries no detail distinguishing tag failure from nonce
// malformation from key mismatch (spec.md §4.2).
var ErrDecryptionFailed = &SyncError{Kind: KindDecryptionFailed, Reason: "decryption failed"}
