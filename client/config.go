package client

import (
	"time"

	"github.com/0k-sync/relay-core/synccore"
)

// Config holds the tunables for a Client (spec.md §4.6).
type Config struct {
	// RelayAddresses is the ordered list of relay addresses to use. The
	// first reachable address becomes the primary: it serves Pull and
	// receives Push with an awaited acknowledgment. Every other reachable
	// address is a secondary: Push is fanned out to it fire-and-forget,
	// and it is never pulled from directly.
	RelayAddresses []string

	DeviceName string

	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	PullLimit      uint32

	Reconnect synccore.BackoffConfig

	// MaxBufferedMessages and MaxBufferedBytes bound the outbound queue
	// Push fills while no relay is connected. A non-positive value
	// selects synccore's package default for that ceiling.
	MaxBufferedMessages int
	MaxBufferedBytes    int
}

// DefaultConfig returns reasonable defaults for every option not supplied
// by the caller's configuration source.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:      10 * time.Second,
		RequestTimeout:      15 * time.Second,
		PullLimit:           200,
		Reconnect:           synccore.DefaultBackoffConfig(),
		MaxBufferedMessages: synccore.DefaultMaxBufferedMessages,
		MaxBufferedBytes:    synccore.DefaultMaxBufferedBytes,
	}
}
