package client

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/0k-sync/relay-core/gcrypto"
	"github.com/0k-sync/relay-core/synccore"
	"github.com/0k-sync/relay-core/syncerr"
	"github.com/0k-sync/relay-core/transport"
	"github.com/0k-sync/relay-core/wire"
)

// DecryptedMessage is one successfully opened envelope returned from Pull.
type DecryptedMessage struct {
	BlobId    wire.BlobId
	Sender    wire.DeviceId
	Plaintext []byte
	Timestamp int64
}

// Client is the device-side sync engine for a single group: it holds the
// derived group key material, an ordered list of relay connections, and
// per-relay cursor/backoff state (spec.md §4.6).
type Client struct {
	deviceID   wire.DeviceId
	deviceName string
	groupID    wire.GroupId
	groupKey   gcrypto.GroupKey

	dialer transport.Dialer
	cfg    Config

	mu         sync.Mutex
	relays     []*relayConn
	primaryIdx int // -1 when no relay is connected
	buffer     *synccore.MessageBuffer

	// notifyCh delivers Notify messages observed on any relay connection
	// so a caller can Pull promptly instead of only on a fixed poll
	// interval (spec.md §4.5/§4.6: Notify is a hint, not a guarantee).
	notifyCh chan wire.Notify
}

// New constructs a Client for a single sync group. secret is the group's
// shared key; New derives the encryption key from it immediately and
// never retains the secret itself (spec.md §4.2: the client holds only
// the keys it needs).
func New(secret *gcrypto.GroupSecret, deviceID wire.DeviceId, deviceName string, dialer transport.Dialer, cfg Config) (*Client, error) {
	groupID, err := gcrypto.DeriveGroupId(secret)
	if err != nil {
		return nil, err
	}
	groupKey, err := gcrypto.GroupEncryptionKey(secret)
	if err != nil {
		return nil, err
	}

	if len(cfg.RelayAddresses) == 0 {
		return nil, syncerr.New(syncerr.KindInvalidMessage, "at least one relay address is required")
	}

	notifyCh := make(chan wire.Notify, 16)
	relays := make([]*relayConn, len(cfg.RelayAddresses))
	for i, addr := range cfg.RelayAddresses {
		relays[i] = newRelayConn(addr, cfg.Reconnect, notifyCh)
	}

	return &Client{
		deviceID:   deviceID,
		deviceName: deviceName,
		groupID:    groupID,
		groupKey:   groupKey,
		dialer:     dialer,
		cfg:        cfg,
		relays:     relays,
		primaryIdx: -1,
		buffer:     synccore.NewMessageBuffer(cfg.MaxBufferedMessages, cfg.MaxBufferedBytes),
		notifyCh:   notifyCh,
	}, nil
}

// Notifications returns the channel a caller should select on to learn
// promptly that a new cursor was assigned in this client's group on any
// connected relay, primary or secondary. Delivery is best-effort and the
// channel is never closed by Client; callers should still Pull on their
// own poll interval as a fallback (spec.md §5: "Notify is a hint, not a
// guarantee").
func (c *Client) Notifications() <-chan wire.Notify {
	return c.notifyCh
}

// Connect dials every configured relay in order. The first one to
// complete the handshake becomes primary (serves Pull, awaited Push
// acknowledgment); every other relay that connects is kept as a
// secondary for Push fan-out. Connect only fails if every relay in the
// list is unreachable (spec.md §4.6, §7: KindAllRelaysFailed).
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()

	var lastErr error
	connectedAny := false
	var promoted *relayConn
	for i, r := range c.relays {
		cctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		_, err := r.dialAndHandshake(cctx, c.dialer, c.deviceID, c.deviceName, c.groupID, c.cfg.RequestTimeout)
		cancel()
		if err != nil {
			lastErr = err
			logrus.WithFields(logrus.Fields{
				"function": "Client.Connect",
				"addr":     r.addr,
				"error":    err.Error(),
			}).Warn("relay unreachable")
			continue
		}
		connectedAny = true
		if c.primaryIdx == -1 {
			c.primaryIdx = i
			promoted = r
		}
	}
	c.mu.Unlock()

	if promoted != nil {
		c.drainBuffered(ctx, promoted)
	}

	if !connectedAny {
		return syncerr.AllRelaysFailed(lastErr)
	}
	return nil
}

// Reconnect dials every currently disconnected relay once per call. It
// does not check or wait for a backoff delay itself: the delay each
// relay's state machine computes is only logged when a dial fails, and how
// often Reconnect runs is up to the caller's own loop. If no primary is
// connected and one of the dialed relays succeeds, it is promoted to
// primary.
func (c *Client) Reconnect(ctx context.Context) {
	c.mu.Lock()

	var promoted *relayConn
	for i, r := range c.relays {
		if r.connected() {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		_, err := r.dialAndHandshake(cctx, c.dialer, c.deviceID, c.deviceName, c.groupID, c.cfg.RequestTimeout)
		cancel()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "Client.Reconnect",
				"addr":       r.addr,
				"next_delay": r.machine.NextAttemptDelay(),
				"error":      err.Error(),
			}).Debug("reconnect attempt failed")
			continue
		}
		if c.primaryIdx == -1 {
			c.primaryIdx = i
			promoted = r
		}
	}
	c.mu.Unlock()

	if promoted != nil {
		c.drainBuffered(ctx, promoted)
	}
}

// Connected reports whether a primary relay connection is currently
// active.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.primaryIdx >= 0 && c.relays[c.primaryIdx].connected()
}

// Push encrypts plaintext with the group key, sends it to the primary
// relay and awaits its acknowledgment, then fans the same envelope out
// to every connected secondary relay without waiting for their replies
// (spec.md §4.6: "secondary relay delivery is fire-and-forget").
func (c *Client) Push(ctx context.Context, plaintext []byte) (wire.BlobId, wire.Cursor, error) {
	c.mu.Lock()
	primaryIdx := c.primaryIdx
	var primary *relayConn
	var secondaries []*relayConn
	if primaryIdx >= 0 {
		primary = c.relays[primaryIdx]
		secondaries = make([]*relayConn, 0, len(c.relays)-1)
		for i, r := range c.relays {
			if i != primaryIdx && r.connected() {
				secondaries = append(secondaries, r)
			}
		}
	}
	c.mu.Unlock()

	blobID := wire.NewBlobId()
	sealed, err := gcrypto.EncryptWithGroupKey(&c.groupKey, plaintext)
	if err != nil {
		return wire.BlobId{}, wire.NoCursor, err
	}
	env := wire.NewEnvelope(c.deviceID, c.groupID, blobID, time.Now().UnixMilli(), sealed.EncodePayload())

	if primary == nil {
		frame := wire.EncodeMessage(wire.Push{Envelope: env})
		c.mu.Lock()
		accepted := c.buffer.Push(frame)
		c.mu.Unlock()
		if !accepted {
			return wire.BlobId{}, wire.NoCursor, syncerr.New(syncerr.KindQuotaExceeded, "outbound buffer at capacity, message dropped")
		}
		logrus.WithFields(logrus.Fields{
			"function": "Client.Push",
			"blob_id":  blobID.Prefix(),
		}).Debug("no primary relay connected; buffered push for later delivery")
		return blobID, wire.NoCursor, nil
	}

	cursor, err := c.pushTo(ctx, primary, env)
	if err != nil {
		return wire.BlobId{}, wire.NoCursor, err
	}
	primary.tracker.Observe(cursor)

	for _, secondary := range secondaries {
		go func(r *relayConn) {
			sctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
			defer cancel()
			secCursor, err := c.pushTo(sctx, r, env)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Client.Push",
					"addr":     r.addr,
					"error":    err.Error(),
				}).Warn("secondary relay push failed")
				return
			}
			r.tracker.Observe(secCursor)
		}(secondary)
	}

	return blobID, cursor, nil
}

func (c *Client) pushTo(ctx context.Context, r *relayConn, env wire.Envelope) (wire.Cursor, error) {
	if !r.connected() {
		return wire.NoCursor, syncerr.New(syncerr.KindNotConnected, "relay "+r.addr+" not connected")
	}

	stream, err := r.conn.OpenStream(ctx)
	if err != nil {
		r.disconnect()
		return wire.NoCursor, err
	}
	defer stream.Close()

	if err := wire.WriteFramed(stream, wire.EncodeMessage(wire.Push{Envelope: env}), wire.MaxMessageSize); err != nil {
		return wire.NoCursor, err
	}
	frame, err := wire.ReadFramed(stream, wire.MaxMessageSize)
	if err != nil {
		return wire.NoCursor, err
	}
	msg, err := wire.DecodeMessage(frame)
	if err != nil {
		return wire.NoCursor, err
	}
	switch m := msg.(type) {
	case wire.PushAck:
		return m.AssignedCursor, nil
	case wire.ProtocolError:
		return wire.NoCursor, syncerr.New(syncerr.KindInvalidMessage, m.Reason)
	default:
		return wire.NoCursor, syncerr.New(syncerr.KindInvalidMessage, "unexpected reply to Push")
	}
}

// drainBuffered flushes every message Push queued while no relay was
// connected, now that primary is reachable (spec.md §4.3: the buffer
// accumulates while disconnected; the client engine — not the buffer
// itself, which performs no I/O — drains it once a connection exists).
// A buffered message that still fails to deliver is logged and dropped
// rather than re-queued, so a permanently undeliverable message can
// never wedge the buffer for everything behind it.
func (c *Client) drainBuffered(ctx context.Context, primary *relayConn) {
	for {
		c.mu.Lock()
		frame, ok := c.buffer.Pop()
		c.mu.Unlock()
		if !ok {
			return
		}

		msg, err := wire.DecodeMessage(frame)
		if err != nil {
			logrus.WithFields(logrus.Fields{"function": "Client.drainBuffered", "error": err.Error()}).Warn("dropping malformed buffered frame")
			continue
		}
		push, ok := msg.(wire.Push)
		if !ok {
			continue
		}

		cursor, err := c.pushTo(ctx, primary, push.Envelope)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Client.drainBuffered",
				"blob_id":  push.Envelope.Blob.Prefix(),
				"error":    err.Error(),
			}).Warn("failed to deliver buffered push, dropping")
			continue
		}
		primary.tracker.Observe(cursor)
	}
}

// Pull requests envelopes newer than the primary relay's last observed
// cursor, decrypts each one, and advances the cursor past the batch. A
// single envelope that fails to decrypt (corruption, wrong key) is
// skipped and logged rather than failing the whole batch — one bad
// message must never block delivery of the rest (spec.md §4.6, §7).
func (c *Client) Pull(ctx context.Context) ([]DecryptedMessage, bool, error) {
	c.mu.Lock()
	if c.primaryIdx < 0 {
		c.mu.Unlock()
		return nil, false, syncerr.New(syncerr.KindNotConnected, "no primary relay connected")
	}
	primary := c.relays[c.primaryIdx]
	c.mu.Unlock()

	if !primary.connected() {
		return nil, false, syncerr.New(syncerr.KindNotConnected, "primary relay not connected")
	}

	stream, err := primary.conn.OpenStream(ctx)
	if err != nil {
		primary.disconnect()
		return nil, false, err
	}
	defer stream.Close()

	req := wire.Pull{AfterCursor: primary.tracker.Last(), Limit: c.cfg.PullLimit}
	if err := wire.WriteFramed(stream, wire.EncodeMessage(req), wire.MaxMessageSize); err != nil {
		return nil, false, err
	}
	frame, err := wire.ReadFramed(stream, wire.MaxMessageSize)
	if err != nil {
		return nil, false, err
	}
	msg, err := wire.DecodeMessage(frame)
	if err != nil {
		return nil, false, err
	}

	resp, ok := msg.(wire.PullResponse)
	if !ok {
		if perr, isErr := msg.(wire.ProtocolError); isErr {
			return nil, false, syncerr.New(syncerr.KindInvalidMessage, perr.Reason)
		}
		return nil, false, syncerr.New(syncerr.KindInvalidMessage, "unexpected reply to Pull")
	}

	out := make([]DecryptedMessage, 0, len(resp.Envelopes))
	for _, env := range resp.Envelopes {
		sealed, err := gcrypto.DecodePayload(env.Payload)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Client.Pull",
				"blob_id":  env.Blob.Prefix(),
				"error":    err.Error(),
			}).Warn("dropping envelope with malformed payload")
			continue
		}
		plaintext, err := gcrypto.DecryptWithGroupKey(&c.groupKey, sealed)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Client.Pull",
				"blob_id":  env.Blob.Prefix(),
			}).Warn("dropping envelope that failed to decrypt")
			continue
		}
		out = append(out, DecryptedMessage{
			BlobId:    env.Blob,
			Sender:    env.Sender,
			Plaintext: plaintext,
			Timestamp: env.Timestamp,
		})
	}

	primary.tracker.Observe(resp.NextCursor)
	return out, resp.More, nil
}

// Close tears down every relay connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.relays {
		r.disconnect()
	}
}
