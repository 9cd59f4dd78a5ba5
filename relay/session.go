package relay

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/0k-sync/relay-core/store"
	"github.com/0k-sync/relay-core/syncerr"
	"github.com/0k-sync/relay-core/transport"
	"github.com/0k-sync/relay-core/wire"
)

// sessionState is the per-connection handshake/lifecycle state (spec.md
// §4.5, §5): a session starts AwaitingHello, moves to Active once the
// handshake completes, and moves to Closing when the client sends Bye or
// an envelope with an unsupported version arrives. Server shutdown and
// connection loss do not set Closing.
type sessionState uint8

const (
	sessionAwaitingHello sessionState = iota
	sessionActive
	sessionClosing
)

func (s sessionState) String() string {
	switch s {
	case sessionAwaitingHello:
		return "awaiting_hello"
	case sessionActive:
		return "active"
	case sessionClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Session is one accepted relay connection. It never holds key material —
// only identifiers and opaque ciphertext pass through it (spec.md §4.5:
// "the relay never sees plaintext or key material").
type Session struct {
	server *Server
	conn   transport.Conn

	mu       sync.Mutex
	state    sessionState
	deviceID wire.DeviceId
	groupID  wire.GroupId
}

func newSession(server *Server, conn transport.Conn) *Session {
	return &Session{server: server, conn: conn, state: sessionAwaitingHello}
}

func (sess *Session) currentState() sessionState {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.state
}

// run drives one session end to end: handshake, then request streams
// until AcceptStream fails (the connection closed or ctx was cancelled)
// or the session has moved to Closing. Server.Shutdown does not end it.
func (sess *Session) run(ctx context.Context) {
	log := logrus.WithFields(logrus.Fields{"function": "Session.run", "remote": sess.conn.RemoteIdentity()})

	if err := sess.handshake(ctx); err != nil {
		log.WithError(err).Warn("handshake failed")
		sess.conn.Close()
		return
	}

	sess.server.metrics.sessionOpened()
	sess.server.registerSession(sess)
	defer func() {
		sess.server.unregisterSession(sess)
		sess.server.metrics.sessionClosed()
		sess.conn.Close()
	}()

	var wg sync.WaitGroup
	for {
		stream, err := sess.conn.AcceptStream(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Debug("accept stream ended session")
			}
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.handleStream(ctx, stream)
		}()

		if sess.currentState() == sessionClosing {
			break
		}
	}
	wg.Wait()
}

// handshake reads the session's first stream, expects Hello, and replies
// Welcome with the group's last-assigned cursor so the client knows where
// to resume pulling from (spec.md §4.5).
func (sess *Session) handshake(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, sess.server.cfg.HelloTimeout)
	defer cancel()

	stream, err := sess.conn.AcceptStream(hctx)
	if err != nil {
		return syncerr.TimeoutAt("awaiting_hello")
	}
	defer stream.Close()

	frame, err := wire.ReadFramed(stream, sess.server.cfg.MaxMessageSize)
	if err != nil {
		return err
	}
	msg, err := wire.DecodeMessage(frame)
	if err != nil {
		return err
	}
	hello, ok := msg.(wire.Hello)
	if !ok {
		return syncerr.New(syncerr.KindInvalidMessage, "expected Hello as first message")
	}

	sess.mu.Lock()
	sess.deviceID = hello.DeviceId
	sess.groupID = hello.GroupId
	sess.mu.Unlock()

	cursor, err := sess.server.store.LastAssignedCursor(ctx, hello.GroupId)
	if err != nil {
		return syncerr.Wrap(syncerr.KindInternal, "reading last assigned cursor", err)
	}

	welcome := wire.Welcome{
		AssignedCursor: cursor,
		ServerTime:     time.Now().UnixMilli(),
		MaxBlobSize:    uint32(sess.server.cfg.MaxBlobSize),
	}
	if err := wire.WriteFramed(stream, wire.EncodeMessage(welcome), sess.server.cfg.MaxMessageSize); err != nil {
		return err
	}

	sess.mu.Lock()
	sess.state = sessionActive
	sess.mu.Unlock()
	return nil
}

// handleStream reads one request message from a freshly opened stream,
// dispatches it, and writes back a single response — each stream carries
// exactly one logical request/response pair, which is what lets Push and
// Pull proceed concurrently without head-of-line blocking (spec.md §6).
func (sess *Session) handleStream(ctx context.Context, stream transport.Stream) {
	defer stream.Close()

	frame, err := wire.ReadFramed(stream, sess.server.cfg.MaxMessageSize)
	if err != nil {
		if err != io.EOF {
			logrus.WithFields(logrus.Fields{"function": "Session.handleStream", "error": err.Error()}).Debug("read failed")
		}
		return
	}
	msg, err := wire.DecodeMessage(frame)
	if err != nil {
		kind := errorKindFromSyncErr(err)
		sess.writeError(stream, kind, err.Error())
		if kind == wire.ErrorKindUnsupportedVersion {
			logrus.WithFields(logrus.Fields{"function": "Session.handleStream", "device": sess.deviceID.Prefix()}).Warn("closing session on version mismatch")
			sess.mu.Lock()
			sess.state = sessionClosing
			sess.mu.Unlock()
			sess.conn.Close()
		}
		return
	}

	deviceKey := sess.deviceID.String()
	if !sess.server.limiter.AllowMessage(deviceKey) {
		sess.server.metrics.rateLimited()
		sess.writeError(stream, wire.ErrorKindRateLimited, "rate limit exceeded")
		return
	}

	switch m := msg.(type) {
	case wire.Push:
		sess.handlePush(ctx, stream, m)
	case wire.Pull:
		sess.handlePull(ctx, stream, m)
	case wire.Bye:
		sess.mu.Lock()
		sess.state = sessionClosing
		sess.mu.Unlock()
	default:
		sess.writeError(stream, wire.ErrorKindInvalidMessage, "unexpected message type on request stream")
	}
}

func (sess *Session) handlePush(ctx context.Context, stream transport.Stream, push wire.Push) {
	env := push.Envelope
	cursor, err := sess.server.store.Push(ctx, env.Group, env.Blob, env.Sender, env.Encode(),
		sess.server.cfg.MaxBlobSize, sess.server.cfg.MaxGroupStorage, sess.server.cfg.BlobTTL)
	if err != nil {
		sess.server.metrics.pushRejected()
		sess.writeError(stream, errorKindFromSyncErr(err), err.Error())
		return
	}
	sess.server.metrics.pushAccepted()

	ack := wire.PushAck{BlobId: env.Blob, AssignedCursor: cursor}
	if werr := wire.WriteFramed(stream, wire.EncodeMessage(ack), sess.server.cfg.MaxMessageSize); werr != nil {
		logrus.WithFields(logrus.Fields{"function": "Session.handlePush", "error": werr.Error()}).Debug("write ack failed")
		return
	}

	sess.server.notifyGroup(env.Group, cursor, sess)
}

func (sess *Session) handlePull(ctx context.Context, stream transport.Stream, pull wire.Pull) {
	blobs, next, more, err := sess.server.store.Pull(ctx, sess.groupID, pull.AfterCursor, int(pull.Limit), store.DefaultMaxPullLimit)
	if err != nil {
		sess.writeError(stream, errorKindFromSyncErr(err), err.Error())
		return
	}

	envelopes := make([]wire.Envelope, 0, len(blobs))
	deliveredIDs := make([]wire.BlobId, 0, len(blobs))
	for _, b := range blobs {
		env, derr := wire.DecodeEnvelope(b.Payload)
		if derr != nil {
			logrus.WithFields(logrus.Fields{"function": "Session.handlePull", "blob_id": b.BlobId.Prefix()}).Warn("stored blob failed to decode as envelope")
			continue
		}
		envelopes = append(envelopes, env)
		deliveredIDs = append(deliveredIDs, b.BlobId)
	}

	resp := wire.PullResponse{Envelopes: envelopes, NextCursor: next, More: more}
	if err := wire.WriteFramed(stream, wire.EncodeMessage(resp), sess.server.cfg.MaxMessageSize); err != nil {
		logrus.WithFields(logrus.Fields{"function": "Session.handlePull", "error": err.Error()}).Debug("write response failed")
		return
	}
	sess.server.metrics.pullServed()

	if len(deliveredIDs) > 0 {
		if err := sess.server.store.RecordDeliveries(ctx, sess.deviceID, deliveredIDs); err != nil {
			logrus.WithFields(logrus.Fields{"function": "Session.handlePull", "error": err.Error()}).Warn("recording deliveries failed")
		}
	}
}

func (sess *Session) writeError(stream transport.Stream, kind wire.ErrorKind, reason string) {
	perr := wire.ProtocolError{Kind: kind, Reason: reason}
	if err := wire.WriteFramed(stream, wire.EncodeMessage(perr), sess.server.cfg.MaxMessageSize); err != nil {
		logrus.WithFields(logrus.Fields{"function": "Session.writeError", "error": err.Error()}).Debug("write protocol error failed")
	}
}

// deliverNotify opens a stream to tell this session's client a new cursor
// was assigned in its group. Delivery is best-effort: a failure here never
// fails the push that triggered it (spec.md §5: "Notify is a hint, not a
// guarantee").
func (sess *Session) deliverNotify(ctx context.Context, groupID wire.GroupId, cursor wire.Cursor) {
	stream, err := sess.conn.OpenStream(ctx)
	if err != nil {
		return
	}
	defer stream.Close()
	notify := wire.Notify{GroupId: groupID, NewCursor: cursor}
	_ = wire.WriteFramed(stream, wire.EncodeMessage(notify), sess.server.cfg.MaxMessageSize)
}

// errorKindFromSyncErr maps the internal error taxonomy to the wire-level
// subset a ProtocolError can express; anything else maps to
// ErrorKindUnspecified rather than leaking internal detail.
func errorKindFromSyncErr(err error) wire.ErrorKind {
	switch {
	case syncerr.Is(err, syncerr.KindBlobTooLarge):
		return wire.ErrorKindBlobTooLarge
	case syncerr.Is(err, syncerr.KindQuotaExceeded):
		return wire.ErrorKindQuotaExceeded
	case syncerr.Is(err, syncerr.KindRateLimited):
		return wire.ErrorKindRateLimited
	case syncerr.Is(err, syncerr.KindUnsupportedVersion):
		return wire.ErrorKindUnsupportedVersion
	case syncerr.Is(err, syncerr.KindInvalidMessage):
		return wire.ErrorKindInvalidMessage
	default:
		return wire.ErrorKindUnspecified
	}
}
