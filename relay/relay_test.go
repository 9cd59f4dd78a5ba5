package relay

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/0k-sync/relay-core/store"
	"github.com/0k-sync/relay-core/transport"
	"github.com/0k-sync/relay-core/wire"
)

const testAddr = "relay.test:8443"

type testHarness struct {
	server  *Server
	dialer  transport.Dialer
	cancel  context.CancelFunc
	done    chan struct{}
}

func newTestHarness(t *testing.T, cfg Config) *testHarness {
	t.Helper()

	st, err := store.Open(store.InMemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	net := transport.NewMockNetwork()
	ln, err := net.Listen(testAddr)
	require.NoError(t, err)

	cfg.DatabasePath = store.InMemoryPath
	srv := NewServer(cfg, st, ln)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Serve(ctx)
		close(done)
	}()

	h := &testHarness{server: srv, dialer: net.Dialer(), cancel: cancel, done: done}
	t.Cleanup(func() {
		srv.Shutdown()
		h.cancel()
		<-h.done
	})
	return h
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxBlobSize = 4096
	cfg.MaxGroupStorage = 1 << 20
	cfg.HelloTimeout = 2 * time.Second
	cfg.CleanupInterval = 50 * time.Millisecond
	cfg.ShutdownDrain = time.Second
	cfg.RateLimits = RateLimitConfig{ConnectionPerSec: 1000, MessagePerSec: 1000, GlobalRequestsPerSec: 100000}
	return cfg
}

func mustDial(t *testing.T, h *testHarness) transport.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, err := h.dialer.Dial(ctx, testAddr)
	require.NoError(t, err)
	return conn
}

func mustHandshake(t *testing.T, conn transport.Conn, deviceID wire.DeviceId, groupID wire.GroupId) wire.Welcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	stream, err := conn.OpenStream(ctx)
	require.NoError(t, err)
	defer stream.Close()

	hello := wire.Hello{DeviceId: deviceID, DeviceName: "test-device", GroupId: groupID}
	require.NoError(t, wire.WriteFramed(stream, wire.EncodeMessage(hello), wire.MaxMessageSize))

	frame, err := wire.ReadFramed(stream, wire.MaxMessageSize)
	require.NoError(t, err)
	msg, err := wire.DecodeMessage(frame)
	require.NoError(t, err)
	welcome, ok := msg.(wire.Welcome)
	require.True(t, ok, "expected Welcome, got %T", msg)
	return welcome
}

func randomPayload(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestHandshakeAssignsCursorZeroForFreshGroup(t *testing.T) {
	h := newTestHarness(t, testConfig())
	var deviceID wire.DeviceId
	var groupID wire.GroupId
	copy(deviceID[:], randomPayload(t, 32))
	copy(groupID[:], randomPayload(t, 32))

	conn := mustDial(t, h)
	defer conn.Close()
	welcome := mustHandshake(t, conn, deviceID, groupID)
	require.Equal(t, wire.NoCursor, welcome.AssignedCursor)
}

func TestPushThenPullRoundTrip(t *testing.T) {
	h := newTestHarness(t, testConfig())
	var deviceID wire.DeviceId
	var groupID wire.GroupId
	copy(deviceID[:], randomPayload(t, 32))
	copy(groupID[:], randomPayload(t, 32))

	conn := mustDial(t, h)
	defer conn.Close()
	mustHandshake(t, conn, deviceID, groupID)

	blobID := wire.NewBlobId()
	env := wire.NewEnvelope(deviceID, groupID, blobID, time.Now().UnixMilli(), []byte("opaque ciphertext"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	pushStream, err := conn.OpenStream(ctx)
	require.NoError(t, err)
	require.NoError(t, wire.WriteFramed(pushStream, wire.EncodeMessage(wire.Push{Envelope: env}), wire.MaxMessageSize))
	frame, err := wire.ReadFramed(pushStream, wire.MaxMessageSize)
	require.NoError(t, err)
	pushStream.Close()

	msg, err := wire.DecodeMessage(frame)
	require.NoError(t, err)
	ack, ok := msg.(wire.PushAck)
	require.True(t, ok, "expected PushAck, got %T", msg)
	require.Equal(t, blobID, ack.BlobId)
	require.Equal(t, wire.Cursor(1), ack.AssignedCursor)

	pullStream, err := conn.OpenStream(ctx)
	require.NoError(t, err)
	require.NoError(t, wire.WriteFramed(pullStream, wire.EncodeMessage(wire.Pull{AfterCursor: wire.NoCursor, Limit: 10}), wire.MaxMessageSize))
	frame, err = wire.ReadFramed(pullStream, wire.MaxMessageSize)
	require.NoError(t, err)
	pullStream.Close()

	msg, err = wire.DecodeMessage(frame)
	require.NoError(t, err)
	resp, ok := msg.(wire.PullResponse)
	require.True(t, ok, "expected PullResponse, got %T", msg)
	require.Len(t, resp.Envelopes, 1)
	require.Equal(t, env.Payload, resp.Envelopes[0].Payload)
	require.Equal(t, wire.Cursor(1), resp.NextCursor)
	require.False(t, resp.More)
}

func TestPushOversizedBlobReturnsProtocolError(t *testing.T) {
	h := newTestHarness(t, testConfig())
	var deviceID wire.DeviceId
	var groupID wire.GroupId
	copy(deviceID[:], randomPayload(t, 32))
	copy(groupID[:], randomPayload(t, 32))

	conn := mustDial(t, h)
	defer conn.Close()
	mustHandshake(t, conn, deviceID, groupID)

	blobID := wire.NewBlobId()
	oversized := randomPayload(t, 8192)
	env := wire.NewEnvelope(deviceID, groupID, blobID, time.Now().UnixMilli(), oversized)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	stream, err := conn.OpenStream(ctx)
	require.NoError(t, err)
	require.NoError(t, wire.WriteFramed(stream, wire.EncodeMessage(wire.Push{Envelope: env}), wire.MaxMessageSize))
	frame, err := wire.ReadFramed(stream, wire.MaxMessageSize)
	require.NoError(t, err)
	stream.Close()

	msg, err := wire.DecodeMessage(frame)
	require.NoError(t, err)
	perr, ok := msg.(wire.ProtocolError)
	require.True(t, ok, "expected ProtocolError, got %T", msg)
	require.Equal(t, wire.ErrorKindBlobTooLarge, perr.Kind)
}

func TestNotifyFanOutToOtherGroupMember(t *testing.T) {
	h := newTestHarness(t, testConfig())
	var groupID wire.GroupId
	copy(groupID[:], randomPayload(t, 32))

	var deviceA, deviceB wire.DeviceId
	copy(deviceA[:], randomPayload(t, 32))
	copy(deviceB[:], randomPayload(t, 32))

	connA := mustDial(t, h)
	defer connA.Close()
	mustHandshake(t, connA, deviceA, groupID)

	connB := mustDial(t, h)
	defer connB.Close()
	mustHandshake(t, connB, deviceB, groupID)

	notifyCh := make(chan wire.Notify, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		stream, err := connB.AcceptStream(ctx)
		if err != nil {
			return
		}
		defer stream.Close()
		frame, err := wire.ReadFramed(stream, wire.MaxMessageSize)
		if err != nil {
			return
		}
		msg, err := wire.DecodeMessage(frame)
		if err != nil {
			return
		}
		if n, ok := msg.(wire.Notify); ok {
			notifyCh <- n
		}
	}()

	blobID := wire.NewBlobId()
	env := wire.NewEnvelope(deviceA, groupID, blobID, time.Now().UnixMilli(), []byte("payload"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	stream, err := connA.OpenStream(ctx)
	require.NoError(t, err)
	require.NoError(t, wire.WriteFramed(stream, wire.EncodeMessage(wire.Push{Envelope: env}), wire.MaxMessageSize))
	_, err = wire.ReadFramed(stream, wire.MaxMessageSize)
	require.NoError(t, err)
	stream.Close()

	select {
	case n := <-notifyCh:
		require.Equal(t, groupID, n.GroupId)
		require.Equal(t, wire.Cursor(1), n.NewCursor)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notify")
	}
}

func TestRateLimitedMessageReturnsProtocolError(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimits = RateLimitConfig{ConnectionPerSec: 1000, MessagePerSec: 1, GlobalRequestsPerSec: 100000}
	h := newTestHarness(t, cfg)

	var deviceID wire.DeviceId
	var groupID wire.GroupId
	copy(deviceID[:], randomPayload(t, 32))
	copy(groupID[:], randomPayload(t, 32))

	conn := mustDial(t, h)
	defer conn.Close()
	mustHandshake(t, conn, deviceID, groupID)

	sendPull := func() (wire.Message, error) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		stream, err := conn.OpenStream(ctx)
		require.NoError(t, err)
		defer stream.Close()
		if err := wire.WriteFramed(stream, wire.EncodeMessage(wire.Pull{AfterCursor: wire.NoCursor, Limit: 10}), wire.MaxMessageSize); err != nil {
			return nil, err
		}
		frame, err := wire.ReadFramed(stream, wire.MaxMessageSize)
		if err != nil {
			return nil, err
		}
		return wire.DecodeMessage(frame)
	}

	msg, err := sendPull()
	require.NoError(t, err)
	_, ok := msg.(wire.PullResponse)
	require.True(t, ok)

	msg, err = sendPull()
	require.NoError(t, err)
	perr, ok := msg.(wire.ProtocolError)
	require.True(t, ok, "expected the second rapid request to be rate limited, got %T", msg)
	require.Equal(t, wire.ErrorKindRateLimited, perr.Kind)
}

func TestUnsupportedEnvelopeVersionClosesSession(t *testing.T) {
	h := newTestHarness(t, testConfig())
	var deviceID wire.DeviceId
	var groupID wire.GroupId
	copy(deviceID[:], randomPayload(t, 32))
	copy(groupID[:], randomPayload(t, 32))

	conn := mustDial(t, h)
	defer conn.Close()
	mustHandshake(t, conn, deviceID, groupID)

	env := wire.NewEnvelope(deviceID, groupID, wire.NewBlobId(), time.Now().UnixMilli(), []byte("payload"))
	env.Version = 99

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	stream, err := conn.OpenStream(ctx)
	require.NoError(t, err)
	require.NoError(t, wire.WriteFramed(stream, wire.EncodeMessage(wire.Push{Envelope: env}), wire.MaxMessageSize))
	frame, err := wire.ReadFramed(stream, wire.MaxMessageSize)
	require.NoError(t, err)
	stream.Close()

	msg, err := wire.DecodeMessage(frame)
	require.NoError(t, err)
	perr, ok := msg.(wire.ProtocolError)
	require.True(t, ok, "expected ProtocolError, got %T", msg)
	require.Equal(t, wire.ErrorKindUnsupportedVersion, perr.Kind)

	// S6: the session closes on version mismatch rather than continuing
	// to serve the connection.
	require.Eventually(t, func() bool {
		return h.server.Metrics().SessionsActive == 0
	}, time.Second, 10*time.Millisecond, "session must close after an unsupported-version envelope")
}

func TestHandshakeTimesOutWithNoHello(t *testing.T) {
	cfg := testConfig()
	cfg.HelloTimeout = 50 * time.Millisecond
	h := newTestHarness(t, cfg)

	conn := mustDial(t, h)
	defer conn.Close()

	// Never send Hello; the session's handshake goroutine should time out
	// and tear down without ever counting the connection as an active
	// session.
	require.Eventually(t, func() bool {
		return h.server.Metrics().SessionsTotal == 0
	}, 500*time.Millisecond, 10*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	require.Equal(t, int64(0), h.server.Metrics().SessionsTotal, "a session with no Hello must never become active")
}

func TestShutdownStopsAcceptingNewSessions(t *testing.T) {
	h := newTestHarness(t, testConfig())
	h.server.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := h.dialer.Dial(ctx, testAddr)
	require.Error(t, err, "dialing after shutdown should fail once the listener is closed")
}
