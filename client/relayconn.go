package client

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/0k-sync/relay-core/synccore"
	"github.com/0k-sync/relay-core/syncerr"
	"github.com/0k-sync/relay-core/transport"
	"github.com/0k-sync/relay-core/wire"
)

// relayConn tracks one configured relay's live connection (if any), its
// own cursor progress, and its reconnection backoff state. Each relay in
// the ordered list gets an independent cursor because a client that
// fails over mid-session must not conflate "nothing new at relay B" with
// "nothing new at relay A" (spec.md §4.6).
type relayConn struct {
	addr     string
	conn     transport.Conn
	tracker  *synccore.CursorTracker
	machine  *synccore.Machine
	notifyCh chan<- wire.Notify

	acceptCancel context.CancelFunc
}

func newRelayConn(addr string, backoff synccore.BackoffConfig, notifyCh chan<- wire.Notify) *relayConn {
	return &relayConn{
		addr:     addr,
		tracker:  synccore.NewCursorTracker(),
		machine:  synccore.NewMachine(backoff),
		notifyCh: notifyCh,
	}
}

func (r *relayConn) connected() bool {
	return r.conn != nil && r.machine.State() == synccore.Connected
}

// dialAndHandshake opens a Conn to r.addr, sends Hello on a fresh stream,
// and waits for Welcome. On success the relayConn's state machine moves
// to Connected; on any failure it moves to Disconnected so the caller's
// backoff schedule advances.
func (r *relayConn) dialAndHandshake(ctx context.Context, dialer transport.Dialer, deviceID wire.DeviceId, deviceName string, groupID wire.GroupId, requestTimeout time.Duration) (wire.Welcome, error) {
	r.machine.Transition(synccore.Connecting)

	conn, err := dialer.Dial(ctx, r.addr)
	if err != nil {
		r.machine.Transition(synccore.Disconnected)
		return wire.Welcome{}, syncerr.Wrap(syncerr.KindNotConnected, "dial relay "+r.addr, err)
	}

	hctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	stream, err := conn.OpenStream(hctx)
	if err != nil {
		conn.Close()
		r.machine.Transition(synccore.Disconnected)
		return wire.Welcome{}, syncerr.Wrap(syncerr.KindNotConnected, "open handshake stream to "+r.addr, err)
	}
	defer stream.Close()

	hello := wire.Hello{DeviceId: deviceID, DeviceName: deviceName, GroupId: groupID}
	if err := wire.WriteFramed(stream, wire.EncodeMessage(hello), wire.MaxMessageSize); err != nil {
		conn.Close()
		r.machine.Transition(synccore.Disconnected)
		return wire.Welcome{}, err
	}

	frame, err := wire.ReadFramed(stream, wire.MaxMessageSize)
	if err != nil {
		conn.Close()
		r.machine.Transition(synccore.Disconnected)
		return wire.Welcome{}, err
	}
	msg, err := wire.DecodeMessage(frame)
	if err != nil {
		conn.Close()
		r.machine.Transition(synccore.Disconnected)
		return wire.Welcome{}, err
	}
	welcome, ok := msg.(wire.Welcome)
	if !ok {
		conn.Close()
		r.machine.Transition(synccore.Disconnected)
		return wire.Welcome{}, syncerr.New(syncerr.KindInvalidMessage, "expected Welcome from "+r.addr)
	}

	r.conn = conn
	r.machine.Transition(synccore.Connected)
	logrus.WithFields(logrus.Fields{
		"function": "relayConn.dialAndHandshake",
		"addr":     r.addr,
		"cursor":   welcome.AssignedCursor,
	}).Info("connected to relay")

	acceptCtx, cancel := context.WithCancel(context.Background())
	r.acceptCancel = cancel
	go r.runNotifyLoop(acceptCtx, conn)

	return welcome, nil
}

// runNotifyLoop accepts streams opened by the relay for the lifetime of
// conn and forwards any Notify message it observes, so a caller can Pull
// promptly instead of only on a fixed poll interval (spec.md §4.5/§4.6).
// Anything other than a well-formed Notify on one of these streams is
// dropped: the relay only ever opens streams toward the client to deliver
// notifications (relay/session.go's deliverNotify).
func (r *relayConn) runNotifyLoop(ctx context.Context, conn transport.Conn) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go func(s transport.Stream) {
			defer s.Close()
			frame, err := wire.ReadFramed(s, wire.MaxMessageSize)
			if err != nil {
				return
			}
			msg, err := wire.DecodeMessage(frame)
			if err != nil {
				return
			}
			notify, ok := msg.(wire.Notify)
			if !ok {
				return
			}
			select {
			case r.notifyCh <- notify:
			default:
				logrus.WithFields(logrus.Fields{
					"function": "relayConn.runNotifyLoop",
					"addr":     r.addr,
				}).Debug("dropping notify: channel full")
			}
		}(stream)
	}
}

func (r *relayConn) disconnect() {
	if r.acceptCancel != nil {
		r.acceptCancel()
		r.acceptCancel = nil
	}
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	r.machine.Transition(synccore.Disconnected)
}
