package relay

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/0k-sync/relay-core/store"
	"github.com/0k-sync/relay-core/transport"
	"github.com/0k-sync/relay-core/wire"
)

// Server drives the accept loop, background maintenance, and graceful
// shutdown for a single relay listener. It holds no key material: only
// the blob store, rate limiter, and in-process counters (spec.md §4.5,
// §6).
type Server struct {
	cfg     Config
	store   *store.Store
	limiter *RateLimiter
	metrics *Metrics

	listener transport.Listener

	mu       sync.Mutex
	groups   map[wire.GroupId]map[*Session]struct{}
	sessions int

	stopBackground chan struct{}
	backgroundWG   sync.WaitGroup
	shuttingDown   bool
	shutdownOnce   sync.Once
}

// NewServer wires a listener, already-opened store, and config into a
// Server ready to Serve.
func NewServer(cfg Config, st *store.Store, listener transport.Listener) *Server {
	return &Server{
		cfg:            cfg,
		store:          st,
		limiter:        NewRateLimiter(cfg.RateLimits),
		metrics:        &Metrics{},
		listener:       listener,
		groups:         make(map[wire.GroupId]map[*Session]struct{}),
		stopBackground: make(chan struct{}),
	}
}

// Metrics exposes the server's aggregate counters for an external
// observability surface to read.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Serve runs the accept loop until ctx is cancelled or Shutdown is
// called. It also starts the background cleanup/eviction sweep.
func (s *Server) Serve(ctx context.Context) error {
	s.backgroundWG.Add(1)
	go s.maintenanceLoop(ctx)

	log := logrus.WithFields(logrus.Fields{"function": "Server.Serve", "addr": s.listener.Addr()})
	log.Info("relay accept loop started")

	for {
		conn, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || s.isShuttingDown() {
				log.Info("accept loop stopped")
				return nil
			}
			log.WithError(err).Warn("accept failed")
			continue
		}

		if s.isShuttingDown() {
			conn.Close()
			continue
		}

		if !s.admitConnection() {
			log.Warn("rejecting connection: max_concurrent_sessions reached")
			conn.Close()
			continue
		}

		if !s.limiter.AllowConnection(conn.RemoteIdentity()) {
			s.metrics.rateLimited()
			s.releaseConnection()
			conn.Close()
			continue
		}

		sess := newSession(s, conn)
		go func() {
			defer s.releaseConnection()
			sess.run(ctx)
		}()
	}
}

func (s *Server) admitConnection() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions >= s.cfg.MaxConcurrentSessions {
		return false
	}
	s.sessions++
	return true
}

func (s *Server) releaseConnection() {
	s.mu.Lock()
	s.sessions--
	s.mu.Unlock()
}

func (s *Server) isShuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shuttingDown
}

// Shutdown stops accepting new connections, stops the background
// maintenance task, and waits up to Config.ShutdownDrain for that task to
// exit. Sessions already running are neither waited for nor closed here;
// each ends when its connection closes or Serve's context is cancelled.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.shuttingDown = true
		s.mu.Unlock()

		close(s.stopBackground)
		s.listener.Close()

		done := make(chan struct{})
		go func() {
			s.backgroundWG.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(s.cfg.ShutdownDrain):
			logrus.WithFields(logrus.Fields{"function": "Server.Shutdown"}).Warn("shutdown drain interval elapsed before background tasks finished")
		}
	})
}

func (s *Server) registerSession(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.groups[sess.groupID]
	if !ok {
		set = make(map[*Session]struct{})
		s.groups[sess.groupID] = set
	}
	set[sess] = struct{}{}
}

func (s *Server) unregisterSession(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.groups[sess.groupID]
	if !ok {
		return
	}
	delete(set, sess)
	if len(set) == 0 {
		delete(s.groups, sess.groupID)
	}
}

// notifyGroup fans a Notify out to every other active session in groupID.
// Dispatch is snapshot-then-send: the group's session set is copied under
// lock, then each delivery runs in its own goroutine so one slow or dead
// peer can't stall the others or the pushing session (spec.md §5: Notify
// fan-out is fire-and-forget, best-effort).
func (s *Server) notifyGroup(groupID wire.GroupId, cursor wire.Cursor, origin *Session) {
	s.mu.Lock()
	set, ok := s.groups[groupID]
	if !ok || len(set) == 0 {
		s.mu.Unlock()
		return
	}
	targets := make([]*Session, 0, len(set))
	for sess := range set {
		if sess != origin {
			targets = append(targets, sess)
		}
	}
	s.mu.Unlock()

	if len(targets) == 0 {
		return
	}
	s.metrics.notified(len(targets))
	for _, sess := range targets {
		go sess.deliverNotify(context.Background(), groupID, cursor)
	}
}

// maintenanceLoop periodically expires blobs past their TTL and evicts
// idle rate-limit buckets, grounded on the teacher's ticker-driven
// background maintenance pattern.
func (s *Server) maintenanceLoop(ctx context.Context) {
	defer s.backgroundWG.Done()

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopBackground:
			return
		case <-ticker.C:
			removed, err := s.store.Cleanup(ctx)
			if err != nil {
				logrus.WithFields(logrus.Fields{"function": "Server.maintenanceLoop", "error": err.Error()}).Warn("cleanup failed")
				continue
			}
			s.metrics.cleanupRan(removed)
			evicted := s.limiter.EvictIdle(2 * s.cfg.CleanupInterval)
			if evicted > 0 {
				logrus.WithFields(logrus.Fields{"function": "Server.maintenanceLoop", "evicted": evicted}).Debug("evicted idle rate limit buckets")
			}
		}
	}
}
