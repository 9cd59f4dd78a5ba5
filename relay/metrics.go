package relay

import "sync/atomic"

// Metrics holds the relay's aggregate counters. It carries no payloads
// and no per-device identifiers — an external HTTP observability plane
// reads these fields to serve coarse, non-identifying counts (spec.md §6:
// "exposes only aggregate counters"; SPEC_FULL.md supplements this
// in-process counter surface since the HTTP plane itself is out of
// scope).
type Metrics struct {
	SessionsActive      int64
	SessionsTotal       int64
	PushesAccepted      int64
	PushesRejected      int64
	PullsServed         int64
	NotificationsSent   int64
	RateLimitedRequests int64
	CleanupsRun         int64
	BlobsExpired        int64
}

func (m *Metrics) sessionOpened()  { atomic.AddInt64(&m.SessionsActive, 1); atomic.AddInt64(&m.SessionsTotal, 1) }
func (m *Metrics) sessionClosed()  { atomic.AddInt64(&m.SessionsActive, -1) }
func (m *Metrics) pushAccepted()   { atomic.AddInt64(&m.PushesAccepted, 1) }
func (m *Metrics) pushRejected()   { atomic.AddInt64(&m.PushesRejected, 1) }
func (m *Metrics) pullServed()     { atomic.AddInt64(&m.PullsServed, 1) }
func (m *Metrics) notified(n int)  { atomic.AddInt64(&m.NotificationsSent, int64(n)) }
func (m *Metrics) rateLimited()    { atomic.AddInt64(&m.RateLimitedRequests, 1) }
func (m *Metrics) cleanupRan(removed int64) {
	atomic.AddInt64(&m.CleanupsRun, 1)
	atomic.AddInt64(&m.BlobsExpired, removed)
}
