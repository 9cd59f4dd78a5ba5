// Package synccore implements the pure, no-I/O logic shared by the client
// engine: the connection state machine with backoff, bounded outbound
// message buffering, cursor gap tracking, and the invite payload codec
// (QR binary form plus human short code). Nothing in this package blocks
// on a network call, a timer channel, or a lock held across I/O; callers
// own all suspension points.
package synccore
