// Package content implements large-content transfer on top of the
// envelope push/pull pipeline (spec.md §4.7). Content small enough for
// one envelope can be pushed directly with client.Push, bypassing this
// package; Send itself handles content of any size the same way. It seals
// the content once under a per-blob content key, splits it into
// envelope-sized chunks, and pushes them as an ordered sequence; a small
// Manifest envelope — the only part
// resembling metadata the relay ever sees — tells a receiver how to
// fetch and reassemble the chunks. content.MaxContentSize bounds the
// largest single transfer this package will attempt, independent of any
// relay's own configured max_blob_size.
package content
