// Package savecell provides Cell, a generic value holder that serializes
// access with a shared/exclusive lock and writes the value back to a Storage
// after every write scope that took a mutable reference.
//
// Persistence never happens while the exclusive lock is held: a dirty write
// guard downgrades to shared access, encodes a snapshot, hands it to the
// cell's single flush worker and releases. The worker writes snapshots in the
// order they were taken. If storage falls behind, the backlog is capped and
// the oldest waiting snapshots are dropped in favour of newer ones.
package savecell
