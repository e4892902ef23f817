// Package store provides the durable record store for collected items.
//
// Each subject gets its own append-only store. Two backends exist:
//
//   - JSONLStore writes one JSON object per line and tolerates a torn last
//     line left by a crash.
//   - SQLiteStore keeps rows in a pure-Go SQLite database ordered by an
//     autoincrement sequence.
//
// Both keep an in-memory index of IDs only, rebuilt at open time, so
// Contains is O(1) and Append is a no-op for an ID already persisted.
// Stream reads items back one at a time in insertion order.
//
//	s, err := store.Open(cfg, "alice", log)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	added, err := s.Append(ctx, item)
package store
