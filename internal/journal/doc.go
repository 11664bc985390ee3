// Package journal keeps a durable, append-only history of a replica's
// lifecycle transitions in Pebble.
//
// Keys are lexicographically ordered so a replica's history is one range:
//   - j/{replica}/m            last sequence (8B BE)
//   - j/{replica}/e/{seq_be8}  entries
//
// Entries are framed like queue messages: header | payload | crc32c, where the
// header is the transition time in Unix ms (8B BE) and the payload is JSON.
//
//	j, _ := journal.Open(db, "replica-a")
//	_, _ = j.Append(ctx, journal.Entry{From: lifecycle.Working, To: lifecycle.Stopping, At: now})
//	entries, next := j.Read(journal.ReadOptions{Limit: 50, Reverse: true})
//	_, _ = j.TrimOlderThan(ctx, now.Add(-7*24*time.Hour), 1024)
//
// A Recorder registered as a lifecycle observer feeds the journal without
// blocking the manager.
package journal
