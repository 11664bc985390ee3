package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/rzbill/maestro/internal/lifecycle"
	pebblestore "github.com/rzbill/maestro/internal/storage/pebble"
)

// Entry is one recorded transition. Seq is assigned by Append.
type Entry struct {
	Seq  uint64          `json:"seq"`
	From lifecycle.State `json:"from"`
	To   lifecycle.State `json:"to"`
	At   time.Time       `json:"at"`
}

type entryPayload struct {
	From lifecycle.State `json:"from"`
	To   lifecycle.State `json:"to"`
}

// Journal is the transition history of one replica.
type Journal struct {
	db      *pebblestore.DB
	replica string

	mu      sync.Mutex
	lastSeq uint64
}

// Open loads the last sequence for replica, if any.
func Open(db *pebblestore.DB, replica string) (*Journal, error) {
	j := &Journal{db: db, replica: replica}
	meta, err := db.Get(KeyMeta(replica))
	switch {
	case err == nil && len(meta) >= 8:
		j.lastSeq = binary.BigEndian.Uint64(meta[:8])
	case err != nil && !pebblestore.IsNotFound(err):
		return nil, err
	}
	return j, nil
}

// Replica returns the replica this journal records.
func (j *Journal) Replica() string { return j.replica }

// Append stores entries as a single atomic batch and returns their sequences.
func (j *Journal) Append(ctx context.Context, entries ...Entry) ([]uint64, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	b := j.db.NewBatch()
	defer b.Close()

	seq := j.lastSeq
	seqs := make([]uint64, len(entries))
	for i, e := range entries {
		payload, err := json.Marshal(entryPayload{From: e.From, To: e.To})
		if err != nil {
			return nil, err
		}
		seq++
		if err := b.Set(KeyEntry(j.replica, seq), encodeRecord(e.At.UnixMilli(), payload), nil); err != nil {
			return nil, err
		}
		seqs[i] = seq
	}
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], seq)
	if err := b.Set(KeyMeta(j.replica), meta[:], nil); err != nil {
		return nil, err
	}
	if err := j.db.CommitBatch(ctx, b); err != nil {
		return nil, err
	}
	j.lastSeq = seq
	return seqs, nil
}

// ReadOptions selects a page of entries.
type ReadOptions struct {
	// Start is the first sequence returned (inclusive). Zero begins at the
	// oldest entry, or the newest when Reverse is set.
	Start   uint64
	Limit   int
	Reverse bool
}

func (j *Journal) bounds() *pebble.IterOptions {
	first := KeyEntry(j.replica, 0)
	return &pebble.IterOptions{
		LowerBound: first,
		UpperBound: pebblestore.PrefixUpperBound(first[:len(first)-8]),
	}
}

// Read returns up to Limit entries and the sequence to resume from, which is
// zero once the journal is exhausted. Corrupt entries are skipped.
func (j *Journal) Read(opts ReadOptions) ([]Entry, uint64) {
	entries := make([]Entry, 0, max(1, opts.Limit))
	iter, err := j.db.NewIter(j.bounds())
	if err != nil {
		return entries, 0
	}
	defer iter.Close()

	var ok bool
	switch {
	case opts.Reverse && opts.Start == 0:
		ok = iter.Last()
	case opts.Reverse:
		ok = iter.SeekLT(KeyEntry(j.replica, opts.Start+1))
	case opts.Start == 0:
		ok = iter.First()
	default:
		ok = iter.SeekGE(KeyEntry(j.replica, opts.Start))
	}
	step := iter.Next
	if opts.Reverse {
		step = iter.Prev
	}
	for ; ok && (opts.Limit <= 0 || len(entries) < opts.Limit); ok = step() {
		if e, valid := decodeEntry(iter.Key(), iter.Value()); valid {
			entries = append(entries, e)
		}
	}
	if ok {
		return entries, seqFromKey(iter.Key())
	}
	return entries, 0
}

func decodeEntry(key, value []byte) (Entry, bool) {
	atMs, payload, ok := decodeRecord(value)
	if !ok {
		return Entry{}, false
	}
	var p entryPayload
	if json.Unmarshal(payload, &p) != nil {
		return Entry{}, false
	}
	return Entry{Seq: seqFromKey(key), From: p.From, To: p.To, At: time.UnixMilli(atMs).UTC()}, true
}

// TrimOlderThan deletes entries recorded before cutoff, oldest first, in
// batches of up to batchLimit keys. It returns the number deleted.
func (j *Journal) TrimOlderThan(ctx context.Context, cutoff time.Time, batchLimit int) (int, error) {
	if batchLimit <= 0 {
		batchLimit = 1024
	}
	cutoffMs := cutoff.UnixMilli()
	iter, err := j.db.NewIter(j.bounds())
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	deleted := 0
	for ok := iter.First(); ok; {
		b := j.db.NewBatch()
		n := 0
		for ok && n < batchLimit {
			atMs, _, valid := decodeRecord(iter.Value())
			if valid && atMs >= cutoffMs {
				// entries are in time order; the rest are newer
				ok = false
				break
			}
			if err := b.Delete(iter.Key(), nil); err != nil {
				b.Close()
				return deleted, err
			}
			n++
			ok = iter.Next()
		}
		if n > 0 {
			if err := j.db.CommitBatch(ctx, b); err != nil {
				b.Close()
				return deleted, err
			}
			deleted += n
		}
		b.Close()
	}
	return deleted, nil
}
