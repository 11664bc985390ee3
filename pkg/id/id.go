package id

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"
)

// Size is the encoded length of an ID in bytes.
const Size = 16

// ID identifies a queue message.
type ID [Size]byte

// Make builds an ID from its parts.
func Make(ms int64, seq uint64) ID {
	var out ID
	binary.BigEndian.PutUint64(out[:8], uint64(ms))
	binary.BigEndian.PutUint64(out[8:], seq)
	return out
}

// Bytes returns a copy of the raw bytes.
func (i ID) Bytes() []byte { return append([]byte(nil), i[:]...) }

func (i ID) String() string { return hex.EncodeToString(i[:]) }

// Time returns the creation time embedded in the ID.
func (i ID) Time() time.Time { return time.UnixMilli(int64(binary.BigEndian.Uint64(i[:8]))) }

// Seq returns the sequence within the creation millisecond.
func (i ID) Seq() uint64 { return binary.BigEndian.Uint64(i[8:]) }

// IsZero reports whether the ID is unset.
func (i ID) IsZero() bool { return i == ID{} }

// Less reports whether i was generated before other.
func (i ID) Less(other ID) bool { return bytes.Compare(i[:], other[:]) < 0 }

// MarshalText encodes the ID as hex, so it reads naturally in JSON.
func (i ID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

// UnmarshalText decodes the hex form.
func (i *ID) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// Parse decodes the 32-character hex form produced by String.
func Parse(s string) (ID, error) {
	var out ID
	if len(s) != 2*Size {
		return out, fmt.Errorf("id: want %d hex chars, got %d", 2*Size, len(s))
	}
	if _, err := hex.Decode(out[:], []byte(s)); err != nil {
		return out, fmt.Errorf("id: %w", err)
	}
	return out, nil
}

// FromBytes copies a 16-byte slice into an ID.
func FromBytes(b []byte) (ID, error) {
	var out ID
	if len(b) != Size {
		return out, fmt.Errorf("id: want %d bytes, got %d", Size, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// Generator produces strictly increasing IDs.
type Generator struct {
	now func() int64

	mu     sync.Mutex
	lastMs int64
	seq    uint64
}

// NewGenerator returns a generator reading now, in Unix ms. A nil now uses
// the wall clock.
func NewGenerator(now func() int64) *Generator {
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}
	return &Generator{now: now}
}

// Next returns an ID greater than every ID this generator returned before.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now()
	switch {
	case ms > g.lastMs:
		g.seq = 0
	case g.seq == math.MaxUint64:
		ms = g.lastMs + 1
		g.seq = 0
	default:
		ms = g.lastMs
		g.seq++
	}
	g.lastMs = ms
	return Make(ms, g.seq)
}
