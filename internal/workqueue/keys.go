package workqueue

import (
	"encoding/binary"
	"fmt"

	"github.com/rzbill/maestro/pkg/id"
)

// Key prefixes for queue data structures
const (
	prefixMsg = "msg/" // Message record
	prefixVis = "vis/" // Visibility index
)

// queuePrefix returns the base prefix for a queue.
// Format: wq/{name}/
func queuePrefix(name string) string {
	return fmt.Sprintf("wq/%s/", name)
}

// MsgPrefix returns the prefix of all message records of a queue.
func MsgPrefix(name string) []byte {
	return []byte(queuePrefix(name) + prefixMsg)
}

// MsgKey returns the message record key.
// Format: wq/{name}/msg/{id}
func MsgKey(name string, mid id.ID) []byte {
	prefix := MsgPrefix(name)
	key := make([]byte, len(prefix)+len(mid))
	copy(key, prefix)
	copy(key[len(prefix):], mid[:])
	return key
}

// VisPrefix returns the prefix of the visibility index of a queue.
func VisPrefix(name string) []byte {
	return []byte(queuePrefix(name) + prefixVis)
}

// VisKey returns the visibility index key. Entries sort by the time the
// message becomes visible, then by ID.
// Format: wq/{name}/vis/{visible_at_ms}/{id}
func VisKey(name string, visibleAtMs uint64, mid id.ID) []byte {
	prefix := VisPrefix(name)
	key := make([]byte, len(prefix)+8+len(mid))
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], visibleAtMs)
	copy(key[len(prefix)+8:], mid[:])
	return key
}

// parseVisKey extracts visibility time and ID from a VisKey.
func parseVisKey(prefix, key []byte) (uint64, id.ID, bool) {
	var mid id.ID
	if len(key) != len(prefix)+8+len(mid) {
		return 0, mid, false
	}
	at := binary.BigEndian.Uint64(key[len(prefix) : len(prefix)+8])
	copy(mid[:], key[len(prefix)+8:])
	return at, mid, true
}
