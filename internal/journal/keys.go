package journal

import "encoding/binary"

var (
	prefix     = []byte("j/")
	metaSuffix = []byte("/m")
	entrySeg   = []byte("/e/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// KeyMeta builds the replica's metadata key.
func KeyMeta(replica string) []byte {
	k := make([]byte, 0, len(prefix)+len(replica)+len(metaSuffix))
	k = append(k, prefix...)
	k = append(k, replica...)
	k = append(k, metaSuffix...)
	return k
}

// KeyEntry builds an entry key with a big-endian sequence for ordering.
func KeyEntry(replica string, seq uint64) []byte {
	k := make([]byte, 0, len(prefix)+len(replica)+len(entrySeg)+8)
	k = append(k, prefix...)
	k = append(k, replica...)
	k = append(k, entrySeg...)
	return appendBE8(k, seq)
}

// seqFromKey extracts the trailing sequence of an entry key.
func seqFromKey(k []byte) uint64 {
	return binary.BigEndian.Uint64(k[len(k)-8:])
}
