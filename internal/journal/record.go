package journal

import (
	"encoding/binary"
	"hash/crc32"
)

// Record encoding: atMs(8B BE) | payload | crc32c(atMs|payload)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func encodeRecord(atMs int64, payload []byte) []byte {
	out := make([]byte, 8, 8+len(payload)+4)
	binary.BigEndian.PutUint64(out, uint64(atMs))
	out = append(out, payload...)
	var cb [4]byte
	binary.BigEndian.PutUint32(cb[:], crc32.Checksum(out, castagnoli))
	return append(out, cb[:]...)
}

func decodeRecord(b []byte) (atMs int64, payload []byte, ok bool) {
	if len(b) < 8+4 {
		return 0, nil, false
	}
	body := b[:len(b)-4]
	if crc32.Checksum(body, castagnoli) != binary.BigEndian.Uint32(b[len(b)-4:]) {
		return 0, nil, false
	}
	return int64(binary.BigEndian.Uint64(body[:8])), append([]byte(nil), body[8:]...), true
}
