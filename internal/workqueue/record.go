package workqueue

import (
	"encoding/binary"
	"hash/crc32"
	"time"

	"github.com/google/uuid"
	"github.com/rzbill/maestro/pkg/id"
)

// Stored message value:
//
//	inserted_at_ms(8) | visible_at_ms(8) | dequeue_count(4) | pop_receipt(16) | payload | crc32c
//
// Integers are big-endian. The checksum covers everything before it. A zero
// receipt means the message has never been received.
const (
	recordHeaderLen = 8 + 8 + 4 + 16
	recordCRCLen    = 4
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

func encodeRecord(m Message, receipt uuid.UUID) []byte {
	out := make([]byte, recordHeaderLen, recordHeaderLen+len(m.Payload)+recordCRCLen)
	binary.BigEndian.PutUint64(out[0:8], uint64(m.InsertedAt.UnixMilli()))
	binary.BigEndian.PutUint64(out[8:16], uint64(m.NextVisibleAt.UnixMilli()))
	binary.BigEndian.PutUint32(out[16:20], uint32(m.DequeueCount))
	copy(out[20:36], receipt[:])
	out = append(out, m.Payload...)
	return binary.BigEndian.AppendUint32(out, crc32.Checksum(out, crcTable))
}

// decodeRecord returns false for truncated or corrupted values.
func decodeRecord(mid id.ID, raw []byte) (*Message, bool) {
	if len(raw) < recordHeaderLen+recordCRCLen {
		return nil, false
	}
	body := raw[:len(raw)-recordCRCLen]
	if crc32.Checksum(body, crcTable) != binary.BigEndian.Uint32(raw[len(body):]) {
		return nil, false
	}
	var receipt uuid.UUID
	copy(receipt[:], body[20:36])
	m := &Message{
		ID:            mid,
		InsertedAt:    time.UnixMilli(int64(binary.BigEndian.Uint64(body[0:8]))),
		NextVisibleAt: time.UnixMilli(int64(binary.BigEndian.Uint64(body[8:16]))),
		DequeueCount:  int(binary.BigEndian.Uint32(body[16:20])),
		Payload:       append([]byte(nil), body[recordHeaderLen:]...),
	}
	if receipt != uuid.Nil {
		m.PopReceipt = receipt.String()
	}
	return m, true
}
