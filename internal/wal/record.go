// Package wal implements the write-ahead log: an ordered, CRC-checked,
// append-only durability log with segment rotation and checkpointing.
//
// Record format (fixed header + variable body + trailing CRC):
//
//	magic(4) version(2) length(8) kind(1) tx_id(8) lsn(8) timestamp(8) | body(length-RecordOverhead) | crc32(4)
//
// Records are appended to the current segment file; segments roll when they
// exceed the configured size. Only after a commit record is durable may the
// transaction coordinator report commit success.
package wal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"
	"time"
)

var byteOrder = binary.LittleEndian

// Magic identifies a WAL record header, guarding against reading garbage as a record.
const Magic uint32 = 0x57414C31 // "WAL1"

const CurrentVersion uint16 = 1

// Kind is the WAL record kind.
type Kind byte

const (
	KindBegin Kind = iota + 1
	KindCommit
	KindRollback
	KindInsert
	KindUpdate
	KindDelete
	KindCheckpoint
)

func (k Kind) String() string {
	switch k {
	case KindBegin:
		return "begin"
	case KindCommit:
		return "commit"
	case KindRollback:
		return "rollback"
	case KindInsert:
		return "insert"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	case KindCheckpoint:
		return "checkpoint"
	default:
		return "unknown"
	}
}

const (
	magicSize     = 4
	versionSize   = 2
	lengthSize    = 8
	kindSize      = 1
	txIDSize      = 8
	lsnSize       = 8
	timestampSize = 8
	crcSize       = 4

	// HeaderSize is the size of the fixed header preceding the variable body.
	HeaderSize = magicSize + versionSize + lengthSize + kindSize + txIDSize + lsnSize + timestampSize

	// RecordOverhead is HeaderSize plus the trailing CRC.
	RecordOverhead = HeaderSize + crcSize

	// MaxPayloadSize bounds a single record's body to guard against runaway allocations.
	MaxPayloadSize = 16 * 1024 * 1024
)

var (
	ErrPayloadTooLarge = errors.New("wal: body exceeds maximum size")
	ErrCorruptRecord   = errors.New("wal: corrupt record: invalid length, magic, or format")
	ErrCRCMismatch     = errors.New("wal: crc32 mismatch")
	ErrBadMagic        = errors.New("wal: bad magic")
)

// Body is the JSON-encoded before/after image payload carried by insert,
// update, and delete records. Begin/commit/rollback/checkpoint records carry
// an empty Body.
type Body struct {
	Collection  string          `json:"collection,omitempty"`
	DocID       string          `json:"doc_id,omitempty"`
	BeforeImage json.RawMessage `json:"before,omitempty"`
	AfterImage  json.RawMessage `json:"after,omitempty"`
	// CheckpointLSN is set only on checkpoint records: the oldest active
	// transaction's LSN at checkpoint time.
	CheckpointLSN uint64 `json:"checkpoint_lsn,omitempty"`
}

// Record is a single decoded WAL entry.
type Record struct {
	LSN       uint64
	TxID      uint64
	Kind      Kind
	Timestamp time.Time
	Body      Body
	CRC       uint32
}

// Encode serializes a record to its on-disk byte representation.
func Encode(rec *Record) ([]byte, error) {
	body, err := json.Marshal(rec.Body)
	if err != nil {
		return nil, err
	}
	if len(body) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	total := RecordOverhead + len(body)
	buf := make([]byte, total)
	offset := 0

	byteOrder.PutUint32(buf[offset:], Magic)
	offset += magicSize
	byteOrder.PutUint16(buf[offset:], CurrentVersion)
	offset += versionSize
	byteOrder.PutUint64(buf[offset:], uint64(total))
	offset += lengthSize
	buf[offset] = byte(rec.Kind)
	offset += kindSize
	byteOrder.PutUint64(buf[offset:], rec.TxID)
	offset += txIDSize
	byteOrder.PutUint64(buf[offset:], rec.LSN)
	offset += lsnSize
	byteOrder.PutUint64(buf[offset:], uint64(rec.Timestamp.UnixNano()))
	offset += timestampSize

	copy(buf[offset:], body)
	offset += len(body)

	crc := crc32.ChecksumIEEE(buf[:offset])
	byteOrder.PutUint32(buf[offset:], crc)

	return buf, nil
}

// Decode parses a single record from its on-disk byte representation.
// CRC mismatch and malformed framing both surface as an error so the
// caller (the segment reader) can decide whether to stop or skip.
func Decode(data []byte) (*Record, error) {
	if len(data) < RecordOverhead {
		return nil, ErrCorruptRecord
	}

	offset := 0
	magic := byteOrder.Uint32(data[offset:])
	offset += magicSize
	if magic != Magic {
		return nil, ErrBadMagic
	}

	_ = byteOrder.Uint16(data[offset:]) // version, reserved for future dispatch
	offset += versionSize

	length := byteOrder.Uint64(data[offset:])
	offset += lengthSize
	if uint64(len(data)) != length {
		return nil, ErrCorruptRecord
	}

	storedCRC := byteOrder.Uint32(data[len(data)-crcSize:])
	computedCRC := crc32.ChecksumIEEE(data[:len(data)-crcSize])
	if storedCRC != computedCRC {
		return nil, ErrCRCMismatch
	}

	kind := Kind(data[offset])
	offset += kindSize

	txID := byteOrder.Uint64(data[offset:])
	offset += txIDSize

	lsn := byteOrder.Uint64(data[offset:])
	offset += lsnSize

	ts := int64(byteOrder.Uint64(data[offset:]))
	offset += timestampSize

	bodyBytes := data[offset : len(data)-crcSize]
	var body Body
	if len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, &body); err != nil {
			return nil, ErrCorruptRecord
		}
	}

	return &Record{
		LSN:       lsn,
		TxID:      txID,
		Kind:      kind,
		Timestamp: time.Unix(0, ts),
		Body:      body,
		CRC:       storedCRC,
	}, nil
}
