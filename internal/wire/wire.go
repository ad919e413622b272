// Package wire implements the length-framed binary message format clients
// speak over the TCP (or TLS) transport. The framing style (length prefix
// checked against a hard cap before any allocation, binary.BigEndian for
// header fields) is grounded on the teacher's internal/ipc/protocol.go and
// internal/ipc/handler.go readFrame/writeFrame helpers; the field layout
// itself is new and spec-exact, distinct from the teacher's own
// RequestFrame encoding.
package wire

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/kartikbazzad/docdb/internal/errors"
)

var Magic = [4]byte{'N', 'O', 'S', 'Q'}

const (
	ProtocolVersion = uint16(1)

	headerSize = 4 + 2 + 1 + 1 + 4 // magic + version + type + flags + length
	crcSize    = 4

	// DefaultMaxPayload is the cap applied when a connection does not
	// negotiate a smaller one during handshake.
	DefaultMaxPayload = 10 * 1024 * 1024
)

type MessageType uint8

const (
	TypeHandshake MessageType = 1
	TypeAuth      MessageType = 2
	TypeCommand   MessageType = 3
	TypeResponse  MessageType = 4
	TypeError     MessageType = 5
	TypePing      MessageType = 6
	TypePong      MessageType = 7
	TypeTxn       MessageType = 8
	TypeBulk      MessageType = 9
	TypeDBOp      MessageType = 10
)

// Flags bits. FlagCompressed is reserved for future negotiation; only the
// zero value is produced by this package today.
type Flags uint8

const (
	FlagNone       Flags = 0
	FlagCompressed Flags = 1 << 0
)

// Message is a single framed unit: header fields plus an opaque payload,
// which for Command/Response messages is a UTF-8 JSON object.
type Message struct {
	Version Version
	Type    MessageType
	Flags   Flags
	Payload []byte
}

type Version = uint16

// Encode serializes msg per the wire layout:
//
//	offset  size  field
//	 0      4     magic "NOSQ"
//	 4      2     protocol version (big-endian)
//	 6      1     message type
//	 7      1     flags
//	 8      4     payload length (big-endian, signed)
//	12      L     payload bytes
//	12+L    4     crc32 over bytes 0..12+L-1 (little-endian)
func Encode(msg *Message) ([]byte, error) {
	if len(msg.Payload) > int(int32(len(msg.Payload))) {
		return nil, errors.Validation("payload length overflows signed 32-bit field")
	}
	total := headerSize + len(msg.Payload) + crcSize
	buf := make([]byte, total)

	copy(buf[0:4], Magic[:])
	binary.BigEndian.PutUint16(buf[4:6], msg.Version)
	buf[6] = byte(msg.Type)
	buf[7] = byte(msg.Flags)
	binary.BigEndian.PutUint32(buf[8:12], uint32(int32(len(msg.Payload))))
	copy(buf[12:12+len(msg.Payload)], msg.Payload)

	sum := crc32.ChecksumIEEE(buf[:12+len(msg.Payload)])
	binary.LittleEndian.PutUint32(buf[12+len(msg.Payload):], sum)

	return buf, nil
}

// ReadMessage reads and validates one framed message from r, rejecting
// frames whose declared length exceeds maxPayload before any payload bytes
// are allocated, per spec: validate magic, version, length cap, and
// checksum before decoding.
func ReadMessage(r io.Reader, maxPayload int) (*Message, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	if header[0] != Magic[0] || header[1] != Magic[1] || header[2] != Magic[2] || header[3] != Magic[3] {
		return nil, errors.Validation("bad frame magic")
	}

	version := binary.BigEndian.Uint16(header[4:6])
	msgType := MessageType(header[6])
	flags := Flags(header[7])

	signedLen := int32(binary.BigEndian.Uint32(header[8:12]))
	if signedLen < 0 {
		return nil, errors.Validation("negative payload length")
	}
	length := int(signedLen)
	if length > maxPayload {
		return nil, errors.Validation("payload exceeds configured maximum")
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}

	crcBuf := make([]byte, crcSize)
	if _, err := io.ReadFull(r, crcBuf); err != nil {
		return nil, err
	}
	want := binary.LittleEndian.Uint32(crcBuf)

	got := crc32.ChecksumIEEE(append(append([]byte{}, header...), payload...))
	if got != want {
		return nil, errors.CorruptedLog("frame checksum mismatch")
	}

	return &Message{Version: version, Type: msgType, Flags: flags, Payload: payload}, nil
}

// WriteMessage encodes and writes msg to w in a single call.
func WriteMessage(w io.Writer, msg *Message) error {
	buf, err := Encode(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}
