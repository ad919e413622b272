package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := &Message{Version: ProtocolVersion, Type: TypeCommand, Flags: FlagNone, Payload: []byte(`{"op":"find"}`)}

	buf, err := Encode(msg)
	if err != nil {
		t.Fatal(err)
	}

	got, err := ReadMessage(bytes.NewReader(buf), DefaultMaxPayload)
	if err != nil {
		t.Fatal(err)
	}

	if got.Version != msg.Version || got.Type != msg.Type || got.Flags != msg.Flags {
		t.Fatalf("header mismatch: got %+v", got)
	}
	if string(got.Payload) != string(msg.Payload) {
		t.Fatalf("payload mismatch: got %q", got.Payload)
	}
}

func TestReadMessageRejectsOversizedPayload(t *testing.T) {
	msg := &Message{Version: ProtocolVersion, Type: TypePing, Payload: make([]byte, 100)}
	buf, err := Encode(msg)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ReadMessage(bytes.NewReader(buf), 10); err == nil {
		t.Fatal("expected oversized payload to be rejected before decode")
	}
}

func TestReadMessageRejectsBadMagic(t *testing.T) {
	msg := &Message{Version: ProtocolVersion, Type: TypePing}
	buf, err := Encode(msg)
	if err != nil {
		t.Fatal(err)
	}
	buf[0] = 'X'

	if _, err := ReadMessage(bytes.NewReader(buf), DefaultMaxPayload); err == nil {
		t.Fatal("expected bad magic to be rejected")
	}
}

func TestReadMessageRejectsCorruptedChecksum(t *testing.T) {
	msg := &Message{Version: ProtocolVersion, Type: TypeCommand, Payload: []byte("hello")}
	buf, err := Encode(msg)
	if err != nil {
		t.Fatal(err)
	}
	buf[len(buf)-1] ^= 0xFF

	if _, err := ReadMessage(bytes.NewReader(buf), DefaultMaxPayload); err == nil {
		t.Fatal("expected checksum mismatch to be rejected")
	}
}
