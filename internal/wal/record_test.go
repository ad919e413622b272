package wal

import (
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rec := &Record{
		LSN:       42,
		TxID:      7,
		Kind:      KindInsert,
		Timestamp: time.Now(),
		Body: Body{
			Collection:  "orders",
			DocID:       "abc",
			AfterImage:  []byte(`{"qty":3}`),
			BeforeImage: nil,
		},
	}

	buf, err := Encode(rec)
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}

	if decoded.LSN != rec.LSN || decoded.TxID != rec.TxID || decoded.Kind != rec.Kind {
		t.Fatalf("roundtrip mismatch: %+v vs %+v", decoded, rec)
	}
	if decoded.Body.Collection != rec.Body.Collection || decoded.Body.DocID != rec.Body.DocID {
		t.Fatalf("body mismatch: %+v vs %+v", decoded.Body, rec.Body)
	}
}

func TestDecodeCRCMismatch(t *testing.T) {
	rec := &Record{Kind: KindCommit, TxID: 1, LSN: 1, Timestamp: time.Now()}
	buf, err := Encode(rec)
	if err != nil {
		t.Fatal(err)
	}
	buf[len(buf)-1] ^= 0xFF // corrupt the trailing CRC byte

	if _, err := Decode(buf); err != ErrCRCMismatch {
		t.Fatalf("expected ErrCRCMismatch, got %v", err)
	}
}

func TestDecodeBadMagic(t *testing.T) {
	rec := &Record{Kind: KindCommit, TxID: 1, LSN: 1, Timestamp: time.Now()}
	buf, err := Encode(rec)
	if err != nil {
		t.Fatal(err)
	}
	buf[0] ^= 0xFF

	if _, err := Decode(buf); err != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	rec := &Record{Kind: KindCommit, TxID: 1, LSN: 1, Timestamp: time.Now()}
	buf, err := Encode(rec)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(buf[:len(buf)-2]); err == nil {
		t.Fatal("expected error on truncated record")
	}
}
