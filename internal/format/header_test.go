package format

import (
	"testing"
)

func TestHeaderEncode(t *testing.T) {
	h := Header{Type: TypeObjectIndex, Version: 1, Flags: 0}
	buf := h.Encode()

	if buf[0] != Signature {
		t.Errorf("expected signature 0x%02x, got 0x%02x", Signature, buf[0])
	}
	if buf[1] != TypeObjectIndex {
		t.Errorf("expected type 0x%02x, got 0x%02x", TypeObjectIndex, buf[1])
	}
	if buf[2] != 1 {
		t.Errorf("expected version 1, got %d", buf[2])
	}
	if buf[3] != 0 {
		t.Errorf("expected flags 0, got %d", buf[3])
	}
}

func TestHeaderEncodeInto(t *testing.T) {
	h := Header{Type: TypeHints, Version: 2, Flags: 0x0F}
	buf := make([]byte, 10)
	n := h.EncodeInto(buf)

	if n != HeaderSize {
		t.Errorf("expected %d bytes written, got %d", HeaderSize, n)
	}
	if buf[0] != Signature {
		t.Errorf("expected signature 0x%02x, got 0x%02x", Signature, buf[0])
	}
	if buf[1] != TypeHints {
		t.Errorf("expected type 0x%02x, got 0x%02x", TypeHints, buf[1])
	}
	if buf[2] != 2 {
		t.Errorf("expected version 2, got %d", buf[2])
	}
	if buf[3] != 0x0F {
		t.Errorf("expected flags 0x0F, got 0x%02x", buf[3])
	}
}

func TestDecode(t *testing.T) {
	buf := []byte{Signature, TypeIntegrity, 3, 0x10}
	h, err := Decode(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Type != TypeIntegrity {
		t.Errorf("expected type 0x%02x, got 0x%02x", TypeIntegrity, h.Type)
	}
	if h.Version != 3 {
		t.Errorf("expected version 3, got %d", h.Version)
	}
}

func TestDecodeAndValidate(t *testing.T) {
	buf := []byte{Signature, TypeKeyfile, 1, 0}
	h, err := DecodeAndValidate(buf, TypeKeyfile, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Type != TypeKeyfile {
		t.Errorf("expected type 0x%02x, got 0x%02x", TypeKeyfile, h.Type)
	}
}

func TestDecodeAndValidateTypeMismatch(t *testing.T) {
	buf := []byte{Signature, TypeObjectIndex, 1, 0}
	_, err := DecodeAndValidate(buf, TypeHints, 1)
	if err != ErrTypeMismatch {
		t.Errorf("expected ErrTypeMismatch, got %v", err)
	}
}

func TestDecodeAndValidateVersionMismatch(t *testing.T) {
	buf := []byte{Signature, TypeObjectIndex, 1, 0}
	_, err := DecodeAndValidate(buf, TypeObjectIndex, 2)
	if err != ErrVersionMismatch {
		t.Errorf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	original := Header{Type: TypeIntegrity, Version: 5, Flags: 0xAB}
	buf := original.Encode()
	decoded, err := Decode(buf[:])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded != original {
		t.Errorf("roundtrip failed: expected %+v, got %+v", original, decoded)
	}
}
