package utils

import (
	"testing"
	"time"
)

func TestContactCursor_RoundTrip(t *testing.T) {
	createdAt := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	id := "0b9df9b2-93d5-4a5e-9d3c-6f2d54a1f111"

	enc, err := EncodeContactCursor(createdAt, id)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	dec, err := DecodeContactCursor(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !dec.CreatedAt.Equal(createdAt) || dec.ID != id {
		t.Fatalf("round trip mismatch: %+v", dec)
	}
}

func TestDecodeContactCursor_Invalid(t *testing.T) {
	cases := []string{
		"",
		"not-base64!!",
		"bm90LWpzb24", // "not-json"
	}

	for _, c := range cases {
		if _, err := DecodeContactCursor(c); err == nil {
			t.Fatalf("expected error for cursor %q", c)
		}
	}
}

func TestIsUUID(t *testing.T) {
	if !IsUUID("0b9df9b2-93d5-4a5e-9d3c-6f2d54a1f111") {
		t.Fatalf("valid uuid rejected")
	}
	if IsUUID("nope") {
		t.Fatalf("invalid uuid accepted")
	}
}
