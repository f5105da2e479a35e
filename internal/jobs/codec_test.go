package jobs

import (
	"testing"
	"time"
)

func TestEncodeDecode_EmailVerification(t *testing.T) {
	payload := EmailVerificationPayload{
		UserID:      "user-123",
		Email:       "a@example.com",
		RequestedAt: time.Now().UTC(),
	}

	b, err := EncodePayload(JobEmailVerification, payload)
	if err != nil {
		t.Fatalf("EncodePayload error: %v", err)
	}

	decoded, err := DecodePayload(JobEmailVerification, b)
	if err != nil {
		t.Fatalf("DecodePayload error: %v", err)
	}

	p, ok := decoded.(EmailVerificationPayload)
	if !ok {
		t.Fatalf("expected EmailVerificationPayload, got %T", decoded)
	}

	if p.UserID != payload.UserID || p.Email != payload.Email {
		t.Fatalf("round trip mismatch: %+v", p)
	}
}

func TestEncodePayload_TypeMismatch(t *testing.T) {
	_, err := EncodePayload(JobEmailVerification, struct{ X int }{X: 1})
	if err != ErrPayloadTypeMismatch {
		t.Fatalf("expected ErrPayloadTypeMismatch, got %v", err)
	}
}

func TestEncodePayload_UnknownType(t *testing.T) {
	_, err := EncodePayload(JobType("email.unknown"), EmailVerificationPayload{})
	if err != ErrInvalidJobType {
		t.Fatalf("expected ErrInvalidJobType, got %v", err)
	}
}

func TestValidatePayload_RequiredFields(t *testing.T) {
	cases := []struct {
		name    string
		payload EmailVerificationPayload
		wantErr bool
	}{
		{"ok", EmailVerificationPayload{UserID: "u1", Email: "a@example.com"}, false},
		{"missing user", EmailVerificationPayload{Email: "a@example.com"}, true},
		{"missing email", EmailVerificationPayload{UserID: "u1"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePayload(JobEmailVerification, tc.payload)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
