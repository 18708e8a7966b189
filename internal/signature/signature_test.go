package signature

import (
	"errors"
	"testing"
)

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"message_id":"m1"}`)
	header, err := NewSigner("current-key").Sign(body)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	verifier := NewVerifier("current-key", "", true)
	if err := verifier.Verify(header, body); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	header, err := NewSigner("current-key").Sign([]byte(`{"message_id":"m1"}`))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	verifier := NewVerifier("current-key", "", true)
	err = verifier.Verify(header, []byte(`{"message_id":"m2"}`))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("tampered body: got %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	body := []byte(`payload`)
	header, err := NewSigner("some-other-key").Sign(body)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	verifier := NewVerifier("current-key", "next-key", true)
	if err := verifier.Verify(header, body); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("wrong key: got %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyAcceptsNextKeyDuringRotation(t *testing.T) {
	body := []byte(`payload`)
	header, err := NewSigner("next-key").Sign(body)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	verifier := NewVerifier("current-key", "next-key", true)
	if err := verifier.Verify(header, body); err != nil {
		t.Fatalf("rotation in progress must accept next key: %v", err)
	}
}

func TestVerifyMissingHeader(t *testing.T) {
	body := []byte(`payload`)

	strict := NewVerifier("current-key", "", true)
	if err := strict.Verify("", body); !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("strict mode: got %v, want ErrMissingSignature", err)
	}

	lenient := NewVerifier("current-key", "", false)
	if err := lenient.Verify("", body); err != nil {
		t.Fatalf("lenient mode must tolerate a missing header: %v", err)
	}
}
