package signing

import (
	"testing"

	"github.com/mvdveen/bouwdepot/internal/validation"
)

func TestSignAndVerify(t *testing.T) {
	signer := NewSigner("test-secret-test-secret-test-secret")
	result := &validation.Result{ID: "val_1", IsValid: true, ConfidenceScore: 0.9}

	if err := signer.Sign(result); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if result.Signature == "" || result.SignedAt == nil {
		t.Fatal("result not sealed")
	}
	if !signer.Verify(result) {
		t.Error("freshly signed result failed verification")
	}
}

func TestVerifyDetectsMutation(t *testing.T) {
	signer := NewSigner("test-secret-test-secret-test-secret")
	result := &validation.Result{ID: "val_1", IsValid: false}
	if err := signer.Sign(result); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	result.IsValid = true
	if signer.Verify(result) {
		t.Error("mutated result passed verification")
	}
}

func TestVerifyDetectsTimestampMutation(t *testing.T) {
	signer := NewSigner("test-secret-test-secret-test-secret")
	result := &validation.Result{ID: "val_1"}
	if err := signer.Sign(result); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	later := result.SignedAt.AddDate(0, 1, 0)
	result.SignedAt = &later
	if signer.Verify(result) {
		t.Error("altered signing timestamp passed verification")
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	signer := NewSigner("secret-one-secret-one-secret-one")
	other := NewSigner("secret-two-secret-two-secret-two")

	result := &validation.Result{ID: "val_1"}
	if err := signer.Sign(result); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if other.Verify(result) {
		t.Error("signature verified under a different secret")
	}
}

func TestNilSignerFailsClosed(t *testing.T) {
	signer := NewSigner("")
	if signer != nil {
		t.Fatal("empty secret should yield a nil signer")
	}
	if err := signer.Sign(&validation.Result{}); err != ErrNoSecret {
		t.Errorf("Sign error = %v, want ErrNoSecret", err)
	}
	if signer.Verify(&validation.Result{Signature: "deadbeef"}) {
		t.Error("nil signer must never verify")
	}
}

func TestVerifyUnsignedResult(t *testing.T) {
	signer := NewSigner("test-secret-test-secret-test-secret")
	if signer.Verify(&validation.Result{}) {
		t.Error("unsigned result must not verify")
	}
	if signer.Verify(nil) {
		t.Error("nil result must not verify")
	}
}
