package signing

import "testing"

func TestSigner(t *testing.T) {
	secret := []byte("topsecret")
	s := NewSigner(secret)
	payload := []byte(`{"product":"classic"}`)
	sig := s.Sign("photobook/current", payload)
	if len(sig) == 0 {
		t.Fatalf("expected signature")
	}
	// Positive case: Validate should succeed with matching inputs.
	if !s.Validate("photobook/current", payload, sig) {
		t.Fatalf("expected signature to validate")
	}
	// Negative cases ensure Validate is strict about every parameter.
	if s.Validate("photobook/other", payload, sig) {
		t.Fatalf("expected validation to fail for wrong key")
	}
	if s.Validate("photobook/current", payload[:len(payload)-1], sig) {
		t.Fatalf("expected validation to fail for truncated payload")
	}
	if NewSigner([]byte("other")).Validate("photobook/current", payload, sig) {
		t.Fatalf("expected validation to fail for wrong secret")
	}
}
