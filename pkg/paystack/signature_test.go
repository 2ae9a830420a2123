package paystack

import "testing"

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"charge.success"}`)
	sig := Sign("whsec", body)

	if len(sig) != 128 {
		t.Fatalf("expected 128 hex chars for sha512, got %d", len(sig))
	}
	if !VerifySignature("whsec", body, sig) {
		t.Fatal("expected valid signature to verify")
	}
	if VerifySignature("whsec", body, Sign("other", body)) {
		t.Fatal("signature with wrong key must fail")
	}
	if VerifySignature("whsec", []byte(`{"event":"charge.success" }`), sig) {
		t.Fatal("signature over different body must fail")
	}
	if VerifySignature("whsec", body, "") {
		t.Fatal("empty signature must fail")
	}
}
