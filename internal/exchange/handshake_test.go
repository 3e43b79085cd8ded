package exchange

import "testing"

// TestComputeAcceptKeyKnownPair exercises the exact key/accept pair from
// RFC 6455 §1.3's worked example.
func TestComputeAcceptKeyKnownPair(t *testing.T) {
	const key = "dGhlIHNhbXBsZSBub25jZQ=="
	const want = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="

	got := ComputeAcceptKey(key)
	if got != want {
		t.Fatalf("ComputeAcceptKey(%q) = %q, want %q", key, got, want)
	}
	if !ValidateAcceptKey(key, want) {
		t.Fatal("ValidateAcceptKey should accept the correct pair")
	}
	if ValidateAcceptKey(key, "wrong") {
		t.Fatal("ValidateAcceptKey should reject an incorrect pair")
	}
}
