package cvv

import "testing"

func TestDigestIsDeterministicPerPepper(t *testing.T) {
	v := NewVerifier("pepper-a")
	if v.Digest("123") != v.Digest("123") {
		t.Error("same code must digest identically")
	}
	if v.Digest("123") == v.Digest("124") {
		t.Error("different codes must not collide")
	}

	other := NewVerifier("pepper-b")
	if v.Digest("123") == other.Digest("123") {
		t.Error("digest must depend on the pepper")
	}
}

func TestVerify(t *testing.T) {
	v := NewVerifier("pepper")
	stored := v.Digest("042")

	if !v.Verify(stored, "042") {
		t.Error("correct code rejected")
	}
	if v.Verify(stored, "42") {
		t.Error("code with dropped leading zero accepted")
	}
	if v.Verify(stored, "043") {
		t.Error("wrong code accepted")
	}
}

func TestVerifyMalformedStoredDigest(t *testing.T) {
	v := NewVerifier("pepper")

	for _, stored := range []string{"", "not-hex", "abcd"} {
		if v.Verify(stored, "123") {
			t.Errorf("malformed stored digest %q accepted", stored)
		}
	}
}
