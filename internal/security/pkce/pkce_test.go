package pkce

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"
)

func challengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func TestVerify_S256(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"

	if !Verify(verifier, challengeS256(verifier), MethodS256) {
		t.Fatal("expected matching S256 verifier to pass")
	}
	if Verify("wrong-verifier-wrong-verifier-wrong-verifier", challengeS256(verifier), MethodS256) {
		t.Fatal("expected mismatched verifier to fail")
	}
	// The raw verifier is not its own challenge under S256.
	if Verify(verifier, verifier, MethodS256) {
		t.Fatal("expected raw verifier as challenge to fail under S256")
	}
}

func TestVerify_Plain(t *testing.T) {
	if !Verify("some-verifier-value-42", "some-verifier-value-42", MethodPlain) {
		t.Fatal("expected equal plain verifier to pass")
	}
	if Verify("some-verifier-value-42", "other-verifier", MethodPlain) {
		t.Fatal("expected unequal plain verifier to fail")
	}
}

func TestVerify_UnknownMethodFails(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	for _, method := range []string{"", "s256", "S512", "none"} {
		if Verify(verifier, challengeS256(verifier), method) {
			t.Fatalf("expected method %q to fail closed", method)
		}
	}
}

func TestVerify_EmptyInputs(t *testing.T) {
	if Verify("", "", MethodPlain) {
		t.Fatal("expected empty verifier to fail")
	}
	if Verify("", challengeS256(""), MethodS256) {
		t.Fatal("expected empty verifier to fail under S256")
	}
	if Verify("verifier", "", MethodS256) {
		t.Fatal("expected empty challenge to fail")
	}
}
