package security

import (
	"testing"
	"time"
)

func TestGenerateVerify(t *testing.T) {
	opts := DefaultOptions([]byte("k"))
	tok, exp, err := Generate(opts, "42", map[string]any{"name": "ann"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expiry in the past: %v", exp)
	}
	claims, err := Verify(opts, tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject() != "42" {
		t.Errorf("Subject = %q", claims.Subject())
	}
	if claims.StringClaim("username", "name") != "ann" {
		t.Errorf("name claim = %q", claims.StringClaim("username", "name"))
	}
}

func TestVerifyRejects(t *testing.T) {
	opts := DefaultOptions([]byte("k"))
	good, _, _ := Generate(opts, "1", nil)

	other := DefaultOptions([]byte("other"))
	if _, err := Verify(other, good); err == nil {
		t.Error("expected signature mismatch")
	}

	tok, _, _ := Generate(Options{Secret: opts.Secret, Alg: "HS256", TTL: time.Nanosecond}, "1", nil)
	time.Sleep(1100 * time.Millisecond)
	if _, err := Verify(opts, tok); err == nil {
		t.Error("expected expired token to fail")
	}

	hs512 := Options{Secret: opts.Secret, Alg: "HS512"}
	if _, err := Verify(hs512, good); err == nil {
		t.Error("expected alg mismatch to fail")
	}

	if _, err := Verify(Options{Secret: opts.Secret, Alg: "RS256"}, good); err == nil {
		t.Error("expected unsupported alg error")
	}
}
