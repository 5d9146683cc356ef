package webhook

import (
	"strings"
	"testing"
	"time"
)

func TestVerifySignature(t *testing.T) {
	secret := "shared-webhook-secret"
	body := []byte(`{"address":"1abc","txHash":"ff00","amountBCH":"0.01","confirmations":1,"timestamp":1736000000}`)

	sig := Sign(body, secret)
	if err := VerifySignature(body, sig, secret); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
}

func TestVerifySignatureMissing(t *testing.T) {
	if err := VerifySignature([]byte("body"), "", "secret"); err == nil {
		t.Fatal("missing signature must be rejected")
	}
}

func TestVerifySignatureWrongSecret(t *testing.T) {
	body := []byte("body")
	sig := Sign(body, "secret-a")
	if err := VerifySignature(body, sig, "secret-b"); err == nil {
		t.Fatal("signature with wrong secret must be rejected")
	}
}

func TestVerifySignatureTamperedBody(t *testing.T) {
	body := []byte(`{"amountBCH":"0.01"}`)
	sig := Sign(body, "secret")
	tampered := []byte(`{"amountBCH":"9.99"}`)
	if err := VerifySignature(tampered, sig, "secret"); err == nil {
		t.Fatal("tampered body must be rejected")
	}
}

func TestCheckFreshness(t *testing.T) {
	now := time.Now().Unix()

	if err := CheckFreshness(now-30, 5*time.Minute); err != nil {
		t.Errorf("30s old should pass: %v", err)
	}
	if err := CheckFreshness(now-600, 5*time.Minute); err == nil {
		t.Error("10min old must be rejected")
	} else if !strings.Contains(err.Error(), "expired") {
		t.Errorf("expected 'expired' in error, got: %s", err)
	}
	if err := CheckFreshness(now+300, 5*time.Minute); err == nil {
		t.Error("future timestamp must be rejected")
	} else if !strings.Contains(err.Error(), "future") {
		t.Errorf("expected 'future' in error, got: %s", err)
	}
	// Small clock skew is tolerated.
	if err := CheckFreshness(now+30, 5*time.Minute); err != nil {
		t.Errorf("30s ahead should pass within skew: %v", err)
	}
}

func TestEventIDDeterministic(t *testing.T) {
	a := EventID("1abc", "ff00", 1736000000)
	b := EventID("1abc", "ff00", 1736000000)
	if a != b {
		t.Fatal("same inputs must give the same event id")
	}
	if len(a) != 64 {
		t.Errorf("event id should be sha256 hex, got %d chars", len(a))
	}

	if EventID("1abc", "ff00", 1736000001) == a {
		t.Error("different timestamp must change the id")
	}
	if EventID("1abd", "ff00", 1736000000) == a {
		t.Error("different address must change the id")
	}
	if EventID("1abc", "ff01", 1736000000) == a {
		t.Error("different tx hash must change the id")
	}
}
