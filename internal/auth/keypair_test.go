package auth

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateKeypairProducesDistinctKeys(t *testing.T) {
	kp1, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	kp2, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	if kp1.PublicKeyBase64() == kp2.PublicKeyBase64() {
		t.Error("two generated keypairs should not share a public key")
	}
}

func TestKeypairFromBase64SeedRoundtrips(t *testing.T) {
	original, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	restored, err := KeypairFromBase64Seed(original.SeedBase64())
	if err != nil {
		t.Fatalf("KeypairFromBase64Seed() error: %v", err)
	}
	if restored.PublicKeyBase64() != original.PublicKeyBase64() {
		t.Error("restored keypair public key does not match original")
	}
}

func TestClaimCodeIsStableAndUppercaseAlnum(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	code := kp.ClaimCode()

	if len(code) != claimCodeLength {
		t.Errorf("len(code) = %d, want %d", len(code), claimCodeLength)
	}
	if code != strings.ToUpper(code) {
		t.Errorf("claim code %q is not uppercase", code)
	}
	if code != kp.ClaimCode() {
		t.Error("claim code should be deterministic for the same keypair")
	}

	other := DeriveClaimCode(kp.PublicKey())
	if other != code {
		t.Errorf("DeriveClaimCode(pubkey) = %q, want %q", other, code)
	}
}

func TestSignAndVerifyRoundtrip(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	message := []byte("test message to sign")
	sig := kp.SignBase64(message)

	if err := VerifySignatureBase64(kp.PublicKeyBase64(), message, sig); err != nil {
		t.Errorf("VerifySignatureBase64() error: %v", err)
	}
}

func TestVerifyRejectsWrongMessage(t *testing.T) {
	kp, _ := GenerateKeypair()
	sig := kp.SignBase64([]byte("original message"))

	if err := VerifySignatureBase64(kp.PublicKeyBase64(), []byte("different message"), sig); err == nil {
		t.Error("expected verification to fail against a tampered message")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	kp1, _ := GenerateKeypair()
	kp2, _ := GenerateKeypair()
	message := []byte("test message")
	sig := kp1.SignBase64(message)

	if err := VerifySignatureBase64(kp2.PublicKeyBase64(), message, sig); err == nil {
		t.Error("expected verification to fail against the wrong public key")
	}
}

func TestSHA256HexKnownValue(t *testing.T) {
	got := SHA256Hex([]byte("hello world"))
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"[:64]
	if got != want {
		t.Errorf("SHA256Hex() = %q, want %q", got, want)
	}
}

func TestBuildSignMessageFormat(t *testing.T) {
	msg := BuildSignMessage(1234567890, "POST", "/node/register", []byte("{}"))
	parts := strings.Split(msg, "\x00")
	if len(parts) != 4 {
		t.Fatalf("expected 4 null-separated parts, got %d", len(parts))
	}
	if parts[0] != "1234567890" || parts[1] != "POST" || parts[2] != "/node/register" {
		t.Errorf("unexpected parts: %v", parts)
	}
	if parts[3] != SHA256Hex([]byte("{}")) {
		t.Errorf("body hash = %q, want %q", parts[3], SHA256Hex([]byte("{}")))
	}
}

func TestEnvelopeVerifyRejectsStaleTimestamp(t *testing.T) {
	kp, _ := GenerateKeypair()
	now := time.Unix(1_700_000_000, 0)
	old := now.Add(-ReplayWindow - time.Minute)

	msg := BuildSignMessage(old.Unix(), "POST", "/node/chunks/complete", nil)
	env := Envelope{
		PublicKeyBase64: kp.PublicKeyBase64(),
		SignatureBase64: kp.SignBase64([]byte(msg)),
		TimestampUnix:   old.Unix(),
	}
	if err := env.Verify(now, "POST", "/node/chunks/complete", nil); err == nil {
		t.Error("expected a stale timestamp to be rejected")
	}
}

func TestEnvelopeVerifyAcceptsFreshSignedRequest(t *testing.T) {
	kp, _ := GenerateKeypair()
	now := time.Unix(1_700_000_000, 0)

	body := []byte(`{"batchSize":5}`)
	msg := BuildSignMessage(now.Unix(), "POST", "/node/chunks/complete", body)
	env := Envelope{
		PublicKeyBase64: kp.PublicKeyBase64(),
		SignatureBase64: kp.SignBase64([]byte(msg)),
		TimestampUnix:   now.Unix(),
	}
	if err := env.Verify(now, "POST", "/node/chunks/complete", body); err != nil {
		t.Errorf("Verify() error: %v", err)
	}
}
