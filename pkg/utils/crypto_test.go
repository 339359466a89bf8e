package utils

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	ConfigureEncryption("test-secret")

	encrypted, err := EncryptSecret("JBSWY3DPEHPK3PXP")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if encrypted == "JBSWY3DPEHPK3PXP" {
		t.Fatal("ciphertext must not equal the plaintext")
	}

	decrypted, err := DecryptSecret(encrypted)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if decrypted != "JBSWY3DPEHPK3PXP" {
		t.Fatalf("round trip mismatch: %q", decrypted)
	}
}

func TestEncryptProducesFreshNonce(t *testing.T) {
	ConfigureEncryption("test-secret")

	a, err := EncryptSecret("same-input")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	b, err := EncryptSecret("same-input")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if a == b {
		t.Fatal("identical ciphertexts indicate a reused nonce")
	}
}

func TestDecryptRejectsTampered(t *testing.T) {
	ConfigureEncryption("test-secret")

	if _, err := DecryptSecret("not-base64!!"); err == nil {
		t.Fatal("expected an error for invalid input")
	}
	if _, err := DecryptSecret("YWJj"); err == nil {
		t.Fatal("expected an error for a too-short ciphertext")
	}
}

func TestDecryptOrPlaintext(t *testing.T) {
	ConfigureEncryption("test-secret")

	encrypted, err := EncryptSecret("secret-value")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if got := DecryptOrPlaintext(encrypted); got != "secret-value" {
		t.Fatalf("expected decryption, got %q", got)
	}
	// Legacy plaintext values pass through untouched.
	if got := DecryptOrPlaintext("legacy-plain"); got != "legacy-plain" {
		t.Fatalf("expected passthrough, got %q", got)
	}
	if got := DecryptOrPlaintext(""); got != "" {
		t.Fatalf("expected empty passthrough, got %q", got)
	}
}
