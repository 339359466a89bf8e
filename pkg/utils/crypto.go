package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// At-rest protection for small secrets (the admin TOTP seed). The key
// is derived from the shared application secret so no extra key material
// has to be provisioned.

var secretKey []byte

func ConfigureEncryption(appSecret string) {
	if appSecret == "" {
		return
	}
	reader := hkdf.New(
		sha256.New,
		[]byte(appSecret),
		[]byte("finquiz-totp-encryption"),
		[]byte("secret-at-rest"),
	)
	secretKey = make([]byte, 32)
	if _, err := io.ReadFull(reader, secretKey); err != nil {
		panic(fmt.Sprintf("failed to derive encryption key: %v", err))
	}
}

func newSecretGCM() (cipher.AEAD, error) {
	if secretKey == nil {
		return nil, errors.New("encryption not configured")
	}
	block, err := aes.NewCipher(secretKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// EncryptSecret seals the value with AES-GCM, nonce prepended, base64
// encoded for storage in a text column.
func EncryptSecret(plaintext string) (string, error) {
	gcm, err := newSecretGCM()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func DecryptSecret(encrypted string) (string, error) {
	gcm, err := newSecretGCM()
	if err != nil {
		return "", err
	}

	sealed, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", err
	}
	if len(sealed) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// DecryptOrPlaintext tolerates secrets stored before encryption was
// enabled: anything that does not decrypt is returned as-is.
func DecryptOrPlaintext(value string) string {
	if value == "" {
		return ""
	}
	decrypted, err := DecryptSecret(value)
	if err != nil {
		return value
	}
	return decrypted
}
