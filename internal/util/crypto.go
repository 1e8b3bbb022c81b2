package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

var ErrSealedPayload = errors.New("invalid sealed payload")

// DeriveKey expands a configured secret into an AES-256 key with HKDF-SHA256.
// purpose is the HKDF info, so stores sharing one secret get distinct keys.
func DeriveKey(secret, purpose string) []byte {
	out := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("memberportal/"+purpose))
	if _, err := io.ReadFull(r, out); err != nil {
		panic("hkdf: " + err.Error())
	}
	return out
}

// Seal encrypts plaintext under key and binds it to label, which must be
// presented again to Open. The result is base64url(nonce || ciphertext).
func Seal(key []byte, plaintext, label string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize(), gcm.NonceSize()+len(plaintext)+gcm.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(gcm.Seal(nonce, nonce, []byte(plaintext), []byte(label))), nil
}

// Open reverses Seal. A payload sealed under another label fails to open.
func Open(key []byte, sealed, label string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrSealedPayload
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	ns := gcm.NonceSize()
	if len(raw) < ns+gcm.Overhead() {
		return "", ErrSealedPayload
	}
	plain, err := gcm.Open(nil, raw[:ns], raw[ns:], []byte(label))
	if err != nil {
		return "", ErrSealedPayload
	}
	return string(plain), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
