package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

const opaqueTokenBytes = 32

// NewOpaqueToken returns a random bearer token and the hash to persist.
// The raw value is only ever handed to the client.
func NewOpaqueToken() (raw string, hash string, err error) {
	buf := make([]byte, opaqueTokenBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, HashToken(raw), nil
}

func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// WellFormedToken reports whether raw could have come from NewOpaqueToken.
func WellFormedToken(raw string) bool {
	if len(raw) != base64.RawURLEncoding.EncodedLen(opaqueTokenBytes) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(raw)
	return err == nil
}

const backupCodeBytes = 5

// NewBackupCodes generates n one-time MFA recovery codes formatted as
// XXXX-XXXX and returns them alongside their hashes.
func NewBackupCodes(n int) (codes []string, hashes []string, err error) {
	codes = make([]string, 0, n)
	hashes = make([]string, 0, n)
	for i := 0; i < n; i++ {
		buf := make([]byte, backupCodeBytes)
		if _, err = rand.Read(buf); err != nil {
			return nil, nil, err
		}
		enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
		code := enc[:4] + "-" + enc[4:8]
		codes = append(codes, code)
		hashes = append(hashes, HashBackupCode(code))
	}
	return codes, hashes, nil
}

func HashBackupCode(code string) string {
	return HashToken(normalizeBackupCode(code))
}

func VerifyBackupCode(code, hash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashBackupCode(code)), []byte(hash)) == 1
}

// MatchBackupCode returns the index of the stored hash that matches code, or -1.
// Every hash is compared so timing does not reveal the position.
func MatchBackupCode(code string, hashes []string) int {
	match := -1
	for i, h := range hashes {
		if VerifyBackupCode(code, h) && match < 0 {
			match = i
		}
	}
	return match
}

func normalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.ReplaceAll(code, "-", "")
}
