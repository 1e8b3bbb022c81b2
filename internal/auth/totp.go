package auth

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPKey is a freshly generated authenticator secret.
type TOTPKey struct {
	Secret string
	URL    string
}

func GenerateTOTP(issuer, account string) (TOTPKey, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return TOTPKey{}, err
	}
	return TOTPKey{Secret: key.Secret(), URL: key.URL()}, nil
}

const totpPeriod = 30

// VerifyTOTP accepts the current code and one step of clock skew either side.
func VerifyTOTP(secret, code string, at time.Time) bool {
	_, ok := MatchTOTPStep(secret, code, at)
	return ok
}

// MatchTOTPStep returns the time step (unix seconds / 30) whose code equals
// code, searching one step either side of at.
func MatchTOTPStep(secret, code string, at time.Time) (int64, bool) {
	code = strings.TrimSpace(code)
	if len(code) != 6 || secret == "" {
		return 0, false
	}
	current := at.UTC().Unix() / totpPeriod
	for _, step := range []int64{current - 1, current, current + 1} {
		want, err := totp.GenerateCodeCustom(secret, time.Unix(step*totpPeriod, 0).UTC(), totp.ValidateOpts{
			Period:    totpPeriod,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return step, true
		}
	}
	return 0, false
}

// TOTPCode returns the code for secret at t.
func TOTPCode(secret string, at time.Time) (string, error) {
	return totp.GenerateCode(secret, at.UTC())
}
