package provision

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// otpAlphabet avoids characters that read ambiguously on paper (0/O, 1/l/I).
const otpAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghjkmnpqrstuvwxyz23456789"

// OTPLength is the generated one-time password length.
const OTPLength = 10

// GenerateOneTimePassword produces a cryptographically random disclose-once
// password. Callers hand the value to the account holder and must not retain
// it.
func GenerateOneTimePassword() (string, error) {
	max := big.NewInt(int64(len(otpAlphabet)))
	buf := make([]byte, OTPLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("provision: generate one-time password: %w", err)
		}
		buf[i] = otpAlphabet[n.Int64()]
	}
	return string(buf), nil
}
