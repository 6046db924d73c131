package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the HMAC of the raw webhook body.
const SignatureHeader = "monime-signature"

// ComputeSignature returns the hex HMAC-SHA256 of body.
func ComputeSignature(secret string, body []byte) string {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(body)
	return hex.EncodeToString(m.Sum(nil))
}

// VerifySignature checks signature against the HMAC of the exact bytes in rawBody.
// The digest may be hex or base64, optionally prefixed with "sha256=".
func VerifySignature(secret string, rawBody []byte, signature string) bool {
	if secret == "" {
		return false
	}
	sig := strings.TrimSpace(signature)
	sig = strings.TrimPrefix(sig, "sha256=")
	if sig == "" {
		return false
	}

	got, err := hex.DecodeString(sig)
	if err != nil {
		got, err = base64.StdEncoding.DecodeString(sig)
		if err != nil {
			return false
		}
	}

	m := hmac.New(sha256.New, []byte(secret))
	m.Write(rawBody)
	return hmac.Equal(got, m.Sum(nil))
}
