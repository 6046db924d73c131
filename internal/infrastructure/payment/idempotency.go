package payment

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

const (
	OpCreateCheckout = "checkout_session.create"
	OpCreatePayout   = "payout.create"
)

// IdempotencyKey derives a stable key from (subject, operation, instant). Callers
// retrying the same logical request must pass the same instant.
func IdempotencyKey(subject, operation string, at time.Time) string {
	h := sha256.New()
	h.Write([]byte(subject))
	h.Write([]byte{0})
	h.Write([]byte(operation))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(at.UTC().UnixMilli(), 10)))
	return hex.EncodeToString(h.Sum(nil))[:48]
}
