// Package idempotency stores the first response to a request carrying an
// Idempotency-Key header so a retried request gets the same answer.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrInFlight means another request with the same key has claimed it and not finished.
var ErrInFlight = errors.New("idempotency: request with this key is still in flight")

// Record is a stored response.
type Record struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
	Done        bool   `json:"done"`
}

type Store interface {
	// Claim reserves key. It returns the stored record when key was already
	// completed, ErrInFlight when it is claimed but unfinished, and (nil, nil)
	// when the caller now owns key.
	Claim(ctx context.Context, key string) (*Record, error)
	// Complete stores the final response for a claimed key.
	Complete(ctx context.Context, key string, rec Record) error
	// Release drops a claim so the request can be retried.
	Release(ctx context.Context, key string) error
}

// ValidKey accepts keys of 1-255 characters made of letters, digits, '-', '_' and ':'.
func ValidKey(key string) bool {
	if key == "" || len(key) > 255 {
		return false
	}
	return strings.IndexFunc(key, func(ch rune) bool {
		return !((ch >= 'a' && ch <= 'z') ||
			(ch >= 'A' && ch <= 'Z') ||
			(ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '_' || ch == ':')
	}) < 0
}

// ScopedKey namespaces a client key by route so one key cannot replay another endpoint.
func ScopedKey(scope, key string) string {
	return "idem:" + scope + ":" + key
}

func expired(at time.Time, now time.Time) bool {
	return !at.IsZero() && now.After(at)
}
