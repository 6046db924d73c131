package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrPayoutNotFound      = errors.New("payout not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidSeller       = errors.New("seller has no active store")
	ErrSignatureInvalid    = errors.New("webhook signature verification failed")
	ErrMalformedPayload    = errors.New("malformed webhook payload")
	ErrSessionMismatch     = errors.New("checkout session does not belong to order")
	ErrConcurrentUpdate    = errors.New("order changed concurrently, giving up")
)

// ValidationError is bad caller input. Fields maps a field path to its problem.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

type fieldErrors map[string]string

func (f fieldErrors) add(field, msg string) {
	if _, exists := f[field]; !exists {
		f[field] = msg
	}
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Fields: f}
}
