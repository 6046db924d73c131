package middleware

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront-payments/internal/apperr"
	"storefront-payments/internal/idempotency"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

type bodyRecorder struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (r *bodyRecorder) Write(b []byte) (int, error) {
	r.buf.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *bodyRecorder) WriteString(s string) (int, error) {
	r.buf.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored response for a repeated Idempotency-Key.
// Requests without the header pass straight through.
func Idempotency(store idempotency.Store, scope string, l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if !idempotency.ValidKey(key) {
			Fail(c, apperr.InvalidErr("Invalid Idempotency-Key header.", nil))
			return
		}

		ctx := c.Request.Context()
		full := idempotency.ScopedKey(scope, key)
		rec, err := store.Claim(ctx, full)
		switch {
		case errors.Is(err, idempotency.ErrInFlight):
			Fail(c, apperr.ConflictErr("A request with this Idempotency-Key is still in progress."))
			return
		case err != nil:
			// Dedup store unavailable: serve the request without replay protection.
			l.WarnContext(ctx, "idempotency store unavailable", "scope", scope, "err", err)
			c.Next()
			return
		case rec != nil:
			c.Header(HeaderReplayed, "true")
			c.Data(rec.Status, rec.ContentType, rec.Body)
			c.Abort()
			return
		}

		w := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		status := w.Status()
		if !w.Written() || len(c.Errors) > 0 || status >= http.StatusInternalServerError {
			if err := store.Release(ctx, full); err != nil {
				l.WarnContext(ctx, "idempotency release failed", "scope", scope, "err", err)
			}
			return
		}
		if err := store.Complete(ctx, full, idempotency.Record{
			Status:      status,
			ContentType: w.Header().Get("Content-Type"),
			Body:        w.buf.Bytes(),
		}); err != nil {
			l.WarnContext(ctx, "idempotency record failed", "scope", scope, "err", err)
		}
	}
}
