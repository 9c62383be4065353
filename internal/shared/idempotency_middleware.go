package shared

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
)

// IdempotencyHeader carries the client supplied request key.
const IdempotencyHeader = "Idempotency-Key"

// ReplayedHeader marks responses served from the idempotency store.
const ReplayedHeader = "Idempotent-Replayed"

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *captureWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Idempotent replays the stored response for a repeated Idempotency-Key.
// Requests without the header pass through. Failed requests release their key
// so the client can retry.
func Idempotent(store IdempotencyBackend, scope string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			stored, err := store.Claim(ctx, scope, key)
			switch {
			case errors.Is(err, ErrIdempotencyConflict):
				httpx.RespondError(w, err)
				return
			case err != nil:
				logger.Error("idempotency claim failed", slog.String("scope", scope), slog.Any("error", err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			case stored != nil:
				w.Header().Set(ReplayedHeader, "true")
				if len(stored.Body) > 0 {
					w.Header().Set("Content-Type", "application/json")
				}
				w.WriteHeader(stored.Status)
				_, _ = w.Write(stored.Body)
				return
			}

			rec := &captureWriter{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			if rec.status >= 200 && rec.status < 300 {
				if err := store.Complete(ctx, scope, key, StoredResponse{Status: rec.status, Body: rec.body.Bytes()}); err != nil {
					logger.Warn("idempotency complete failed", slog.String("scope", scope), slog.Any("error", err))
				}
				return
			}
			if err := store.Release(ctx, scope, key); err != nil {
				logger.Warn("idempotency release failed", slog.String("scope", scope), slog.Any("error", err))
			}
		})
	}
}
