package api

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"duels/internal/game"
)

const maxIdempotencyKey = 128

// idempotencyOwner names whose key space a request's Idempotency-Key lives in.
type idempotencyOwner func(r *http.Request) (string, error)

func accountOwner(r *http.Request) (string, error) {
	user, err := userFromContext(r.Context())
	if err != nil {
		return "", err
	}
	return user.Account, nil
}

// tokenServiceOwner scopes webhook deliveries, which all come from the
// token service.
func tokenServiceOwner(*http.Request) (string, error) {
	return "token-service", nil
}

// idempotent replays the stored response to a repeated Idempotency-Key. The
// key is claimed by the engine in the same commit as the request's own
// writes, so replays survive restarts. With required set, requests without
// a key are rejected.
func (s *Server) idempotent(owner idempotencyOwner, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}
			key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
			if key == "" {
				if required {
					writeError(w, http.StatusBadRequest, "Idempotency-Key header is required")
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKey {
				writeError(w, http.StatusBadRequest, "Idempotency-Key is too long")
				return
			}
			scope, err := owner(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			claim := &game.RequestClaim{Key: scope + "\x00" + r.Method + " " + r.URL.Path + "\x00" + key}

			if prior, ok := s.engine.Receipt(claim.Key); ok {
				if prior.Status == 0 {
					writeError(w, http.StatusConflict, "a request with this idempotency key was already accepted")
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Idempotency-Replayed", "true")
				w.WriteHeader(prior.Status)
				_, _ = w.Write(prior.Body)
				return
			}

			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(game.WithRequestClaim(r.Context(), claim)))
			if err := s.engine.RecordResponse(context.WithoutCancel(r.Context()), claim, rec.status, rec.body.Bytes()); err != nil {
				s.log.Error("record idempotent response", "scope", scope, "path", r.URL.Path, "err", err)
			}
		})
	}
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
