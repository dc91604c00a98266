package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"runtime/debug"
	"strings"
)

// InternalSecretHeader authenticates the external scheduled-post publisher.
const InternalSecretHeader = "X-Internal-Secret"

func writeEnvelope(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": msg},
	})
}

// Recover turns a handler panic into a 500 response and keeps the server running.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Printf("[HTTP][Panic] method=%s path=%s panic=%v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
				writeEnvelope(w, http.StatusInternalServerError, "something_went_wrong", "something went wrong")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RequireInternalSecret guards machine-to-machine endpoints. With an empty
// secret every request is refused.
func RequireInternalSecret(secret string, next http.HandlerFunc) http.HandlerFunc {
	secret = strings.TrimSpace(secret)
	return func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimSpace(r.Header.Get(InternalSecretHeader))
		if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			log.Printf("[HTTP][Internal] forbidden path=%s remote=%s hasHeader=%t", r.URL.Path, r.RemoteAddr, got != "")
			writeEnvelope(w, http.StatusForbidden, "forbidden", "internal endpoint")
			return
		}
		next(w, r)
	}
}
