package httpx

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/advance-ops/backoffice/internal/shared"
)

// RequireAPIKey admits requests carrying one of keys as a bearer token. A
// missing token is 401, an unknown one 403. The caller is stored in the
// request context with a non-secret key label.
func RequireAPIKey(keys []string) func(http.Handler) http.Handler {
	digests := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			sum := sha256.Sum256([]byte(k))
			digests = append(digests, sum[:])
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				RespondError(w, fmt.Errorf("%w: missing bearer token", shared.ErrUnauthorized), nil)
				return
			}
			sum := sha256.Sum256([]byte(token))
			matched := 0
			for _, d := range digests {
				matched |= subtle.ConstantTimeCompare(d, sum[:])
			}
			if matched != 1 {
				RespondError(w, fmt.Errorf("%w: unknown api key", shared.ErrForbidden), nil)
				return
			}
			caller, _ := shared.CallerFromContext(r.Context())
			caller.KeyID = "key-" + hex.EncodeToString(sum[:4])
			caller.Origin = r.Header.Get("Origin")
			next.ServeHTTP(w, r.WithContext(shared.ContextWithCaller(r.Context(), caller)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RestrictOrigins refuses browser requests whose Origin is not in allowed.
// Requests without an Origin header pass.
func RestrictOrigins(allowed []string) func(http.Handler) http.Handler {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			set[strings.ToLower(o)] = struct{}{}
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := set[strings.ToLower(strings.TrimRight(origin, "/"))]; !ok {
				RespondError(w, fmt.Errorf("%w: origin %s is not allowed", shared.ErrForbidden, origin), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
