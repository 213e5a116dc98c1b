package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/curibio/cloud-core/internal/scopes"
)

// FingerprintCookie carries the plain fingerprint half that the token
// payload stores hashed. It is compared on every protected request.
const FingerprintCookie = "fgp"

type ctxKey string

const claimsKey ctxKey = "claims"

// Middleware guards routes by scope. Every failure path answers the same
// 401 so callers cannot probe which check tripped.
type Middleware struct {
	tokens *TokenService
}

func NewMiddleware(ts *TokenService) *Middleware {
	return &Middleware{tokens: ts}
}

// ProtectedAny admits a request whose token holds at least one of the
// named scopes. The matched subset is stored in the request context.
func (m *Middleware) ProtectedAny(required ...scopes.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := m.authenticate(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			matched := intersect(claims.Scopes, required)
			if len(matched) == 0 {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ProtectedTag admits any token holding a scope carrying the tag. The
// event stream uses this since every product read scope qualifies.
func (m *Middleware) ProtectedTag(tags ...scopes.Tag) func(http.Handler) http.Handler {
	var required []scopes.Scope
	for _, tag := range tags {
		required = append(required, scopes.WithTag(tag)...)
	}
	return m.ProtectedAny(required...)
}

func (m *Middleware) authenticate(r *http.Request) (*Claims, bool) {
	tokenStr := extractBearerToken(r)
	if tokenStr == "" {
		return nil, false
	}

	claims, err := m.tokens.Decode(tokenStr)
	if err != nil {
		return nil, false
	}

	// tokens minted with a fingerprint bind to the cookie that carried
	// its plain half; account tokens have none and skip the check
	if claims.Fingerprint != "" {
		cookie, err := r.Cookie(FingerprintCookie)
		if err != nil {
			return nil, false
		}
		presented := HashFingerprint(cookie.Value)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(claims.Fingerprint)) != 1 {
			return nil, false
		}
	}

	return claims, true
}

func intersect(have, want []scopes.Scope) []scopes.Scope {
	var matched []scopes.Scope
	for _, w := range want {
		for _, h := range have {
			if h == w {
				matched = append(matched, w)
				break
			}
		}
	}
	return matched
}

func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey).(*Claims)
	return c
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
