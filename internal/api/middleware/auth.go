package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/Rrens/llm-gateway/internal/api/response"
	"github.com/Rrens/llm-gateway/internal/security"
)

type contextKey string

const ClientIPKey contextKey = "clientIP"

// AuthMiddleware admits callers through the access guard
type AuthMiddleware struct {
	guard *security.Guard
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(guard *security.Guard) *AuthMiddleware {
	return &AuthMiddleware{guard: guard}
}

// Authenticate checks the caller's origin and bearer key
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		decision := m.guard.Check(bearerToken(r), ip, r.URL.Path)

		if !decision.Allowed {
			switch decision.Reason {
			case security.ReasonIPBlocked:
				response.Forbidden(w, "IP not allowed")
			default:
				response.Unauthorized(w, "Invalid API key")
			}
			return
		}

		ctx := context.WithValue(r.Context(), ClientIPKey, ip)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken returns the credential of an "Authorization: Bearer <key>"
// header, or "" when the header is missing or malformed.
func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// ClientIP returns the caller address of r. When proxy headers are trusted
// chi's RealIP has already replaced RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// GetClientIP gets the authenticated caller address from context
func GetClientIP(ctx context.Context) (string, bool) {
	ip, ok := ctx.Value(ClientIPKey).(string)
	return ip, ok
}
