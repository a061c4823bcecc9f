package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking/internal/directory"
)

type contextKey string

const identityKey contextKey = "identity"

// Claims is the token payload issued by the auth service.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Authenticate validates an HMAC-signed bearer token and stores the caller
// identity in the request context. The subject must be the account id.
// Websocket clients that cannot set headers may pass the token as ?token=.
func Authenticate(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "auth disabled", http.StatusUnauthorized)
				return
			}
			raw := bearerToken(r)
			if raw == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			identity, err := parseIdentity(raw, secret)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated callers whose role is not listed.
func RequireRole(roles ...directory.Role) func(http.Handler) http.Handler {
	allowed := make(map[directory.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if _, ok := allowed[identity.Role]; !ok {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithIdentity stores the caller on ctx.
func WithIdentity(ctx context.Context, identity directory.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext returns the authenticated caller if present.
func IdentityFromContext(ctx context.Context) (directory.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(directory.Identity)
	return identity, ok
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func parseIdentity(raw, secret string) (directory.Identity, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return directory.Identity{}, jwt.ErrTokenInvalidClaims
	}
	accountID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return directory.Identity{}, jwt.ErrTokenInvalidSubject
	}
	role, ok := directory.ParseRole(claims.Role)
	if !ok || claims.Email == "" {
		return directory.Identity{}, jwt.ErrTokenInvalidClaims
	}
	return directory.Identity{AccountID: accountID, Email: claims.Email, Role: role}, nil
}
