package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alem-hub/course-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// IDENTITY
// Every learner route runs as the (tenant, user) named by an HS256 bearer
// token. Handlers never read tenant or user from the request body.
// ══════════════════════════════════════════════════════════════════════════════

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id shared.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity resolved for the request.
func IdentityFromContext(ctx context.Context) (shared.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(shared.Identity)
	return id, ok && !id.IsZero()
}

// Claims are the token claims the service understands. sub carries the user id.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies bearer tokens.
type JWTAuthenticator struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewJWTAuthenticator creates an authenticator. An empty issuer accepts any iss claim.
func NewJWTAuthenticator(secret, issuer string) *JWTAuthenticator {
	return &JWTAuthenticator{
		secret: []byte(secret),
		issuer: issuer,
		leeway: 30 * time.Second,
	}
}

// Authenticate resolves the identity carried by a raw token.
func (a *JWTAuthenticator) Authenticate(raw string) (shared.Identity, error) {
	if len(a.secret) == 0 {
		return shared.Identity{}, shared.NewDomainError("identity", "Resolve", shared.ErrUnauthorized, "token verification is not configured")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.leeway),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...); err != nil {
		return shared.Identity{}, shared.WrapError("identity", "Resolve", shared.ErrUnauthorized, "invalid bearer token", err)
	}

	role := shared.Role(claims.Role)
	switch role {
	case "", shared.RoleLearner, shared.RoleAdmin:
	default:
		return shared.Identity{}, shared.NewDomainError("identity", "Resolve", shared.ErrUnauthorized, "unknown role claim")
	}
	return shared.NewIdentity(claims.TenantID, claims.Subject, role)
}

// Issue signs a token for id. Used by tooling and tests.
func (a *JWTAuthenticator) Issue(id shared.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TenantID: string(id.TenantID),
		Role:     string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(id.UserID),
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Middleware rejects requests without a valid bearer token and stores the
// resolved identity in the request context.
func (a *JWTAuthenticator) Middleware(respond ErrorResponder) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok || a == nil {
				respond(w, r, shared.ErrMissingIdentity)
				return
			}
			id, err := a.Authenticate(raw)
			if err != nil {
				respond(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
