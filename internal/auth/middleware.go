package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Roles in order of privilege
const (
	RoleAdmin      = "admin"
	RoleSupervisor = "supervisor"
	RoleAgent      = "agent"
	RoleViewer     = "viewer"
)

type Claims struct {
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Groups      []string `json:"groups"`
	Departments []string `json:"departments"` // Extracted from groups (e.g. /departments/billing)
	jwt.RegisteredClaims
}

type contextKey string

const UserContextKey contextKey = "user"

// Options configures token verification. With neither Secret nor Issuer set
// every request is treated as a local admin.
type Options struct {
	// Secret verifies HS256 tokens
	Secret string
	// Issuer is the OIDC issuer whose JWKS verifies asymmetric tokens
	Issuer string
}

// Authenticator validates bearer tokens
type Authenticator struct {
	secret []byte
	issuer string

	mu   sync.RWMutex
	jwks keyfunc.Keyfunc

	logger zerolog.Logger
}

// New creates an authenticator. The JWKS is fetched lazily on the first
// asymmetric token.
func New(opts Options, logger zerolog.Logger) *Authenticator {
	a := &Authenticator{
		issuer: strings.TrimSuffix(opts.Issuer, "/"),
		logger: logger.With().Str("component", "auth").Logger(),
	}
	if opts.Secret != "" {
		a.secret = []byte(opts.Secret)
	}
	return a
}

// Enabled reports whether tokens are checked at all
func (a *Authenticator) Enabled() bool {
	return a.secret != nil || a.issuer != ""
}

// jwksKeyfunc returns the JWKS key function, fetching the key set on first use
func (a *Authenticator) jwksKeyfunc() (jwt.Keyfunc, error) {
	a.mu.RLock()
	k := a.jwks
	a.mu.RUnlock()
	if k != nil {
		return k.Keyfunc, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.jwks != nil {
		return a.jwks.Keyfunc, nil
	}

	// Construct JWKS URL (Keycloak format)
	jwksURL := a.issuer + "/protocol/openid-connect/certs"
	a.logger.Info().Str("url", jwksURL).Msg("fetching JWKS")

	k, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create keyfunc: %w", err)
	}
	a.jwks = k
	return k.Keyfunc, nil
}

// Middleware validates bearer tokens and stores the claims in the request context
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			ctx := WithClaims(r.Context(), &Claims{
				Email: "dev@pytake.local",
				Name:  "Dev User",
				Role:  RoleAdmin,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		tokenString := extractToken(r)
		if tokenString == "" {
			http.Error(w, "Unauthorized: Missing token", http.StatusUnauthorized)
			return
		}

		claims, err := a.Validate(tokenString)
		if err != nil {
			a.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("token validation failed")
			http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// RequireRole rejects requests whose user holds none of roles
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetUserFromContext(r.Context())
			if !ok || !slices.Contains(roles, claims.Role) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken gets the token from Authorization header or query parameter
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString != authHeader {
			return tokenString
		}
	}

	// Query parameter for WebSocket connections
	return r.URL.Query().Get("token")
}

// Validate verifies tokenString and extracts its claims
func (a *Authenticator) Validate(tokenString string) (*Claims, error) {
	keyFn := func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if a.secret == nil {
				return nil, errors.New("HMAC tokens are not accepted")
			}
			return a.secret, nil
		default:
			if a.issuer == "" {
				return nil, fmt.Errorf("signing method %s is not accepted", t.Method.Alg())
			}
			kf, err := a.jwksKeyfunc()
			if err != nil {
				return nil, err
			}
			return kf(t)
		}
	}

	mapClaims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, mapClaims, keyFn,
		jwt.WithValidMethods([]string{"HS256", "RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if a.issuer != "" && token.Method.Alg() != "HS256" {
		if iss, _ := mapClaims.GetIssuer(); strings.TrimSuffix(iss, "/") != a.issuer {
			return nil, fmt.Errorf("unexpected issuer %q", iss)
		}
	}

	claims := &Claims{}
	if email, ok := mapClaims["email"].(string); ok {
		claims.Email = email
	}
	if name, ok := mapClaims["name"].(string); ok {
		claims.Name = name
	} else if preferredUsername, ok := mapClaims["preferred_username"].(string); ok {
		claims.Name = preferredUsername
	}
	claims.Role = extractRoleFromMapClaims(mapClaims)
	claims.Groups = extractGroupsFromMapClaims(mapClaims)
	claims.Departments = extractDepartments(claims.Groups)
	if sub, err := mapClaims.GetSubject(); err == nil {
		claims.Subject = sub
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil {
		claims.ExpiresAt = exp
	}
	return claims, nil
}

// IssueToken signs an HS256 token for local tooling and tests
func IssueToken(secret, subject, role string, departments []string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("secret is required")
	}
	groups := make([]string, 0, len(departments))
	for _, d := range departments {
		groups = append(groups, departmentPrefix+d)
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":          subject,
		"name":         subject,
		"groups":       groups,
		"realm_access": map[string]any{"roles": []string{role}},
		"iat":          now.Unix(),
		"exp":          now.Add(ttl).Unix(),
	})
	return token.SignedString([]byte(secret))
}

// extractRoleFromMapClaims extracts role from various possible token claim locations
func extractRoleFromMapClaims(mapClaims jwt.MapClaims) string {
	// Check realm_access.roles (Keycloak)
	if realmAccess, ok := mapClaims["realm_access"].(map[string]any); ok {
		if roles, ok := realmAccess["roles"].([]any); ok {
			for _, priority := range []string{RoleAdmin, RoleSupervisor, RoleAgent, RoleViewer} {
				for _, role := range roles {
					if roleStr, ok := role.(string); ok && roleStr == priority {
						return roleStr
					}
				}
			}
		}
	}

	// Check cognito:groups (AWS Cognito)
	if cognitoGroups, ok := mapClaims["cognito:groups"].([]any); ok {
		for _, group := range cognitoGroups {
			if groupStr, ok := group.(string); ok {
				for _, role := range []string{RoleAdmin, RoleSupervisor, RoleAgent} {
					if strings.Contains(groupStr, role) {
						return role
					}
				}
			}
		}
	}

	return RoleViewer
}

// extractGroupsFromMapClaims extracts groups from token claims
func extractGroupsFromMapClaims(mapClaims jwt.MapClaims) []string {
	var groups []string
	for _, key := range []string{"groups", "cognito:groups"} {
		if claim, ok := mapClaims[key].([]any); ok {
			for _, group := range claim {
				if groupStr, ok := group.(string); ok {
					groups = append(groups, groupStr)
				}
			}
		}
	}
	return groups
}

const departmentPrefix = "/departments/"

// extractDepartments parses department names from group paths such as /departments/billing
func extractDepartments(groups []string) []string {
	var departments []string
	for _, group := range groups {
		if !strings.HasPrefix(group, departmentPrefix) {
			continue
		}
		d := strings.TrimPrefix(group, departmentPrefix)
		if idx := strings.Index(d, "/"); idx > 0 {
			d = d[:idx]
		}
		if d != "" && !slices.Contains(departments, d) {
			departments = append(departments, d)
		}
	}
	return departments
}

// WithClaims returns a copy of ctx carrying claims
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}

// GetUserFromContext retrieves user claims from request context
func GetUserFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*Claims)
	return claims, ok
}

// HasRole checks if user has specific role
func HasRole(claims *Claims, role string) bool {
	return claims.Role == role
}

// SeesAllDepartments reports whether the user may watch every department
func (c *Claims) SeesAllDepartments() bool {
	return c.Role == RoleAdmin || (c.Role == RoleSupervisor && len(c.Departments) == 0)
}

// IsDepartmentAllowed checks if any of departments is visible to the user
func (c *Claims) IsDepartmentAllowed(departments ...string) bool {
	if c.SeesAllDepartments() {
		return true
	}
	for _, d := range departments {
		if slices.Contains(c.Departments, d) {
			return true
		}
	}
	return false
}

// Actor is the identifier recorded when the user acts on a conversation
func (c *Claims) Actor() string {
	switch {
	case c.Subject != "":
		return c.Subject
	case c.Email != "":
		return c.Email
	}
	return c.Name
}
