package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const testSecret = "test-secret"

func TestMiddleware(t *testing.T) {
	a := New(Options{Secret: testSecret}, zerolog.Nop())

	valid, err := IssueToken(testSecret, "sup-1", RoleSupervisor, []string{"billing"}, time.Hour)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	expired, err := IssueToken(testSecret, "sup-1", RoleSupervisor, nil, -time.Minute)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	forged, err := IssueToken("other-secret", "sup-1", RoleAdmin, nil, time.Hour)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
	}{
		{"missing token", "", "", http.StatusUnauthorized},
		{"valid header", "Bearer " + valid, "", http.StatusOK},
		{"valid query", "", valid, http.StatusOK},
		{"expired", "Bearer " + expired, "", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + forged, "", http.StatusUnauthorized},
		{"no expiry", "Bearer " + noExp, "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *Claims
			h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, _ = GetUserFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			target := "/api/agents"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantStatus == http.StatusOK {
				if got == nil {
					t.Fatal("expected claims in context")
				}
				if got.Subject != "sup-1" || got.Role != RoleSupervisor {
					t.Errorf("unexpected claims %+v", got)
				}
				if len(got.Departments) != 1 || got.Departments[0] != "billing" {
					t.Errorf("expected billing department, got %v", got.Departments)
				}
			}
		})
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	a := New(Options{}, zerolog.Nop())
	if a.Enabled() {
		t.Fatal("expected authenticator without secret or issuer to be disabled")
	}

	var got *Claims
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = GetUserFromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/agents", nil))

	if got == nil || got.Role != RoleAdmin {
		t.Errorf("expected local admin claims, got %+v", got)
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name       string
		claims     *Claims
		wantStatus int
	}{
		{"no user", nil, http.StatusForbidden},
		{"agent", &Claims{Role: RoleAgent}, http.StatusForbidden},
		{"supervisor", &Claims{Role: RoleSupervisor}, http.StatusOK},
		{"admin", &Claims{Role: RoleAdmin}, http.StatusOK},
	}

	h := RequireRole(RoleAdmin, RoleSupervisor)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.claims != nil {
				req = req.WithContext(WithClaims(req.Context(), tt.claims))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestExtractRoleFromMapClaims(t *testing.T) {
	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   string
	}{
		{"keycloak admin wins", jwt.MapClaims{"realm_access": map[string]any{"roles": []any{"agent", "admin"}}}, RoleAdmin},
		{"keycloak agent", jwt.MapClaims{"realm_access": map[string]any{"roles": []any{"offline_access", "agent"}}}, RoleAgent},
		{"cognito supervisor", jwt.MapClaims{"cognito:groups": []any{"pytake-supervisors"}}, RoleSupervisor},
		{"nothing", jwt.MapClaims{}, RoleViewer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractRoleFromMapClaims(tt.claims); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestDepartmentVisibility(t *testing.T) {
	tests := []struct {
		name   string
		claims Claims
		dept   []string
		want   bool
	}{
		{"admin sees all", Claims{Role: RoleAdmin}, []string{"sales"}, true},
		{"unscoped supervisor sees all", Claims{Role: RoleSupervisor}, []string{"sales"}, true},
		{"scoped supervisor", Claims{Role: RoleSupervisor, Departments: []string{"billing"}}, []string{"sales"}, false},
		{"scoped supervisor match", Claims{Role: RoleSupervisor, Departments: []string{"billing"}}, []string{"sales", "billing"}, true},
		{"agent without departments", Claims{Role: RoleAgent}, []string{"billing"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.claims.IsDepartmentAllowed(tt.dept...); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	groups := []string{"/departments/billing", "/departments/billing/leads", "/teams/x", "/departments/"}
	if got := extractDepartments(groups); len(got) != 1 || got[0] != "billing" {
		t.Errorf("unexpected departments %v", got)
	}
}
