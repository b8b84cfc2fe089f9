package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := SignToken("alice", RoleEditor, "s3cret")
	if err != nil {
		t.Fatalf("SignToken error: %v", err)
	}

	claims, err := ValidateToken(token, "s3cret")
	if err != nil {
		t.Fatalf("ValidateToken error: %v", err)
	}
	if claims.Subject != "alice" || claims.Role != RoleEditor {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := ValidateToken(token, "other"); err == nil {
		t.Fatalf("expected failure with wrong secret")
	}
}

func TestNewCredentials(t *testing.T) {
	creds, err := NewCredentials("admin:p:ss", RoleAdmin)
	if err != nil {
		t.Fatalf("NewCredentials error: %v", err)
	}
	if creds.Username != "admin" || creds.Password != "p:ss" || creds.Role != RoleAdmin {
		t.Fatalf("unexpected credentials: %+v", creds)
	}

	for _, bad := range []string{"", "nocolon", ":pass"} {
		if _, err := NewCredentials(bad, RoleAdmin); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func newGatedServer() (*echo.Echo, *Authenticator) {
	authenticator := NewAuthenticator("jwt-secret",
		Credentials{Username: "root", Password: "rootpw", Role: RoleAdmin},
		Credentials{Username: "ed", Password: "edpw", Role: RoleEditor},
	)

	e := echo.New()
	e.Use(authenticator.Identify())
	e.Use(NewGate(DefaultRules))

	ok := func(c echo.Context) error {
		caller, _ := CallerFrom(c)
		return c.String(http.StatusOK, caller.Role)
	}
	e.GET("/api/admin/referrals", ok)
	e.GET("/api/administrivia", ok)
	e.GET("/api/stats", ok)
	e.GET("/api/catalog", ok)
	return e, authenticator
}

func TestGate(t *testing.T) {
	e, _ := newGatedServer()

	tests := []struct {
		name     string
		path     string
		user     string
		password string
		want     int
	}{
		{"public route without caller", "/api/catalog", "", "", http.StatusOK},
		{"prefix must match whole segment", "/api/administrivia", "", "", http.StatusOK},
		{"admin route without caller", "/api/admin/referrals", "", "", http.StatusUnauthorized},
		{"admin route with wrong password", "/api/admin/referrals", "root", "nope", http.StatusUnauthorized},
		{"admin route as editor", "/api/admin/referrals", "ed", "edpw", http.StatusForbidden},
		{"admin route as admin", "/api/admin/referrals", "root", "rootpw", http.StatusOK},
		{"stats without caller", "/api/stats", "", "", http.StatusUnauthorized},
		{"stats as editor", "/api/stats", "ed", "edpw", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.user != "" {
				req.SetBasicAuth(tt.user, tt.password)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("unexpected status: got=%d want=%d body=%s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestIdentifyWithSessionCookie(t *testing.T) {
	e, authenticator := newGatedServer()

	cookie, caller, err := authenticator.Authenticate(Credentials{Username: "root", Password: "rootpw"})
	if err != nil {
		t.Fatalf("Authenticate error: %v", err)
	}
	if caller.Role != RoleAdmin || cookie.Name != cookieName {
		t.Fatalf("unexpected login result: %+v %s", caller, cookie.Name)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/referrals", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != RoleAdmin {
		t.Fatalf("cookie caller rejected: status=%d body=%s", rec.Code, rec.Body.String())
	}

	forged, err := SignToken("root", RoleAdmin, "attacker-secret")
	if err != nil {
		t.Fatalf("SignToken error: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/admin/referrals", nil)
	req.AddCookie(&http.Cookie{Name: cookieName, Value: forged})
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged token accepted: status=%d", rec.Code)
	}
}
