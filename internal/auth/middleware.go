package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/abdusco/reftrack/internal"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"

	callerKey = "auth.caller"
)

// Caller is the identity asserted for a request.
type Caller struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"-"`
}

func (c Credentials) Check(other Credentials) bool {
	userOK := subtle.ConstantTimeCompare([]byte(c.Username), []byte(other.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(c.Password), []byte(other.Password)) == 1
	return userOK && passOK
}

// NewCredentials parses "user:pass" and assigns role.
func NewCredentials(s, role string) (Credentials, error) {
	username, password, ok := strings.Cut(s, ":")
	if !ok || username == "" {
		return Credentials{}, fmt.Errorf("invalid credentials format")
	}

	return Credentials{
		Username: username,
		Password: password,
		Role:     role,
	}, nil
}

type Authenticator struct {
	credentials []Credentials
	jwtSecret   string
}

func NewAuthenticator(jwtSecret string, credentials ...Credentials) *Authenticator {
	return &Authenticator{credentials: credentials, jwtSecret: jwtSecret}
}

// Authenticate checks creds and returns a session cookie for the matching
// account.
func (a *Authenticator) Authenticate(creds Credentials) (*http.Cookie, Caller, error) {
	for _, known := range a.credentials {
		if known.Check(creds) {
			caller := Caller{Subject: known.Username, Role: known.Role}
			cookie, err := a.generateCookie(caller)
			if err != nil {
				return nil, Caller{}, err
			}
			return cookie, caller, nil
		}
	}
	return nil, Caller{}, internal.ErrUnauthorized
}

func (a *Authenticator) generateCookie(caller Caller) (*http.Cookie, error) {
	token, err := SignToken(caller.Subject, caller.Role, a.jwtSecret)
	if err != nil {
		return nil, err
	}

	cookie := &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(tokenExpiry.Seconds()),
	}
	return cookie, nil
}

// Identify resolves the caller from the session cookie or basic auth and
// stores it on the context. It never rejects; the Gate does.
func (a *Authenticator) Identify() echo.MiddlewareFunc {
	type authStrategy func(c echo.Context) (Caller, bool, error)
	strategies := []authStrategy{
		a.authWithCookie,
		a.authWithBasicAuth,
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, strategy := range strategies {
				caller, ok, err := strategy(c)
				if err != nil {
					log.Debug().Err(err).Msg("authentication strategy failed")
					continue
				}

				if ok {
					c.Set(callerKey, caller)
					break
				}
			}
			return next(c)
		}
	}
}

func (a *Authenticator) authWithCookie(c echo.Context) (Caller, bool, error) {
	cookie, err := c.Cookie(cookieName)
	if err != nil || cookie == nil || cookie.Value == "" {
		return Caller{}, false, nil
	}

	claims, err := ValidateToken(cookie.Value, a.jwtSecret)
	if err != nil {
		return Caller{}, false, nil
	}

	caller := Caller{Subject: claims.Subject, Role: claims.Role}
	refreshedCookie, err := a.generateCookie(caller)
	if err != nil {
		return Caller{}, false, fmt.Errorf("failed to generate cookie: %w", err)
	}
	refreshedCookie.Secure = c.IsTLS()
	c.SetCookie(refreshedCookie)

	return caller, true, nil
}

func (a *Authenticator) authWithBasicAuth(c echo.Context) (Caller, bool, error) {
	username, password, ok := c.Request().BasicAuth()
	if !ok {
		return Caller{}, false, nil
	}

	cookie, caller, err := a.Authenticate(Credentials{Username: username, Password: password})
	if err != nil {
		return Caller{}, false, err
	}
	cookie.Secure = c.IsTLS()
	c.SetCookie(cookie)

	return caller, true, nil
}

// CallerFrom returns the caller stored by Identify.
func CallerFrom(c echo.Context) (Caller, bool) {
	caller, ok := c.Get(callerKey).(Caller)
	return caller, ok
}

// Rule gates every path under Prefix. An empty Role admits any
// authenticated caller.
type Rule struct {
	Prefix string
	Role   string
}

// DefaultRules is the route gating of the service, first match wins.
var DefaultRules = []Rule{
	{Prefix: "/api/admin", Role: RoleAdmin},
	{Prefix: "/api/stats"},
}

func (r Rule) matches(path string) bool {
	prefix := strings.TrimSuffix(r.Prefix, "/")
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// NewGate rejects requests to gated prefixes: 401 without a caller, 403 when
// the caller's role does not match the rule.
func NewGate(rules []Rule) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			for _, rule := range rules {
				if !rule.matches(path) {
					continue
				}

				caller, ok := CallerFrom(c)
				if !ok {
					return echo.ErrUnauthorized
				}
				if rule.Role != "" && caller.Role != rule.Role {
					log.Warn().Str("subject", caller.Subject).Str("path", path).Msg("caller lacks role")
					return echo.ErrForbidden
				}
				break
			}
			return next(c)
		}
	}
}

func ExpireCookie() *http.Cookie {
	return &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	}
}
