package handler

import (
	"net/http"

	"github.com/abdusco/reftrack/internal/auth"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type AuthHandler struct {
	authenticator *auth.Authenticator
}

func NewAuthHandler(authenticator *auth.Authenticator) *AuthHandler {
	return &AuthHandler{authenticator: authenticator}
}

// Login handles POST /login - validates credentials and sets JWT cookie
func (h *AuthHandler) Login(c echo.Context) error {
	var req auth.Credentials
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	cookie, caller, err := h.authenticator.Authenticate(req)
	if err != nil {
		log.Warn().Str("username", req.Username).Msg("login failed")
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	cookie.Secure = c.IsTLS()
	c.SetCookie(cookie)

	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "role": caller.Role})
}

// Logout handles GET /logout - clears the JWT cookie
func (h *AuthHandler) Logout(c echo.Context) error {
	c.SetCookie(auth.ExpireCookie())
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Me returns the caller resolved for the current request.
func (h *AuthHandler) Me(c echo.Context) error {
	caller, ok := auth.CallerFrom(c)
	if !ok {
		return echo.ErrUnauthorized
	}
	return c.JSON(http.StatusOK, caller)
}
