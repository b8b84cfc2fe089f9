package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/abdusco/reftrack/internal"
	"github.com/abdusco/reftrack/internal/logger"
	"github.com/abdusco/reftrack/internal/tracking"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	sessionCookieName = "ref_session"
	sessionMaxAge     = 30 * 24 * time.Hour
)

type ClickFinder interface {
	FindByReferral(ctx context.Context, referralID string) ([]*internal.ReferralClick, error)
}

type ReferralLookup interface {
	GetBySlug(ctx context.Context, slug string) (*internal.Referral, error)
}

type ClickHandler struct {
	recorder  *tracking.Recorder
	clicks    ClickFinder
	referrals ReferralLookup
}

func NewClickHandler(recorder *tracking.Recorder, clicks ClickFinder, referrals ReferralLookup) *ClickHandler {
	return &ClickHandler{
		recorder:  recorder,
		clicks:    clicks,
		referrals: referrals,
	}
}

type TrackClickRequest struct {
	ReferralID string  `json:"referral_id"`
	SessionID  string  `json:"session_id"`
	UserID     *string `json:"user_id"`
	Referrer   *string `json:"referrer"`
}

type ClickResponse struct {
	Click *internal.ReferralClick `json:"click"`
}

type ListClicksResponse struct {
	Clicks []*internal.ReferralClick `json:"clicks"`
}

type ConvertRequest struct {
	Value *decimal.Decimal `json:"value"`
}

// Track handles POST /api/track. IP and user agent always come from the
// request itself, never from the body.
func (h *ClickHandler) Track(c echo.Context) error {
	ctx := c.Request().Context()

	var req TrackClickRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = ensureSession(c)
	}

	click, err := h.recorder.RecordClick(ctx, tracking.ClickRequest{
		ReferralID: req.ReferralID,
		SessionID:  sessionID,
		IPAddress:  c.RealIP(),
		UserAgent:  c.Request().UserAgent(),
		UserID:     req.UserID,
		Referrer:   req.Referrer,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, ClickResponse{Click: click})
}

// Redirect handles GET /r/:slug. A tracking failure is logged and the
// visitor is still redirected.
func (h *ClickHandler) Redirect(c echo.Context) error {
	ctx := c.Request().Context()
	slug := c.Param("slug")
	lg := logger.With("slug", slug)

	lg.Debug().Msg("redirect request")

	ref, err := h.referrals.GetBySlug(ctx, slug)
	if errors.Is(err, internal.ErrReferralNotFound) || (err == nil && !ref.Active) {
		lg.Warn().Err(err).Msg("referral not found")
		return echo.NewHTTPError(http.StatusNotFound, "referral not found")
	}
	if err != nil {
		return err
	}

	req := tracking.ClickRequest{
		ReferralID: ref.ID,
		SessionID:  ensureSession(c),
		IPAddress:  c.RealIP(),
		UserAgent:  c.Request().UserAgent(),
	}
	if uid := c.QueryParam("uid"); uid != "" {
		req.UserID = &uid
	}
	// browsers send app and extension referers too; those are dropped, not the click
	if referer := c.Request().Referer(); tracking.IsWebURL(referer) {
		req.Referrer = &referer
	} else if referer != "" {
		lg.Debug().Str("referer", referer).Msg("ignoring non-web referer")
	}

	if _, err := h.recorder.RecordClick(ctx, req); err != nil {
		lg.Error().Err(err).Str("referral_id", ref.ID).Msg("failed to record click")
	}

	return c.Redirect(http.StatusFound, ref.URL)
}

// Convert handles POST /api/admin/clicks/:id/convert.
func (h *ClickHandler) Convert(c echo.Context) error {
	ctx := c.Request().Context()

	var req ConvertRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	click, err := h.recorder.RecordConversion(ctx, c.Param("id"), req.Value)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, ClickResponse{Click: click})
}

// ListByReferral handles GET /api/admin/referrals/:id/clicks.
func (h *ClickHandler) ListByReferral(c echo.Context) error {
	ctx := c.Request().Context()

	clicks, err := h.clicks.FindByReferral(ctx, c.Param("id"))
	if err != nil {
		log.Error().Err(err).Msg("failed to list clicks")
		return err
	}

	return c.JSON(http.StatusOK, ListClicksResponse{Clicks: clicks})
}

// ensureSession returns the visitor's session id, minting and setting a new
// cookie when there is none.
func ensureSession(c echo.Context) string {
	if cookie, err := c.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	id := uuid.NewString()
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.IsTLS(),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sessionMaxAge.Seconds()),
	})
	return id
}
