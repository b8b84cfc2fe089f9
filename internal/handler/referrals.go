package handler

import (
	"net/http"

	"github.com/abdusco/reftrack/internal"
	"github.com/abdusco/reftrack/internal/catalog"
	"github.com/abdusco/reftrack/internal/repo"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type ReferralHandler struct {
	catalog *catalog.Service
}

func NewReferralHandler(catalog *catalog.Service) *ReferralHandler {
	return &ReferralHandler{catalog: catalog}
}

// CatalogEntry is the public view of a referral; counters stay private.
type CatalogEntry struct {
	Slug        string  `json:"slug"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Company     string  `json:"company"`
	ImageURL    string  `json:"image_url"`
	Discount    string  `json:"discount"`
	Bonus       string  `json:"bonus"`
	Rating      float64 `json:"rating"`
	PriceRange  string  `json:"price_range"`
	Featured    bool    `json:"featured"`
	TrackURL    string  `json:"track_url"`
}

// API Response wrappers
type ReferralResponse struct {
	Referral *internal.Referral `json:"referral"`
}

type ListReferralsResponse struct {
	Referrals []*internal.Referral `json:"referrals"`
}

type CatalogResponse struct {
	Referrals []CatalogEntry `json:"referrals"`
}

// Catalog handles GET /api/catalog: active referrals only.
func (h *ReferralHandler) Catalog(c echo.Context) error {
	ctx := c.Request().Context()

	referrals, err := h.catalog.List(ctx, repo.ListFilter{ActiveOnly: true, Category: c.QueryParam("category")})
	if err != nil {
		log.Error().Err(err).Msg("failed to list catalog")
		return err
	}

	entries := lo.Map(referrals, func(ref *internal.Referral, _ int) CatalogEntry {
		return CatalogEntry{
			Slug:        ref.Slug,
			Name:        ref.Name,
			Description: ref.Description,
			Category:    ref.Category,
			Company:     ref.Company,
			ImageURL:    ref.ImageURL,
			Discount:    ref.Discount,
			Bonus:       ref.Bonus,
			Rating:      ref.Rating,
			PriceRange:  ref.PriceRange,
			Featured:    ref.Featured,
			TrackURL:    "/r/" + ref.Slug,
		}
	})

	return c.JSON(http.StatusOK, CatalogResponse{Referrals: entries})
}

func (h *ReferralHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()

	var req catalog.CreateReferralInput
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	ref, err := h.catalog.Create(ctx, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, ReferralResponse{Referral: ref})
}

func (h *ReferralHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	referrals, err := h.catalog.List(ctx, repo.ListFilter{
		ActiveOnly: c.QueryParam("active") == "true",
		Category:   c.QueryParam("category"),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to list referrals")
		return err
	}

	return c.JSON(http.StatusOK, ListReferralsResponse{Referrals: referrals})
}

func (h *ReferralHandler) Get(c echo.Context) error {
	ref, err := h.catalog.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ReferralResponse{Referral: ref})
}

func (h *ReferralHandler) Update(c echo.Context) error {
	ctx := c.Request().Context()

	var req catalog.UpdateReferralInput
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	ref, err := h.catalog.Update(ctx, c.Param("id"), req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, ReferralResponse{Referral: ref})
}

func (h *ReferralHandler) Delete(c echo.Context) error {
	if err := h.catalog.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
