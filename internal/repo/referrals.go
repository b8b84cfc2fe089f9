package repo

import (
	"context"
	"errors"

	"github.com/abdusco/reftrack/internal"
	"github.com/abdusco/reftrack/internal/db"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/rs/zerolog/log"
)

var referralColumns = []any{
	"id", "slug", "name", "description", "category", "company", "url", "image_url",
	"discount", "bonus", "rating", "price_range", "active", "featured", "priority",
	"click_count", "conversion_count", "created_at", "updated_at",
}

type referralRow struct {
	ID              string  `db:"id"`
	Slug            string  `db:"slug"`
	Name            string  `db:"name"`
	Description     string  `db:"description"`
	Category        string  `db:"category"`
	Company         string  `db:"company"`
	URL             string  `db:"url"`
	ImageURL        string  `db:"image_url"`
	Discount        string  `db:"discount"`
	Bonus           string  `db:"bonus"`
	Rating          float64 `db:"rating"`
	PriceRange      string  `db:"price_range"`
	Active          bool    `db:"active"`
	Featured        bool    `db:"featured"`
	Priority        int     `db:"priority"`
	ClickCount      int64   `db:"click_count"`
	ConversionCount int64   `db:"conversion_count"`
	CreatedAt       Date    `db:"created_at"`
	UpdatedAt       Date    `db:"updated_at"`
}

// ListFilter narrows ReferralsRepo.List. Zero value lists everything.
type ListFilter struct {
	ActiveOnly bool
	Category   string
}

type ReferralsRepo struct {
	db *db.DB
}

func NewReferralsRepo(d *db.DB) *ReferralsRepo {
	return &ReferralsRepo{db: d}
}

func (r *ReferralsRepo) Create(ctx context.Context, ref *internal.Referral) error {
	executor := goqu.New(r.db.Dialect, r.db.DB)

	log.Debug().Str("id", ref.ID).Str("slug", ref.Slug).Msg("creating referral")

	query := executor.Insert("referrals").Rows(goqu.Record{
		"id":               ref.ID,
		"slug":             ref.Slug,
		"name":             ref.Name,
		"description":      ref.Description,
		"category":         ref.Category,
		"company":          ref.Company,
		"url":              ref.URL,
		"image_url":        ref.ImageURL,
		"discount":         ref.Discount,
		"bonus":            ref.Bonus,
		"rating":           ref.Rating,
		"price_range":      ref.PriceRange,
		"active":           ref.Active,
		"featured":         ref.Featured,
		"priority":         ref.Priority,
		"click_count":      0,
		"conversion_count": 0,
		"created_at":       Date(ref.CreatedAt),
		"updated_at":       Date(ref.UpdatedAt),
	})

	if _, err := query.Executor().ExecContext(ctx); err != nil {
		if db.IsUniqueViolation(err) {
			return internal.ErrSlugExists
		}
		log.Error().Err(err).Str("slug", ref.Slug).Msg("failed to create referral")
		return err
	}

	log.Info().Str("id", ref.ID).Str("slug", ref.Slug).Msg("referral created successfully")
	return nil
}

func (r *ReferralsRepo) Get(ctx context.Context, id string) (*internal.Referral, error) {
	return r.getWhere(ctx, goqu.Ex{"id": id})
}

func (r *ReferralsRepo) GetBySlug(ctx context.Context, slug string) (*internal.Referral, error) {
	return r.getWhere(ctx, goqu.Ex{"slug": slug})
}

func (r *ReferralsRepo) getWhere(ctx context.Context, where goqu.Ex) (*internal.Referral, error) {
	executor := goqu.New(r.db.Dialect, r.db.DB)

	query := executor.From("referrals").Where(where).Select(referralColumns...)

	var row referralRow
	found, err := query.Executor().ScanStructContext(ctx, &row)
	if err != nil {
		log.Error().Err(err).Interface("where", where).Msg("failed to fetch referral")
		return nil, err
	}

	if !found {
		return nil, internal.ErrReferralNotFound
	}

	return row.toDomain(), nil
}

func (r *ReferralsRepo) List(ctx context.Context, filter ListFilter) ([]*internal.Referral, error) {
	executor := goqu.New(r.db.Dialect, r.db.DB)

	query := executor.From("referrals").Select(referralColumns...).Order(
		goqu.C("featured").Desc(),
		goqu.C("priority").Desc(),
		goqu.C("name").Asc(),
		goqu.C("id").Asc(),
	)
	if filter.ActiveOnly {
		query = query.Where(goqu.Ex{"active": true})
	}
	if filter.Category != "" {
		query = query.Where(goqu.Ex{"category": filter.Category})
	}

	var rows []referralRow
	if err := query.Executor().ScanStructsContext(ctx, &rows); err != nil {
		return nil, err
	}

	referrals := make([]*internal.Referral, len(rows))
	for i := range rows {
		referrals[i] = rows[i].toDomain()
	}
	return referrals, nil
}

// Update writes the editable fields of ref. Counters and created_at are never
// touched here; the clicks repo owns the counters.
func (r *ReferralsRepo) Update(ctx context.Context, ref *internal.Referral) error {
	executor := goqu.New(r.db.Dialect, r.db.DB)

	query := executor.Update("referrals").Set(goqu.Record{
		"slug":        ref.Slug,
		"name":        ref.Name,
		"description": ref.Description,
		"category":    ref.Category,
		"company":     ref.Company,
		"url":         ref.URL,
		"image_url":   ref.ImageURL,
		"discount":    ref.Discount,
		"bonus":       ref.Bonus,
		"rating":      ref.Rating,
		"price_range": ref.PriceRange,
		"active":      ref.Active,
		"featured":    ref.Featured,
		"priority":    ref.Priority,
		"updated_at":  Date(ref.UpdatedAt),
	}).Where(goqu.Ex{"id": ref.ID})

	res, err := query.Executor().ExecContext(ctx)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return internal.ErrSlugExists
		}
		log.Error().Err(err).Str("id", ref.ID).Msg("failed to update referral")
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return internal.ErrReferralNotFound
	}

	log.Info().Str("id", ref.ID).Msg("referral updated")
	return nil
}

func (r *ReferralsRepo) Delete(ctx context.Context, id string) error {
	executor := goqu.New(r.db.Dialect, r.db.DB)

	res, err := executor.Delete("referrals").Where(goqu.Ex{"id": id}).Executor().ExecContext(ctx)
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("failed to delete referral")
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return internal.ErrReferralNotFound
	}

	log.Info().Str("id", id).Msg("referral deleted")
	return nil
}

// SlugTaken reports whether slug belongs to a referral other than exceptID.
func (r *ReferralsRepo) SlugTaken(ctx context.Context, slug, exceptID string) (bool, error) {
	existing, err := r.GetBySlug(ctx, slug)
	if errors.Is(err, internal.ErrReferralNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return existing.ID != exceptID, nil
}

func (r *referralRow) toDomain() *internal.Referral {
	return &internal.Referral{
		ID:              r.ID,
		Slug:            r.Slug,
		Name:            r.Name,
		Description:     r.Description,
		Category:        r.Category,
		Company:         r.Company,
		URL:             r.URL,
		ImageURL:        r.ImageURL,
		Discount:        r.Discount,
		Bonus:           r.Bonus,
		Rating:          r.Rating,
		PriceRange:      r.PriceRange,
		Active:          r.Active,
		Featured:        r.Featured,
		Priority:        r.Priority,
		ClickCount:      r.ClickCount,
		ConversionCount: r.ConversionCount,
		CreatedAt:       r.CreatedAt.Time(),
		UpdatedAt:       r.UpdatedAt.Time(),
	}
}
