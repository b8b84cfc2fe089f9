package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/abdusco/reftrack/internal"
	"github.com/abdusco/reftrack/internal/db"
	"github.com/doug-martin/goqu/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	convertedCountSQL = "COALESCE(SUM(CASE WHEN converted THEN 1 ELSE 0 END), 0)"
	earningsSQL       = "COALESCE(SUM(CASE WHEN converted THEN conversion_value_cents ELSE 0 END), 0)"
)

var clickColumns = []any{
	"id", "referral_id", "user_id", "session_id", "ip_address", "user_agent",
	"referrer", "clicked_at", "converted", "conversion_value_cents", "converted_at",
}

// ClickTotals is the grouped aggregate over a set of clicks.
type ClickTotals struct {
	Clicks      int64
	Conversions int64
	Earnings    decimal.Decimal
}

type clickRow struct {
	ID              string        `db:"id"`
	ReferralID      string        `db:"referral_id"`
	UserID          *string       `db:"user_id"`
	SessionID       string        `db:"session_id"`
	IPAddress       string        `db:"ip_address"`
	UserAgent       string        `db:"user_agent"`
	Referrer        *string       `db:"referrer"`
	ClickedAt       Date          `db:"clicked_at"`
	Converted       bool          `db:"converted"`
	ConversionCents sql.NullInt64 `db:"conversion_value_cents"`
	ConvertedAt     *Date         `db:"converted_at"`
}

type clickTotalsRow struct {
	Clicks        int64 `db:"clicks"`
	Conversions   int64 `db:"conversions"`
	EarningsCents int64 `db:"earnings"`
}

type performerRow struct {
	ReferralID    string `db:"referral_id"`
	Name          string `db:"name"`
	Slug          string `db:"slug"`
	Clicks        int64  `db:"clicks"`
	Conversions   int64  `db:"conversions"`
	EarningsCents int64  `db:"earnings"`
}

type ClicksRepo struct {
	db *db.DB
}

func NewClicksRepo(d *db.DB) *ClicksRepo {
	return &ClicksRepo{db: d}
}

// Insert persists click and bumps the referral counters in the same
// transaction, so the counters cannot drift from the click table.
func (r *ClicksRepo) Insert(ctx context.Context, click *internal.ReferralClick) error {
	if !click.Converted && click.ConversionValue.Valid {
		return internal.ErrInvalidConversion
	}

	database := goqu.New(r.db.Dialect, r.db.DB)

	log.Debug().Str("referral_id", click.ReferralID).Str("ip", click.IPAddress).Msg("recording click")

	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	err = tx.Wrap(func() error {
		counters := goqu.Record{"click_count": goqu.L("click_count + 1")}
		if click.Converted {
			counters["conversion_count"] = goqu.L("conversion_count + 1")
		}

		res, err := tx.Update("referrals").
			Set(counters).
			Where(goqu.Ex{"id": click.ReferralID}).
			Executor().ExecContext(ctx)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return internal.ErrReferralNotFound
		}

		var convertedAt any
		if click.ConvertedAt != nil {
			convertedAt = Date(*click.ConvertedAt)
		}

		_, err = tx.Insert("referral_clicks").Rows(goqu.Record{
			"id":               click.ID,
			"referral_id":      click.ReferralID,
			"user_id":          nullable(click.UserID),
			"session_id":       click.SessionID,
			"ip_address":       click.IPAddress,
			"user_agent":       click.UserAgent,
			"referrer":         nullable(click.Referrer),
			"clicked_at":       Date(click.ClickedAt),
			"converted":        click.Converted,
			"conversion_value_cents": toCents(click.ConversionValue),
			"converted_at":     convertedAt,
		}).Executor().ExecContext(ctx)
		if db.IsUniqueViolation(err) {
			return internal.ErrConflict
		}
		return err
	})
	if err != nil {
		log.Error().Err(err).Str("referral_id", click.ReferralID).Str("id", click.ID).Msg("failed to record click")
		return err
	}

	log.Debug().Str("id", click.ID).Str("referral_id", click.ReferralID).Msg("click recorded successfully")
	return nil
}

func (r *ClicksRepo) Get(ctx context.Context, id string) (*internal.ReferralClick, error) {
	executor := goqu.New(r.db.Dialect, r.db.DB)

	var row clickRow
	found, err := executor.From("referral_clicks").
		Select(clickColumns...).
		Where(goqu.Ex{"id": id}).
		Executor().ScanStructContext(ctx, &row)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, internal.ErrClickNotFound
	}
	return row.toDomain(), nil
}

// FindByReferral returns every click of a referral, most recent first.
func (r *ClicksRepo) FindByReferral(ctx context.Context, referralID string) ([]*internal.ReferralClick, error) {
	executor := goqu.New(r.db.Dialect, r.db.DB)

	query := executor.From("referral_clicks").
		Select(clickColumns...).
		Where(goqu.Ex{"referral_id": referralID}).
		Order(goqu.C("clicked_at").Desc(), goqu.C("id").Desc())

	var rows []clickRow
	if err := query.Executor().ScanStructsContext(ctx, &rows); err != nil {
		log.Error().Err(err).Str("referral_id", referralID).Msg("failed to list clicks")
		return nil, err
	}

	clicks := make([]*internal.ReferralClick, len(rows))
	for i := range rows {
		clicks[i] = rows[i].toDomain()
	}
	return clicks, nil
}

// CountAndConvert aggregates one referral's clicks, or all clicks when
// referralID is empty. A null conversion value counts as zero.
func (r *ClicksRepo) CountAndConvert(ctx context.Context, referralID string) (*ClickTotals, error) {
	executor := goqu.New(r.db.Dialect, r.db.DB)

	query := executor.From("referral_clicks").Select(
		goqu.COUNT("*").As("clicks"),
		goqu.L(convertedCountSQL).As("conversions"),
		goqu.L(earningsSQL).As("earnings"),
	)
	if referralID != "" {
		query = query.Where(goqu.Ex{"referral_id": referralID})
	}

	var row clickTotalsRow
	found, err := query.Executor().ScanStructContext(ctx, &row)
	if err != nil {
		log.Error().Err(err).Str("referral_id", referralID).Msg("failed to aggregate clicks")
		return nil, err
	}
	if !found {
		return &ClickTotals{Earnings: decimal.Zero}, nil
	}

	return &ClickTotals{
		Clicks:      row.Clicks,
		Conversions: row.Conversions,
		Earnings:    fromCents(row.EarningsCents),
	}, nil
}

// TopPerformers ranks referrals by conversions, then clicks, then id.
func (r *ClicksRepo) TopPerformers(ctx context.Context, limit int) ([]internal.TopPerformer, error) {
	executor := goqu.New(r.db.Dialect, r.db.DB)

	query := executor.From(goqu.T("referral_clicks").As("c")).
		InnerJoin(goqu.T("referrals").As("r"), goqu.On(goqu.I("r.id").Eq(goqu.I("c.referral_id")))).
		Select(
			goqu.I("c.referral_id").As("referral_id"),
			goqu.I("r.name").As("name"),
			goqu.I("r.slug").As("slug"),
			goqu.COUNT("*").As("clicks"),
			goqu.L(convertedCountSQL).As("conversions"),
			goqu.L(earningsSQL).As("earnings"),
		).
		GroupBy(goqu.I("c.referral_id"), goqu.I("r.name"), goqu.I("r.slug")).
		Order(goqu.I("conversions").Desc(), goqu.I("clicks").Desc(), goqu.I("referral_id").Asc()).
		Limit(uint(limit))

	var rows []performerRow
	if err := query.Executor().ScanStructsContext(ctx, &rows); err != nil {
		log.Error().Err(err).Msg("failed to rank referrals")
		return nil, err
	}

	performers := make([]internal.TopPerformer, len(rows))
	for i, row := range rows {
		performers[i] = internal.TopPerformer{
			ReferralID:     row.ReferralID,
			Name:           row.Name,
			Slug:           row.Slug,
			Clicks:         row.Clicks,
			Conversions:    row.Conversions,
			ConversionRate: internal.ConversionRate(row.Conversions, row.Clicks),
			Earnings:       fromCents(row.EarningsCents),
		}
	}
	return performers, nil
}

// MarkConverted flips a click to converted exactly once, stores its value and
// bumps the referral's conversion counter in the same transaction.
func (r *ClicksRepo) MarkConverted(ctx context.Context, clickID string, value decimal.NullDecimal, at time.Time) (*internal.ReferralClick, error) {
	database := goqu.New(r.db.Dialect, r.db.DB)

	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	var row clickRow
	err = tx.Wrap(func() error {
		found, err := tx.From("referral_clicks").
			Select(clickColumns...).
			Where(goqu.Ex{"id": clickID}).
			Executor().ScanStructContext(ctx, &row)
		if err != nil {
			return err
		}
		if !found {
			return internal.ErrClickNotFound
		}
		if row.Converted {
			return internal.ErrAlreadyConverted
		}

		convertedAt := Date(at)
		res, err := tx.Update("referral_clicks").
			Set(goqu.Record{
				"converted":        true,
				"conversion_value_cents": toCents(value),
				"converted_at":     convertedAt,
			}).
			Where(goqu.Ex{"id": clickID, "converted": false}).
			Executor().ExecContext(ctx)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return internal.ErrAlreadyConverted
		}

		_, err = tx.Update("referrals").
			Set(goqu.Record{"conversion_count": goqu.L("conversion_count + 1")}).
			Where(goqu.Ex{"id": row.ReferralID}).
			Executor().ExecContext(ctx)
		if err != nil {
			return err
		}

		row.Converted = true
		row.ConversionCents = toCents(value)
		row.ConvertedAt = &convertedAt
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("click_id", clickID).Msg("failed to mark click converted")
		return nil, err
	}

	log.Info().Str("click_id", clickID).Str("referral_id", row.ReferralID).Msg("click converted")
	return row.toDomain(), nil
}

func (r *clickRow) toDomain() *internal.ReferralClick {
	return &internal.ReferralClick{
		ID:              r.ID,
		ReferralID:      r.ReferralID,
		UserID:          r.UserID,
		SessionID:       r.SessionID,
		IPAddress:       r.IPAddress,
		UserAgent:       r.UserAgent,
		Referrer:        r.Referrer,
		ClickedAt:       r.ClickedAt.Time(),
		Converted:       r.Converted,
		ConversionValue: nullFromCents(r.ConversionCents),
		ConvertedAt:     datePtr(r.ConvertedAt),
	}
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// Money is stored as integer cents so sums stay exact on every driver.
func toCents(v decimal.NullDecimal) sql.NullInt64 {
	if !v.Valid {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v.Decimal.Round(2).Shift(2).IntPart(), Valid: true}
}

func fromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

func nullFromCents(v sql.NullInt64) decimal.NullDecimal {
	if !v.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(fromCents(v.Int64))
}
