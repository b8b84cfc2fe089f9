package stats

import (
	"context"
	"strings"

	"github.com/abdusco/reftrack/internal"
	"github.com/abdusco/reftrack/internal/auth"
	"github.com/abdusco/reftrack/internal/repo"
	"github.com/rs/zerolog/log"
)

// TopPerformersLimit is how many referrals the global report ranks.
const TopPerformersLimit = 10

type ClickReader interface {
	CountAndConvert(ctx context.Context, referralID string) (*repo.ClickTotals, error)
	TopPerformers(ctx context.Context, limit int) ([]internal.TopPerformer, error)
}

var _ ClickReader = (*repo.ClicksRepo)(nil)

type Aggregator struct {
	clicks ClickReader
}

func NewAggregator(clicks ClickReader) *Aggregator {
	return &Aggregator{clicks: clicks}
}

// GetStats reports clicks, conversions and earnings for one referral, or for
// all referrals plus a ranking when referralID is empty. Only admins may call
// it. An unknown referral yields zero-valued stats.
func (a *Aggregator) GetStats(ctx context.Context, caller auth.Caller, referralID string) (*internal.ReferralStats, error) {
	if !caller.IsAdmin() {
		log.Warn().Str("subject", caller.Subject).Str("role", caller.Role).Msg("stats denied")
		return nil, internal.ErrForbidden
	}

	referralID = strings.TrimSpace(referralID)

	totals, err := a.clicks.CountAndConvert(ctx, referralID)
	if err != nil {
		return nil, err
	}

	stats := &internal.ReferralStats{
		TotalClicks:      totals.Clicks,
		TotalConversions: totals.Conversions,
		ConversionRate:   internal.ConversionRate(totals.Conversions, totals.Clicks),
		TotalEarnings:    totals.Earnings,
		TopPerformers:    []internal.TopPerformer{},
	}

	if referralID == "" {
		top, err := a.clicks.TopPerformers(ctx, TopPerformersLimit)
		if err != nil {
			return nil, err
		}
		stats.TopPerformers = top
	}

	log.Debug().
		Str("referral_id", referralID).
		Int64("clicks", stats.TotalClicks).
		Int64("conversions", stats.TotalConversions).
		Msg("stats computed")

	return stats, nil
}
