package repo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/abdusco/reftrack/internal"
	"github.com/abdusco/reftrack/internal/db"
	"github.com/shopspring/decimal"
)

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func newReferral(id, slug string) *internal.Referral {
	now := time.Now().UTC()
	return &internal.Referral{
		ID:        id,
		Slug:      slug,
		Name:      "Referral " + id,
		URL:       "https://example.com/" + slug,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newClick(id, referralID string, at time.Time) *internal.ReferralClick {
	return &internal.ReferralClick{
		ID:         id,
		ReferralID: referralID,
		SessionID:  "sess",
		IPAddress:  "198.51.100.1",
		UserAgent:  "test-agent",
		ClickedAt:  at,
	}
}

func convertedClick(id, referralID string, at time.Time, value string) *internal.ReferralClick {
	c := newClick(id, referralID, at)
	c.Converted = true
	c.ConvertedAt = &at
	if value != "" {
		c.ConversionValue = decimal.NewNullDecimal(decimal.RequireFromString(value))
	}
	return c
}

func TestFindByReferralOrdersMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	refs := NewReferralsRepo(d)
	clicks := NewClicksRepo(d)

	if err := refs.Create(ctx, newReferral("r1", "one")); err != nil {
		t.Fatalf("create referral: %v", err)
	}
	if err := refs.Create(ctx, newReferral("r2", "two")); err != nil {
		t.Fatalf("create referral: %v", err)
	}

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	inserts := []*internal.ReferralClick{
		newClick("c1", "r1", base),
		newClick("c2", "r1", base.Add(2*time.Hour)),
		newClick("c3", "r1", base.Add(500*time.Millisecond)),
		newClick("c4", "r2", base.Add(5*time.Hour)),
	}
	for _, c := range inserts {
		if err := clicks.Insert(ctx, c); err != nil {
			t.Fatalf("insert %s: %v", c.ID, err)
		}
	}

	got, err := clicks.FindByReferral(ctx, "r1")
	if err != nil {
		t.Fatalf("FindByReferral error: %v", err)
	}

	want := []string{"c2", "c3", "c1"}
	if len(got) != len(want) {
		t.Fatalf("expected %d clicks, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: got=%s want=%s", i, got[i].ID, id)
		}
	}
}

func TestInsertRejectsValueWithoutConversion(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	if err := NewReferralsRepo(d).Create(ctx, newReferral("r1", "one")); err != nil {
		t.Fatalf("create referral: %v", err)
	}
	clicks := NewClicksRepo(d)

	c := newClick("c1", "r1", time.Now().UTC())
	c.ConversionValue = decimal.NewNullDecimal(decimal.NewFromInt(10))

	if err := clicks.Insert(ctx, c); !errors.Is(err, internal.ErrInvalidConversion) {
		t.Fatalf("expected ErrInvalidConversion, got %v", err)
	}
	if _, err := clicks.Get(ctx, "c1"); !errors.Is(err, internal.ErrClickNotFound) {
		t.Fatalf("expected no row, got %v", err)
	}
}

func TestInsertMaintainsCounters(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	refs := NewReferralsRepo(d)
	clicks := NewClicksRepo(d)

	if err := refs.Create(ctx, newReferral("r1", "one")); err != nil {
		t.Fatalf("create referral: %v", err)
	}

	now := time.Now().UTC()
	if err := clicks.Insert(ctx, newClick("c1", "r1", now)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := clicks.Insert(ctx, convertedClick("c2", "r1", now, "4.50")); err != nil {
		t.Fatalf("insert converted: %v", err)
	}

	ref, err := refs.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("get referral: %v", err)
	}
	if ref.ClickCount != 2 || ref.ConversionCount != 1 {
		t.Fatalf("unexpected counters: clicks=%d conversions=%d", ref.ClickCount, ref.ConversionCount)
	}
}

func TestCountAndConvert(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	refs := NewReferralsRepo(d)
	clicks := NewClicksRepo(d)

	for _, r := range []*internal.Referral{newReferral("r1", "one"), newReferral("r2", "two")} {
		if err := refs.Create(ctx, r); err != nil {
			t.Fatalf("create referral: %v", err)
		}
	}

	now := time.Now().UTC()
	inserts := []*internal.ReferralClick{
		newClick("c1", "r1", now),
		convertedClick("c2", "r1", now, "10.25"),
		convertedClick("c3", "r1", now, ""),
		convertedClick("c4", "r2", now, "2.5"),
		newClick("c5", "r2", now),
	}
	for _, c := range inserts {
		if err := clicks.Insert(ctx, c); err != nil {
			t.Fatalf("insert %s: %v", c.ID, err)
		}
	}

	scoped, err := clicks.CountAndConvert(ctx, "r1")
	if err != nil {
		t.Fatalf("CountAndConvert r1: %v", err)
	}
	if scoped.Clicks != 3 || scoped.Conversions != 2 {
		t.Fatalf("unexpected r1 totals: %+v", scoped)
	}
	if !scoped.Earnings.Equal(decimal.RequireFromString("10.25")) {
		t.Fatalf("null value must count as zero, got earnings %s", scoped.Earnings)
	}

	all, err := clicks.CountAndConvert(ctx, "")
	if err != nil {
		t.Fatalf("CountAndConvert all: %v", err)
	}
	if all.Clicks != 5 || all.Conversions != 3 {
		t.Fatalf("unexpected global totals: %+v", all)
	}
	if !all.Earnings.Equal(decimal.RequireFromString("12.75")) {
		t.Fatalf("expected earnings 12.75, got %s", all.Earnings)
	}

	empty, err := clicks.CountAndConvert(ctx, "nope")
	if err != nil {
		t.Fatalf("CountAndConvert unknown: %v", err)
	}
	if empty.Clicks != 0 || empty.Conversions != 0 || !empty.Earnings.IsZero() {
		t.Fatalf("expected zero totals, got %+v", empty)
	}
}

func TestMarkConverted(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	refs := NewReferralsRepo(d)
	clicks := NewClicksRepo(d)

	if err := refs.Create(ctx, newReferral("r1", "one")); err != nil {
		t.Fatalf("create referral: %v", err)
	}
	if err := clicks.Insert(ctx, newClick("c1", "r1", time.Now().UTC())); err != nil {
		t.Fatalf("insert: %v", err)
	}

	at := time.Date(2024, 6, 1, 8, 30, 0, 123456789, time.UTC)
	value := decimal.NewNullDecimal(decimal.RequireFromString("19.99"))
	click, err := clicks.MarkConverted(ctx, "c1", value, at)
	if err != nil {
		t.Fatalf("MarkConverted: %v", err)
	}
	if !click.Converted || click.ConvertedAt == nil || !click.ConvertedAt.Equal(at) {
		t.Fatalf("unexpected click after conversion: %+v", click)
	}

	stored, err := clicks.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !stored.Converted || !stored.ConversionValue.Decimal.Equal(value.Decimal) {
		t.Fatalf("conversion not persisted: %+v", stored)
	}
	if stored.ConvertedAt == nil || !stored.ConvertedAt.Equal(at) {
		t.Fatalf("converted_at mismatch: %v", stored.ConvertedAt)
	}

	if _, err := clicks.MarkConverted(ctx, "c1", decimal.NullDecimal{}, at); !errors.Is(err, internal.ErrAlreadyConverted) {
		t.Fatalf("expected ErrAlreadyConverted, got %v", err)
	}
	if _, err := clicks.MarkConverted(ctx, "missing", decimal.NullDecimal{}, at); !errors.Is(err, internal.ErrClickNotFound) {
		t.Fatalf("expected ErrClickNotFound, got %v", err)
	}

	ref, err := refs.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("get referral: %v", err)
	}
	if ref.ConversionCount != 1 {
		t.Fatalf("expected conversion_count 1, got %d", ref.ConversionCount)
	}
}

func TestReferralsRepo(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	refs := NewReferralsRepo(d)

	first := newReferral("r1", "alpha")
	if err := refs.Create(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := refs.Create(ctx, newReferral("r2", "alpha")); !errors.Is(err, internal.ErrSlugExists) {
		t.Fatalf("expected ErrSlugExists, got %v", err)
	}

	featured := newReferral("r3", "featured")
	featured.Featured = true
	if err := refs.Create(ctx, featured); err != nil {
		t.Fatalf("create featured: %v", err)
	}
	inactive := newReferral("r4", "inactive")
	inactive.Active = false
	if err := refs.Create(ctx, inactive); err != nil {
		t.Fatalf("create inactive: %v", err)
	}

	active, err := refs.List(ctx, ListFilter{ActiveOnly: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 2 || active[0].ID != "r3" {
		t.Fatalf("expected featured first among active, got %d entries", len(active))
	}

	got, err := refs.GetBySlug(ctx, "alpha")
	if err != nil {
		t.Fatalf("GetBySlug: %v", err)
	}
	if got.ID != "r1" || !got.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("unexpected referral: %+v", got)
	}

	taken, err := refs.SlugTaken(ctx, "alpha", "r1")
	if err != nil || taken {
		t.Fatalf("own slug must not count as taken: taken=%v err=%v", taken, err)
	}
	taken, err = refs.SlugTaken(ctx, "alpha", "")
	if err != nil || !taken {
		t.Fatalf("expected slug taken: taken=%v err=%v", taken, err)
	}

	missing := newReferral("zzz", "zzz")
	if err := refs.Update(ctx, missing); !errors.Is(err, internal.ErrReferralNotFound) {
		t.Fatalf("expected ErrReferralNotFound on update, got %v", err)
	}

	if err := NewClicksRepo(d).Insert(ctx, newClick("c1", "r1", time.Now().UTC())); err != nil {
		t.Fatalf("insert click: %v", err)
	}
	if err := refs.Delete(ctx, "r1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := NewClicksRepo(d).Get(ctx, "c1"); !errors.Is(err, internal.ErrClickNotFound) {
		t.Fatalf("expected clicks removed with referral, got %v", err)
	}
	if err := refs.Delete(ctx, "r1"); !errors.Is(err, internal.ErrReferralNotFound) {
		t.Fatalf("expected ErrReferralNotFound on second delete, got %v", err)
	}
}

func TestDateOrdering(t *testing.T) {
	early := Date(time.Date(2024, 1, 1, 0, 0, 0, 5, time.UTC))
	late := Date(time.Date(2024, 1, 1, 0, 0, 0, 40, time.UTC))
	if !(early.String() < late.String()) {
		t.Fatalf("text order must follow time order: %s vs %s", early, late)
	}

	var scanned Date
	if err := scanned.Scan(late.String()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !scanned.Time().Equal(late.Time()) {
		t.Fatalf("round trip mismatch: %v vs %v", scanned.Time(), late.Time())
	}
}

func TestEarningsStayExactForLargeAmounts(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	if err := NewReferralsRepo(d).Create(ctx, newReferral("r1", "one")); err != nil {
		t.Fatalf("create referral: %v", err)
	}
	clicks := NewClicksRepo(d)

	now := time.Now().UTC()
	for i, v := range []string{"12345678901234.57", "0.01", "0.10"} {
		c := convertedClick("c"+string(rune('a'+i)), "r1", now, v)
		if err := clicks.Insert(ctx, c); err != nil {
			t.Fatalf("insert %s: %v", c.ID, err)
		}
	}

	totals, err := clicks.CountAndConvert(ctx, "r1")
	if err != nil {
		t.Fatalf("CountAndConvert: %v", err)
	}
	if want := decimal.RequireFromString("12345678901234.68"); !totals.Earnings.Equal(want) {
		t.Fatalf("earnings drifted: got=%s want=%s", totals.Earnings, want)
	}

	stored, err := clicks.Get(ctx, "ca")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if want := decimal.RequireFromString("12345678901234.57"); !stored.ConversionValue.Decimal.Equal(want) {
		t.Fatalf("stored value drifted: got=%s want=%s", stored.ConversionValue.Decimal, want)
	}
}
