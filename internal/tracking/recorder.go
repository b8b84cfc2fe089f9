package tracking

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/abdusco/reftrack/internal"
	"github.com/abdusco/reftrack/internal/metrics"
	"github.com/abdusco/reftrack/internal/repo"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ClickRequest is the loosely shaped click input as it arrives from the web
// layer. Validate turns it into a click that is safe to persist.
type ClickRequest struct {
	ReferralID string  `json:"referral_id"`
	SessionID  string  `json:"session_id"`
	IPAddress  string  `json:"ip_address"`
	UserAgent  string  `json:"user_agent"`
	UserID     *string `json:"user_id"`
	Referrer   *string `json:"referrer"`
}

func (r *ClickRequest) normalize() {
	r.ReferralID = strings.TrimSpace(r.ReferralID)
	r.SessionID = strings.TrimSpace(r.SessionID)
	r.IPAddress = strings.TrimSpace(r.IPAddress)
	r.UserAgent = strings.TrimSpace(r.UserAgent)
	r.UserID = trimmedOrNil(r.UserID)
	r.Referrer = trimmedOrNil(r.Referrer)
}

// Validate reports every offending field at once.
func (r *ClickRequest) Validate() error {
	r.normalize()

	verr := &internal.ValidationError{}
	required := []struct {
		field string
		value string
	}{
		{"referral_id", r.ReferralID},
		{"session_id", r.SessionID},
		{"ip_address", r.IPAddress},
		{"user_agent", r.UserAgent},
	}
	for _, f := range required {
		if f.value == "" {
			verr.Add(f.field, "is required")
		}
	}

	if r.IPAddress != "" && net.ParseIP(r.IPAddress) == nil {
		verr.Add("ip_address", "is not a valid IP address")
	}
	if r.Referrer != nil && !IsWebURL(*r.Referrer) {
		verr.Add("referrer", "is not a valid URL")
	}

	return verr.OrNil()
}

// IsWebURL reports whether s is an absolute http(s) URL with a host.
func IsWebURL(s string) bool {
	u, err := url.ParseRequestURI(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// ClickStore is the persistence the recorder needs.
type ClickStore interface {
	Insert(ctx context.Context, click *internal.ReferralClick) error
	MarkConverted(ctx context.Context, clickID string, value decimal.NullDecimal, at time.Time) (*internal.ReferralClick, error)
}

var _ ClickStore = (*repo.ClicksRepo)(nil)

type Recorder struct {
	store   ClickStore
	metrics *metrics.Metrics
	newID   func() string
	now     func() time.Time
}

type Option func(*Recorder)

func WithIDGenerator(fn func() string) Option {
	return func(r *Recorder) { r.newID = fn }
}

func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) { r.now = fn }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

func NewRecorder(store ClickStore, opts ...Option) *Recorder {
	r := &Recorder{
		store: store,
		newID: uuid.NewString,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordClick validates req and stores it as a new, unconverted click.
// Nothing is written when validation fails.
func (r *Recorder) RecordClick(ctx context.Context, req ClickRequest) (*internal.ReferralClick, error) {
	if err := req.Validate(); err != nil {
		r.metrics.ClickRejected()
		log.Debug().Err(err).Str("referral_id", req.ReferralID).Msg("click rejected")
		return nil, err
	}

	click := &internal.ReferralClick{
		ID:         r.newID(),
		ReferralID: req.ReferralID,
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		IPAddress:  req.IPAddress,
		UserAgent:  req.UserAgent,
		Referrer:   req.Referrer,
		ClickedAt:  r.now().UTC().Round(0),
		Converted:  false,
	}

	if err := r.store.Insert(ctx, click); err != nil {
		r.metrics.ClickFailed()
		return nil, err
	}

	r.metrics.ClickRecorded()
	log.Info().
		Str("id", click.ID).
		Str("referral_id", click.ReferralID).
		Str("session_id", click.SessionID).
		Msg("click recorded")

	return click, nil
}

// RecordConversion marks a click as converted, optionally with the value of
// the resulting purchase. A click converts at most once.
func (r *Recorder) RecordConversion(ctx context.Context, clickID string, value *decimal.Decimal) (*internal.ReferralClick, error) {
	clickID = strings.TrimSpace(clickID)

	verr := &internal.ValidationError{}
	if clickID == "" {
		verr.Add("click_id", "is required")
	}
	if value != nil && value.IsNegative() {
		verr.Add("value", "must not be negative")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	var nv decimal.NullDecimal
	if value != nil {
		nv = decimal.NewNullDecimal(value.Round(2))
	}

	click, err := r.store.MarkConverted(ctx, clickID, nv, r.now().UTC().Round(0))
	if err != nil {
		return nil, err
	}

	r.metrics.ConversionRecorded(nv.Decimal)
	return click, nil
}
