package catalog

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/abdusco/reftrack/internal"
	"github.com/abdusco/reftrack/internal/repo"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

type Store interface {
	Create(ctx context.Context, ref *internal.Referral) error
	Get(ctx context.Context, id string) (*internal.Referral, error)
	GetBySlug(ctx context.Context, slug string) (*internal.Referral, error)
	List(ctx context.Context, filter repo.ListFilter) ([]*internal.Referral, error)
	Update(ctx context.Context, ref *internal.Referral) error
	Delete(ctx context.Context, id string) error
	SlugTaken(ctx context.Context, slug, exceptID string) (bool, error)
}

var _ Store = (*repo.ReferralsRepo)(nil)

type CreateReferralInput struct {
	Slug        string  `json:"slug"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Company     string  `json:"company"`
	URL         string  `json:"url"`
	ImageURL    string  `json:"image_url"`
	Discount    string  `json:"discount"`
	Bonus       string  `json:"bonus"`
	Rating      float64 `json:"rating"`
	PriceRange  string  `json:"price_range"`
	Active      *bool   `json:"active"`
	Featured    bool    `json:"featured"`
	Priority    int     `json:"priority"`
}

// UpdateReferralInput changes only the fields that are set.
type UpdateReferralInput struct {
	Slug        *string  `json:"slug"`
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Category    *string  `json:"category"`
	Company     *string  `json:"company"`
	URL         *string  `json:"url"`
	ImageURL    *string  `json:"image_url"`
	Discount    *string  `json:"discount"`
	Bonus       *string  `json:"bonus"`
	Rating      *float64 `json:"rating"`
	PriceRange  *string  `json:"price_range"`
	Active      *bool    `json:"active"`
	Featured    *bool    `json:"featured"`
	Priority    *int     `json:"priority"`
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

func (s *Service) Create(ctx context.Context, in CreateReferralInput) (*internal.Referral, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.URL = strings.TrimSpace(in.URL)
	in.Slug = Slugify(lo.Ternary(strings.TrimSpace(in.Slug) != "", in.Slug, in.Name))

	now := s.now().UTC().Round(0)
	ref := &internal.Referral{
		ID:          uuid.NewString(),
		Slug:        in.Slug,
		Name:        in.Name,
		Description: strings.TrimSpace(in.Description),
		Category:    strings.TrimSpace(in.Category),
		Company:     strings.TrimSpace(in.Company),
		URL:         in.URL,
		ImageURL:    strings.TrimSpace(in.ImageURL),
		Discount:    strings.TrimSpace(in.Discount),
		Bonus:       strings.TrimSpace(in.Bonus),
		Rating:      in.Rating,
		PriceRange:  strings.TrimSpace(in.PriceRange),
		Active:      lo.FromPtrOr(in.Active, true),
		Featured:    in.Featured,
		Priority:    in.Priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := validate(ref); err != nil {
		return nil, err
	}

	taken, err := s.store.SlugTaken(ctx, ref.Slug, "")
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, internal.ErrSlugExists
	}

	if err := s.store.Create(ctx, ref); err != nil {
		return nil, err
	}
	return ref, nil
}

func (s *Service) Update(ctx context.Context, id string, in UpdateReferralInput) (*internal.Referral, error) {
	ref, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	ref.Name = strings.TrimSpace(lo.FromPtrOr(in.Name, ref.Name))
	ref.Description = lo.FromPtrOr(in.Description, ref.Description)
	ref.Category = lo.FromPtrOr(in.Category, ref.Category)
	ref.Company = lo.FromPtrOr(in.Company, ref.Company)
	ref.URL = strings.TrimSpace(lo.FromPtrOr(in.URL, ref.URL))
	ref.ImageURL = lo.FromPtrOr(in.ImageURL, ref.ImageURL)
	ref.Discount = lo.FromPtrOr(in.Discount, ref.Discount)
	ref.Bonus = lo.FromPtrOr(in.Bonus, ref.Bonus)
	ref.Rating = lo.FromPtrOr(in.Rating, ref.Rating)
	ref.PriceRange = lo.FromPtrOr(in.PriceRange, ref.PriceRange)
	ref.Active = lo.FromPtrOr(in.Active, ref.Active)
	ref.Featured = lo.FromPtrOr(in.Featured, ref.Featured)
	ref.Priority = lo.FromPtrOr(in.Priority, ref.Priority)
	ref.UpdatedAt = s.now().UTC().Round(0)

	if in.Slug != nil {
		ref.Slug = Slugify(*in.Slug)
	}

	if err := validate(ref); err != nil {
		return nil, err
	}

	if in.Slug != nil {
		taken, err := s.store.SlugTaken(ctx, ref.Slug, ref.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, internal.ErrSlugExists
		}
	}

	if err := s.store.Update(ctx, ref); err != nil {
		return nil, err
	}
	return ref, nil
}

func (s *Service) Get(ctx context.Context, id string) (*internal.Referral, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) GetBySlug(ctx context.Context, slug string) (*internal.Referral, error) {
	return s.store.GetBySlug(ctx, slug)
}

func (s *Service) List(ctx context.Context, filter repo.ListFilter) ([]*internal.Referral, error) {
	return s.store.List(ctx, filter)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

func validate(ref *internal.Referral) error {
	verr := &internal.ValidationError{}
	if ref.Name == "" {
		verr.Add("name", "is required")
	}
	if ref.Slug == "" {
		verr.Add("slug", "must contain letters or digits")
	}
	if ref.URL == "" {
		verr.Add("url", "is required")
	} else if u, err := url.ParseRequestURI(ref.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		verr.Add("url", "is not a valid URL")
	}
	if ref.Rating < 0 || ref.Rating > 5 {
		verr.Add("rating", "must be between 0 and 5")
	}
	return verr.OrNil()
}

// Slugify lowercases s and joins its ASCII letter and digit runs with dashes.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
		default:
			dash = true
		}
	}
	return b.String()
}
