package internal

import (
	"time"

	"github.com/shopspring/decimal"
)

type Referral struct {
	ID              string    `json:"id"`
	Slug            string    `json:"slug"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	Category        string    `json:"category"`
	Company         string    `json:"company"`
	URL             string    `json:"url"`
	ImageURL        string    `json:"image_url"`
	Discount        string    `json:"discount"`
	Bonus           string    `json:"bonus"`
	Rating          float64   `json:"rating"`
	PriceRange      string    `json:"price_range"`
	Active          bool      `json:"active"`
	Featured        bool      `json:"featured"`
	Priority        int       `json:"priority"`
	ClickCount      int64     `json:"click_count"`
	ConversionCount int64     `json:"conversion_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ReferralClick is one recorded visit. Only Converted and ConversionValue
// change after creation, and only once.
type ReferralClick struct {
	ID              string              `json:"id"`
	ReferralID      string              `json:"referral_id"`
	UserID          *string             `json:"user_id"`
	SessionID       string              `json:"session_id"`
	IPAddress       string              `json:"ip_address"`
	UserAgent       string              `json:"user_agent"`
	Referrer        *string             `json:"referrer"`
	ClickedAt       time.Time           `json:"clicked_at"`
	Converted       bool                `json:"converted"`
	ConversionValue decimal.NullDecimal `json:"conversion_value"`
	ConvertedAt     *time.Time          `json:"converted_at,omitempty"`
}

type ReferralStats struct {
	TotalClicks      int64           `json:"total_clicks"`
	TotalConversions int64           `json:"total_conversions"`
	ConversionRate   float64         `json:"conversion_rate"`
	TotalEarnings    decimal.Decimal `json:"total_earnings"`
	TopPerformers    []TopPerformer  `json:"top_performers"`
}

type TopPerformer struct {
	ReferralID     string          `json:"referral_id"`
	Name           string          `json:"name"`
	Slug           string          `json:"slug"`
	Clicks         int64           `json:"clicks"`
	Conversions    int64           `json:"conversions"`
	ConversionRate float64         `json:"conversion_rate"`
	Earnings       decimal.Decimal `json:"earnings"`
}

// ConversionRate is conversions/clicks, zero when there are no clicks.
func ConversionRate(conversions, clicks int64) float64 {
	if clicks <= 0 {
		return 0
	}
	return float64(conversions) / float64(clicks)
}
