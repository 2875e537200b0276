package domain

import "time"

// Discount is a percentage promotion attached to a product.
type Discount struct {
	Percentage string
	Active     bool
	StartsAt   *time.Time
	EndsAt     *time.Time
}

// ActiveAt reports whether the discount applies at the given instant.
func (d Discount) ActiveAt(now time.Time) bool {
	if !d.Active {
		return false
	}
	if d.StartsAt != nil && now.Before(*d.StartsAt) {
		return false
	}
	if d.EndsAt != nil && !now.Before(*d.EndsAt) {
		return false
	}
	return true
}

// Totals are the last-known order figures shown to the shopper during checkout.
type Totals struct {
	DiscountPercentage string    `json:"discountPercentage"`
	OriginalAmount     int64     `json:"originalAmount"`
	DiscountAmount     int64     `json:"discountAmount"`
	FinalAmount        int64     `json:"finalAmount"`
	UpdatedAt          time.Time `json:"updatedAt"`
}
