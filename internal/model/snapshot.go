package model

import "time"

// Snapshot is one observed catalog entry for a query at one crawl time.
type Snapshot struct {
	ArticleID       int64     `json:"article_id"`
	Query           string    `json:"query"`
	ObservedAt      time.Time `json:"observed_at"`
	Name            string    `json:"name"`
	Brand           string    `json:"brand"`
	PriceMinor      int64     `json:"price_minor"` // smallest currency unit, as returned by the marketplace
	LogisticsCost   int64     `json:"logistics_cost"`
	Rating          float64   `json:"rating"`
	FeedbackCount   int       `json:"feedback_count"`
	TotalQuantity   int       `json:"total_quantity"`
	ViewFlags       int       `json:"view_flags"`
	SupplierFlags   int       `json:"supplier_flags"`
	PictureCount    int       `json:"picture_count"`
	SupplierRating  float64   `json:"supplier_rating"`
	Distance        int       `json:"distance"`
	PromotionActive bool      `json:"promotion_active"`
	PromotionType   *string   `json:"promotion_type,omitempty"`
	PromoText       *string   `json:"promo_text,omitempty"`
	CPM             *float64  `json:"cpm,omitempty"`
	PromoPosition   *int      `json:"promo_position,omitempty"`
	OrganicPosition int       `json:"organic_position"`
	ColorCount      int       `json:"color_count"`
}

// Promoted reports whether the paid slot overrides the organic rank.
func (s Snapshot) Promoted() bool {
	return s.PromotionActive && s.PromoPosition != nil && *s.PromoPosition > 0
}

// EffectivePosition returns the rank the marketplace displays: the promo
// slot when the product is promoted, otherwise its organic rank.
func (s Snapshot) EffectivePosition() int {
	if s.Promoted() {
		return *s.PromoPosition
	}
	return s.OrganicPosition
}

// PriceMajor returns the stored major-unit price. Integer division truncates.
func (s Snapshot) PriceMajor() int64 {
	return s.PriceMinor / 100
}

// Record is a persisted snapshot. PriceMinor is not persisted; Price holds
// the stored major-unit value and Position the effective rank selected by
// the store.
type Record struct {
	Snapshot
	Price    int64 `json:"price"`
	Position int   `json:"position"`
}

// NewRecord converts a freshly crawled snapshot into its persisted form.
func NewRecord(s Snapshot) Record {
	return Record{Snapshot: s, Price: s.PriceMajor(), Position: s.EffectivePosition()}
}
