package catalog

import (
	"bytes"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/sells-group/position-tracker/internal/model"
)

const (
	defaultName  = "no name"
	defaultBrand = "no brand"
)

type searchPage struct {
	Data *struct {
		Products json.RawMessage `json:"products"`
	} `json:"data"`
}

type wireProduct struct {
	ID             *int64            `json:"id"`
	Name           *string           `json:"name"`
	Brand          *string           `json:"brand"`
	ReviewRating   *float64          `json:"reviewRating"`
	Feedbacks      int               `json:"feedbacks"`
	TotalQuantity  int               `json:"totalQuantity"`
	ViewFlags      int               `json:"viewFlags"`
	SupplierFlags  int               `json:"supplierFlags"`
	Pics           int               `json:"pics"`
	SupplierRating float64           `json:"supplierRating"`
	Dist           int               `json:"dist"`
	PromoTextCard  *string           `json:"promoTextCard"`
	Colors         []json.RawMessage `json:"colors"`
	Sizes          []wireSize        `json:"sizes"`
	Log            *wireLog          `json:"log"`
}

type wireSize struct {
	Price *struct {
		Total     int64 `json:"total"`
		Logistics int64 `json:"logistics"`
	} `json:"price"`
}

// wireLog carries the advertising block. promotion is a number or a bool
// depending on the API revision.
type wireLog struct {
	Promotion     json.RawMessage `json:"promotion"`
	TP            *string         `json:"tp"`
	CPM           *float64        `json:"cpm"`
	PromoPosition *int            `json:"promoPosition"`
	Position      *int            `json:"position"`
}

// decodePage returns the products of one search page. A page with no
// data block or no products list decodes to zero products.
func decodePage(body []byte) ([]wireProduct, error) {
	var page searchPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, &model.ValidationError{Field: "page", Reason: "malformed JSON", Err: err}
	}
	if page.Data == nil || isNull(page.Data.Products) {
		return nil, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(page.Data.Products, &raw); err != nil {
		return nil, &model.ValidationError{Field: "data.products", Reason: "not an array", Err: err}
	}

	products := make([]wireProduct, len(raw))
	for i, r := range raw {
		if err := json.Unmarshal(r, &products[i]); err != nil {
			return nil, &model.ValidationError{Field: fmt.Sprintf("data.products[%d]", i), Reason: "invalid product", Err: err}
		}
		if products[i].ID == nil {
			return nil, &model.ValidationError{Field: fmt.Sprintf("data.products[%d].id", i), Reason: "missing"}
		}
	}
	return products, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// promotionActive treats absent, null, zero, false and empty values as inactive.
func (l *wireLog) promotionActive() bool {
	if l == nil || isNull(l.Promotion) {
		return false
	}
	switch string(bytes.TrimSpace(l.Promotion)) {
	case "0", "false", `""`, `"0"`:
		return false
	}
	return true
}

func (p wireProduct) snapshot(query string, observedAt time.Time, organic int) model.Snapshot {
	s := model.Snapshot{
		ArticleID:       *p.ID,
		Query:           query,
		ObservedAt:      observedAt,
		Name:            defaultName,
		Brand:           defaultBrand,
		FeedbackCount:   p.Feedbacks,
		TotalQuantity:   p.TotalQuantity,
		ViewFlags:       p.ViewFlags,
		SupplierFlags:   p.SupplierFlags,
		PictureCount:    p.Pics,
		SupplierRating:  p.SupplierRating,
		Distance:        p.Dist,
		PromoText:       p.PromoTextCard,
		OrganicPosition: organic,
		ColorCount:      len(p.Colors),
	}
	if p.Name != nil && *p.Name != "" {
		s.Name = *p.Name
	}
	if p.Brand != nil && *p.Brand != "" {
		s.Brand = *p.Brand
	}
	if p.ReviewRating != nil {
		s.Rating = *p.ReviewRating
	}
	if len(p.Sizes) > 0 && p.Sizes[0].Price != nil {
		s.PriceMinor = p.Sizes[0].Price.Total
		s.LogisticsCost = p.Sizes[0].Price.Logistics
	}
	if p.Log != nil {
		s.PromotionActive = p.Log.promotionActive()
		s.PromotionType = p.Log.TP
		s.CPM = p.Log.CPM
		s.PromoPosition = p.Log.PromoPosition
	}
	return s
}
