package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int { return &v }

func TestSnapshot_EffectivePosition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		snap Snapshot
		want int
	}{
		{"organic", Snapshot{OrganicPosition: 7}, 7},
		{"promoted with slot", Snapshot{OrganicPosition: 40, PromotionActive: true, PromoPosition: intPtr(5)}, 5},
		{"promoted without slot", Snapshot{OrganicPosition: 40, PromotionActive: true}, 40},
		{"promoted with zero slot", Snapshot{OrganicPosition: 40, PromotionActive: true, PromoPosition: intPtr(0)}, 40},
		{"slot without promotion", Snapshot{OrganicPosition: 12, PromoPosition: intPtr(3)}, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.snap.EffectivePosition())
		})
	}
}

func TestNewRecord(t *testing.T) {
	t.Parallel()

	s := Snapshot{ArticleID: 1, Query: "чайник", PriceMinor: 129999, OrganicPosition: 3}
	r := NewRecord(s)

	assert.Equal(t, int64(1299), r.Price)
	assert.Equal(t, 3, r.Position)
	assert.Equal(t, int64(1), r.ArticleID)
}
