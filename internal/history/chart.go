package history

import (
	"time"

	"github.com/sells-group/position-tracker/internal/model"
)

// Point is one sample of the position chart.
type Point struct {
	At       time.Time `json:"at"`
	Position int       `json:"position"`
	Price    int64     `json:"price"`
}

// Chart is the data behind the history view. Best is the lowest position
// number seen, Worst the highest. Both are nil for an empty window.
type Chart struct {
	ArticleID int64          `json:"article_id"`
	Query     string         `json:"query"`
	Records   []model.Record `json:"records"`
	Points    []Point        `json:"points"`
	Best      *Point         `json:"best,omitempty"`
	Worst     *Point         `json:"worst,omitempty"`
}

// BuildChart derives chart points from records already sorted oldest first.
// Ties keep the earliest sample.
func BuildChart(articleID int64, query string, recs []model.Record) Chart {
	c := Chart{ArticleID: articleID, Query: query, Records: recs, Points: make([]Point, 0, len(recs))}
	if c.Records == nil {
		c.Records = []model.Record{}
	}

	for _, r := range recs {
		p := Point{At: r.ObservedAt, Position: r.Position, Price: r.Price}
		c.Points = append(c.Points, p)
	}
	for i := range c.Points {
		p := &c.Points[i]
		if c.Best == nil || p.Position < c.Best.Position {
			c.Best = p
		}
		if c.Worst == nil || p.Position > c.Worst.Position {
			c.Worst = p
		}
	}
	return c
}
