package rag

import (
	"math"
	"sort"
	"time"

	"github.com/Scopeo/draftnrun-sub004/engine/schema"
	"github.com/Scopeo/draftnrun-sub004/engine/semantic"
)

// RecencyPenalty returns the score penalty for content dated date, measured
// against the start of now's year. Content from the current year is free;
// older content loses rate per year of age, capped at maxYears*rate.
func RecencyPenalty(date, now time.Time, rate, maxYears float64) float64 {
	ref := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	days := math.Floor(ref.Sub(date).Hours() / 24)
	age := math.Max(0, days/365)
	return math.Min(age*rate, maxYears*rate)
}

// applyRecency subtracts the recency penalty from every hit in place and
// re-sorts them by descending score. Hits without a parseable date in field
// receive missing.
func applyRecency(hits []semantic.ScoredPoint, field string, now time.Time, rate, maxYears, missing float64) {
	for i := range hits {
		penalty := missing
		if v, ok := hits[i].Payload[field]; ok {
			if ts, ok := schema.ParseTime(v); ok {
				penalty = RecencyPenalty(ts, now, rate, maxYears)
			}
		}
		hits[i].Score -= float32(penalty)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
}
