package poker

import "math"

// VotingStats aggregates the numeric votes on a story. Uncertain votes
// count toward participation but are excluded from every field here.
type VotingStats struct {
	// Average is the arithmetic mean rounded to one decimal place,
	// half up on the tenths digit.
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	// Count is the number of numeric votes.
	Count int `json:"count"`
}

// CalculateStats computes voting statistics over the numeric votes in
// the given list.
//
// Postcondition: Returns (stats, true), or (zero, false) when there are
// no numeric votes. Statistics are undefined for an all-uncertain or
// empty round.
func CalculateStats(votes []Vote) (VotingStats, bool) {
	var (
		sum      float64
		min, max float64
		count    int
	)
	for _, v := range votes {
		if v.Value.Unknown {
			continue
		}
		n := v.Value.Number
		if count == 0 || n < min {
			min = n
		}
		if count == 0 || n > max {
			max = n
		}
		sum += n
		count++
	}
	if count == 0 {
		return VotingStats{}, false
	}

	return VotingStats{
		Average: math.Round(sum/float64(count)*10) / 10,
		Min:     min,
		Max:     max,
		Count:   count,
	}, true
}
