package domain

import (
	"math"
	"sort"
	"time"
)

// ValidateBars checks that bars are strictly ascending by date and carry
// finite, positive prices with High >= Low.
func ValidateBars(symbol string, bars []Bar) error {
	if len(bars) == 0 {
		return Dataf("no bars for %s", symbol)
	}
	for i, b := range bars {
		if !finitePositive(b.Open) || !finitePositive(b.High) || !finitePositive(b.Low) || !finitePositive(b.Close) {
			return Dataf("%s bar %d (%s) has non-positive or non-finite prices", symbol, i, b.Date().Format(time.DateOnly))
		}
		if b.High < b.Low {
			return Dataf("%s bar %d (%s) has high below low", symbol, i, b.Date().Format(time.DateOnly))
		}
		if i > 0 && !bars[i-1].Date().Before(b.Date()) {
			return Dataf("%s bars out of order or duplicated at %s", symbol, b.Date().Format(time.DateOnly))
		}
	}
	return nil
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// AlignCloses inner-joins the series on calendar date and returns the common
// dates together with one close column per input series, in input order.
func AlignCloses(series []PriceSeries) ([]time.Time, [][]float64) {
	if len(series) == 0 {
		return nil, nil
	}

	counts := make(map[time.Time]int)
	lookups := make([]map[time.Time]float64, len(series))
	for i, s := range series {
		m := make(map[time.Time]float64, len(s.Bars))
		for _, b := range s.Bars {
			d := b.Date()
			if _, dup := m[d]; !dup {
				counts[d]++
			}
			m[d] = b.Close
		}
		lookups[i] = m
	}

	var dates []time.Time
	for d, n := range counts {
		if n == len(series) {
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	closes := make([][]float64, len(series))
	for i := range series {
		col := make([]float64, len(dates))
		for j, d := range dates {
			col[j] = lookups[i][d]
		}
		closes[i] = col
	}
	return dates, closes
}

// PercentReturns converts a close column into simple daily returns.
func PercentReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		out[i-1] = closes[i]/closes[i-1] - 1
	}
	return out
}

// NewReturnSeries derives the return series of a symbol from aligned dates
// and closes.
func NewReturnSeries(symbol string, dates []time.Time, closes []float64) ReturnSeries {
	rs := ReturnSeries{Symbol: symbol, Returns: PercentReturns(closes)}
	if len(dates) > 1 {
		rs.Dates = append([]time.Time(nil), dates[1:]...)
	}
	return rs
}
