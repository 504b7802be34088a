// Package indicator derives the technical indicator columns that strategy
// rules read: moving averages, RSI, MACD and Bollinger bands. Every column
// has one value per bar; values inside an indicator's warm-up window are NaN.
package indicator

import (
	"math"

	"github.com/montanaflynn/stats"

	"quantlab/internal/domain"
)

// Column names exposed to strategy rules.
const (
	Open       = "open"
	High       = "high"
	Low        = "low"
	Close      = "close"
	Volume     = "volume"
	MA5        = "ma5"
	MA20       = "ma20"
	MA60       = "ma60"
	RSI        = "rsi"
	MACD       = "macd"
	MACDSignal = "macd_signal"
	MACDHist   = "macd_hist"
	BBMiddle   = "bb_middle"
	BBUpper    = "bb_upper"
	BBLower    = "bb_lower"
)

// Names lists every column a Frame carries, in a stable order.
func Names() []string {
	return []string{
		Open, High, Low, Close, Volume,
		MA5, MA20, MA60, RSI,
		MACD, MACDSignal, MACDHist,
		BBMiddle, BBUpper, BBLower,
	}
}

// IsColumn reports whether name is a known column.
func IsColumn(name string) bool {
	for _, n := range Names() {
		if n == name {
			return true
		}
	}
	return false
}

// Frame is a bar series augmented with indicator columns. It is built once
// per run and never modified afterwards.
type Frame struct {
	Bars []domain.Bar
	cols map[string][]float64
}

// Compute builds a Frame over bars.
func Compute(bars []domain.Bar) *Frame {
	n := len(bars)
	cols := make(map[string][]float64, len(Names()))

	open := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	volume := make([]float64, n)
	for i, b := range bars {
		open[i] = b.Open
		high[i] = b.High
		low[i] = b.Low
		closes[i] = b.Close
		volume[i] = float64(b.Volume)
	}
	cols[Open] = open
	cols[High] = high
	cols[Low] = low
	cols[Close] = closes
	cols[Volume] = volume

	cols[MA5] = SMA(closes, 5)
	cols[MA20] = SMA(closes, 20)
	cols[MA60] = SMA(closes, 60)
	cols[RSI] = RelativeStrength(closes, 14)

	macd, signal, hist := MovingAverageConvergence(closes, 12, 26, 9)
	cols[MACD] = macd
	cols[MACDSignal] = signal
	cols[MACDHist] = hist

	mid, upper, lower := Bollinger(closes, 20, 2)
	cols[BBMiddle] = mid
	cols[BBUpper] = upper
	cols[BBLower] = lower

	return &Frame{Bars: bars, cols: cols}
}

// Len returns the number of bars in the frame.
func (f *Frame) Len() int { return len(f.Bars) }

// Column returns the named column. The returned slice must not be modified.
func (f *Frame) Column(name string) ([]float64, bool) {
	c, ok := f.cols[name]
	return c, ok
}

// ---------------------------------------------------------------------------
// Indicator functions
// ---------------------------------------------------------------------------

// SMA returns the simple moving average over a trailing window of n values.
func SMA(values []float64, n int) []float64 {
	out := nanSlice(len(values))
	if n <= 0 {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= n {
			sum -= values[i-n]
		}
		if i >= n-1 {
			out[i] = sum / float64(n)
		}
	}
	return out
}

// RollingStd returns the sample standard deviation over a trailing window of
// n values.
func RollingStd(values []float64, n int) []float64 {
	out := nanSlice(len(values))
	if n < 2 {
		return out
	}
	for i := n - 1; i < len(values); i++ {
		sd, err := stats.StandardDeviationSample(values[i-n+1 : i+1])
		if err == nil {
			out[i] = sd
		}
	}
	return out
}

// EMA returns the exponential moving average with smoothing 2/(span+1),
// seeded with the first value.
func EMA(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / (float64(span) + 1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RelativeStrength returns the n-period RSI using simple averages of gains
// and losses. A window with no losses yields 100; a window with no movement
// yields NaN.
func RelativeStrength(closes []float64, n int) []float64 {
	out := nanSlice(len(closes))
	if len(closes) == 0 || n <= 0 {
		return out
	}
	gains := make([]float64, len(closes))
	losses := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gains[i] = d
		} else {
			losses[i] = -d
		}
	}
	avgGain := SMA(gains, n)
	avgLoss := SMA(losses, n)
	for i := range closes {
		g, l := avgGain[i], avgLoss[i]
		switch {
		case math.IsNaN(g) || math.IsNaN(l):
		case l == 0 && g == 0:
		case l == 0:
			out[i] = 100
		default:
			out[i] = 100 - 100/(1+g/l)
		}
	}
	return out
}

// MovingAverageConvergence returns the MACD line, its signal line and the
// histogram between them.
func MovingAverageConvergence(closes []float64, fast, slow, signal int) (macd, sig, hist []float64) {
	f := EMA(closes, fast)
	s := EMA(closes, slow)
	macd = make([]float64, len(closes))
	for i := range closes {
		macd[i] = f[i] - s[i]
	}
	sig = EMA(macd, signal)
	hist = make([]float64, len(closes))
	for i := range closes {
		hist[i] = macd[i] - sig[i]
	}
	return macd, sig, hist
}

// Bollinger returns the middle, upper and lower bands at k standard
// deviations around an n-period moving average.
func Bollinger(closes []float64, n int, k float64) (mid, upper, lower []float64) {
	mid = SMA(closes, n)
	sd := RollingStd(closes, n)
	upper = make([]float64, len(closes))
	lower = make([]float64, len(closes))
	for i := range closes {
		upper[i] = mid[i] + k*sd[i]
		lower[i] = mid[i] - k*sd[i]
	}
	return mid, upper, lower
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
