package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantlab/internal/domain"
)

func TestSMA(t *testing.T) {
	got := SMA([]float64{1, 2, 3, 4, 5}, 3)
	assert.True(t, math.IsNaN(got[0]))
	assert.True(t, math.IsNaN(got[1]))
	assert.InDelta(t, 2.0, got[2], 1e-12)
	assert.InDelta(t, 3.0, got[3], 1e-12)
	assert.InDelta(t, 4.0, got[4], 1e-12)
}

func TestEMASeededWithFirstValue(t *testing.T) {
	got := EMA([]float64{10, 20}, 3)
	assert.Equal(t, 10.0, got[0])
	assert.InDelta(t, 15.0, got[1], 1e-12)
}

func TestRelativeStrength(t *testing.T) {
	rising := make([]float64, 20)
	for i := range rising {
		rising[i] = float64(100 + i)
	}
	rsi := RelativeStrength(rising, 14)
	assert.True(t, math.IsNaN(rsi[12]))
	assert.Equal(t, 100.0, rsi[19])

	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 50
	}
	assert.True(t, math.IsNaN(RelativeStrength(flat, 14)[19]))

	alternating := make([]float64, 30)
	for i := range alternating {
		alternating[i] = 100 + float64(i%2)
	}
	assert.InDelta(t, 50.0, RelativeStrength(alternating, 14)[29], 1e-9)
}

func TestBollingerFlatSeriesCollapses(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 42
	}
	mid, upper, lower := Bollinger(closes, 20, 2)
	assert.Equal(t, 42.0, mid[24])
	assert.Equal(t, 42.0, upper[24])
	assert.Equal(t, 42.0, lower[24])
	assert.True(t, math.IsNaN(upper[18]))
}

func TestComputeFrame(t *testing.T) {
	bars := make([]domain.Bar, 70)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		p := 100 + float64(i)
		bars[i] = domain.Bar{Timestamp: start.AddDate(0, 0, i), Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 1000}
	}

	f := Compute(bars)
	require.Equal(t, 70, f.Len())
	for _, name := range Names() {
		col, ok := f.Column(name)
		require.True(t, ok, name)
		assert.Len(t, col, 70, name)
	}

	ma60, _ := f.Column(MA60)
	assert.True(t, math.IsNaN(ma60[58]))
	assert.InDelta(t, 100+29.5, ma60[59], 1e-9)

	vol, _ := f.Column(Volume)
	assert.Equal(t, 1000.0, vol[0])

	_, ok := f.Column("sentiment")
	assert.False(t, ok)
	assert.True(t, IsColumn("macd_hist"))
	assert.False(t, IsColumn("sentiment"))
}
