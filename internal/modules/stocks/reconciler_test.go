package stocks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonxinpan/Tag-Explorer/internal/clients/finnhub"
	"github.com/simonxinpan/Tag-Explorer/internal/clients/polygon"
)

func fp(v float64) *float64 {
	return &v
}

func TestReconcile_FullBar(t *testing.T) {
	bar := &polygon.Bar{Ticker: "AAPL", Open: 100, Close: 110, Volume: 5000}

	u := Reconcile(bar, nil)

	require.NotNil(t, u.LastPrice)
	assert.Equal(t, 110.0, *u.LastPrice)
	require.NotNil(t, u.ChangeAmount)
	assert.Equal(t, 10.0, *u.ChangeAmount)
	require.NotNil(t, u.ChangePercent)
	assert.InDelta(t, 10.0, *u.ChangePercent, 1e-9)
	require.NotNil(t, u.Volume)
	assert.Equal(t, int64(5000), *u.Volume)
}

func TestReconcile_ZeroOpenSkipsChangeFields(t *testing.T) {
	bar := &polygon.Bar{Ticker: "IPO", Open: 0, Close: 42, Volume: 100}

	u := Reconcile(bar, nil)

	require.NotNil(t, u.LastPrice)
	assert.Equal(t, 42.0, *u.LastPrice)
	assert.Nil(t, u.ChangeAmount, "zero open must not produce a change amount")
	assert.Nil(t, u.ChangePercent, "zero open must not produce a change percent")
}

func TestReconcile_ZeroVolumeSkipped(t *testing.T) {
	bar := &polygon.Bar{Ticker: "THIN", Open: 10, Close: 10, Volume: 0}

	u := Reconcile(bar, nil)

	assert.Nil(t, u.Volume)
}

func TestReconcile_SparseFundamentalsPreserveExistingValues(t *testing.T) {
	m := &finnhub.Metrics{
		MarketCap: fp(3e12),
		ROE:       fp(0), // zero means "not reported", must not be written
		PERatio:   nil,
	}

	u := Reconcile(nil, m)

	require.NotNil(t, u.MarketCap)
	assert.Equal(t, 3e12, *u.MarketCap)
	assert.Nil(t, u.ROE, "zero metric must not overwrite a stored value")
	assert.Nil(t, u.PERatio)
	assert.Nil(t, u.LastPrice)
}

func TestReconcile_BothNilIsEmpty(t *testing.T) {
	u := Reconcile(nil, nil)
	assert.True(t, u.IsEmpty())
}
