package tags

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonxinpan/Tag-Explorer/internal/modules/stocks"
)

func fp(v float64) *float64 {
	return &v
}

func stockWithCap(ticker string, marketCap float64) stocks.Stock {
	return stocks.Stock{Ticker: ticker, MarketCap: fp(marketCap)}
}

func TestComputeSize_BucketBoundaries(t *testing.T) {
	universe := []stocks.Stock{
		stockWithCap("MEGA", 250e9),
		stockWithCap("EXACT200", 200e9), // boundary lands in lower bucket
		stockWithCap("LARGE", 100e9),
		stockWithCap("EXACT50", 50e9),
		stockWithCap("MID", 20e9),
		stockWithCap("EXACT10", 10e9),
		stockWithCap("SMALL", 5e9),
		stockWithCap("EXACT2", 2e9),
		stockWithCap("MICRO", 500e6),
		{Ticker: "NOCAP"}, // missing field, excluded from family
	}

	result := ComputeFamily(FamilySize, universe)

	assert.Equal(t, []string{"MEGA"}, result["超大盘股"])
	assert.Equal(t, []string{"EXACT200", "LARGE"}, result["大盘股"])
	assert.Equal(t, []string{"EXACT50", "MID"}, result["中盘股"])
	assert.Equal(t, []string{"EXACT10", "SMALL"}, result["小盘股"])
	assert.Equal(t, []string{"EXACT2", "MICRO"}, result["微盘股"])

	// Exactly one bucket per stock, NOCAP in none
	total := 0
	for _, tickers := range result {
		total += len(tickers)
		assert.NotContains(t, tickers, "NOCAP")
	}
	assert.Equal(t, 9, total)
}

func TestComputePrice_Buckets(t *testing.T) {
	universe := []stocks.Stock{
		{Ticker: "HIGH", LastPrice: fp(1500)},
		{Ticker: "MID", LastPrice: fp(250)},
		{Ticker: "EXACT100", LastPrice: fp(100)},
		{Ticker: "LOW", LastPrice: fp(50)},
		{Ticker: "PENNY", LastPrice: fp(3)},
		{Ticker: "EXACT10", LastPrice: fp(10)},
	}

	result := ComputeFamily(FamilyPrice, universe)

	assert.Equal(t, []string{"HIGH"}, result["高价股"])
	assert.Equal(t, []string{"MID"}, result["中价股"])
	assert.Equal(t, []string{"EXACT100", "LOW"}, result["低价股"])
	assert.Equal(t, []string{"PENNY", "EXACT10"}, result["超低价股"])
}

func TestComputeMomentum_Buckets(t *testing.T) {
	cases := []struct {
		ticker string
		change float64
		bucket string
	}{
		{"LIMITUP", 10.0, "涨停板"},
		{"LIMITUPLOW", 9.95, "涨停板"},
		{"LIMITDOWN", -10.0, "跌停板"},
		{"SURGE", 7.5, "强势上涨"},
		{"BIGSURGE", 12.0, "强势上涨"}, // beyond the limit band, unrestricted board
		{"MILD", 3.0, "温和上涨"},
		{"TINY", 0.5, "微涨"},
		{"FLAT", 0.0, "平盘"},
		{"TINYDOWN", -1.5, "微跌"},
		{"MILDDOWN", -4.0, "温和下跌"},
		{"CRASH", -12.0, "大幅下跌"},
	}

	var universe []stocks.Stock
	for _, c := range cases {
		universe = append(universe, stocks.Stock{Ticker: c.ticker, ChangePercent: fp(c.change)})
	}

	result := ComputeFamily(FamilyMomentum, universe)

	for _, c := range cases {
		assert.Contains(t, result[c.bucket], c.ticker, "change %.2f should land in %s", c.change, c.bucket)
	}
}

func TestComputeValuation_IndependentRules(t *testing.T) {
	universe := []stocks.Stock{
		// Qualifies for three tags at once
		{Ticker: "ALL", ROE: fp(25), PERatio: fp(12), DividendYield: fp(4)},
		// Growth only
		{Ticker: "GROWTH", PERatio: fp(40)},
		// Negative PE is neither value nor growth
		{Ticker: "LOSS", PERatio: fp(-5)},
		{Ticker: "NONE"},
	}

	result := ComputeFamily(FamilyValuation, universe)

	assert.Equal(t, []string{"ALL"}, result["高ROE"])
	assert.Equal(t, []string{"ALL"}, result["价值股"])
	assert.Equal(t, []string{"GROWTH"}, result["成长股"])
	assert.Equal(t, []string{"ALL"}, result["高股息"])
}

func TestComputeTechnical_RangeBands(t *testing.T) {
	universe := []stocks.Stock{
		// 196 >= 200*0.98, inside the high band
		{Ticker: "NEARHIGH", LastPrice: fp(196), Week52High: fp(200), Week52Low: fp(100)},
		// 101 <= 100*1.02, inside the low band
		{Ticker: "NEARLOW", LastPrice: fp(101), Week52High: fp(300), Week52Low: fp(100)},
		{Ticker: "MIDDLE", LastPrice: fp(150), Week52High: fp(300), Week52Low: fp(100)},
		// Zero range values never match
		{Ticker: "ZERORANGE", LastPrice: fp(150), Week52High: fp(0), Week52Low: fp(0)},
	}

	result := ComputeFamily(FamilyTechnical, universe)

	assert.Equal(t, []string{"NEARHIGH"}, result["52周新高"])
	assert.Equal(t, []string{"NEARLOW"}, result["52周新低"])
}

func TestComputeSector_MemberFloor(t *testing.T) {
	var universe []stocks.Stock
	for i := 0; i < minSectorMembers; i++ {
		universe = append(universe, stocks.Stock{Ticker: string(rune('A' + i)), Sector: "科技"})
	}
	universe = append(universe, stocks.Stock{Ticker: "LONE", Sector: "航运"})

	result := ComputeFamily(FamilySector, universe)

	require.Contains(t, result, "科技")
	assert.Len(t, result["科技"], minSectorMembers)
	assert.NotContains(t, result, "航运")
}

func TestComputeIndex_SubstringMatch(t *testing.T) {
	universe := []stocks.Stock{
		{Ticker: "BOTH", IndexMembership: "标普500,纳斯达克100"},
		{Ticker: "DOW", IndexMembership: "道琼斯"},
		{Ticker: "NONE", IndexMembership: ""},
	}

	result := ComputeFamily(FamilyIndex, universe)

	assert.Equal(t, []string{"BOTH"}, result["标普500"])
	assert.Equal(t, []string{"BOTH"}, result["纳斯达克100"])
	assert.Equal(t, []string{"DOW"}, result["道琼斯"])
}

// Bucketed families must emit their whole fixed tag set even when a bucket
// currently has no members; a bucket missing from the map would never reach
// the applier, leaving its previous members in place.
func TestComputeFamily_EmitsEmptyBuckets(t *testing.T) {
	universe := []stocks.Stock{
		{Ticker: "FLAT", ChangePercent: fp(0), LastPrice: fp(50), MarketCap: fp(80e9)},
	}

	momentum := ComputeFamily(FamilyMomentum, universe)
	require.Len(t, momentum, len(momentumTagNames))
	assert.Equal(t, []string{"FLAT"}, momentum["平盘"])
	assert.Empty(t, momentum["涨停板"])
	assert.Empty(t, momentum["大幅下跌"])

	size := ComputeFamily(FamilySize, universe)
	require.Len(t, size, len(sizeTagNames))
	assert.Empty(t, size["微盘股"])

	price := ComputeFamily(FamilyPrice, universe)
	require.Len(t, price, len(priceTagNames))

	valuation := ComputeFamily(FamilyValuation, universe)
	require.Len(t, valuation, len(valuationTagNames))
	assert.Empty(t, valuation["价值股"])

	technical := ComputeFamily(FamilyTechnical, universe)
	require.Len(t, technical, len(technicalTagNames))
}

func TestComputeFamily_UnknownFamilyIsEmpty(t *testing.T) {
	result := ComputeFamily("nonsense", []stocks.Stock{{Ticker: "AAPL", LastPrice: fp(150)}})
	assert.Empty(t, result)
}

// A single stock flowing through every dynamic family at once
func TestComputeFamilies_CombinedScenario(t *testing.T) {
	stock := stocks.Stock{
		Ticker:        "SCENARIO",
		LastPrice:     fp(50),
		ChangePercent: fp(-12),
		MarketCap:     fp(80e9),
		PERatio:       fp(12),
		ROE:           fp(22),
	}
	universe := []stocks.Stock{stock}

	assert.Contains(t, ComputeFamily(FamilySize, universe)["大盘股"], "SCENARIO")
	assert.Contains(t, ComputeFamily(FamilyPrice, universe)["低价股"], "SCENARIO")
	assert.Contains(t, ComputeFamily(FamilyMomentum, universe)["大幅下跌"], "SCENARIO")
	assert.Contains(t, ComputeFamily(FamilyValuation, universe)["价值股"], "SCENARIO")
	assert.Contains(t, ComputeFamily(FamilyValuation, universe)["高ROE"], "SCENARIO")
}
