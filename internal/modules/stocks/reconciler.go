package stocks

import (
	"github.com/simonxinpan/Tag-Explorer/internal/clients/finnhub"
	"github.com/simonxinpan/Tag-Explorer/internal/clients/polygon"
)

// Reconcile merges one ticker's snapshot bar and fundamentals response into
// a sparse update. Either input may be nil. Rules:
//   - the close price is always taken from the bar;
//   - change amount/percent are computed only when the open price is
//     positive (a zero open silently skips the change fields, never errors);
//   - volume is taken when positive;
//   - each fundamentals field is assigned only when the provider returned a
//     non-nil, non-zero value, so sparse responses never erase known data.
func Reconcile(bar *polygon.Bar, m *finnhub.Metrics) Update {
	var u Update

	if bar != nil {
		closePrice := bar.Close
		u.LastPrice = &closePrice

		if bar.Open > 0 {
			change := bar.Close - bar.Open
			changePct := change / bar.Open * 100
			u.ChangeAmount = &change
			u.ChangePercent = &changePct
		}

		if bar.Volume > 0 {
			volume := bar.Volume
			u.Volume = &volume
		}
	}

	if m != nil {
		u.MarketCap = nonZero(m.MarketCap)
		u.ROE = nonZero(m.ROE)
		u.PERatio = nonZero(m.PERatio)
		u.Week52High = nonZero(m.Week52High)
		u.Week52Low = nonZero(m.Week52Low)
		u.DividendYield = nonZero(m.DividendYield)
	}

	return u
}

// nonZero passes a metric through only when present and non-zero
func nonZero(v *float64) *float64 {
	if v == nil || *v == 0 {
		return nil
	}
	val := *v
	return &val
}
