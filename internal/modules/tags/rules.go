package tags

import (
	"strings"

	"github.com/simonxinpan/Tag-Explorer/internal/modules/stocks"
)

// Size bucket thresholds in dollars, strictly descending. Comparisons are
// strict: a market cap of exactly 200B lands in the lower bucket.
const (
	megaCapFloor  = 200e9
	largeCapFloor = 50e9
	midCapFloor   = 10e9
	smallCapFloor = 2e9
)

// Limit-up/limit-down detection band. A move is tagged 涨停板/跌停板 only
// when it sits at the ±10% limit itself; larger moves (possible on
// unrestricted boards) fall into the open-ended 强势上涨/大幅下跌 buckets.
const (
	limitBandLow  = 9.9
	limitBandHigh = 10.1
)

// minSectorMembers suppresses noise tags: a sector produces a tag only when
// at least this many stocks carry it.
const minSectorMembers = 10

// indexTagNames are the index-membership tags derived from the stored
// membership marker via substring match.
var indexTagNames = []string{"标普500", "纳斯达克100", "道琼斯"}

// Fixed tag names per bucketed family. Dynamic recomputation emits every
// name here on every run, with an empty member list where nothing
// qualifies, so that replacement clears associations a tag no longer earns.
var (
	sizeTagNames      = []string{"超大盘股", "大盘股", "中盘股", "小盘股", "微盘股"}
	priceTagNames     = []string{"高价股", "中价股", "低价股", "超低价股"}
	momentumTagNames  = []string{"涨停板", "跌停板", "强势上涨", "温和上涨", "微涨", "平盘", "微跌", "温和下跌", "大幅下跌"}
	valuationTagNames = []string{"高ROE", "价值股", "成长股", "高股息"}
	technicalTagNames = []string{"52周新高", "52周新低"}
)

// seedMembership pre-fills a membership map with every fixed tag name of a
// family. An entry left empty still reaches the applier, which is what
// removes stale members and keeps the tag visible while it has none.
func seedMembership(names []string) map[string][]string {
	result := make(map[string][]string, len(names))
	for _, name := range names {
		result[name] = []string{}
	}
	return result
}

// ComputeFamily maps the current stock universe to one family's tag
// memberships: tag name to the tickers that qualify right now. Pure
// function; stocks missing a required field are excluded from the family
// entirely rather than default-bucketed. Families with a fixed tag set
// always emit every name, empty or not.
func ComputeFamily(family string, all []stocks.Stock) map[string][]string {
	switch family {
	case FamilySize:
		return computeSize(all)
	case FamilyPrice:
		return computePrice(all)
	case FamilyMomentum:
		return computeMomentum(all)
	case FamilyValuation:
		return computeValuation(all)
	case FamilyTechnical:
		return computeTechnical(all)
	case FamilySector:
		return computeSector(all)
	case FamilyIndex:
		return computeIndex(all)
	default:
		return map[string][]string{}
	}
}

// computeSize assigns exactly one market-cap bucket per stock with a
// non-null market cap. First match wins, so buckets are mutually exclusive
// and collectively exhaustive.
func computeSize(all []stocks.Stock) map[string][]string {
	result := seedMembership(sizeTagNames)
	for _, s := range all {
		if s.MarketCap == nil {
			continue
		}
		cap := *s.MarketCap
		var bucket string
		switch {
		case cap > megaCapFloor:
			bucket = "超大盘股"
		case cap > largeCapFloor:
			bucket = "大盘股"
		case cap > midCapFloor:
			bucket = "中盘股"
		case cap > smallCapFloor:
			bucket = "小盘股"
		default:
			bucket = "微盘股"
		}
		result[bucket] = append(result[bucket], s.Ticker)
	}
	return result
}

// computePrice assigns exactly one price band per stock with a known price
func computePrice(all []stocks.Stock) map[string][]string {
	result := seedMembership(priceTagNames)
	for _, s := range all {
		if s.LastPrice == nil {
			continue
		}
		price := *s.LastPrice
		var bucket string
		switch {
		case price > 1000:
			bucket = "高价股"
		case price > 100:
			bucket = "中价股"
		case price > 10:
			bucket = "低价股"
		default:
			bucket = "超低价股"
		}
		result[bucket] = append(result[bucket], s.Ticker)
	}
	return result
}

// computeMomentum assigns exactly one momentum bucket from change_percent.
// Boundaries sit at ±10, ±5, ±2 and 0; the ±10 boundary is the
// limit-up/limit-down band.
func computeMomentum(all []stocks.Stock) map[string][]string {
	result := seedMembership(momentumTagNames)
	for _, s := range all {
		if s.ChangePercent == nil {
			continue
		}
		cp := *s.ChangePercent
		var bucket string
		switch {
		case cp >= limitBandLow && cp <= limitBandHigh:
			bucket = "涨停板"
		case cp <= -limitBandLow && cp >= -limitBandHigh:
			bucket = "跌停板"
		case cp > 5:
			bucket = "强势上涨"
		case cp > 2:
			bucket = "温和上涨"
		case cp > 0:
			bucket = "微涨"
		case cp == 0:
			bucket = "平盘"
		case cp >= -2:
			bucket = "微跌"
		case cp >= -5:
			bucket = "温和下跌"
		default:
			bucket = "大幅下跌"
		}
		result[bucket] = append(result[bucket], s.Ticker)
	}
	return result
}

// computeValuation applies independent boolean rules: a stock may receive
// zero, one, or several of these tags. Each rule skips stocks missing its
// own input field.
func computeValuation(all []stocks.Stock) map[string][]string {
	result := seedMembership(valuationTagNames)
	for _, s := range all {
		if s.ROE != nil && *s.ROE > 20 {
			result["高ROE"] = append(result["高ROE"], s.Ticker)
		}
		if s.PERatio != nil && *s.PERatio > 0 && *s.PERatio < 15 {
			result["价值股"] = append(result["价值股"], s.Ticker)
		}
		if s.PERatio != nil && *s.PERatio > 25 {
			result["成长股"] = append(result["成长股"], s.Ticker)
		}
		if s.DividendYield != nil && *s.DividendYield > 3 {
			result["高股息"] = append(result["高股息"], s.Ticker)
		}
	}
	return result
}

// computeTechnical applies the 52-week range rules with tolerance bands
// rather than exact equality.
func computeTechnical(all []stocks.Stock) map[string][]string {
	result := seedMembership(technicalTagNames)
	for _, s := range all {
		if s.LastPrice == nil {
			continue
		}
		price := *s.LastPrice
		if s.Week52High != nil && *s.Week52High > 0 && price >= *s.Week52High*0.98 {
			result["52周新高"] = append(result["52周新高"], s.Ticker)
		}
		if s.Week52Low != nil && *s.Week52Low > 0 && price <= *s.Week52Low*1.02 {
			result["52周新低"] = append(result["52周新低"], s.Ticker)
		}
	}
	return result
}

// computeSector discovers sector tags from the data itself.
// Sectors below the member floor produce no tag.
func computeSector(all []stocks.Stock) map[string][]string {
	bySector := map[string][]string{}
	for _, s := range all {
		sector := strings.TrimSpace(s.Sector)
		if sector == "" {
			continue
		}
		bySector[sector] = append(bySector[sector], s.Ticker)
	}

	result := map[string][]string{}
	for sector, tickers := range bySector {
		if len(tickers) >= minSectorMembers {
			result[sector] = tickers
		}
	}
	return result
}

// computeIndex derives index-membership tags via substring match on the
// stored membership marker.
func computeIndex(all []stocks.Stock) map[string][]string {
	result := map[string][]string{}
	for _, s := range all {
		if s.IndexMembership == "" {
			continue
		}
		for _, name := range indexTagNames {
			if strings.Contains(s.IndexMembership, name) {
				result[name] = append(result[name], s.Ticker)
			}
		}
	}
	return result
}
