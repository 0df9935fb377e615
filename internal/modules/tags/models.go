// Package tags provides the tag taxonomy, the classification rule engine,
// and idempotent tag application.
package tags

import (
	"time"
)

// Tag family names. A family groups tags that describe one dimension of a
// stock (size, price band, momentum bucket, ...).
const (
	FamilySize      = "size"
	FamilyPrice     = "price"
	FamilyMomentum  = "momentum"
	FamilyValuation = "valuation"
	FamilyTechnical = "technical"
	FamilySector    = "sector"
	FamilyIndex     = "index"
)

// Family describes one tag family. Dynamic families are fully recomputed
// each run: their associations are replaced wholesale so stale membership
// never survives. Static families accumulate associations and are only
// extended, never cleared, by a refresh run.
type Family struct {
	Name    string
	Dynamic bool
}

// Families is the fixed recomputation order for a refresh run.
// Families do not depend on each other's output.
var Families = []Family{
	{Name: FamilySize, Dynamic: true},
	{Name: FamilyPrice, Dynamic: true},
	{Name: FamilyMomentum, Dynamic: true},
	{Name: FamilyValuation, Dynamic: true},
	{Name: FamilyTechnical, Dynamic: true},
	{Name: FamilySector, Dynamic: false},
	{Name: FamilyIndex, Dynamic: false},
}

// Tag is a named category with a family label
type Tag struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// TagWithCount is a tag plus its current number of stock associations
type TagWithCount struct {
	Tag
	StockCount int `json:"stock_count"`
}

// StockSummary is the thin projection returned by the by-tag read endpoint
type StockSummary struct {
	Ticker        string   `json:"ticker"`
	Name          string   `json:"name"`
	Sector        string   `json:"sector"`
	LastPrice     *float64 `json:"last_price"`
	ChangePercent *float64 `json:"change_percent"`
	MarketCap     *float64 `json:"market_cap"`
}
