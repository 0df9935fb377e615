// Package stocks provides the stock universe model, persistence, and the
// snapshot/fundamentals reconciler.
package stocks

import (
	"time"
)

// Stock is one row of the stock universe. Financial fields are pointers:
// nil means the value has never been fetched. LastUpdated is nil until the
// first refresh writes at least one field.
type Stock struct {
	Ticker          string     `json:"ticker"`
	Name            string     `json:"name"`
	Sector          string     `json:"sector"`
	LastPrice       *float64   `json:"last_price"`
	ChangeAmount    *float64   `json:"change_amount"`
	ChangePercent   *float64   `json:"change_percent"`
	Volume          *int64     `json:"volume"`
	MarketCap       *float64   `json:"market_cap"`
	ROE             *float64   `json:"roe"`
	PERatio         *float64   `json:"pe_ratio"`
	Week52High      *float64   `json:"week_52_high"`
	Week52Low       *float64   `json:"week_52_low"`
	DividendYield   *float64   `json:"dividend_yield"`
	IndexMembership string     `json:"index_membership"`
	LastUpdated     *time.Time `json:"last_updated"`
}

// Update is a typed partial update for one stock row. A nil field is left
// untouched in the store; a set field is written. This replaces dynamic
// column/placeholder assembly with an explicit "assign only if present"
// merge.
type Update struct {
	LastPrice     *float64
	ChangeAmount  *float64
	ChangePercent *float64
	Volume        *int64
	MarketCap     *float64
	ROE           *float64
	PERatio       *float64
	Week52High    *float64
	Week52Low     *float64
	DividendYield *float64
}

// IsEmpty reports whether no field is assigned. An empty update must not
// produce a write and must not bump last_updated.
func (u Update) IsEmpty() bool {
	return u.LastPrice == nil &&
		u.ChangeAmount == nil &&
		u.ChangePercent == nil &&
		u.Volume == nil &&
		u.MarketCap == nil &&
		u.ROE == nil &&
		u.PERatio == nil &&
		u.Week52High == nil &&
		u.Week52Low == nil &&
		u.DividendYield == nil
}

// HealthCounts aggregates the store-level counters the health scorer needs.
type HealthCounts struct {
	Total     int
	Complete  int // non-null price AND change fields
	Fresh     int // last_updated within the freshness window
	Anomalous int // price <= 0 or |change_percent| > 50
	Tagged    int // at least one tag association
}
