package stocks

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Repository handles stock database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// stockColumns is the column list for the stocks table.
// Used instead of SELECT * so schema changes fail loudly.
const stockColumns = `ticker, name, sector, last_price, change_amount, change_percent,
volume, market_cap, roe, pe_ratio, week_52_high, week_52_low, dividend_yield,
index_membership, last_updated`

// NewRepository creates a new stock repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "stocks").Logger(),
	}
}

// GetByTicker returns a stock by ticker, or nil when absent
func (r *Repository) GetByTicker(ticker string) (*Stock, error) {
	query := "SELECT " + stockColumns + " FROM stocks WHERE ticker = ?"

	rows, err := r.db.Query(query, normalizeTicker(ticker))
	if err != nil {
		return nil, fmt.Errorf("failed to query stock by ticker: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil // Stock not found
	}

	stock, err := scanStock(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan stock: %w", err)
	}

	return &stock, nil
}

// rowQuerier is satisfied by both *sql.DB and *sql.Tx
type rowQuerier interface {
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

// GetAll returns every stock in the universe ordered by ticker
func (r *Repository) GetAll() ([]Stock, error) {
	return r.getAll(r.db)
}

// GetAllTx is GetAll inside a transaction, so callers reading mid-run
// see their own uncommitted writes.
func (r *Repository) GetAllTx(tx *sql.Tx) ([]Stock, error) {
	return r.getAll(tx)
}

func (r *Repository) getAll(q rowQuerier) ([]Stock, error) {
	query := "SELECT " + stockColumns + " FROM stocks ORDER BY ticker"

	rows, err := q.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query stocks: %w", err)
	}
	defer rows.Close()

	var result []Stock
	for rows.Next() {
		stock, err := scanStock(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stock: %w", err)
		}
		result = append(result, stock)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stocks: %w", err)
	}

	return result, nil
}

// GetAllTickers returns every ticker in the universe
func (r *Repository) GetAllTickers() ([]string, error) {
	rows, err := r.db.Query("SELECT ticker FROM stocks ORDER BY ticker")
	if err != nil {
		return nil, fmt.Errorf("failed to query tickers: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan ticker: %w", err)
		}
		tickers = append(tickers, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tickers: %w", err)
	}

	return tickers, nil
}

// Create inserts a new stock row. Only identity fields are set at creation;
// financial fields stay NULL until the first successful refresh.
func (r *Repository) Create(stock Stock) error {
	ticker := normalizeTicker(stock.Ticker)
	if ticker == "" {
		return fmt.Errorf("ticker is required for stock creation")
	}

	_, err := r.db.Exec(`
		INSERT INTO stocks (ticker, name, sector, index_membership)
		VALUES (?, ?, ?, ?)
	`, ticker, stock.Name, nullString(stock.Sector), nullString(stock.IndexMembership))
	if err != nil {
		return fmt.Errorf("failed to insert stock: %w", err)
	}

	r.log.Info().Str("ticker", ticker).Msg("Stock created")
	return nil
}

// ApplyUpdate writes the assigned fields of a partial update inside the
// given transaction, bumping last_updated. An empty update performs no
// write and returns false.
func (r *Repository) ApplyUpdate(tx *sql.Tx, ticker string, u Update) (bool, error) {
	if u.IsEmpty() {
		return false, nil
	}

	var sets []string
	var args []interface{}

	appendSet := func(column string, v interface{}) {
		sets = append(sets, column+" = ?")
		args = append(args, v)
	}

	if u.LastPrice != nil {
		appendSet("last_price", *u.LastPrice)
	}
	if u.ChangeAmount != nil {
		appendSet("change_amount", *u.ChangeAmount)
	}
	if u.ChangePercent != nil {
		appendSet("change_percent", *u.ChangePercent)
	}
	if u.Volume != nil {
		appendSet("volume", *u.Volume)
	}
	if u.MarketCap != nil {
		appendSet("market_cap", *u.MarketCap)
	}
	if u.ROE != nil {
		appendSet("roe", *u.ROE)
	}
	if u.PERatio != nil {
		appendSet("pe_ratio", *u.PERatio)
	}
	if u.Week52High != nil {
		appendSet("week_52_high", *u.Week52High)
	}
	if u.Week52Low != nil {
		appendSet("week_52_low", *u.Week52Low)
	}
	if u.DividendYield != nil {
		appendSet("dividend_yield", *u.DividendYield)
	}

	appendSet("last_updated", time.Now().Unix())
	args = append(args, normalizeTicker(ticker))

	query := "UPDATE stocks SET " + strings.Join(sets, ", ") + " WHERE ticker = ?"

	result, err := tx.Exec(query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update stock %s: %w", ticker, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for %s: %w", ticker, err)
	}
	if affected == 0 {
		return false, fmt.Errorf("stock not found: %s", ticker)
	}

	return true, nil
}

// GetHealthCounts aggregates the counters the health scorer reads.
// freshWindow bounds the freshness metric (stocks updated within it).
func (r *Repository) GetHealthCounts(freshWindow time.Duration) (HealthCounts, error) {
	var c HealthCounts
	cutoff := time.Now().Add(-freshWindow).Unix()

	err := r.db.QueryRow(`
		SELECT
			COUNT(*),
			COUNT(CASE WHEN last_price IS NOT NULL AND change_percent IS NOT NULL THEN 1 END),
			COUNT(CASE WHEN last_updated IS NOT NULL AND last_updated >= ? THEN 1 END),
			COUNT(CASE WHEN last_price <= 0 OR ABS(change_percent) > 50 THEN 1 END)
		FROM stocks
	`, cutoff).Scan(&c.Total, &c.Complete, &c.Fresh, &c.Anomalous)
	if err != nil {
		return c, fmt.Errorf("failed to query health counts: %w", err)
	}

	err = r.db.QueryRow(`
		SELECT COUNT(DISTINCT ticker) FROM stock_tags
	`).Scan(&c.Tagged)
	if err != nil {
		return c, fmt.Errorf("failed to query tagged count: %w", err)
	}

	return c, nil
}

// GetChangePercents returns all non-null change_percent values.
// Used for the health report's distribution summary.
func (r *Repository) GetChangePercents() ([]float64, error) {
	rows, err := r.db.Query("SELECT change_percent FROM stocks WHERE change_percent IS NOT NULL")
	if err != nil {
		return nil, fmt.Errorf("failed to query change percents: %w", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan change percent: %w", err)
		}
		values = append(values, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating change percents: %w", err)
	}

	return values, nil
}

// scanStock scans one stock row
func scanStock(rows *sql.Rows) (Stock, error) {
	var s Stock
	var name, sector, indexMembership sql.NullString
	var lastPrice, changeAmount, changePercent, marketCap, roe, peRatio sql.NullFloat64
	var week52High, week52Low, dividendYield sql.NullFloat64
	var volume, lastUpdated sql.NullInt64

	err := rows.Scan(
		&s.Ticker, &name, &sector,
		&lastPrice, &changeAmount, &changePercent, &volume,
		&marketCap, &roe, &peRatio, &week52High, &week52Low, &dividendYield,
		&indexMembership, &lastUpdated,
	)
	if err != nil {
		return s, err
	}

	s.Name = name.String
	s.Sector = sector.String
	s.IndexMembership = indexMembership.String
	s.LastPrice = floatPtr(lastPrice)
	s.ChangeAmount = floatPtr(changeAmount)
	s.ChangePercent = floatPtr(changePercent)
	s.MarketCap = floatPtr(marketCap)
	s.ROE = floatPtr(roe)
	s.PERatio = floatPtr(peRatio)
	s.Week52High = floatPtr(week52High)
	s.Week52Low = floatPtr(week52Low)
	s.DividendYield = floatPtr(dividendYield)

	if volume.Valid {
		v := volume.Int64
		s.Volume = &v
	}
	if lastUpdated.Valid {
		t := time.Unix(lastUpdated.Int64, 0).UTC()
		s.LastUpdated = &t
	}

	return s, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func normalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}
