package tags

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Repository handles tag and association database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new tag repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "tags").Logger(),
	}
}

// EnsureTag returns the id of the named tag, creating it with the given
// family label if absent. The family label is fixed at first creation:
// re-applying an existing tag under a different family keeps the original
// label and logs the mismatch.
func (r *Repository) EnsureTag(tx *sql.Tx, name, family string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("tag name is required")
	}

	var id int64
	var existingType string
	err := tx.QueryRow("SELECT id, type FROM tags WHERE name = ?", name).Scan(&id, &existingType)
	if err == nil {
		if existingType != family {
			r.log.Warn().
				Str("tag", name).
				Str("existing_type", existingType).
				Str("requested_type", family).
				Msg("Tag family mismatch on re-apply, keeping original family")
		}
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to look up tag %s: %w", name, err)
	}

	result, err := tx.Exec(`
		INSERT INTO tags (name, type, created_at) VALUES (?, ?, ?)
	`, name, family, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to insert tag %s: %w", name, err)
	}

	id, err = result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read tag id for %s: %w", name, err)
	}

	r.log.Debug().Str("tag", name).Str("type", family).Msg("Tag created")
	return id, nil
}

// ReplaceAssociations makes the tag's association set exactly match the
// given tickers: existing rows are deleted first, then the new set is
// inserted with INSERT OR IGNORE so retries stay idempotent.
func (r *Repository) ReplaceAssociations(tx *sql.Tx, tagID int64, tickers []string) (int, error) {
	if _, err := tx.Exec("DELETE FROM stock_tags WHERE tag_id = ?", tagID); err != nil {
		return 0, fmt.Errorf("failed to delete existing associations: %w", err)
	}

	return r.insertAssociations(tx, tagID, tickers)
}

// AddAssociations extends the tag's association set without clearing it.
// Used for static families whose membership accumulates across runs.
func (r *Repository) AddAssociations(tx *sql.Tx, tagID int64, tickers []string) (int, error) {
	return r.insertAssociations(tx, tagID, tickers)
}

func (r *Repository) insertAssociations(tx *sql.Tx, tagID int64, tickers []string) (int, error) {
	now := time.Now().Unix()
	inserted := 0

	for _, ticker := range tickers {
		ticker = strings.ToUpper(strings.TrimSpace(ticker))
		if ticker == "" {
			continue
		}

		res, err := tx.Exec(`
			INSERT OR IGNORE INTO stock_tags (ticker, tag_id, created_at)
			VALUES (?, ?, ?)
		`, ticker, tagID, now)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert association %s: %w", ticker, err)
		}

		// INSERT OR IGNORE reports zero rows for an already-present pair
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("failed to read insert result for %s: %w", ticker, err)
		}
		inserted += int(n)
	}

	return inserted, nil
}

// GetAssociatedTickers returns all tickers currently associated with a tag id
func (r *Repository) GetAssociatedTickers(tagID int64) ([]string, error) {
	rows, err := r.db.Query("SELECT ticker FROM stock_tags WHERE tag_id = ? ORDER BY ticker", tagID)
	if err != nil {
		return nil, fmt.Errorf("failed to query associations: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan association: %w", err)
		}
		tickers = append(tickers, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating associations: %w", err)
	}

	return tickers, nil
}

// GetByName returns a tag by name, or nil when absent
func (r *Repository) GetByName(name string) (*Tag, error) {
	var t Tag
	var createdAt int64
	err := r.db.QueryRow(`
		SELECT id, name, type, created_at FROM tags WHERE name = ?
	`, strings.TrimSpace(name)).Scan(&t.ID, &t.Name, &t.Type, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tag by name: %w", err)
	}

	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &t, nil
}

// ListWithCounts returns every tag with its current stock count,
// including tags whose association set is currently empty.
func (r *Repository) ListWithCounts() ([]TagWithCount, error) {
	rows, err := r.db.Query(`
		SELECT t.id, t.name, t.type, t.created_at, COUNT(st.ticker)
		FROM tags t
		LEFT JOIN stock_tags st ON st.tag_id = t.id
		GROUP BY t.id
		ORDER BY t.type, t.name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags with counts: %w", err)
	}
	defer rows.Close()

	var result []TagWithCount
	for rows.Next() {
		var t TagWithCount
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.Name, &t.Type, &createdAt, &t.StockCount); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		t.CreatedAt = time.Unix(createdAt, 0).UTC()
		result = append(result, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tags: %w", err)
	}

	return result, nil
}

// GetStocksByTagName returns the stock projection for one tag name
func (r *Repository) GetStocksByTagName(name string) ([]StockSummary, error) {
	rows, err := r.db.Query(`
		SELECT s.ticker, s.name, s.sector, s.last_price, s.change_percent, s.market_cap
		FROM stocks s
		INNER JOIN stock_tags st ON st.ticker = s.ticker
		INNER JOIN tags t ON t.id = st.tag_id
		WHERE t.name = ?
		ORDER BY s.ticker
	`, strings.TrimSpace(name))
	if err != nil {
		return nil, fmt.Errorf("failed to query stocks by tag: %w", err)
	}
	defer rows.Close()

	var result []StockSummary
	for rows.Next() {
		var s StockSummary
		var stockName, sector sql.NullString
		var lastPrice, changePercent, marketCap sql.NullFloat64
		if err := rows.Scan(&s.Ticker, &stockName, &sector, &lastPrice, &changePercent, &marketCap); err != nil {
			return nil, fmt.Errorf("failed to scan stock summary: %w", err)
		}
		s.Name = stockName.String
		s.Sector = sector.String
		if lastPrice.Valid {
			v := lastPrice.Float64
			s.LastPrice = &v
		}
		if changePercent.Valid {
			v := changePercent.Float64
			s.ChangePercent = &v
		}
		if marketCap.Valid {
			v := marketCap.Float64
			s.MarketCap = &v
		}
		result = append(result, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stocks by tag: %w", err)
	}

	return result, nil
}

// GetTagsForTicker returns all tags associated with one ticker
func (r *Repository) GetTagsForTicker(ticker string) ([]Tag, error) {
	rows, err := r.db.Query(`
		SELECT t.id, t.name, t.type, t.created_at
		FROM tags t
		INNER JOIN stock_tags st ON st.tag_id = t.id
		WHERE st.ticker = ?
		ORDER BY t.type, t.name
	`, strings.ToUpper(strings.TrimSpace(ticker)))
	if err != nil {
		return nil, fmt.Errorf("failed to query tags for ticker: %w", err)
	}
	defer rows.Close()

	var result []Tag
	for rows.Next() {
		var t Tag
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.Name, &t.Type, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		t.CreatedAt = time.Unix(createdAt, 0).UTC()
		result = append(result, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tags for ticker: %w", err)
	}

	return result, nil
}
