package provider

import (
	"database/sql"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerd/internal/domain"
	"github.com/aristath/ledgerd/internal/quotesync"
)

// SqliteQuoteStore persists fetched quotes in the quotes table and reports
// per-symbol date ranges back to the sync planner's refresh.
type SqliteQuoteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSqliteQuoteStore builds a store over an already-migrated connection.
func NewSqliteQuoteStore(db *sql.DB, log zerolog.Logger) *SqliteQuoteStore {
	return &SqliteQuoteStore{db: db, log: log.With().Str("component", "quote_store").Logger()}
}

// Save upserts quotes by id in one transaction.
func (s *SqliteQuoteStore) Save(quotes []*domain.Quote) error {
	if len(quotes) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return &domain.PersistenceError{Op: "quote_save", Err: err}
	}

	query := `
		INSERT INTO quotes (id, symbol, timestamp, close, currency, data_source)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			close = excluded.close,
			currency = excluded.currency,
			data_source = excluded.data_source
	`
	for _, q := range quotes {
		_, err := tx.Exec(query,
			q.ID,
			q.Symbol,
			q.Timestamp.UTC().Format("2006-01-02"),
			q.Close.String(),
			string(q.Currency),
			q.DataSource,
		)
		if err != nil {
			_ = tx.Rollback()
			return &domain.PersistenceError{Op: "quote_save", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &domain.PersistenceError{Op: "quote_save", Err: err}
	}
	return nil
}

// History returns the stored quotes for a symbol within [start, end],
// ascending by date.
func (s *SqliteQuoteStore) History(symbol string, start, end time.Time) ([]*domain.Quote, error) {
	rows, err := s.db.Query(
		`SELECT id, symbol, timestamp, close, currency, data_source FROM quotes
		 WHERE symbol = ? AND timestamp >= ? AND timestamp <= ? ORDER BY timestamp ASC`,
		symbol, start.Format("2006-01-02"), end.Format("2006-01-02"),
	)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "quote_history", Err: err}
	}
	defer rows.Close()

	var quotes []*domain.Quote
	for rows.Next() {
		var (
			q              domain.Quote
			ts, closeValue string
			currency       string
		)
		if err := rows.Scan(&q.ID, &q.Symbol, &ts, &closeValue, &currency, &q.DataSource); err != nil {
			return nil, &domain.PersistenceError{Op: "quote_history", Err: err}
		}
		q.Timestamp, err = time.Parse("2006-01-02", ts)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "quote_history", Err: err}
		}
		q.Close, err = decimal.NewFromString(closeValue)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "quote_history", Err: err}
		}
		q.Currency = domain.Currency(currency)
		quotes = append(quotes, &q)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "quote_history", Err: err}
	}
	return quotes, nil
}

// QuoteDateRanges implements quotesync.QuoteRanges for the planner's refresh.
func (s *SqliteQuoteStore) QuoteDateRanges() (map[string]quotesync.DateRange, error) {
	rows, err := s.db.Query(`SELECT symbol, MIN(timestamp), MAX(timestamp) FROM quotes GROUP BY symbol`)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "quote_date_ranges", Err: err}
	}
	defer rows.Close()

	ranges := make(map[string]quotesync.DateRange)
	for rows.Next() {
		var symbol, first, last string
		if err := rows.Scan(&symbol, &first, &last); err != nil {
			return nil, &domain.PersistenceError{Op: "quote_date_ranges", Err: err}
		}
		f, err := time.Parse("2006-01-02", first)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "quote_date_ranges", Err: err}
		}
		l, err := time.Parse("2006-01-02", last)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "quote_date_ranges", Err: err}
		}
		ranges[symbol] = quotesync.DateRange{First: f, Last: l}
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "quote_date_ranges", Err: err}
	}
	return ranges, nil
}
