package quotesync

import (
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/ledgerd/internal/domain"
)

// SqliteStateStore persists quote sync state in the quote_sync_state table.
// Writes are serialized by the caller (the planner runs on the scheduler's
// single goroutine); reads are safe concurrently.
type SqliteStateStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSqliteStateStore builds a store over an already-migrated connection.
func NewSqliteStateStore(db *sql.DB, log zerolog.Logger) *SqliteStateStore {
	return &SqliteStateStore{db: db, log: log.With().Str("component", "quote_sync_store").Logger()}
}

const stateColumns = `symbol, data_source, is_active, first_activity_date, last_activity_date,
	earliest_quote_date, latest_quote_date, position_closed_date, sync_priority, last_error`

// All returns every tracked symbol's state, ordered by descending priority.
func (s *SqliteStateStore) All() ([]*domain.QuoteSyncState, error) {
	rows, err := s.db.Query("SELECT " + stateColumns + " FROM quote_sync_state ORDER BY sync_priority DESC, symbol ASC")
	if err != nil {
		return nil, &domain.PersistenceError{Op: "quote_sync_all", Err: err}
	}
	defer rows.Close()

	var states []*domain.QuoteSyncState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "quote_sync_all", Err: err}
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "quote_sync_all", Err: err}
	}
	return states, nil
}

// Get returns the state for one symbol, or nil when untracked.
func (s *SqliteStateStore) Get(symbol string) (*domain.QuoteSyncState, error) {
	row := s.db.QueryRow("SELECT "+stateColumns+" FROM quote_sync_state WHERE symbol = ?", symbol)
	st, err := scanState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "quote_sync_get", Err: err}
	}
	return st, nil
}

// Upsert writes the given states in one transaction, keyed by symbol.
func (s *SqliteStateStore) Upsert(states []*domain.QuoteSyncState) error {
	if len(states) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return &domain.PersistenceError{Op: "quote_sync_upsert", Err: err}
	}

	query := `
		INSERT INTO quote_sync_state (
			symbol, data_source, is_active, first_activity_date, last_activity_date,
			earliest_quote_date, latest_quote_date, position_closed_date, sync_priority, last_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			data_source = excluded.data_source,
			is_active = excluded.is_active,
			first_activity_date = excluded.first_activity_date,
			last_activity_date = excluded.last_activity_date,
			earliest_quote_date = excluded.earliest_quote_date,
			latest_quote_date = excluded.latest_quote_date,
			position_closed_date = excluded.position_closed_date,
			sync_priority = excluded.sync_priority,
			last_error = excluded.last_error
	`
	for _, st := range states {
		_, err := tx.Exec(query,
			st.Symbol,
			st.DataSource,
			boolToInt(st.IsActive),
			dateOrNil(st.FirstActivityDate),
			dateOrNil(st.LastActivityDate),
			dateOrNil(st.EarliestQuoteDate),
			dateOrNil(st.LatestQuoteDate),
			dateOrNil(st.PositionClosedDate),
			st.SyncPriority,
			st.LastError,
		)
		if err != nil {
			_ = tx.Rollback()
			return &domain.PersistenceError{Op: "quote_sync_upsert", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &domain.PersistenceError{Op: "quote_sync_upsert", Err: err}
	}
	return nil
}

// Delete removes a symbol's state entirely.
func (s *SqliteStateStore) Delete(symbol string) error {
	if _, err := s.db.Exec("DELETE FROM quote_sync_state WHERE symbol = ?", symbol); err != nil {
		return &domain.PersistenceError{Op: "quote_sync_delete", Err: err}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (*domain.QuoteSyncState, error) {
	var (
		st                                               domain.QuoteSyncState
		isActive                                         int
		firstActivity, lastActivity, earliestQ, latestQ  sql.NullString
		closedDate, lastError                            sql.NullString
	)
	if err := row.Scan(
		&st.Symbol, &st.DataSource, &isActive, &firstActivity, &lastActivity,
		&earliestQ, &latestQ, &closedDate, &st.SyncPriority, &lastError,
	); err != nil {
		return nil, err
	}
	st.IsActive = isActive != 0
	st.FirstActivityDate = parseDateOrNil(firstActivity)
	st.LastActivityDate = parseDateOrNil(lastActivity)
	st.EarliestQuoteDate = parseDateOrNil(earliestQ)
	st.LatestQuoteDate = parseDateOrNil(latestQ)
	st.PositionClosedDate = parseDateOrNil(closedDate)
	if lastError.Valid {
		st.LastError = lastError.String
	}
	return &st, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func dateOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format("2006-01-02")
}

func parseDateOrNil(raw sql.NullString) *time.Time {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", raw.String)
	if err != nil {
		return nil
	}
	return &t
}

// UpdateQuoteRange widens the symbol's observed quote range after a
// successful fetch: earliest only moves back, latest only moves forward. The
// last error is cleared on success.
func (s *SqliteStateStore) UpdateQuoteRange(symbol string, earliest, latest time.Time) error {
	st, err := s.Get(symbol)
	if err != nil {
		return err
	}
	if st == nil {
		st = &domain.QuoteSyncState{Symbol: symbol}
	}

	if st.EarliestQuoteDate == nil || earliest.Before(*st.EarliestQuoteDate) {
		e := earliest
		st.EarliestQuoteDate = &e
	}
	if st.LatestQuoteDate == nil || latest.After(*st.LatestQuoteDate) {
		l := latest
		st.LatestQuoteDate = &l
	}
	st.LastError = ""

	return s.Upsert([]*domain.QuoteSyncState{st})
}

// RecordSyncError stores the most recent provider failure on the symbol's state.
func (s *SqliteStateStore) RecordSyncError(symbol, message string) error {
	st, err := s.Get(symbol)
	if err != nil {
		return err
	}
	if st == nil {
		return nil
	}
	st.LastError = message
	return s.Upsert([]*domain.QuoteSyncState{st})
}
