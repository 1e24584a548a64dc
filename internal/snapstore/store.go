// Package snapstore implements keyframe persistence keyed by
// (account_id, date) with source provenance, sqlite-backed via
// internal/database. Rows with a non-calculated source are immutable anchors:
// rebuilds never touch them.
package snapstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerd/internal/domain"
)

// Store persists keyframes over a single sqlite connection.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// New builds a Store over an already-open, already-migrated connection.
func New(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log.With().Str("component", "snapshot_store").Logger()}
}

type positionRow struct {
	AssetID        string          `json:"asset_id"`
	Currency       domain.Currency `json:"currency"`
	Quantity       decimal.Decimal `json:"quantity"`
	TotalCostBasis decimal.Decimal `json:"total_cost_basis"`
	InceptionDate  string          `json:"inception_date"`
	Lots           []lotRow        `json:"lots"`
}

type lotRow struct {
	ID               string          `json:"id"`
	AcquiredAt       string          `json:"acquired_at"`
	Quantity         decimal.Decimal `json:"quantity"`
	CostBasis        decimal.Decimal `json:"cost_basis"`
	AcquisitionPrice decimal.Decimal `json:"acquisition_price"`
	AcquisitionFees  decimal.Decimal `json:"acquisition_fees"`
}

// Save upserts a batch of snapshots by their (account_id, snapshot_date)
// composite key. All rows are written in one transaction, so a batch either
// fully commits or leaves the prior state intact.
func (s *Store) Save(snapshots []*domain.AccountStateSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return &domain.PersistenceError{Op: "save", Err: err}
	}

	for _, snap := range snapshots {
		if err := upsert(tx, snap); err != nil {
			_ = tx.Rollback()
			return &domain.PersistenceError{Op: "save", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &domain.PersistenceError{Op: "save", Err: err}
	}
	return nil
}

func upsert(tx *sql.Tx, snap *domain.AccountStateSnapshot) error {
	positions, err := marshalPositions(snap.Positions)
	if err != nil {
		return fmt.Errorf("marshal positions: %w", err)
	}
	cash, err := marshalCash(snap.CashBalances)
	if err != nil {
		return fmt.Errorf("marshal cash balances: %w", err)
	}

	query := `
		INSERT INTO account_state_snapshots (
			id, account_id, snapshot_date, currency, positions, cash_balances,
			cost_basis, net_contribution, net_contribution_base,
			cash_total_account_currency, cash_total_base_currency,
			calculated_at, source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, snapshot_date) DO UPDATE SET
			currency = excluded.currency,
			positions = excluded.positions,
			cash_balances = excluded.cash_balances,
			cost_basis = excluded.cost_basis,
			net_contribution = excluded.net_contribution,
			net_contribution_base = excluded.net_contribution_base,
			cash_total_account_currency = excluded.cash_total_account_currency,
			cash_total_base_currency = excluded.cash_total_base_currency,
			calculated_at = excluded.calculated_at,
			source = excluded.source
	`

	calculatedAt := snap.CalculatedAt
	if calculatedAt.IsZero() {
		calculatedAt = time.Now().UTC()
	}

	_, err = tx.Exec(query,
		uuid.New().String(),
		snap.AccountID,
		snap.SnapshotDate.Format("2006-01-02"),
		string(snap.Currency),
		positions,
		cash,
		snap.CostBasis.String(),
		snap.NetContribution.String(),
		snap.NetContributionBase.String(),
		snap.CashTotalAccountCurrency.String(),
		snap.CashTotalBaseCurrency.String(),
		calculatedAt.Format(time.RFC3339),
		string(snap.Source),
	)
	return err
}

// Get returns snapshots for account_id within [start, end] (either bound may
// be the zero time to mean unbounded), sorted ascending by date.
func (s *Store) Get(accountID string, start, end time.Time) ([]*domain.AccountStateSnapshot, error) {
	query := "SELECT " + selectColumns + " FROM account_state_snapshots WHERE account_id = ?"
	args := []any{accountID}

	if !start.IsZero() {
		query += " AND snapshot_date >= ?"
		args = append(args, start.Format("2006-01-02"))
	}
	if !end.IsZero() {
		query += " AND snapshot_date <= ?"
		args = append(args, end.Format("2006-01-02"))
	}
	query += " ORDER BY snapshot_date ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "get", Err: err}
	}
	defer rows.Close()

	return scanAll(rows)
}

// LatestBefore returns the most recent keyframe for account_id with
// snapshot_date <= date, or nil if none exists.
func (s *Store) LatestBefore(accountID string, date time.Time) (*domain.AccountStateSnapshot, error) {
	query := "SELECT " + selectColumns + ` FROM account_state_snapshots
		WHERE account_id = ? AND snapshot_date <= ?
		ORDER BY snapshot_date DESC LIMIT 1`

	row := s.db.QueryRow(query, accountID, date.Format("2006-01-02"))
	snap, err := scanOne(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "latest_before", Err: err}
	}
	return snap, nil
}

// DeleteCalculatedInRange removes only CALCULATED rows within [start, end];
// non-calculated anchors are never touched.
func (s *Store) DeleteCalculatedInRange(accountID string, start, end time.Time) error {
	_, err := s.db.Exec(
		`DELETE FROM account_state_snapshots
		 WHERE account_id = ? AND source = ? AND snapshot_date >= ? AND snapshot_date <= ?`,
		accountID, string(domain.SourceCalculated), start.Format("2006-01-02"), end.Format("2006-01-02"),
	)
	if err != nil {
		return &domain.PersistenceError{Op: "delete_calculated_in_range", Err: err}
	}
	return nil
}

// OverwriteAllForAccount deletes all CALCULATED rows for the account, then
// writes newSnapshots, skipping any date that already carries a
// non-calculated anchor (those are preserved untouched).
func (s *Store) OverwriteAllForAccount(accountID string, newSnapshots []*domain.AccountStateSnapshot) error {
	anchors, err := s.GetAnchorDates(accountID, time.Time{}, time.Time{})
	if err != nil {
		return err
	}
	anchorSet := make(map[string]bool, len(anchors))
	for _, d := range anchors {
		anchorSet[d.Format("2006-01-02")] = true
	}

	tx, err := s.db.Begin()
	if err != nil {
		return &domain.PersistenceError{Op: "overwrite_all_for_account", Err: err}
	}

	if _, err := tx.Exec(
		`DELETE FROM account_state_snapshots WHERE account_id = ? AND source = ?`,
		accountID, string(domain.SourceCalculated),
	); err != nil {
		_ = tx.Rollback()
		return &domain.PersistenceError{Op: "overwrite_all_for_account", Err: err}
	}

	for _, snap := range newSnapshots {
		if anchorSet[snap.SnapshotDate.Format("2006-01-02")] {
			continue
		}
		if err := upsert(tx, snap); err != nil {
			_ = tx.Rollback()
			return &domain.PersistenceError{Op: "overwrite_all_for_account", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &domain.PersistenceError{Op: "overwrite_all_for_account", Err: err}
	}
	return nil
}

// GetAnchorDates returns the dates with source != CALCULATED for accountID,
// optionally restricted to [start, end].
func (s *Store) GetAnchorDates(accountID string, start, end time.Time) ([]time.Time, error) {
	query := "SELECT snapshot_date FROM account_state_snapshots WHERE account_id = ? AND source != ?"
	args := []any{accountID, string(domain.SourceCalculated)}

	if !start.IsZero() {
		query += " AND snapshot_date >= ?"
		args = append(args, start.Format("2006-01-02"))
	}
	if !end.IsZero() {
		query += " AND snapshot_date <= ?"
		args = append(args, end.Format("2006-01-02"))
	}
	query += " ORDER BY snapshot_date ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "get_anchor_dates", Err: err}
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, &domain.PersistenceError{Op: "get_anchor_dates", Err: err}
		}
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "get_anchor_dates", Err: err}
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "get_anchor_dates", Err: err}
	}
	return dates, nil
}

// EarliestNonCalculated returns the earliest anchor date for accountID, or
// nil if the account has no manually-managed snapshots (i.e. it is in
// "activity mode" rather than "holdings mode").
func (s *Store) EarliestNonCalculated(accountID string) (*time.Time, error) {
	row := s.db.QueryRow(
		`SELECT snapshot_date FROM account_state_snapshots
		 WHERE account_id = ? AND source != ? ORDER BY snapshot_date ASC LIMIT 1`,
		accountID, string(domain.SourceCalculated),
	)
	var raw string
	if err := row.Scan(&raw); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, &domain.PersistenceError{Op: "earliest_non_calculated", Err: err}
	}
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "earliest_non_calculated", Err: err}
	}
	return &d, nil
}

const selectColumns = `
	account_id, snapshot_date, currency, positions, cash_balances,
	cost_basis, net_contribution, net_contribution_base,
	cash_total_account_currency, cash_total_base_currency, calculated_at, source`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOne(row rowScanner) (*domain.AccountStateSnapshot, error) {
	var (
		accountID, currency, positionsJSON, cashJSON     string
		costBasis, netContribution, netContributionBase  string
		cashTotalAccount, cashTotalBase                  string
		snapshotDate, calculatedAt, source                string
	)
	if err := row.Scan(
		&accountID, &snapshotDate, &currency, &positionsJSON, &cashJSON,
		&costBasis, &netContribution, &netContributionBase,
		&cashTotalAccount, &cashTotalBase, &calculatedAt, &source,
	); err != nil {
		return nil, err
	}
	return rowToSnapshot(accountID, snapshotDate, currency, positionsJSON, cashJSON,
		costBasis, netContribution, netContributionBase, cashTotalAccount, cashTotalBase,
		calculatedAt, source)
}

func scanAll(rows *sql.Rows) ([]*domain.AccountStateSnapshot, error) {
	var snapshots []*domain.AccountStateSnapshot
	for rows.Next() {
		snap, err := scanOne(rows)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "scan", Err: err}
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "scan", Err: err}
	}
	return snapshots, nil
}

func rowToSnapshot(accountID, snapshotDate, currency, positionsJSON, cashJSON,
	costBasis, netContribution, netContributionBase, cashTotalAccount, cashTotalBase,
	calculatedAt, source string) (*domain.AccountStateSnapshot, error) {

	date, err := time.Parse("2006-01-02", snapshotDate)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot_date: %w", err)
	}
	calc, err := time.Parse(time.RFC3339, calculatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse calculated_at: %w", err)
	}

	positions, err := unmarshalPositions(positionsJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal positions: %w", err)
	}
	cash, err := unmarshalCash(cashJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal cash balances: %w", err)
	}

	dec := func(s string) decimal.Decimal {
		v, _ := decimal.NewFromString(s)
		return v
	}

	return &domain.AccountStateSnapshot{
		AccountID:                accountID,
		SnapshotDate:             date,
		Currency:                 domain.Currency(currency),
		Positions:                positions,
		CashBalances:             cash,
		CostBasis:                dec(costBasis),
		NetContribution:          dec(netContribution),
		NetContributionBase:      dec(netContributionBase),
		CashTotalAccountCurrency: dec(cashTotalAccount),
		CashTotalBaseCurrency:    dec(cashTotalBase),
		CalculatedAt:             calc,
		Source:                   domain.SnapshotSource(source),
	}, nil
}

func marshalPositions(positions map[string]*domain.Position) (string, error) {
	rows := make(map[string]positionRow, len(positions))
	for id, pos := range positions {
		lots := make([]lotRow, len(pos.Lots))
		for i, lot := range pos.Lots {
			lots[i] = lotRow{
				ID:               lot.ID,
				AcquiredAt:       lot.AcquiredAt.Format("2006-01-02"),
				Quantity:         lot.Quantity,
				CostBasis:        lot.CostBasis,
				AcquisitionPrice: lot.AcquisitionPrice,
				AcquisitionFees:  lot.AcquisitionFees,
			}
		}
		rows[id] = positionRow{
			AssetID:        pos.AssetID,
			Currency:       pos.Currency,
			Quantity:       pos.Quantity,
			TotalCostBasis: pos.TotalCostBasis,
			InceptionDate:  pos.InceptionDate.Format("2006-01-02"),
			Lots:           lots,
		}
	}
	out, err := json.Marshal(rows)
	return string(out), err
}

func unmarshalPositions(raw string) (map[string]*domain.Position, error) {
	if raw == "" || raw == "null" {
		return map[string]*domain.Position{}, nil
	}
	var rows map[string]positionRow
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return nil, err
	}
	positions := make(map[string]*domain.Position, len(rows))
	for id, r := range rows {
		inception, _ := time.Parse("2006-01-02", r.InceptionDate)
		lots := make([]*domain.Lot, len(r.Lots))
		for i, lr := range r.Lots {
			acquired, _ := time.Parse("2006-01-02", lr.AcquiredAt)
			lots[i] = &domain.Lot{
				ID:               lr.ID,
				PositionID:       id,
				AcquiredAt:       acquired,
				Quantity:         lr.Quantity,
				CostBasis:        lr.CostBasis,
				AcquisitionPrice: lr.AcquisitionPrice,
				AcquisitionFees:  lr.AcquisitionFees,
			}
		}
		positions[id] = &domain.Position{
			AssetID:        r.AssetID,
			Currency:       r.Currency,
			Quantity:       r.Quantity,
			TotalCostBasis: r.TotalCostBasis,
			InceptionDate:  inception,
			Lots:           lots,
		}
	}
	return positions, nil
}

func marshalCash(balances map[domain.Currency]decimal.Decimal) (string, error) {
	rows := make(map[string]string, len(balances))
	for cur, bal := range balances {
		rows[string(cur)] = bal.String()
	}
	out, err := json.Marshal(rows)
	return string(out), err
}

func unmarshalCash(raw string) (map[domain.Currency]decimal.Decimal, error) {
	if raw == "" || raw == "null" {
		return map[domain.Currency]decimal.Decimal{}, nil
	}
	var rows map[string]string
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return nil, err
	}
	balances := make(map[domain.Currency]decimal.Decimal, len(rows))
	for cur, s := range rows {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return nil, err
		}
		balances[domain.Currency(cur)] = v
	}
	return balances, nil
}
