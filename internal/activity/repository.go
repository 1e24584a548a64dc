package activity

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerd/internal/domain"
	"github.com/aristath/ledgerd/internal/quotesync"
)

// Repository persists the append-only activity log and the account registry
// over the ledger database. Edits and deletions are allowed at this layer;
// the Snapshot Service treats the log as replayable input.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository builds a Repository over an already-migrated connection.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("component", "activity_repository").Logger()}
}

const activityColumns = `id, account_id, asset_id, activity_type, activity_date, quantity,
	unit_price, amount, fee, currency, fx_rate, fx_direction, is_external, insertion_order`

// Save appends activities to the log, assigning ids and insertion order where
// the caller supplied none.
func (r *Repository) Save(activities []*domain.Activity) error {
	if len(activities) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return &domain.PersistenceError{Op: "activity_save", Err: err}
	}

	var maxOrder int
	row := tx.QueryRow("SELECT COALESCE(MAX(insertion_order), 0) FROM activities")
	if err := row.Scan(&maxOrder); err != nil {
		_ = tx.Rollback()
		return &domain.PersistenceError{Op: "activity_save", Err: err}
	}

	query := `
		INSERT INTO activities (` + activityColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			account_id = excluded.account_id,
			asset_id = excluded.asset_id,
			activity_type = excluded.activity_type,
			activity_date = excluded.activity_date,
			quantity = excluded.quantity,
			unit_price = excluded.unit_price,
			amount = excluded.amount,
			fee = excluded.fee,
			currency = excluded.currency,
			fx_rate = excluded.fx_rate,
			fx_direction = excluded.fx_direction,
			is_external = excluded.is_external
	`
	for _, act := range activities {
		if act.ID == "" {
			act.ID = uuid.New().String()
		}
		if act.InsertionOrder == 0 {
			maxOrder++
			act.InsertionOrder = maxOrder
		}
		var fxRate any
		if act.FXRate != nil {
			fxRate = act.FXRate.String()
		}
		_, err := tx.Exec(query,
			act.ID,
			act.AccountID,
			act.AssetID,
			string(act.ActivityType),
			act.ActivityDate.UTC().Format("2006-01-02"),
			act.Quantity.String(),
			act.UnitPrice.String(),
			act.Amount.String(),
			act.Fee.String(),
			string(act.Currency),
			fxRate,
			string(act.FXRateDirection),
			boolToInt(act.IsExternalFlow),
			act.InsertionOrder,
		)
		if err != nil {
			_ = tx.Rollback()
			return &domain.PersistenceError{Op: "activity_save", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &domain.PersistenceError{Op: "activity_save", Err: err}
	}
	return nil
}

// Delete removes one activity from the log.
func (r *Repository) Delete(activityID string) error {
	if _, err := r.db.Exec("DELETE FROM activities WHERE id = ?", activityID); err != nil {
		return &domain.PersistenceError{Op: "activity_delete", Err: err}
	}
	return nil
}

// ActivitiesForAccount implements the Snapshot Service's ActivitySource.
func (r *Repository) ActivitiesForAccount(accountID string) ([]*domain.Activity, error) {
	rows, err := r.db.Query(
		"SELECT "+activityColumns+" FROM activities WHERE account_id = ? ORDER BY activity_date ASC, insertion_order ASC",
		accountID,
	)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "activities_for_account", Err: err}
	}
	defer rows.Close()

	var activities []*domain.Activity
	for rows.Next() {
		act, err := scanActivity(rows)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "activities_for_account", Err: err}
		}
		activities = append(activities, act)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "activities_for_account", Err: err}
	}
	return activities, nil
}

// ActivityDateRanges implements quotesync.ActivityRanges: the (first, last)
// activity date per tracked symbol. Cash assets are excluded — cash needs FX
// rates, not security quotes.
func (r *Repository) ActivityDateRanges() (map[string]quotesync.DateRange, error) {
	rows, err := r.db.Query(
		`SELECT asset_id, MIN(activity_date), MAX(activity_date) FROM activities
		 WHERE asset_id NOT LIKE 'CASH:%' GROUP BY asset_id`,
	)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "activity_date_ranges", Err: err}
	}
	defer rows.Close()

	ranges := make(map[string]quotesync.DateRange)
	for rows.Next() {
		var assetID, first, last string
		if err := rows.Scan(&assetID, &first, &last); err != nil {
			return nil, &domain.PersistenceError{Op: "activity_date_ranges", Err: err}
		}
		f, err := time.Parse("2006-01-02", first)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "activity_date_ranges", Err: err}
		}
		l, err := time.Parse("2006-01-02", last)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "activity_date_ranges", Err: err}
		}
		ranges[assetID] = quotesync.DateRange{First: f, Last: l}
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "activity_date_ranges", Err: err}
	}
	return ranges, nil
}

// ActiveAccounts implements the Snapshot Service's AccountSource.
func (r *Repository) ActiveAccounts() ([]domain.Account, error) {
	rows, err := r.db.Query("SELECT id, currency, active FROM accounts WHERE active = 1 ORDER BY id ASC")
	if err != nil {
		return nil, &domain.PersistenceError{Op: "active_accounts", Err: err}
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var (
			account domain.Account
			active  int
		)
		if err := rows.Scan(&account.ID, &account.Currency, &active); err != nil {
			return nil, &domain.PersistenceError{Op: "active_accounts", Err: err}
		}
		account.Active = active != 0
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "active_accounts", Err: err}
	}
	return accounts, nil
}

// Account returns one account by id.
func (r *Repository) Account(accountID string) (domain.Account, bool, error) {
	row := r.db.QueryRow("SELECT id, currency, active FROM accounts WHERE id = ?", accountID)
	var (
		account domain.Account
		active  int
	)
	if err := row.Scan(&account.ID, &account.Currency, &active); err == sql.ErrNoRows {
		return domain.Account{}, false, nil
	} else if err != nil {
		return domain.Account{}, false, &domain.PersistenceError{Op: "account", Err: err}
	}
	account.Active = active != 0
	return account, true, nil
}

// SaveAccount upserts one account row.
func (r *Repository) SaveAccount(account domain.Account) error {
	_, err := r.db.Exec(
		`INSERT INTO accounts (id, currency, active) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET currency = excluded.currency, active = excluded.active`,
		account.ID, string(account.Currency), boolToInt(account.Active),
	)
	if err != nil {
		return &domain.PersistenceError{Op: "account_save", Err: err}
	}
	return nil
}

func scanActivity(rows *sql.Rows) (*domain.Activity, error) {
	var (
		act                                              domain.Activity
		activityType, activityDate, currency, direction  string
		quantity, unitPrice, amount, fee                 string
		fxRate                                           sql.NullString
		isExternal                                       int
	)
	if err := rows.Scan(
		&act.ID, &act.AccountID, &act.AssetID, &activityType, &activityDate,
		&quantity, &unitPrice, &amount, &fee, &currency,
		&fxRate, &direction, &isExternal, &act.InsertionOrder,
	); err != nil {
		return nil, err
	}

	date, err := time.Parse("2006-01-02", activityDate)
	if err != nil {
		return nil, err
	}

	act.ActivityType = domain.ActivityType(activityType)
	act.ActivityDate = date
	act.Currency = domain.Currency(currency)
	act.FXRateDirection = domain.FXRateDirection(direction)
	act.IsExternalFlow = isExternal != 0

	if act.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, err
	}
	if act.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
		return nil, err
	}
	if act.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if act.Fee, err = decimal.NewFromString(fee); err != nil {
		return nil, err
	}
	if fxRate.Valid && strings.TrimSpace(fxRate.String) != "" {
		rate, err := decimal.NewFromString(fxRate.String)
		if err != nil {
			return nil, err
		}
		act.FXRate = &rate
	}

	return &act, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
