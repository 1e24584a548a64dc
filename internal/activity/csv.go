package activity

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aristath/ledgerd/internal/domain"
)

// csvColumns are the recognized header names of an activity import file.
// Order does not matter; unknown columns are ignored.
var csvColumns = map[string]bool{
	"id": true, "account_id": true, "asset_id": true, "symbol": true,
	"exchange_mic": true, "asset_kind": true, "activity_type": true,
	"activity_date": true, "quantity": true, "unit_price": true,
	"amount": true, "fee": true, "currency": true, "fx_rate": true,
	"is_external": true, "data_source": true,
}

// ReadCSV parses an activity import file into raw activities ready for
// Service.Ingest. The first row must be a header naming at least account_id,
// activity_type, activity_date, and currency.
func ReadCSV(r io.Reader) ([]RawActivity, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		if csvColumns[name] {
			index[name] = i
		}
	}
	for _, required := range []string{"account_id", "activity_type", "activity_date", "currency"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("csv header missing required column %q", required)
		}
	}

	var raws []RawActivity
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line+1, err)
		}
		line++

		field := func(name string) string {
			i, ok := index[name]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		raw := RawActivity{
			ID:           field("id"),
			AccountID:    field("account_id"),
			AssetID:      field("asset_id"),
			Symbol:       field("symbol"),
			ExchangeMIC:  field("exchange_mic"),
			AssetKind:    field("asset_kind"),
			ActivityType: domain.ActivityType(strings.ToUpper(field("activity_type"))),
			ActivityDate: field("activity_date"),
			Currency:     domain.Currency(strings.ToUpper(field("currency"))),
		}

		if raw.Quantity, err = parseCSVNumber(field("quantity"), line); err != nil {
			return nil, err
		}
		if raw.UnitPrice, err = parseCSVNumber(field("unit_price"), line); err != nil {
			return nil, err
		}
		if raw.Amount, err = parseCSVNumber(field("amount"), line); err != nil {
			return nil, err
		}
		if raw.Fee, err = parseCSVNumber(field("fee"), line); err != nil {
			return nil, err
		}

		if v := field("fx_rate"); v != "" {
			rate, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("csv line %d: bad fx_rate %q", line, v)
			}
			raw.FXRate = &rate
		}

		meta := map[string]any{}
		if v := field("is_external"); v != "" {
			external, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("csv line %d: bad is_external %q", line, v)
			}
			meta["flow"] = map[string]any{"is_external": external}
		}
		if v := field("data_source"); v != "" {
			meta["data_source"] = v
		}
		if len(meta) > 0 {
			raw.Metadata = meta
		}

		raws = append(raws, raw)
	}

	return raws, nil
}

func parseCSVNumber(v string, line int) (float64, error) {
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("csv line %d: bad number %q", line, v)
	}
	return f, nil
}
