package activity

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/ledgerd/internal/domain"
)

type fakeAccounts map[string]domain.Account

func (f fakeAccounts) Account(accountID string) (domain.Account, bool, error) {
	a, ok := f[accountID]
	return a, ok, nil
}

type fakeSink struct {
	saved []*domain.Activity
}

func (f *fakeSink) Save(activities []*domain.Activity) error {
	f.saved = append(f.saved, activities...)
	return nil
}

type fakeSync struct {
	events map[string]time.Time
}

func (f *fakeSync) OnNewActivity(symbol string, date time.Time) error {
	if f.events == nil {
		f.events = map[string]time.Time{}
	}
	f.events[symbol] = date
	return nil
}

type fakePairs struct {
	pairs [][2]domain.Currency
}

func (f *fakePairs) RegisterPair(from, to domain.Currency) {
	f.pairs = append(f.pairs, [2]domain.Currency{from, to})
}

func newTestService(accounts fakeAccounts) (*Service, *fakeSink, *fakeSync, *fakePairs) {
	pairs := &fakePairs{}
	normalizer := NewNormalizer(newFakeAssets(), pairs, zerolog.Nop())
	sink := &fakeSink{}
	sync := &fakeSync{}
	return NewService(normalizer, accounts, sink, sync, zerolog.Nop()), sink, sync, pairs
}

func TestService_IngestNormalizesAndNotifiesSync(t *testing.T) {
	svc, sink, sync, pairs := newTestService(fakeAccounts{
		"acc1": {ID: "acc1", Currency: "CAD", Active: true},
	})

	n, err := svc.Ingest([]RawActivity{
		{
			ID: "a1", AccountID: "acc1", Symbol: "AAPL", ExchangeMIC: "XNAS",
			ActivityType: domain.ActivityBuy, ActivityDate: "2024-01-10",
			Quantity: 10, UnitPrice: 150, Fee: 5, Currency: "USD",
		},
		{
			ID: "a2", AccountID: "acc1",
			ActivityType: domain.ActivityDeposit, ActivityDate: "2024-01-05",
			Amount: 1000, Currency: "CAD",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, sink.saved, 2)
	assert.Equal(t, "SEC:AAPL:XNAS", sink.saved[0].AssetID)
	assert.Equal(t, "CASH:CAD", sink.saved[1].AssetID)

	// The buy's symbol reaches the sync planner; the cash deposit does not.
	require.Len(t, sync.events, 1)
	assert.Contains(t, sync.events, "SEC:AAPL:XNAS")

	// The cross-currency buy registered FX pairs for the account currency.
	assert.NotEmpty(t, pairs.pairs)
}

func TestService_IngestRejectsUnknownAccount(t *testing.T) {
	svc, sink, _, _ := newTestService(fakeAccounts{})

	_, err := svc.Ingest([]RawActivity{{
		ID: "a1", AccountID: "ghost",
		ActivityType: domain.ActivityDeposit, ActivityDate: "2024-01-05",
		Amount: 1000, Currency: "CAD",
	}})
	require.Error(t, err)
	assert.Empty(t, sink.saved, "a failed batch must not reach the ledger")
}

func TestService_IngestRejectsUnresolvableAsset(t *testing.T) {
	svc, sink, _, _ := newTestService(fakeAccounts{
		"acc1": {ID: "acc1", Currency: "USD", Active: true},
	})

	_, err := svc.Ingest([]RawActivity{{
		ID: "a1", AccountID: "acc1",
		ActivityType: domain.ActivityBuy, ActivityDate: "2024-01-10",
		Quantity: 10, UnitPrice: 100, Currency: "USD",
	}})
	require.Error(t, err)
	var missing *domain.MissingAssetReference
	assert.ErrorAs(t, err, &missing)
	assert.Empty(t, sink.saved)
}

func TestReadCSV_ParsesActivities(t *testing.T) {
	input := strings.Join([]string{
		"id,account_id,symbol,exchange_mic,activity_type,activity_date,quantity,unit_price,amount,fee,currency,fx_rate,is_external",
		"a1,acc1,AAPL,XNAS,buy,2024-01-10,10,150,,5,usd,1.35,",
		"a2,acc1,,,deposit,2024-01-05,,,1000,,cad,,true",
	}, "\n")

	raws, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, raws, 2)

	buy := raws[0]
	assert.Equal(t, domain.ActivityBuy, buy.ActivityType)
	assert.Equal(t, "AAPL", buy.Symbol)
	assert.Equal(t, domain.Currency("USD"), buy.Currency)
	assert.Equal(t, 10.0, buy.Quantity)
	require.NotNil(t, buy.FXRate)
	assert.Equal(t, 1.35, *buy.FXRate)

	dep := raws[1]
	assert.Equal(t, domain.ActivityDeposit, dep.ActivityType)
	assert.Equal(t, 1000.0, dep.Amount)
	assert.True(t, IsExternalFlowDefault(dep.Metadata))
}

func TestReadCSV_MissingRequiredColumnFails(t *testing.T) {
	input := "id,symbol,activity_type\na1,AAPL,BUY"
	_, err := ReadCSV(strings.NewReader(input))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account_id")
}
