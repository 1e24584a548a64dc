// Package activity implements activity ingestion: canonical asset-id
// resolution, asset-kind inference, FX-pair registration side effects, and
// the append-only activity log. New assets are created lazily on first
// reference, never pre-declared.
package activity

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerd/internal/domain"
)

// RawActivity is the external ingestion shape accepted from upstream feeds.
type RawActivity struct {
	ID           string
	AccountID    string
	AssetID      string // legacy pass-through, step 3
	Symbol       string
	ExchangeMIC  string
	AssetKind    string // explicit hint, wins over inference when set
	ActivityType domain.ActivityType
	ActivityDate string // caller-supplied timestamp, parsed by the caller
	Quantity     float64
	UnitPrice    float64
	Amount       float64
	Fee          float64
	Currency     domain.Currency
	FXRate       *float64
	Metadata     map[string]any
}

// AssetRegistry resolves or lazily creates the minimal Asset record for a
// canonical id, matching the data model's "created on first reference"
// lifecycle.
type AssetRegistry interface {
	GetOrCreate(assetID string, kind domain.AssetKind, listingCurrency domain.Currency, dataSource string) (*domain.Asset, error)
}

// PairRegistrar is satisfied by fx.Gateway; kept as a narrow interface so the
// normalizer doesn't import the fx package.
type PairRegistrar interface {
	RegisterPair(from, to domain.Currency)
}

// Normalizer implements C2.
type Normalizer struct {
	assets  AssetRegistry
	fxPairs PairRegistrar
	log     zerolog.Logger
}

// NewNormalizer builds a Normalizer.
func NewNormalizer(assets AssetRegistry, fxPairs PairRegistrar, log zerolog.Logger) *Normalizer {
	return &Normalizer{
		assets:  assets,
		fxPairs: fxPairs,
		log:     log.With().Str("component", "activity_normalizer").Logger(),
	}
}

// ResolveAssetID resolves the canonical asset id with deterministic rules:
// cash-only types map to CASH:{currency}; a symbol is classified and built
// into a SEC:/CRYPTO: id; an explicit asset_id passes through; anything else
// fails.
func (n *Normalizer) ResolveAssetID(in RawActivity) (string, domain.AssetKind, error) {
	if domain.CashOnlyActivityTypes(in.ActivityType) {
		return domain.CashAssetID(in.Currency), domain.AssetKindCash, nil
	}

	if in.Symbol != "" {
		kind := n.inferKind(in)
		switch kind {
		case domain.AssetKindCrypto:
			base, quote := splitCryptoSymbol(in.Symbol)
			if quote == "" {
				quote = string(in.Currency)
			}
			if meta, ok := in.Metadata["quote_currency"].(string); ok && meta != "" {
				quote = meta
			}
			return domain.CryptoAssetID(base, quote), kind, nil
		default:
			return domain.SecurityAssetID(in.Symbol, in.ExchangeMIC), domain.AssetKindSecurity, nil
		}
	}

	if in.AssetID != "" {
		return in.AssetID, domain.ParseAssetKind(in.AssetID), nil
	}

	return "", "", &domain.MissingAssetReference{ActivityID: in.ID}
}

// inferKind implements step 2's asset-kind inference: exchange_mic present
// forces security; an explicit asset_kind hint wins; otherwise a crypto
// ticker/pair pattern selects crypto; everything else defaults to security.
func (n *Normalizer) inferKind(in RawActivity) domain.AssetKind {
	if in.ExchangeMIC != "" {
		return domain.AssetKindSecurity
	}
	if in.AssetKind != "" {
		return domain.AssetKind(in.AssetKind)
	}
	if domain.LooksLikeCryptoSymbol(in.Symbol) {
		return domain.AssetKindCrypto
	}
	return domain.AssetKindSecurity
}

// splitCryptoSymbol splits a BASE-QUOTE pair symbol (e.g. "BTC-USD") into its
// base and quote parts; a bare ticker ("BTC") returns an empty quote.
func splitCryptoSymbol(symbol string) (base, quote string) {
	parts := strings.SplitN(symbol, "-", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return symbol, ""
}

// IsExternalFlowDefault reads metadata.flow.is_external, defaulting to false
// (internal transfer between tracked accounts).
func IsExternalFlowDefault(meta map[string]any) bool {
	flow, ok := meta["flow"].(map[string]any)
	if !ok {
		return false
	}
	external, _ := flow["is_external"].(bool)
	return external
}

// fxRateDirectionFor picks which conversion an explicit fx_rate expresses:
// cash-only legs feed net_contribution/cash totals directly (activity ->
// account); asset legs feed lot cost basis (activity -> position).
func fxRateDirectionFor(activityType domain.ActivityType, assetKind domain.AssetKind) domain.FXRateDirection {
	if domain.CashOnlyActivityTypes(activityType) {
		return domain.FXRateActivityToAccount
	}
	if (activityType == domain.ActivityTransferIn || activityType == domain.ActivityTransferOut) && assetKind == domain.AssetKindCash {
		return domain.FXRateActivityToAccount
	}
	return domain.FXRateActivityToPosition
}

// Normalize resolves the asset id, lazily creates the Asset, registers FX
// pairs that differ from the account currency, and returns the canonical
// domain.Activity.
func (n *Normalizer) Normalize(in RawActivity, accountCurrency domain.Currency, insertionOrder int) (*domain.Activity, *domain.Asset, error) {
	assetID, kind, err := n.ResolveAssetID(in)
	if err != nil {
		return nil, nil, err
	}

	listingCurrency := in.Currency
	if kind == domain.AssetKindCash {
		listingCurrency = domain.AssetListingCurrency(assetID)
	} else if kind == domain.AssetKindCrypto {
		if c := domain.AssetListingCurrency(assetID); c != "" {
			listingCurrency = c
		}
	}

	dataSource := ""
	if ds, ok := in.Metadata["data_source"].(string); ok {
		dataSource = ds
	}

	var asset *domain.Asset
	if n.assets != nil {
		asset, err = n.assets.GetOrCreate(assetID, kind, listingCurrency, dataSource)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve asset %s: %w", assetID, err)
		}
	} else {
		asset = &domain.Asset{ID: assetID, ListingCurrency: listingCurrency, Kind: kind, DataSource: dataSource}
	}

	n.registerFXSideEffects(accountCurrency, in.Currency, asset)

	activityDate, err := parseActivityDate(in.ActivityDate)
	if err != nil {
		return nil, nil, fmt.Errorf("activity %s: %w", in.ID, err)
	}

	act := &domain.Activity{
		ID:              in.ID,
		AccountID:       in.AccountID,
		AssetID:         assetID,
		ActivityType:    in.ActivityType,
		ActivityDate:    activityDate,
		Quantity:        decimal.NewFromFloat(in.Quantity),
		UnitPrice:       decimal.NewFromFloat(in.UnitPrice),
		Amount:          decimal.NewFromFloat(in.Amount),
		Fee:             decimal.NewFromFloat(in.Fee),
		Currency:        in.Currency,
		FXRateDirection: fxRateDirectionFor(in.ActivityType, kind),
		IsExternalFlow:  IsExternalFlowDefault(in.Metadata),
		InsertionOrder:  insertionOrder,
	}
	if in.FXRate != nil && *in.FXRate != 0 {
		rate := decimal.NewFromFloat(*in.FXRate)
		act.FXRate = &rate
	}

	return act, asset, nil
}

// parseActivityDate accepts either a date-only or RFC3339 timestamp and
// normalizes it to UTC midnight, so day bucketing is stable regardless of
// what timezone the source system supplied.
func parseActivityDate(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse activity_date %q: %w", raw, err)
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

// registerFXSideEffects registers (account_currency, asset_currency) and
// (account_currency, activity_currency) whenever they differ, plus the
// asset's listing currency vs activity currency when they differ.
func (n *Normalizer) registerFXSideEffects(accountCurrency, activityCurrency domain.Currency, asset *domain.Asset) {
	if n.fxPairs == nil {
		return
	}
	if accountCurrency != asset.ListingCurrency {
		n.fxPairs.RegisterPair(accountCurrency, asset.ListingCurrency)
	}
	if accountCurrency != activityCurrency {
		n.fxPairs.RegisterPair(accountCurrency, activityCurrency)
	}
	if asset.ListingCurrency != activityCurrency {
		n.fxPairs.RegisterPair(asset.ListingCurrency, activityCurrency)
	}
}
