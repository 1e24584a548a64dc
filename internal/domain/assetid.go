package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// cryptoTickerPattern matches an all-caps three-to-six letter common crypto
// ticker (e.g. BTC, ETH, DOGE) used by the normalizer's crypto-kind inference.
var cryptoTickerPattern = regexp.MustCompile(`^[A-Z]{3,6}$`)

// cryptoPairPattern matches the BASE-QUOTE convention some feeds use (BTC-USD).
var cryptoPairPattern = regexp.MustCompile(`^[A-Z]+-[A-Z]+$`)

// knownCryptoTickers disambiguates common crypto symbols from equity tickers
// that happen to also be three-to-six caps letters (e.g. IBM, MSFT are NOT
// crypto). This is a deliberately small, explicit allow-list rather than a
// heuristic guess.
var knownCryptoTickers = map[string]bool{
	"BTC": true, "ETH": true, "SOL": true, "XRP": true, "DOGE": true,
	"ADA": true, "DOT": true, "LTC": true, "BCH": true, "AVAX": true,
	"MATIC": true, "LINK": true, "USDT": true, "USDC": true,
}

// LooksLikeCryptoSymbol reports whether a symbol reads as a crypto asset: an
// all-caps three-to-six letter known crypto ticker, or the BASE-QUOTE form.
func LooksLikeCryptoSymbol(symbol string) bool {
	if cryptoPairPattern.MatchString(symbol) {
		return true
	}
	return cryptoTickerPattern.MatchString(symbol) && knownCryptoTickers[symbol]
}

// SecurityAssetID builds the canonical id for a listed or unlisted security:
// SEC:{SYMBOL}:{MIC}. MIC defaults to UNKNOWN when unlisted.
func SecurityAssetID(symbol, mic string) string {
	if mic == "" {
		mic = "UNKNOWN"
	}
	return fmt.Sprintf("SEC:%s:%s", strings.ToUpper(symbol), strings.ToUpper(mic))
}

// CryptoAssetID builds the canonical id for a crypto asset: CRYPTO:{SYMBOL}:{QUOTE}.
func CryptoAssetID(symbol, quoteCurrency string) string {
	return fmt.Sprintf("CRYPTO:%s:%s", strings.ToUpper(symbol), strings.ToUpper(quoteCurrency))
}

// CashAssetID builds the canonical id for a cash position: CASH:{CURRENCY}.
func CashAssetID(currency Currency) string {
	return fmt.Sprintf("CASH:%s", strings.ToUpper(string(currency)))
}

// ParseAssetKind recovers the AssetKind implied by a canonical asset id's prefix.
func ParseAssetKind(assetID string) AssetKind {
	switch {
	case strings.HasPrefix(assetID, "SEC:"):
		return AssetKindSecurity
	case strings.HasPrefix(assetID, "CRYPTO:"):
		return AssetKindCrypto
	case strings.HasPrefix(assetID, "CASH:"):
		return AssetKindCash
	default:
		return AssetKindForex
	}
}

// AssetListingCurrency extracts the currency embedded in a CASH:* or
// CRYPTO:*:{quote} canonical id, empty for SEC ids (listing currency must come
// from the Asset record in that case).
func AssetListingCurrency(assetID string) Currency {
	parts := strings.Split(assetID, ":")
	switch {
	case strings.HasPrefix(assetID, "CASH:") && len(parts) == 2:
		return Currency(parts[1])
	case strings.HasPrefix(assetID, "CRYPTO:") && len(parts) == 3:
		return Currency(parts[2])
	default:
		return ""
	}
}
