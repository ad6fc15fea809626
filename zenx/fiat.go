// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package zenx

import "strings"

// DefaultFiatCurrency is the currency used for balance totals before the
// user's stored preference has been loaded.
const DefaultFiatCurrency = "USD"

// FiatCurrency describes a fiat currency the UI can price balances in.
type FiatCurrency struct {
	Code   string
	Label  string
	Symbol string
}

// fiatCurrencies is ordered for presentation.
var fiatCurrencies = []*FiatCurrency{
	{Code: "USD", Label: "United States Dollar", Symbol: "$"},
	{Code: "AED", Label: "United Arab Emirates dirham", Symbol: "AED"},
	{Code: "INR", Label: "Indian rupee", Symbol: "₹"},
	{Code: "BDT", Label: "Bangladeshi taka", Symbol: "৳"},
	{Code: "PKR", Label: "Pakistani rupee", Symbol: "₨"},
	{Code: "RUB", Label: "Russian ruble", Symbol: "₽"},
	{Code: "EUR", Label: "Euro", Symbol: "€"},
	{Code: "GBP", Label: "Pound sterling", Symbol: "£"},
	{Code: "CNY", Label: "Chinese yuan renminbi", Symbol: "¥"},
}

// FiatCurrencies returns the supported fiat currencies in display order. The
// returned slice is a copy.
func FiatCurrencies() []*FiatCurrency {
	list := make([]*FiatCurrency, len(fiatCurrencies))
	copy(list, fiatCurrencies)
	return list
}

// FiatCurrencyMeta looks up display metadata for a fiat currency code. The
// second return is false for codes without an entry. Unknown codes are still
// legal as a base currency, they just render without a symbol.
func FiatCurrencyMeta(code string) (*FiatCurrency, bool) {
	code = strings.ToUpper(code)
	for _, cur := range fiatCurrencies {
		if cur.Code == code {
			return cur, true
		}
	}
	return nil, false
}
