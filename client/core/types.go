// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package core

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"zenx.org/zenxw/client/api"
	"zenx.org/zenxw/zenx"
)

// TxType is the canonical transaction taxonomy. Backend vocabularies vary by
// chain backend and API age, so raw records are folded into these three.
type TxType string

const (
	TxSend    TxType = "send"
	TxReceive TxType = "receive"
	TxBuy     TxType = "buy"
)

// Keyring is a named custody group.
type Keyring struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// WalletItem is one per-chain holding under the active keyring.
type WalletItem struct {
	Chain   string  `json:"chain"`
	Address string  `json:"address"`
	Balance float64 `json:"balance"`
}

// Transaction is a normalized transaction record. Time is always a concrete
// instant and the list holding these is always sorted newest-first.
type Transaction struct {
	ID        string    `json:"id"`
	Type      TxType    `json:"type"`
	Asset     string    `json:"asset"`
	Amount    float64   `json:"amount"`
	AmountUSD float64   `json:"amountUsd"`
	Time      time.Time `json:"time"`
	Status    string    `json:"status"`
	Hash      string    `json:"hash"`
	From      string    `json:"fromAddress"`
	To        string    `json:"toAddress"`
	Seen      bool      `json:"seen"`
}

// State is an immutable snapshot of the wallet state. Slices and maps are
// copies, safe to retain.
type State struct {
	Loading         bool               `json:"loading"`
	BaseCurrency    string             `json:"baseCurrency"`
	Keyrings        []*Keyring         `json:"keyrings"`
	ActiveKeyringID string             `json:"activeKeyringId"`
	Wallets         []*WalletItem      `json:"wallets"`
	Prices          map[string]float64 `json:"prices"`
	Changes24h      map[string]float64 `json:"changes24h"`
	Total           float64            `json:"total"`
	Transactions    []*Transaction     `json:"transactions"`
	UnseenCount     int                `json:"unseenTransactionsCount"`
}

// BootstrapOpts tunes Bootstrap behavior.
type BootstrapOpts struct {
	// SkipPreferences skips the preferences fetch, keeping current currency
	// and active-keyring settings.
	SkipPreferences bool
	// SyncTransactions awaits the transaction load inline instead of
	// scheduling it after balances publish.
	SyncTransactions bool
}

// parseBalance coerces a raw backend balance into a float. Backends variously
// send numbers, numeric strings, or nothing. Anything unparseable is zero.
func parseBalance(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	return 0
}

// normalizeTxType folds the backend's direction/type vocabulary into the
// canonical taxonomy.
func normalizeTxType(rawType, direction string) TxType {
	switch strings.ToLower(rawType) {
	case "send", "withdraw", "withdrawal", "transfer", "out":
		return TxSend
	case "receive", "deposit", "in":
		return TxReceive
	case "buy", "purchase":
		return TxBuy
	}
	switch strings.ToLower(direction) {
	case "out", "sent", "send":
		return TxSend
	case "in", "received", "receive":
		return TxReceive
	}
	return TxReceive
}

// normalizeTx converts a raw backend record.
func normalizeTx(raw *api.Transaction, seen map[string]bool) *Transaction {
	tx := &Transaction{
		ID:        raw.ID,
		Type:      normalizeTxType(raw.Type, raw.Direction),
		Asset:     raw.Asset,
		Amount:    raw.Amount,
		AmountUSD: raw.AmountUSD,
		Time:      zenx.NormalizeTimestamp(raw.Timestamp),
		Status:    raw.Status,
		Hash:      raw.Hash,
		From:      raw.From,
		To:        raw.To,
	}
	if tx.Asset == "" && raw.Chain != "" {
		tx.Asset = zenx.ChainSymbol(raw.Chain)
	}
	if tx.ID != "" {
		tx.Seen = seen[tx.ID]
	}
	return tx
}
