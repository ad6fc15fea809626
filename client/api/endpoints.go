// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package api

import (
	"context"
	"encoding/json"
	"net/url"
)

// Keyring is a named custody group. One keyring corresponds to one seed and
// its derived per-chain wallets.
type Keyring struct {
	ID        string          `json:"id"`
	Label     string          `json:"label"`
	CreatedAt json.RawMessage `json:"createdAt"`
}

// Wallet is a single per-chain holding. Balance arrives in chain-native
// units. The backend occasionally omits or mistypes the balance field, so it
// is decoded leniently downstream.
type Wallet struct {
	Chain   string          `json:"chain"`
	Address string          `json:"address"`
	Balance json.RawMessage `json:"balance"`
}

// Transaction is a raw backend transaction record. Timestamps arrive as epoch
// seconds, epoch milliseconds, or ISO strings depending on the chain backend,
// and the type vocabulary varies, so both are left raw for normalization in
// client/core.
type Transaction struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Direction string          `json:"direction"`
	Asset     string          `json:"asset"`
	Chain     string          `json:"chain"`
	Amount    float64         `json:"amount"`
	AmountUSD float64         `json:"amountUsd"`
	Timestamp json.RawMessage `json:"timestamp"`
	Status    string          `json:"status"`
	Hash      string          `json:"hash"`
	From      string          `json:"fromAddress"`
	To        string          `json:"toAddress"`
}

// Preferences are the user's backend-persisted settings.
type Preferences struct {
	PreferredCurrency string `json:"preferredCurrency"`
	BackupEmail       string `json:"backupEmail,omitempty"`
	PasscodeEnabled   bool   `json:"passcodeEnabled,omitempty"`
	ActiveKeyringID   string `json:"activeKeyringId,omitempty"`
}

// PreferencesUpdate is a partial preferences write. Nil fields are not sent.
type PreferencesUpdate struct {
	PreferredCurrency *string `json:"preferredCurrency,omitempty"`
	BackupEmail       *string `json:"backupEmail,omitempty"`
	ActiveKeyringID   *string `json:"activeKeyringId,omitempty"`
	SetPasscode       *string `json:"setPasscode,omitempty"`
	DisablePasscode   *bool   `json:"disablePasscode,omitempty"`
}

// TransferRequest is the input to Transfer. KeyringID scopes the source
// wallet when set.
type TransferRequest struct {
	Chain     string `json:"chain"`
	ToAddress string `json:"toAddress"`
	Amount    string `json:"amount"`
	Passcode  string `json:"passcode,omitempty"`
	KeyringID string `json:"keyringId,omitempty"`
}

// TransferResult is the backend's acknowledgement of a submitted transfer.
type TransferResult struct {
	TxID string `json:"txid"`
	From string `json:"from"`
}

// XRPInfo describes the XRP ledger reserve requirements for an address. All
// amounts are in whole XRP.
type XRPInfo struct {
	ReserveBaseXRP float64 `json:"reserveBaseXrp"`
	ReserveIncXRP  float64 `json:"reserveIncXrp"`
	OwnerCount     uint64  `json:"ownerCount"`
	BalanceXRP     float64 `json:"balanceXrp"`
	MinReserveXRP  float64 `json:"minReserveXrp"`
	FeeXRP         float64 `json:"feeXrp"`
	SpendableXRP   float64 `json:"spendableXrp"`
}

// RegisterBrowser associates the browser identity with its signing secret on
// the backend. Callers treat this as fire-and-forget.
func (c *Client) RegisterBrowser(ctx context.Context, browserID, secret string) error {
	req := &struct {
		BrowserID string `json:"browserId"`
		Secret    string `json:"secret"`
	}{browserID, secret}
	return c.Post(ctx, "/browser/register", req, nil)
}

// RegisterSession bootstraps the backend session for this client.
func (c *Client) RegisterSession(ctx context.Context) error {
	return c.Post(ctx, "/telegram/register", nil, nil)
}

// Preferences fetches the user's stored preferences.
func (c *Client) Preferences(ctx context.Context) (*Preferences, error) {
	prefs := new(Preferences)
	if err := c.Get(ctx, "/telegram/preferences", prefs); err != nil {
		return nil, err
	}
	return prefs, nil
}

// UpdatePreferences writes a partial preferences update.
func (c *Client) UpdatePreferences(ctx context.Context, update *PreferencesUpdate) error {
	return c.Post(ctx, "/telegram/preferences", update, nil)
}

// Keyrings fetches the full keyring list.
func (c *Client) Keyrings(ctx context.Context) ([]*Keyring, error) {
	var resp struct {
		Keyrings []*Keyring `json:"keyrings"`
	}
	if err := c.Get(ctx, "/keyrings", &resp); err != nil {
		return nil, err
	}
	return resp.Keyrings, nil
}

// CreateKeyring creates a new keyring from a freshly generated seed and
// returns the new keyring with its initial wallets.
func (c *Client) CreateKeyring(ctx context.Context, label string) (*Keyring, []*Wallet, error) {
	req := &struct {
		Label string `json:"label"`
	}{label}
	var resp struct {
		Keyring *Keyring  `json:"keyring"`
		Wallets []*Wallet `json:"wallets"`
	}
	if err := c.Post(ctx, "/keyrings/create", req, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Keyring, resp.Wallets, nil
}

// ImportKeyring creates a keyring from a user-supplied mnemonic.
func (c *Client) ImportKeyring(ctx context.Context, label, mnemonic string) (*Keyring, []*Wallet, error) {
	req := &struct {
		Label    string `json:"label"`
		Mnemonic string `json:"mnemonic"`
	}{label, mnemonic}
	var resp struct {
		Keyring *Keyring  `json:"keyring"`
		Wallets []*Wallet `json:"wallets"`
	}
	if err := c.Post(ctx, "/keyrings/import", req, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Keyring, resp.Wallets, nil
}

// RenameKeyring sets the keyring's label.
func (c *Client) RenameKeyring(ctx context.Context, id, label string) error {
	req := &struct {
		Label string `json:"label"`
	}{label}
	return c.Post(ctx, "/keyrings/"+url.PathEscape(id), req, nil)
}

// ExportKeyring retrieves the keyring's mnemonic. The passcode is required
// when the account has one set. The mnemonic is never cached.
func (c *Client) ExportKeyring(ctx context.Context, id, passcode string) (string, error) {
	req := &struct {
		Passcode string `json:"passcode,omitempty"`
	}{passcode}
	var resp struct {
		Mnemonic string `json:"mnemonic"`
	}
	if err := c.Post(ctx, "/keyrings/"+url.PathEscape(id)+"/export", req, &resp); err != nil {
		return "", err
	}
	return resp.Mnemonic, nil
}

// Wallets fetches the wallet list, scoped to a keyring when keyringID is
// non-empty.
func (c *Client) Wallets(ctx context.Context, keyringID string) ([]*Wallet, error) {
	path := "/telegram/wallets"
	if keyringID != "" {
		path += "?keyringId=" + url.QueryEscape(keyringID)
	}
	var resp struct {
		Wallets []*Wallet `json:"wallets"`
	}
	if err := c.Get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Wallets, nil
}

// TransactionsFilter narrows a Transactions fetch. Zero-valued fields are
// omitted from the query.
type TransactionsFilter struct {
	Address   string
	Chain     string
	KeyringID string
}

// Transactions fetches the transaction history, optionally filtered.
func (c *Client) Transactions(ctx context.Context, filter *TransactionsFilter) ([]*Transaction, error) {
	path := "/transactions"
	if filter != nil {
		q := make(url.Values)
		if filter.Address != "" {
			q.Set("address", filter.Address)
		}
		if filter.Chain != "" {
			q.Set("chain", filter.Chain)
		}
		if filter.KeyringID != "" {
			q.Set("keyringId", filter.KeyringID)
		}
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
	}
	var resp struct {
		Transactions []*Transaction `json:"transactions"`
	}
	if err := c.Get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Transactions, nil
}

// Transfer submits a transfer from the active keyring's wallet on the
// requested chain.
func (c *Client) Transfer(ctx context.Context, req *TransferRequest) (*TransferResult, error) {
	res := new(TransferResult)
	if err := c.Post(ctx, "/transactions/transfer", req, res); err != nil {
		return nil, err
	}
	return res, nil
}

// ExportSeed retrieves the legacy single-seed mnemonic for accounts created
// before keyrings existed.
func (c *Client) ExportSeed(ctx context.Context) (string, error) {
	var resp struct {
		Mnemonic string `json:"mnemonic"`
	}
	if err := c.Get(ctx, "/user-seed/export", &resp); err != nil {
		return "", err
	}
	return resp.Mnemonic, nil
}

// ImportSeed replaces the legacy single seed with a user-supplied mnemonic.
func (c *Client) ImportSeed(ctx context.Context, mnemonic string) error {
	req := &struct {
		Mnemonic string `json:"mnemonic"`
	}{mnemonic}
	return c.Post(ctx, "/user-seed/import", req, nil)
}

// CreateSeedWallets generates the legacy single seed and its wallets.
func (c *Client) CreateSeedWallets(ctx context.Context) error {
	return c.Post(ctx, "/user-seed/create", nil, nil)
}

// XRPInfo fetches reserve and spendable-balance data for an XRP address. The
// endpoint is public and requires no signature, but sending one is harmless.
func (c *Client) XRPInfo(ctx context.Context, address string) (*XRPInfo, error) {
	info := new(XRPInfo)
	if err := c.Get(ctx, "/public/xrp-info?address="+url.QueryEscape(address), info); err != nil {
		return nil, err
	}
	return info, nil
}
