// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package core is the client wallet state store. The Core owns keyrings,
// wallets, prices, the transaction list, and seen/unseen bookkeeping, and is
// the only component UI layers talk to. It orchestrates bootstrap sequencing,
// currency and keyring switches, transfer submission with optimistic refresh,
// and application of realtime balance pushes.
package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"zenx.org/zenxw/client/api"
	"zenx.org/zenxw/client/comms"
	"zenx.org/zenxw/client/db"
	"zenx.org/zenxw/zenx"
	"zenx.org/zenxw/zenx/prices"
)

// deferTxDelay is how long after balances publish the deferred transaction
// load fires. First paint of balances is never blocked on history latency.
const deferTxDelay = 200 * time.Millisecond

// Backend is the authenticated wallet API surface consumed by the Core.
// Satisfied by *api.Client.
type Backend interface {
	RegisterSession(ctx context.Context) error
	Preferences(ctx context.Context) (*api.Preferences, error)
	UpdatePreferences(ctx context.Context, update *api.PreferencesUpdate) error
	Keyrings(ctx context.Context) ([]*api.Keyring, error)
	CreateKeyring(ctx context.Context, label string) (*api.Keyring, []*api.Wallet, error)
	ImportKeyring(ctx context.Context, label, mnemonic string) (*api.Keyring, []*api.Wallet, error)
	RenameKeyring(ctx context.Context, id, label string) error
	ExportKeyring(ctx context.Context, id, passcode string) (string, error)
	Wallets(ctx context.Context, keyringID string) ([]*api.Wallet, error)
	Transactions(ctx context.Context, filter *api.TransactionsFilter) ([]*api.Transaction, error)
	Transfer(ctx context.Context, req *api.TransferRequest) (*api.TransferResult, error)
	ExportSeed(ctx context.Context) (string, error)
	ImportSeed(ctx context.Context, mnemonic string) error
	CreateSeedWallets(ctx context.Context) error
	XRPInfo(ctx context.Context, address string) (*api.XRPInfo, error)
}

var _ Backend = (*api.Client)(nil)

// PriceSource fetches spot prices and 24h changes. Satisfied by
// *prices.Source.
type PriceSource interface {
	Fetch(ctx context.Context, assetIDs []string, baseCurrency string) *prices.Quotes
}

var _ PriceSource = (*prices.Source)(nil)

// BalanceSource is the realtime balance push subscription. Satisfied by
// *comms.BalanceFeed.
type BalanceSource interface {
	Connect(ctx context.Context)
	Updates() <-chan *comms.BalanceUpdate
}

var _ BalanceSource = (*comms.BalanceFeed)(nil)

// Config is the configuration for the Core.
type Config struct {
	DB      db.DB
	Backend Backend
	Prices  PriceSource
	// Feed is optional. Without one, no realtime balance updates are applied.
	Feed   BalanceSource
	Logger zenx.Logger
}

// Core is the central wallet state store. All exported methods are safe for
// concurrent use. Mutations replace whole state slices atomically under one
// mutex, so readers always observe a consistent wallets/prices/total triple.
type Core struct {
	cfg     *Config
	log     zenx.Logger
	db      db.DB
	backend Backend
	prices  PriceSource
	feed    BalanceSource

	mtx             sync.RWMutex
	loading         bool
	baseCurrency    string
	keyrings        []*Keyring
	activeKeyringID string
	wallets         []*WalletItem
	priceMap        map[string]float64
	changeMap       map[string]float64
	total           float64
	txs             []*Transaction
	unseen          int
	seenTxs         db.SeenTxMap
	// gen fences slow responses: a wallet/price result computed for an older
	// generation is discarded at apply time instead of clobbering newer state.
	gen uint64

	noteMtx   sync.RWMutex
	noteChans []chan *db.Notification

	wg sync.WaitGroup
}

// New constructs the Core.
func New(cfg *Config) (*Core, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("no database configured")
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("no backend configured")
	}
	return &Core{
		cfg:          cfg,
		log:          cfg.Logger,
		db:           cfg.DB,
		backend:      cfg.Backend,
		prices:       cfg.Prices,
		feed:         cfg.Feed,
		baseCurrency: zenx.DefaultFiatCurrency,
		priceMap:     make(map[string]float64),
		changeMap:    make(map[string]float64),
		seenTxs:      make(db.SeenTxMap),
	}, nil
}

// Run starts the Core's background processes and blocks until ctx is
// canceled. The database and the balance feed live exactly as long as ctx.
func (c *Core) Run(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.db.Run(ctx)
	}()

	if c.feed != nil {
		c.feed.Connect(ctx)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for update := range c.feed.Updates() {
				c.applyBalanceUpdate(update)
			}
		}()
	}

	<-ctx.Done()
	c.wg.Wait()
}

// State returns a snapshot of the current wallet state.
func (c *Core) State() *State {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	state := &State{
		Loading:         c.loading,
		BaseCurrency:    c.baseCurrency,
		Keyrings:        make([]*Keyring, len(c.keyrings)),
		ActiveKeyringID: c.activeKeyringID,
		Wallets:         make([]*WalletItem, len(c.wallets)),
		Prices:          make(map[string]float64, len(c.priceMap)),
		Changes24h:      make(map[string]float64, len(c.changeMap)),
		Total:           c.total,
		Transactions:    make([]*Transaction, len(c.txs)),
		UnseenCount:     c.unseen,
	}
	for i, kr := range c.keyrings {
		cp := *kr
		state.Keyrings[i] = &cp
	}
	for i, w := range c.wallets {
		cp := *w
		state.Wallets[i] = &cp
	}
	for id, p := range c.priceMap {
		state.Prices[id] = p
	}
	for id, ch := range c.changeMap {
		state.Changes24h[id] = ch
	}
	for i, tx := range c.txs {
		cp := *tx
		state.Transactions[i] = &cp
	}
	return state
}

// nextGen bumps and returns the state generation. Every operation that will
// replace the wallets/prices slice takes a generation first and applies its
// results only while that generation is still current.
func (c *Core) nextGen() uint64 {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.gen++
	return c.gen
}

func (c *Core) genCurrent(gen uint64) bool {
	return c.gen == gen
}

// Bootstrap runs the full startup sequence: hydrate local seen state,
// best-effort session registration, preferences, keyrings, wallets, prices,
// and finally transactions. Read failures degrade to empty defaults rather
// than failing the bootstrap. Completion leaves the store in a ready state
// whether or not any keyring exists.
func (c *Core) Bootstrap(ctx context.Context, opts *BootstrapOpts) {
	if opts == nil {
		opts = &BootstrapOpts{}
	}
	gen := c.nextGen()

	c.mtx.Lock()
	c.loading = true
	c.mtx.Unlock()

	// Local seen-tx state. Corrupt or missing data is an empty map.
	seen, err := c.db.SeenTxs()
	if err != nil {
		c.log.Warnf("discarding unreadable seen-transactions map: %v", err)
		seen = make(db.SeenTxMap)
	}
	if seen == nil {
		seen = make(db.SeenTxMap)
	}
	c.mtx.Lock()
	c.seenTxs = seen
	c.mtx.Unlock()

	// Fire-and-forget session registration.
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.backend.RegisterSession(ctx); err != nil {
			c.notifyErr("registration", "session registration failed", err)
		}
	}()

	if !opts.SkipPreferences {
		if prefs, err := c.backend.Preferences(ctx); err != nil {
			c.log.Debugf("preferences fetch failed, keeping defaults: %v", err)
		} else {
			c.mtx.Lock()
			if prefs.PreferredCurrency != "" {
				c.baseCurrency = normalizeCurrency(prefs.PreferredCurrency)
			}
			if prefs.ActiveKeyringID != "" {
				c.activeKeyringID = prefs.ActiveKeyringID
			}
			c.mtx.Unlock()
		}
	}

	keyrings, err := c.backend.Keyrings(ctx)
	if err != nil {
		c.log.Warnf("keyring list fetch failed, treating as empty: %v", err)
		keyrings = nil
	}

	c.mtx.Lock()
	c.keyrings = convertKeyrings(keyrings)
	// Prefer the preference-supplied active keyring when it is still in the
	// list, else the first keyring.
	active := c.activeKeyringID
	if !keyringListed(keyrings, active) {
		active = ""
	}
	if active == "" && len(keyrings) > 0 {
		active = keyrings[0].ID
	}
	changed := active != c.activeKeyringID
	c.activeKeyringID = active
	c.mtx.Unlock()

	if changed && active != "" {
		// Persist the choice so it survives future bootstraps.
		c.persistActiveKeyring(ctx, active)
	}

	if active == "" {
		// No wallet yet. This is a terminal ready state.
		c.mtx.Lock()
		if c.genCurrent(gen) {
			c.wallets = []*WalletItem{}
			c.priceMap = make(map[string]float64)
			c.changeMap = make(map[string]float64)
			c.total = 0
			c.loading = false
		}
		c.mtx.Unlock()
		return
	}

	wallets := c.fetchWallets(ctx, active)
	quotes := c.fetchQuotes(ctx, wallets)

	c.mtx.Lock()
	if c.genCurrent(gen) {
		c.wallets = wallets
		c.priceMap = quotes.Prices
		c.changeMap = quotes.Changes
		c.total = aggregateTotal(wallets, quotes.Prices)
		c.loading = false
	}
	c.mtx.Unlock()

	if opts.SyncTransactions {
		c.LoadTransactions(ctx)
		return
	}
	// Deferred so history latency never delays first paint of balances.
	c.wg.Add(1)
	timer := time.AfterFunc(deferTxDelay, func() {
		defer c.wg.Done()
		if ctx.Err() != nil {
			return
		}
		c.LoadTransactions(ctx)
	})
	go func() {
		<-ctx.Done()
		if timer.Stop() {
			c.wg.Done()
		}
	}()
}

// SetBaseCurrency switches the display currency, persists the preference,
// and refreshes prices and the total. The switch is applied in memory first
// and never toggles the loading flag.
func (c *Core) SetBaseCurrency(ctx context.Context, currency string) {
	currency = normalizeCurrency(currency)
	gen := c.nextGen()

	c.mtx.Lock()
	c.baseCurrency = currency
	wallets := c.wallets
	c.mtx.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.backend.UpdatePreferences(ctx, &api.PreferencesUpdate{PreferredCurrency: &currency})
		if err != nil {
			c.notifyErr("preferences", "currency preference not saved", err)
		}
	}()

	quotes := c.fetchQuotes(ctx, wallets)

	c.mtx.Lock()
	if c.genCurrent(gen) {
		c.priceMap = quotes.Prices
		c.changeMap = quotes.Changes
		c.total = aggregateTotal(c.wallets, quotes.Prices)
	}
	c.mtx.Unlock()
}

// SetActiveKeyring switches the displayed keyring, persists the preference,
// and reloads wallets, prices, and transactions for the new keyring.
func (c *Core) SetActiveKeyring(ctx context.Context, id string) {
	gen := c.nextGen()

	c.mtx.Lock()
	c.activeKeyringID = id
	c.mtx.Unlock()

	c.persistActiveKeyring(ctx, id)

	wallets := c.fetchWallets(ctx, id)
	quotes := c.fetchQuotes(ctx, wallets)

	c.mtx.Lock()
	if c.genCurrent(gen) {
		c.wallets = wallets
		c.priceMap = quotes.Prices
		c.changeMap = quotes.Changes
		c.total = aggregateTotal(wallets, quotes.Prices)
	}
	c.mtx.Unlock()

	c.LoadTransactions(ctx)
}

// CreateKeyring creates a new keyring on the backend, refreshes the keyring
// list, and adopts the new keyring as active.
func (c *Core) CreateKeyring(ctx context.Context, label string) error {
	keyring, _, err := c.backend.CreateKeyring(ctx, label)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	c.adoptKeyring(ctx, keyring)
	return nil
}

// ImportKeyring imports a keyring from a mnemonic, refreshes the keyring
// list, and adopts the new keyring as active.
func (c *Core) ImportKeyring(ctx context.Context, label, mnemonic string) error {
	keyring, _, err := c.backend.ImportKeyring(ctx, label, mnemonic)
	if err != nil {
		return fmt.Errorf("failed to import wallet: %w", err)
	}
	c.adoptKeyring(ctx, keyring)
	return nil
}

// adoptKeyring refreshes the keyring list after a create/import and switches
// to the new keyring. The response's keyring id is authoritative. When the
// backend omits it, the last list element is assumed to be the new one.
func (c *Core) adoptKeyring(ctx context.Context, keyring *api.Keyring) {
	keyrings, err := c.backend.Keyrings(ctx)
	if err != nil {
		c.log.Warnf("keyring list refresh failed after create/import: %v", err)
	} else {
		c.mtx.Lock()
		c.keyrings = convertKeyrings(keyrings)
		c.mtx.Unlock()
	}

	var adoptID string
	if keyring != nil && keyring.ID != "" {
		adoptID = keyring.ID
	} else if len(keyrings) > 0 {
		adoptID = keyrings[len(keyrings)-1].ID
	}
	if adoptID != "" {
		c.SetActiveKeyring(ctx, adoptID)
	}
}

// RenameKeyring relabels a keyring and refreshes the keyring list. The active
// keyring is unchanged.
func (c *Core) RenameKeyring(ctx context.Context, id, label string) error {
	if err := c.backend.RenameKeyring(ctx, id, label); err != nil {
		return fmt.Errorf("failed to rename wallet: %w", err)
	}
	keyrings, err := c.backend.Keyrings(ctx)
	if err != nil {
		c.log.Warnf("keyring list refresh failed after rename: %v", err)
		return nil
	}
	c.mtx.Lock()
	c.keyrings = convertKeyrings(keyrings)
	c.mtx.Unlock()
	return nil
}

// ExportKeyring retrieves a keyring's mnemonic. The mnemonic is returned to
// the caller and never cached or retried.
func (c *Core) ExportKeyring(ctx context.Context, id, passcode string) (string, error) {
	mnemonic, err := c.backend.ExportKeyring(ctx, id, passcode)
	if err != nil {
		return "", fmt.Errorf("failed to export wallet: %w", err)
	}
	return mnemonic, nil
}

// TransferInput is the input to SendTransfer.
type TransferInput struct {
	Chain     string
	ToAddress string
	Amount    string
	Passcode  string
}

// SendTransfer submits a transfer from the active keyring's wallet on the
// given chain. On success an immediate transaction reload is triggered before
// returning, so the new transfer shows up in history as soon as the backend
// lists it. No pending row is synthesized locally.
func (c *Core) SendTransfer(ctx context.Context, input *TransferInput) (txid, from string, err error) {
	c.mtx.RLock()
	keyringID := c.activeKeyringID
	c.mtx.RUnlock()

	res, err := c.backend.Transfer(ctx, &api.TransferRequest{
		Chain:     input.Chain,
		ToAddress: input.ToAddress,
		Amount:    input.Amount,
		Passcode:  input.Passcode,
		KeyringID: keyringID,
	})
	if err != nil {
		return "", "", fmt.Errorf("transfer failed: %w", err)
	}

	n := db.NewNotification("transfer", "transfer submitted",
		fmt.Sprintf("%s %s to %s", input.Amount, zenx.ChainSymbol(input.Chain), input.ToAddress),
		db.Success)
	c.notify(&n)

	c.LoadTransactions(ctx)
	return res.TxID, res.From, nil
}

// LoadTransactions fetches and normalizes the transaction history for the
// active keyring. Timestamps are normalized, records are sorted newest-first,
// and the persisted seen-map determines each record's seen flag. A failed
// fetch resets to an empty list. Stale history is worse than none.
func (c *Core) LoadTransactions(ctx context.Context) {
	c.mtx.RLock()
	keyringID := c.activeKeyringID
	c.mtx.RUnlock()

	var filter *api.TransactionsFilter
	if keyringID != "" {
		filter = &api.TransactionsFilter{KeyringID: keyringID}
	}

	raw, err := c.backend.Transactions(ctx, filter)
	if err != nil {
		c.log.Warnf("transaction fetch failed, clearing history: %v", err)
		c.mtx.Lock()
		c.txs = []*Transaction{}
		c.unseen = 0
		c.mtx.Unlock()
		return
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()

	txs := make([]*Transaction, 0, len(raw))
	unseen := 0
	for _, r := range raw {
		tx := normalizeTx(r, c.seenTxs)
		if !tx.Seen {
			unseen++
		}
		txs = append(txs, tx)
	}
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Time.After(txs[j].Time)
	})
	c.txs = txs
	c.unseen = unseen
}

// MarkAllTransactionsSeen marks every loaded transaction seen, zeroes the
// unseen counter, and persists the seen-map. Persistence failure is logged
// and noted, never returned. Seen-state is a convenience, not a ledger.
func (c *Core) MarkAllTransactionsSeen() {
	c.mtx.Lock()
	for _, tx := range c.txs {
		tx.Seen = true
		if tx.ID != "" {
			c.seenTxs[tx.ID] = true
		}
	}
	c.unseen = 0
	seen := make(db.SeenTxMap, len(c.seenTxs))
	for id := range c.seenTxs {
		seen[id] = true
	}
	c.mtx.Unlock()

	if err := c.db.SaveSeenTxs(seen); err != nil {
		c.notifyErr("seenTxs", "seen-transactions map not saved", err)
	}
}

// ExportSeed retrieves the legacy single-seed mnemonic.
func (c *Core) ExportSeed(ctx context.Context) (string, error) {
	mnemonic, err := c.backend.ExportSeed(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to export seed: %w", err)
	}
	return mnemonic, nil
}

// ImportSeed replaces the legacy single seed, then re-runs a bootstrap to
// pick up the replacement wallets.
func (c *Core) ImportSeed(ctx context.Context, mnemonic string) error {
	if err := c.backend.ImportSeed(ctx, mnemonic); err != nil {
		return fmt.Errorf("failed to import seed: %w", err)
	}
	c.Bootstrap(ctx, &BootstrapOpts{SkipPreferences: true})
	return nil
}

// CreateSeedWallets generates the legacy single seed and its wallets, then
// re-runs a bootstrap.
func (c *Core) CreateSeedWallets(ctx context.Context) error {
	if err := c.backend.CreateSeedWallets(ctx); err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	c.Bootstrap(ctx, &BootstrapOpts{SkipPreferences: true})
	return nil
}

// FiatCurrencies lists the fiat currencies offered in the currency picker.
// SetBaseCurrency accepts codes outside this table too; the table is display
// metadata, not a validation gate.
func (c *Core) FiatCurrencies() []*zenx.FiatCurrency {
	return zenx.FiatCurrencies()
}

// XRPInfo fetches XRP ledger reserve info for an address.
func (c *Core) XRPInfo(ctx context.Context, address string) (*api.XRPInfo, error) {
	return c.backend.XRPInfo(ctx, address)
}

// applyBalanceUpdate applies one pushed balance change. Updates for unknown
// (chain, address) pairs and updates carrying an unchanged balance are
// skipped. The total is recomputed from current prices without a price
// refetch, since pushes are latency-sensitive.
func (c *Core) applyBalanceUpdate(update *comms.BalanceUpdate) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	for _, w := range c.wallets {
		if w.Chain != update.Chain || w.Address != update.Address {
			continue
		}
		if w.Balance == update.Balance {
			return
		}
		w.Balance = update.Balance
		c.total = aggregateTotal(c.wallets, c.priceMap)
		n := db.NewNotification("balance", "balance updated",
			fmt.Sprintf("%s balance is now %v", zenx.ChainSymbol(update.Chain), update.Balance),
			db.Data)
		c.notifyNoLock(&n)
		return
	}
}

// notifyNoLock broadcasts without persisting. Used from paths already holding
// the state mutex with Data-severity notes only.
func (c *Core) notifyNoLock(n *db.Notification) {
	c.noteMtx.RLock()
	for _, ch := range c.noteChans {
		select {
		case ch <- n:
		default:
		}
	}
	c.noteMtx.RUnlock()
}

// fetchWallets loads the wallet list for a keyring, falling back to an
// unscoped fetch when the scoped result is empty. Keyring association can lag
// keyring creation on the backend. Failures yield an empty list.
func (c *Core) fetchWallets(ctx context.Context, keyringID string) []*WalletItem {
	raw, err := c.backend.Wallets(ctx, keyringID)
	if err != nil {
		c.log.Warnf("wallet fetch failed: %v", err)
		raw = nil
	}
	if len(raw) == 0 && keyringID != "" {
		raw, err = c.backend.Wallets(ctx, "")
		if err != nil {
			c.log.Warnf("unscoped wallet fetch failed: %v", err)
			raw = nil
		}
	}

	wallets := make([]*WalletItem, 0, len(raw))
	for _, w := range raw {
		wallets = append(wallets, &WalletItem{
			Chain:   w.Chain,
			Address: w.Address,
			Balance: parseBalance(w.Balance),
		})
	}
	return wallets
}

// fetchQuotes loads prices for the canonical ids of the given wallets plus
// the default id set, in the current base currency. Never fails; a dead price
// provider yields empty maps.
func (c *Core) fetchQuotes(ctx context.Context, wallets []*WalletItem) *prices.Quotes {
	c.mtx.RLock()
	currency := c.baseCurrency
	c.mtx.RUnlock()

	ids := zenx.DefaultPriceIDs()
	have := make(map[string]bool, len(ids))
	for _, id := range ids {
		have[id] = true
	}
	for _, w := range wallets {
		id := zenx.CanonicalPriceID(w.Chain)
		if !have[id] {
			have[id] = true
			ids = append(ids, id)
		}
	}

	if c.prices == nil {
		return &prices.Quotes{Prices: make(map[string]float64), Changes: make(map[string]float64)}
	}
	return c.prices.Fetch(ctx, ids, currency)
}

// persistActiveKeyring stores the active keyring choice in backend
// preferences, fire-and-forget.
func (c *Core) persistActiveKeyring(ctx context.Context, id string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.backend.UpdatePreferences(ctx, &api.PreferencesUpdate{ActiveKeyringID: &id})
		if err != nil {
			c.notifyErr("preferences", "active wallet preference not saved", err)
		}
	}()
}

// aggregateTotal is the fiat value of the wallet set at the given prices.
func aggregateTotal(wallets []*WalletItem, priceMap map[string]float64) float64 {
	var total float64
	for _, w := range wallets {
		total += w.Balance * priceMap[zenx.CanonicalPriceID(w.Chain)]
	}
	return total
}

func normalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return zenx.DefaultFiatCurrency
	}
	return code
}

func convertKeyrings(raw []*api.Keyring) []*Keyring {
	keyrings := make([]*Keyring, 0, len(raw))
	for _, kr := range raw {
		keyrings = append(keyrings, &Keyring{ID: kr.ID, Label: kr.Label})
	}
	return keyrings
}

func keyringListed(keyrings []*api.Keyring, id string) bool {
	if id == "" {
		return false
	}
	for _, kr := range keyrings {
		if kr.ID == id {
			return true
		}
	}
	return false
}
