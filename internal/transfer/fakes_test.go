package transfer

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Maphikza/tipbot-engine/lib/ledger"
	"github.com/shopspring/decimal"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: t0} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakeUsers struct {
	mu        sync.Mutex
	byID      map[string]*User
	handleErr error
	lookups   []string
}

func newFakeUsers(users ...User) *fakeUsers {
	f := &fakeUsers{byID: make(map[string]*User)}
	for i := range users {
		u := users[i]
		f.byID[u.ID] = &u
	}
	return f
}

func (f *fakeUsers) FindUser(_ context.Context, id string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeUsers) FindUserByHandle(_ context.Context, handle string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, handle)
	if f.handleErr != nil {
		return nil, f.handleErr
	}
	for _, u := range f.byID {
		if strings.EqualFold(u.Handle, handle) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

type fakeWallets struct {
	mu      sync.Mutex
	wallets map[string]*Wallet
	errs    map[string]error
	saved   []Wallet
}

func newFakeWallets(wallets ...Wallet) *fakeWallets {
	f := &fakeWallets{wallets: make(map[string]*Wallet), errs: make(map[string]error)}
	for i := range wallets {
		w := wallets[i]
		f.wallets[w.UserID+"|"+w.Coin] = &w
	}
	return f
}

func (f *fakeWallets) FindWallet(_ context.Context, userID, coin string) (*Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[userID]; err != nil {
		return nil, err
	}
	if w, ok := f.wallets[userID+"|"+coin]; ok {
		cp := *w
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeWallets) SaveWallet(_ context.Context, w *Wallet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *w
	f.wallets[w.UserID+"|"+w.Coin] = &cp
	f.saved = append(f.saved, cp)
	return nil
}

type fakeSettings struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{values: make(map[string]string)}
}

func (f *fakeSettings) GetSetting(_ context.Context, userID, coin, field string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[userID+"|"+coin+"|"+field]
	return v, ok, nil
}

func (f *fakeSettings) SetSetting(_ context.Context, userID, coin, field, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[userID+"|"+coin+"|"+field] = value
	return nil
}

type fakeMembers struct {
	chats map[string][]Member
}

func (f *fakeMembers) RecentMembers(_ context.Context, chatID string, limit int) ([]Member, error) {
	members := f.chats[chatID]
	if len(members) > limit {
		members = members[:limit]
	}
	return members, nil
}

type fakePending struct {
	mu        sync.Mutex
	byToken   map[string]PendingEntry
	createErr error
	// stolen makes Take report nothing, as if another caller won.
	stolen bool
}

func newFakePending() *fakePending {
	return &fakePending{byToken: make(map[string]PendingEntry)}
}

func (f *fakePending) Create(_ context.Context, entry PendingEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, e := range f.byToken {
		if e.OwnerID == entry.OwnerID {
			return ErrOwnerHasPending
		}
	}
	f.byToken[entry.Token] = entry
	return nil
}

func (f *fakePending) FindByOwner(_ context.Context, ownerID string) (*PendingEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.byToken {
		if e.OwnerID == ownerID {
			cp := e
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakePending) FindByToken(_ context.Context, token string) (*PendingEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.byToken[token]; ok {
		return &e, nil
	}
	return nil, nil
}

func (f *fakePending) Take(_ context.Context, token string) (*PendingEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.byToken[token]
	if !ok || f.stolen {
		return nil, nil
	}
	delete(f.byToken, token)
	return &e, nil
}

func (f *fakePending) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byToken)
}

type ledgerCall struct {
	Method   string
	WalletID string
	Dests    []ledger.Destination
	Relay    bool
	Metadata []string
}

// fakeLedger answers transfers with one sub-transaction per destination and
// a fee of 1 each.
type fakeLedger struct {
	mu       sync.Mutex
	calls    []ledgerCall
	err      error
	nilBatch bool
	rejected string
	relayErr error
	balance  *ledger.Balance
	balErr   error
}

func (f *fakeLedger) batch(dests []ledger.Destination, relay bool) *ledger.Batch {
	b := &ledger.Batch{}
	for i, d := range dests {
		b.Amounts = append(b.Amounts, d.Amount)
		b.Fees = append(b.Fees, 1)
		if relay {
			b.Hashes = append(b.Hashes, "hash-"+d.Address)
		} else {
			b.Metadata = append(b.Metadata, "meta"+string(rune('a'+i)))
		}
	}
	return b
}

func (f *fakeLedger) answer(dests []ledger.Destination, relay bool) (*ledger.Batch, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.nilBatch {
		return nil, nil
	}
	if f.rejected != "" {
		return &ledger.Batch{Error: f.rejected}, nil
	}
	return f.batch(dests, relay), nil
}

func (f *fakeLedger) Transfer(_ context.Context, walletID string, dest ledger.Destination, relay bool) (*ledger.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ledgerCall{Method: "transfer", WalletID: walletID, Dests: []ledger.Destination{dest}, Relay: relay})
	return f.answer([]ledger.Destination{dest}, relay)
}

func (f *fakeLedger) TransferMany(_ context.Context, walletID string, dests []ledger.Destination, relay bool) (*ledger.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ledgerCall{Method: "transfer_many", WalletID: walletID, Dests: dests, Relay: relay})
	return f.answer(dests, relay)
}

func (f *fakeLedger) Relay(_ context.Context, walletID string, metadata []string) (*ledger.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ledgerCall{Method: "relay", WalletID: walletID, Metadata: metadata})
	if f.relayErr != nil {
		return &ledger.Batch{}, f.relayErr
	}
	b := &ledger.Batch{}
	for _, m := range metadata {
		b.Hashes = append(b.Hashes, "relayed-"+m)
	}
	return b, nil
}

func (f *fakeLedger) Balance(_ context.Context, _ ledger.WalletRef) (*ledger.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ledgerCall{Method: "balance"})
	if f.balErr != nil {
		return nil, f.balErr
	}
	if f.balance == nil {
		return &ledger.Balance{}, nil
	}
	cp := *f.balance
	return &cp, nil
}

func (f *fakeLedger) Calls(method string) []ledgerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ledgerCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeLedger) TransferCalls() int {
	return len(f.Calls("transfer")) + len(f.Calls("transfer_many"))
}

func xlaRules() CoinRules {
	return CoinRules{
		Coin: ledger.Coin{Ticker: "xla", Decimals: 2, FeeRate: decimal.RequireFromString("0.02")},
		Tip:  Bounds{Min: 1, Max: 100000, Default: 500},
		Rain: Bounds{Min: 1, Max: 10000, Default: 100},
	}
}

func ledgersWith(l *fakeLedger) *ledger.Registry {
	r := ledger.NewRegistry()
	if err := r.Register(&ledger.Adapter{Coin: xlaRules().Coin, Ledger: l, Balances: l}); err != nil {
		panic(err)
	}
	return r
}
