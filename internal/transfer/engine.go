package transfer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Maphikza/tipbot-engine/internal/logger"
	"github.com/Maphikza/tipbot-engine/internal/metrics"
	"github.com/Maphikza/tipbot-engine/lib/ledger"
)

// Request is one chat command addressed to the engine.
type Request struct {
	Command  string   `json:"command"`
	SenderID string   `json:"sender_id"`
	ChatID   string   `json:"chat_id,omitempty"`
	Args     []string `json:"args"`
}

// Notification is a message for someone other than the sender.
type Notification struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

// Reply is the engine's answer. Kind is empty on success.
type Reply struct {
	Text          string         `json:"text"`
	Kind          Kind           `json:"kind,omitempty"`
	Notifications []Notification `json:"notifications,omitempty"`
	// Shortfall is set on insufficient funds, in atomic units.
	Shortfall     int64          `json:"shortfall,omitempty"`
}

type Stores struct {
	Users    UserStore
	Wallets  WalletStore
	Settings SettingStore
	Members  MemberStore
	Pending  PendingStore
}

type Options struct {
	Coins             map[string]CoinRules
	TTL               time.Duration
	BatchSize         int
	MemberWindow      int
	LookupConcurrency int
	Now               func() time.Time
}

// Engine runs the tip, rain, submit, balance and set flows.
type Engine struct {
	coins      map[string]CoinRules
	users      UserStore
	settings   SettingStore
	sync       *Synchronizer
	resolver   *Resolver
	validator  *Validator
	selector   *Selector
	dispatcher *Dispatcher
	registry   *Registry
}

func New(opts Options, stores Stores, ledgers *ledger.Registry) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	coins := make(map[string]CoinRules, len(opts.Coins))
	for ticker, rules := range opts.Coins {
		coins[strings.ToLower(ticker)] = rules
	}

	registry := NewRegistry(stores.Pending, opts.TTL, WithClock(now))
	return &Engine{
		coins:      coins,
		users:      stores.Users,
		settings:   stores.Settings,
		sync:       NewSynchronizer(stores.Wallets, ledgers, now),
		resolver:   NewResolver(stores.Users, stores.Wallets, opts.BatchSize, opts.LookupConcurrency),
		validator:  NewValidator(stores.Settings),
		selector:   NewSelector(stores.Members, stores.Wallets, opts.MemberWindow, opts.BatchSize),
		dispatcher: NewDispatcher(ledgers, registry),
		registry:   registry,
	}
}

const (
	tipUsage = `Usage: tip <coin> <user...> [amount]
Sends your default tip (or amount) to each user, up to 10 users per tip.`
	rainUsage   = "Usage: rain <coin> [amount]\nSplits a rain over the most recent active members of this chat."
	submitUsage = "Usage: submit <token>"
	setUsage    = "Usage: set <coin> <tip|tip_submit|rain|rain_submit> <value>"
)

// Handle runs one command and always produces a reply.
func (e *Engine) Handle(ctx context.Context, req Request) Reply {
	cmd := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(req.Command), "/"))

	var (
		reply Reply
		err   error
	)
	switch cmd {
	case "tip":
		reply, err = e.tip(ctx, req)
	case "rain":
		reply, err = e.rain(ctx, req)
	case "submit":
		reply, err = e.submit(ctx, req)
	case "balance":
		reply, err = e.balance(ctx, req)
	case "set":
		reply, err = e.set(ctx, req)
	default:
		err = newError(InvalidRequest, "Unknown command %q", req.Command)
	}

	if err != nil {
		reply = errorReply(err, reply)
		if reply.Kind == "" {
			logger.Error("command failed", "command", cmd, "sender", req.SenderID, "error", err)
			metrics.Command(cmd, "error")
		} else {
			metrics.Command(cmd, string(reply.Kind))
		}
		return reply
	}
	metrics.Command(cmd, "ok")
	return reply
}

// errorReply renders err, keeping any notifications already gathered.
func errorReply(err error, partial Reply) Reply {
	reply := Reply{Notifications: partial.Notifications}

	var e *Error
	if !errors.As(err, &e) {
		reply.Text = "Something went wrong, please try again later"
		return reply
	}
	reply.Kind = e.Kind
	reply.Shortfall = e.Shortfall
	switch e.Kind {
	case RpcUnavailable:
		reply.Text = "No response from RPC"
	case RpcRejected:
		reply.Text = "Error RPC: " + e.Message
	default:
		reply.Text = e.Message
	}
	if partial.Text != "" {
		reply.Text += "\n\n" + partial.Text
	}
	return reply
}

func (e *Engine) coinRules(args []string, usage string) (CoinRules, error) {
	if len(args) < 1 || strings.TrimSpace(args[0]) == "" {
		return CoinRules{}, newError(InvalidRequest, "Missing coin argument\n%s", usage)
	}
	ticker := strings.ToLower(strings.TrimSpace(args[0]))
	rules, ok := e.coins[ticker]
	if !ok {
		return CoinRules{}, newError(InvalidRequest, "Invalid coin. Available coins are %s", strings.Join(e.tickers(), ","))
	}
	return rules, nil
}

func (e *Engine) tickers() []string {
	out := make([]string, 0, len(e.coins))
	for t := range e.coins {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// sender loads the requesting user and refuses to start while a staged
// transfer is awaiting confirmation.
func (e *Engine) sender(ctx context.Context, senderID string) (*User, error) {
	user, err := e.users.FindUser(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sender: %w", err)
	}
	if user == nil {
		return nil, newError(AccountMissing, "User account not available. Please create a wallet first")
	}
	pending, err := e.registry.Pending(ctx, senderID)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return nil, errConflict()
	}
	return user, nil
}

// senderWallet syncs and returns the sender's wallet, falling back to the
// cached snapshot when the ledger cannot be reached.
func (e *Engine) senderWallet(ctx context.Context, userID, coin string) (*Wallet, error) {
	res, err := e.sync.Sync(ctx, userID, coin)
	if err != nil {
		return nil, err
	}
	if res.Absent {
		return nil, newError(WalletMissing, "No wallet available")
	}
	if res.Err != nil {
		logger.Info("continuing with cached balance", "user", userID, "coin", coin, "reason", res.Err)
	}
	return res.Wallet, nil
}

// splitAmount removes a trailing amount from args.
func splitAmount(args []string, coin ledger.Coin) ([]string, *int64, error) {
	if len(args) == 0 {
		return args, nil, nil
	}
	last := args[len(args)-1]
	if !coin.IsAmount(last) {
		return args, nil, nil
	}
	// An overflowing amount saturates and is caught by the range check.
	amount, err := coin.Parse(last)
	if err != nil && !errors.Is(err, ledger.ErrAmountOverflow) {
		return nil, nil, &Error{Kind: InvalidRequest, Message: err.Error(), Err: err}
	}
	return args[:len(args)-1], &amount, nil
}

type sendPlan struct {
	kind       TransferKind
	rules      CoinRules
	sender     *User
	wallet     *Wallet
	amount     int64
	recipients []Recipient
	failures   []Failure
}

func (e *Engine) tip(ctx context.Context, req Request) (Reply, error) {
	rules, err := e.coinRules(req.Args, tipUsage)
	if err != nil {
		return Reply{}, err
	}
	sender, err := e.sender(ctx, req.SenderID)
	if err != nil {
		return Reply{}, err
	}
	wallet, err := e.senderWallet(ctx, sender.ID, rules.Coin.Ticker)
	if err != nil {
		return Reply{}, err
	}

	handles, requested, err := splitAmount(req.Args[1:], rules.Coin)
	if err != nil {
		return Reply{}, err
	}
	if len(handles) == 0 {
		return Reply{}, newError(InvalidRequest, "Missing user argument\n%s", tipUsage)
	}

	amount, err := e.validator.Amount(ctx, KindTip, requested, sender.ID, rules)
	if err != nil {
		return Reply{}, err
	}

	resolution, err := e.resolver.Resolve(ctx, handles, sender, rules.Coin.Ticker, amount)
	if err != nil {
		return Reply{}, err
	}
	for _, f := range resolution.Failures {
		metrics.RecipientFailure(string(f.Reason))
	}

	return e.send(ctx, sendPlan{
		kind:       KindTip,
		rules:      rules,
		sender:     sender,
		wallet:     wallet,
		amount:     amount,
		recipients: resolution.Recipients,
		failures:   resolution.Failures,
	})
}

func (e *Engine) rain(ctx context.Context, req Request) (Reply, error) {
	rules, err := e.coinRules(req.Args, rainUsage)
	if err != nil {
		return Reply{}, err
	}
	if req.ChatID == "" {
		return Reply{}, newError(InvalidRequest, "Rain only works in group chats")
	}
	sender, err := e.sender(ctx, req.SenderID)
	if err != nil {
		return Reply{}, err
	}
	wallet, err := e.senderWallet(ctx, sender.ID, rules.Coin.Ticker)
	if err != nil {
		return Reply{}, err
	}

	_, requested, err := splitAmount(req.Args[1:], rules.Coin)
	if err != nil {
		return Reply{}, err
	}
	amount, err := e.validator.Amount(ctx, KindRain, requested, sender.ID, rules)
	if err != nil {
		return Reply{}, err
	}

	recipients, err := e.selector.Select(ctx, req.ChatID, sender, rules.Coin.Ticker)
	if err != nil {
		return Reply{}, err
	}

	return e.send(ctx, sendPlan{
		kind:       KindRain,
		rules:      rules,
		sender:     sender,
		wallet:     wallet,
		amount:     amount,
		recipients: recipients,
	})
}

// send is the shared tail of tip and rain: preflight, dispatch and reply.
func (e *Engine) send(ctx context.Context, plan sendPlan) (Reply, error) {
	coin := plan.rules.Coin
	errorLog := ErrorLog(plan.kind, plan.failures)

	var notices []Notification
	for _, f := range plan.failures {
		if f.Reason == NoWallet && f.UserID != "" {
			notices = append(notices, Notification{UserID: f.UserID, Text: MissingWalletNotice(coin.Ticker)})
		}
	}

	if len(plan.recipients) == 0 {
		return Reply{Text: errorLog, Notifications: notices},
			newError(NoEligibleRecipients, "Invalid %s to no users with %s wallet or linked", plan.kind, strings.ToUpper(coin.Ticker))
	}

	estimate := coin.EstimateFee(plan.amount, len(plan.recipients))
	if err := Preflight(plan.wallet, estimate, plan.rules); err != nil {
		return Reply{Text: errorLog, Notifications: notices}, err
	}

	staged, err := e.validator.Staged(ctx, plan.kind, plan.sender.ID, coin.Ticker)
	if err != nil {
		return Reply{}, err
	}

	destinations := make([]ledger.Destination, len(plan.recipients))
	for i, r := range plan.recipients {
		destinations[i] = ledger.Destination{Address: r.Address, Amount: plan.amount}
	}

	result, err := e.dispatcher.Dispatch(ctx, DispatchRequest{
		Kind:         plan.kind,
		SenderID:     plan.sender.ID,
		Coin:         coin.Ticker,
		WalletID:     plan.wallet.WalletID,
		Recipients:   plan.recipients,
		Destinations: destinations,
		Immediate:    !staged,
	})
	if err != nil {
		return Reply{Text: errorLog, Notifications: notices}, err
	}

	summary := Summary{
		Kind:       plan.kind,
		Coin:       coin,
		Sender:     plan.sender.Handle,
		Recipients: plan.recipients,
		Batch:      result.Batch,
		Token:      result.Token,
		TTL:        e.registry.TTL(),
		Unlock:     plan.wallet.Available(),
	}

	reply := Reply{}
	if result.Staged() {
		reply.Text = summary.Staged()
	} else {
		reply.Text = summary.Settled()
		notices = append(notices, recipientNotices(summary)...)
	}
	if errorLog != "" {
		reply.Text += "\n\n" + errorLog
	}
	reply.Notifications = notices

	logger.Info("transfer dispatched",
		"kind", plan.kind,
		"coin", coin.Ticker,
		"sender", plan.sender.ID,
		"recipients", len(plan.recipients),
		"staged", result.Staged(),
	)
	return reply, nil
}

func recipientNotices(s Summary) []Notification {
	text := s.Notice()
	out := make([]Notification, 0, len(s.Recipients))
	for _, r := range s.Recipients {
		out = append(out, Notification{UserID: r.UserID, Text: text})
	}
	return out
}

func (e *Engine) submit(ctx context.Context, req Request) (Reply, error) {
	if len(req.Args) < 1 || strings.TrimSpace(req.Args[0]) == "" {
		return Reply{}, newError(InvalidRequest, "%s", submitUsage)
	}
	token := strings.TrimSpace(req.Args[0])

	staged, batch, err := e.dispatcher.Settle(ctx, req.SenderID, token)
	if err != nil {
		return Reply{}, err
	}

	rules, ok := e.coins[strings.ToLower(staged.Coin)]
	if !ok {
		rules = CoinRules{Coin: ledger.Coin{Ticker: staged.Coin}}
	}

	handle := req.SenderID
	if user, err := e.users.FindUser(ctx, req.SenderID); err == nil && user != nil {
		handle = user.Handle
	}

	summary := Summary{
		Kind:       staged.Kind,
		Coin:       rules.Coin,
		Sender:     handle,
		Recipients: staged.Recipients,
		Batch:      batch,
	}
	logger.Info("staged transfer settled", "owner", req.SenderID, "coin", staged.Coin, "hashes", len(batch.Hashes))
	return Reply{Text: summary.Settled(), Notifications: recipientNotices(summary)}, nil
}

func (e *Engine) balance(ctx context.Context, req Request) (Reply, error) {
	rules, err := e.coinRules(req.Args, "Usage: balance <coin>")
	if err != nil {
		return Reply{}, err
	}

	res, err := e.sync.Sync(ctx, req.SenderID, rules.Coin.Ticker)
	if err != nil {
		return Reply{}, err
	}
	if res.Absent {
		return Reply{}, newError(WalletMissing, "No wallet available")
	}

	text := BalanceText(res.Wallet, rules.Coin)
	if res.Err != nil {
		note := "Ledger unreachable, showing last known balance"
		if KindOf(res.Err) == RpcRejected {
			note = "Ledger refused the balance request, showing last known balance"
		}
		text = note + "\n\n" + text
	}
	return Reply{Text: text}, nil
}

func (e *Engine) set(ctx context.Context, req Request) (Reply, error) {
	rules, err := e.coinRules(req.Args, setUsage)
	if err != nil {
		return Reply{}, err
	}
	if len(req.Args) < 3 {
		return Reply{}, newError(InvalidRequest, "%s", setUsage)
	}
	user, err := e.users.FindUser(ctx, req.SenderID)
	if err != nil {
		return Reply{}, fmt.Errorf("failed to load sender: %w", err)
	}
	if user == nil {
		return Reply{}, newError(AccountMissing, "User account not available. Please create a wallet first")
	}

	field := strings.ToLower(strings.TrimSpace(req.Args[1]))
	value, err := NormalizeSetting(field, req.Args[2], rules)
	if err != nil {
		return Reply{}, err
	}
	if err := e.settings.SetSetting(ctx, user.ID, rules.Coin.Ticker, field, value); err != nil {
		return Reply{}, fmt.Errorf("failed to save setting: %w", err)
	}

	shown := value
	if settingFields[field].typ == amountField {
		if atomic, err := strconv.ParseInt(value, 10, 64); err == nil {
			shown = rules.Coin.Format(atomic)
		}
	}
	return Reply{Text: fmt.Sprintf("%s %s set to %s", strings.ToUpper(rules.Coin.Ticker), field, shown)}, nil
}
