package transfer

import (
	"context"
	"fmt"
	"strings"

	"github.com/Maphikza/tipbot-engine/lib/ledger"
	"golang.org/x/sync/errgroup"
)

// Recipient is a resolved destination together with who it belongs to.
type Recipient struct {
	UserID  string `json:"user_id"`
	Handle  string `json:"handle"`
	Address string `json:"address"`
}

// Resolution is the outcome of resolving a list of handles. Destinations and
// Recipients are parallel slices.
type Resolution struct {
	Destinations []ledger.Destination
	Recipients   []Recipient
	Failures     []Failure
}

// Resolver maps chat handles to wallet addresses.
type Resolver struct {
	users       UserStore
	wallets     WalletStore
	limit       int
	concurrency int
}

func NewResolver(users UserStore, wallets WalletStore, limit, concurrency int) *Resolver {
	if limit <= 0 {
		limit = 10
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Resolver{users: users, wallets: wallets, limit: limit, concurrency: concurrency}
}

type lookup struct {
	handle    string
	recipient *Recipient
	failure   *Failure
}

// Resolve walks handles in order and stops once the batch limit is reached;
// handles after that point are not looked up. Lookups run concurrently in
// windows no larger than the remaining capacity, so the result is the same
// as a sequential walk. A user store error aborts the whole resolution.
func (r *Resolver) Resolve(ctx context.Context, handles []string, sender *User, coin string, amount int64) (*Resolution, error) {
	candidates := make([]string, 0, len(handles))
	for _, raw := range handles {
		handle := strings.TrimSpace(raw)
		handle = strings.TrimPrefix(handle, "@")
		if handle == "" {
			continue
		}
		if sender != nil && strings.EqualFold(handle, sender.Handle) {
			continue
		}
		candidates = append(candidates, handle)
	}

	res := &Resolution{}
	for len(candidates) > 0 && len(res.Destinations) < r.limit {
		window := r.limit - len(res.Destinations)
		if window > len(candidates) {
			window = len(candidates)
		}

		results, err := r.lookupWindow(ctx, candidates[:window], coin)
		if err != nil {
			return nil, err
		}
		candidates = candidates[window:]

		for _, l := range results {
			if l.failure != nil {
				res.Failures = append(res.Failures, *l.failure)
				continue
			}
			res.Recipients = append(res.Recipients, *l.recipient)
			res.Destinations = append(res.Destinations, ledger.Destination{Address: l.recipient.Address, Amount: amount})
		}
	}
	return res, nil
}

func (r *Resolver) lookupWindow(ctx context.Context, handles []string, coin string) ([]lookup, error) {
	results := make([]lookup, len(handles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, handle := range handles {
		i, handle := i, handle
		g.Go(func() error {
			l, err := r.lookupOne(gctx, handle, coin)
			if err != nil {
				return err
			}
			results[i] = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Resolver) lookupOne(ctx context.Context, handle, coin string) (lookup, error) {
	user, err := r.users.FindUserByHandle(ctx, handle)
	if err != nil {
		return lookup{}, fmt.Errorf("failed to look up user %s: %w", handle, err)
	}
	if user == nil {
		return lookup{handle: handle, failure: &Failure{Reason: Unlinked, Handle: handle}}, nil
	}

	wallet, err := r.wallets.FindWallet(ctx, user.ID, coin)
	if err != nil {
		return lookup{handle: handle, failure: &Failure{Reason: WalletLookup, Handle: handle, UserID: user.ID, Err: err}}, nil
	}
	if wallet == nil || wallet.Address == "" {
		return lookup{handle: handle, failure: &Failure{Reason: NoWallet, Handle: handle, UserID: user.ID}}, nil
	}

	return lookup{
		handle:    handle,
		recipient: &Recipient{UserID: user.ID, Handle: user.Handle, Address: wallet.Address},
	}, nil
}
