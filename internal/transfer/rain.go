package transfer

import (
	"context"
	"fmt"

	"github.com/Maphikza/tipbot-engine/internal/logger"
)

// Selector picks rain recipients among the recent participants of a chat.
type Selector struct {
	members MemberStore
	wallets WalletStore
	window  int
	limit   int
}

func NewSelector(members MemberStore, wallets WalletStore, window, limit int) *Selector {
	if window <= 0 {
		window = 10
	}
	if limit <= 0 {
		limit = 10
	}
	return &Selector{members: members, wallets: wallets, window: window, limit: limit}
}

// Select returns recipients in recency order. The sender and members without
// a wallet for coin are left out. No recipient is NoEligibleRecipients.
func (s *Selector) Select(ctx context.Context, chatID string, sender *User, coin string) ([]Recipient, error) {
	members, err := s.members.RecentMembers(ctx, chatID, s.window)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat members: %w", err)
	}

	seen := make(map[string]bool, len(members))
	var out []Recipient
	for _, m := range members {
		if len(out) >= s.limit {
			break
		}
		if seen[m.UserID] || (sender != nil && m.UserID == sender.ID) {
			continue
		}
		seen[m.UserID] = true

		wallet, err := s.wallets.FindWallet(ctx, m.UserID, coin)
		if err != nil {
			logger.Warn("skipping rain member, wallet lookup failed", "chat", chatID, "user", m.UserID, "error", err)
			continue
		}
		if wallet == nil || wallet.Address == "" {
			continue
		}
		out = append(out, Recipient{UserID: m.UserID, Handle: m.Handle, Address: wallet.Address})
	}

	if len(out) == 0 {
		return nil, newError(NoEligibleRecipients, "no active member with a %s wallet", coin)
	}
	return out, nil
}
