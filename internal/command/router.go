package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Maphikza/tipbot-engine/internal/logger"
	"github.com/Maphikza/tipbot-engine/internal/transfer"
)

// Engine runs chat commands.
type Engine interface {
	Handle(ctx context.Context, req transfer.Request) transfer.Reply
}

// Directory is written to by the chat frontend: who exists, which wallet
// they own and who spoke where.
type Directory interface {
	SaveUser(ctx context.Context, user transfer.User) error
	LinkWallet(ctx context.Context, wallet transfer.Wallet) error
	RecordActivity(ctx context.Context, chatID string, member transfer.Member, at time.Time) error
}

// Router is the single entry point used by every transport.
type Router struct {
	engine    Engine
	directory Directory
	now       func() time.Time
}

func NewRouter(engine Engine, directory Directory) *Router {
	return &Router{engine: engine, directory: directory, now: time.Now}
}

// Execute runs req. Engine commands always produce a reply; directory
// commands return an error when the request is malformed or the write fails.
func (r *Router) Execute(ctx context.Context, req transfer.Request) (transfer.Reply, error) {
	if req.SenderID == "" {
		return transfer.Reply{}, fmt.Errorf("sender_id is required")
	}

	switch strings.ToLower(strings.TrimPrefix(req.Command, "/")) {
	case "register":
		// register <handle>
		if len(req.Args) != 1 {
			return transfer.Reply{}, fmt.Errorf("usage: register <handle>")
		}
		handle := strings.TrimPrefix(strings.TrimSpace(req.Args[0]), "@")
		if err := r.directory.SaveUser(ctx, transfer.User{ID: req.SenderID, Handle: handle}); err != nil {
			return transfer.Reply{}, fmt.Errorf("failed to save user: %w", err)
		}
		return transfer.Reply{Text: "Registered @" + handle}, nil

	case "link":
		// link <coin> <wallet_id> <address>
		if len(req.Args) != 3 {
			return transfer.Reply{}, fmt.Errorf("usage: link <coin> <wallet_id> <address>")
		}
		wallet := transfer.Wallet{
			UserID:   req.SenderID,
			Coin:     strings.ToLower(req.Args[0]),
			WalletID: req.Args[1],
			Address:  req.Args[2],
		}
		if err := r.directory.LinkWallet(ctx, wallet); err != nil {
			return transfer.Reply{}, fmt.Errorf("failed to link wallet: %w", err)
		}
		return transfer.Reply{Text: fmt.Sprintf("Linked %s wallet %s", strings.ToUpper(wallet.Coin), wallet.Address)}, nil

	case "seen":
		// seen <handle>, sent for every group message
		if req.ChatID == "" || len(req.Args) != 1 {
			return transfer.Reply{}, fmt.Errorf("usage: seen <handle> with chat_id set")
		}
		member := transfer.Member{UserID: req.SenderID, Handle: strings.TrimPrefix(req.Args[0], "@")}
		if err := r.directory.RecordActivity(ctx, req.ChatID, member, r.now()); err != nil {
			return transfer.Reply{}, fmt.Errorf("failed to record activity: %w", err)
		}
		return transfer.Reply{}, nil
	}

	reply := r.engine.Handle(ctx, req)
	if reply.Kind != "" {
		logger.Debug("command refused", "command", req.Command, "sender", req.SenderID, "kind", reply.Kind)
	}
	return reply, nil
}
