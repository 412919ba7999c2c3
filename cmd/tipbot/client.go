package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Maphikza/tipbot-engine/internal/ipc"
	"github.com/Maphikza/tipbot-engine/internal/transfer"
	"github.com/spf13/cobra"
)

var (
	senderID string
	chatID   string
	asJSON   bool
)

// clientCommands talk to a running server over the IPC socket.
func clientCommands() []*cobra.Command {
	defs := []struct {
		use   string
		short string
		args  cobra.PositionalArgs
	}{
		{"tip [coin] [user...] [amount]", "Tip one or more users", cobra.MinimumNArgs(2)},
		{"rain [coin] [amount]", "Rain on the recent members of a chat", cobra.RangeArgs(1, 2)},
		{"submit [token]", "Confirm a staged transfer", cobra.ExactArgs(1)},
		{"balance [coin]", "Show a wallet balance", cobra.ExactArgs(1)},
		{"set [coin] [field] [value]", "Change a tipping setting", cobra.ExactArgs(3)},
		{"register [handle]", "Register a chat user", cobra.ExactArgs(1)},
		{"link [coin] [wallet-id] [address]", "Link a custodial wallet to a user", cobra.ExactArgs(3)},
		{"seen [handle]", "Record chat activity for a user", cobra.ExactArgs(1)},
	}

	out := make([]*cobra.Command, 0, len(defs))
	for _, d := range defs {
		c := &cobra.Command{
			Use:   d.use,
			Short: d.short,
			Args:  d.args,
			RunE:  runClientCommand,
		}
		c.Flags().StringVar(&senderID, "sender", "", "chat user id of the sender")
		c.Flags().StringVar(&chatID, "chat", "", "chat id the command was sent from")
		c.Flags().BoolVar(&asJSON, "json", false, "print the raw reply as JSON")
		_ = c.MarkFlagRequired("sender")
		out = append(out, c)
	}
	return out
}

func runClientCommand(cmd *cobra.Command, args []string) error {
	client, err := ipc.NewClient(cfg.IPC.SocketPath)
	if err != nil {
		return fmt.Errorf("error connecting to tipbot server: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RPC.Timeout+10*time.Second)
	defer cancel()

	reply, err := client.SendCommand(ctx, transfer.Request{
		Command:  cmd.Name(),
		SenderID: senderID,
		ChatID:   chatID,
		Args:     args,
	})
	if err != nil {
		return err
	}

	if asJSON {
		return json.NewEncoder(os.Stdout).Encode(reply)
	}
	fmt.Println(reply.Text)
	for _, n := range reply.Notifications {
		fmt.Printf("\n-> %s:\n%s\n", n.UserID, n.Text)
	}
	if reply.Kind != "" {
		return fmt.Errorf("command refused: %s", reply.Kind)
	}
	return nil
}
