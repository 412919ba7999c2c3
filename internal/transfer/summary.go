package transfer

import (
	"fmt"
	"strings"
	"time"

	"github.com/Maphikza/tipbot-engine/lib/ledger"
)

// Summary describes one batch for the reply texts shared by all flows.
type Summary struct {
	Kind       TransferKind
	Coin       ledger.Coin
	Sender     string
	Recipients []Recipient
	Batch      *ledger.Batch
	// Staged batches only.
	Token  string
	TTL    time.Duration
	Unlock int64
}

func (s Summary) header(b *strings.Builder) {
	b.WriteString("Transaction Details\n\n")
	fmt.Fprintf(b, "From:\n@%s\n\n", s.Sender)
	b.WriteString("To:\n")
	for _, r := range s.Recipients {
		fmt.Fprintf(b, "@%s\n", r.Handle)
	}
	b.WriteString("\n")
}

func (s Summary) label() string {
	if s.Kind == KindRain {
		return "Rain Amount"
	}
	return "Tip Amount"
}

// Staged is the reply to the sender when the batch awaits confirmation.
func (s Summary) Staged() string {
	var b strings.Builder
	s.header(&b)
	fmt.Fprintf(&b, "%s: %s\n", s.label(), s.Coin.Format(s.Batch.TotalAmount()))
	fmt.Fprintf(&b, "Fee: %s\n", s.Coin.Format(s.Batch.TotalFee()))
	fmt.Fprintf(&b, "Trx Meta ID: %s\n", s.Token)
	fmt.Fprintf(&b, "Trx Expiry: %d seconds\n", int(s.TTL.Seconds()))
	fmt.Fprintf(&b, "Current Unlock Balance: %s\n", s.Coin.Format(s.Unlock))
	fmt.Fprintf(&b, "Number of transactions: %d\n", s.Batch.Count())
	fmt.Fprintf(&b, "Confirm with: submit %s", s.Token)
	return b.String()
}

// Settled is the reply to the sender once the batch is on the ledger.
func (s Summary) Settled() string {
	var b strings.Builder
	s.header(&b)
	fmt.Fprintf(&b, "%s: %s\n", s.label(), s.Coin.Format(s.Batch.TotalAmount()))
	fmt.Fprintf(&b, "Fee: %s\n", s.Coin.Format(s.Batch.TotalFee()))
	if s.Unlock > 0 {
		fmt.Fprintf(&b, "Current Unlock Balance: %s\n", s.Coin.Format(s.Unlock))
	}
	fmt.Fprintf(&b, "Number of transactions: %d", s.Batch.Count())
	writeHashes(&b, s.Batch.Hashes)
	return b.String()
}

// Notice is sent to each recipient of a settled batch.
func (s Summary) Notice() string {
	var b strings.Builder
	s.header(&b)
	fmt.Fprintf(&b, "Amount: %s\n", s.Coin.Format(s.Batch.TotalAmount()))
	fmt.Fprintf(&b, "Fee: %s\n", s.Coin.Format(s.Batch.TotalFee()))
	fmt.Fprintf(&b, "Number of transactions: %d", s.Batch.Count())
	writeHashes(&b, s.Batch.Hashes)
	return b.String()
}

func writeHashes(b *strings.Builder, hashes []string) {
	if len(hashes) == 0 {
		return
	}
	fmt.Fprintf(b, "\nTrx Hashes (%d Transactions):", len(hashes))
	for _, h := range hashes {
		fmt.Fprintf(b, "\n * %s", h)
	}
}

// ErrorLog renders the skipped recipients grouped by reason, or "" when
// nothing was skipped.
func ErrorLog(kind TransferKind, failures []Failure) string {
	var unlinked, missing, lookup []string
	for _, f := range failures {
		switch f.Reason {
		case Unlinked:
			unlinked = append(unlinked, f.Handle)
		case NoWallet:
			missing = append(missing, f.Handle)
		case WalletLookup:
			lookup = append(lookup, fmt.Sprintf("%s (%v)", f.Handle, f.Err))
		}
	}

	var b strings.Builder
	if len(unlinked) > 0 {
		fmt.Fprintf(&b, "\n* User is not linked: %s", strings.Join(unlinked, ", "))
	}
	if len(missing) > 0 {
		fmt.Fprintf(&b, "\n* No wallet for: %s", strings.Join(missing, ", "))
	}
	if len(lookup) > 0 {
		fmt.Fprintf(&b, "\n* Sending failed for: %s", strings.Join(lookup, ", "))
	}
	if b.Len() == 0 {
		return ""
	}
	title := "Tip Error Log"
	if kind == KindRain {
		title = "Rain Error Log"
	}
	return title + b.String()
}

// MissingWalletNotice tells a user that a transfer to them was skipped.
func MissingWalletNotice(coin string) string {
	return fmt.Sprintf("Somebody tried to tip you but no %s wallet found. Run /address to create one", strings.ToUpper(coin))
}

// BalanceText renders a wallet snapshot.
func BalanceText(w *Wallet, coin ledger.Coin) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Balance: %s\n", coin.Format(w.Balance))
	fmt.Fprintf(&b, "Unlock: %s\n", coin.Format(w.Unlock))
	if w.Reserved > 0 {
		fmt.Fprintf(&b, "Reserved: %s\n", coin.Format(w.Reserved))
	}
	fmt.Fprintf(&b, "Height: %d\n", w.Height)
	if w.Updated.IsZero() {
		b.WriteString("Last Sync: never\n")
	} else {
		fmt.Fprintf(&b, "Last Sync: %s\n", w.Updated.UTC().Format(time.RFC1123))
	}
	if w.Pending > 0 {
		fmt.Fprintf(&b, "Confirmations remaining: %d", w.Pending)
	} else {
		b.WriteString("Confirmations remaining: none")
	}
	return b.String()
}
