package notify

import (
	"fmt"
	"strings"

	"github.com/warp/walletdesk/orders"
	"github.com/warp/walletdesk/wallet"
)

var typeLabels = map[orders.Type]string{
	orders.TypeTopup:       "Top-up",
	orders.TypeWithdraw:    "Withdrawal",
	orders.TypeInvCreate:   "Account request",
	orders.TypeInvTopup:    "Account top-up",
	orders.TypeInvWithdraw: "Account withdrawal",
}

// FormatAmount renders an integer amount with thousands separators.
func FormatAmount(amount int64) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	s := fmt.Sprintf("%d", amount)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// FormatNewOrder is sent to admins when an order needs a decision.
func FormatNewOrder(o orders.Order) string {
	return fmt.Sprintf("New %s #%d from user %d\n%s", label(o.Type), o.ID, o.UserID, details(o.Payload))
}

// FormatDecision is sent to the order owner once an order is decided.
func FormatDecision(o orders.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s #%d was %s", label(o.Type), o.ID, o.Status)
	if o.Reason != "" {
		fmt.Fprintf(&b, "\nReason: %s", o.Reason)
	}
	if p, ok := o.Payload.(orders.InvCreatePayload); ok && o.Status == orders.StatusApproved {
		fmt.Fprintf(&b, "\nUsername: %s\nPassword: %s", p.Username, p.Password)
	}
	return b.String()
}

// FormatWallet renders a balance summary.
func FormatWallet(w wallet.Wallet) string {
	return fmt.Sprintf("Balance: %s\nOn hold: %s", FormatAmount(w.Balance), FormatAmount(w.Hold))
}

func label(t orders.Type) string {
	if l, ok := typeLabels[t]; ok {
		return l
	}
	return string(t)
}

func details(p orders.Payload) string {
	switch v := p.(type) {
	case orders.TopupPayload:
		return fmt.Sprintf("Amount: %s\nOperation: %s", FormatAmount(v.Amount), v.OperationNo)
	case orders.WithdrawPayload:
		return fmt.Sprintf("Amount: %s\nReceiver: %s", FormatAmount(v.Amount), v.ReceiverNo)
	case orders.InvCreatePayload:
		return fmt.Sprintf("Desired: %s\nAssigned: %s", v.DesiredUsername, v.Username)
	case orders.InvTopupPayload:
		return fmt.Sprintf("Amount: %s\nCost: %s", FormatAmount(v.Amount), FormatAmount(v.Cost))
	case orders.InvWithdrawPayload:
		return fmt.Sprintf("Amount: %s\nGain: %s", FormatAmount(v.Amount), FormatAmount(v.Gain))
	}
	return ""
}
