/*
ledger.go - Per-user {balance, hold} wallet ledger

PURPOSE:
  Guards every money movement. A wallet is created lazily as {0, 0} and is
  only ever mutated through the operations below, each of which is a single
  docstore.Mutate on the "wallets" document and therefore atomic with
  respect to every other wallet operation.

OPERATIONS:
  Credit   balance += amount
  Reserve  balance -= amount, hold += amount   (INSUFFICIENT_FUNDS if short)
  Release  hold -= amount,    balance += amount (withdrawal rejected/cancelled)
  Settle   hold -= amount                       (withdrawal paid out)
  Debit    balance -= amount                    (INSUFFICIENT_FUNDS if short)

WITHDRAWAL FLOW:
  reserve ──▶ order PENDING ──▶ approve ──▶ settle
                             └─▶ reject/cancel ──▶ release

INVARIANTS:
  balance >= 0 and hold >= 0 at all times. Results are clamped at zero as a
  last-resort guard; clamping is logged because it never triggers in a
  correct call sequence.

SEE ALSO:
  - orders/workflow.go: drives reserve/settle/release from order transitions
  - docstore/store.go:  Mutate
*/
package wallet

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/walletdesk/core"
	"github.com/warp/walletdesk/docstore"
	"github.com/warp/walletdesk/metrics"
)

// DocumentKey is the store key holding every wallet.
const DocumentKey = "wallets"

// Wallet is one user's funds. Balance is immediately usable; Hold is
// earmarked for in-flight withdrawals.
type Wallet struct {
	UserID  core.UserID `json:"user_id"`
	Balance int64       `json:"balance"`
	Hold    int64       `json:"hold"`
}

// Total is balance plus hold.
func (w Wallet) Total() int64 { return w.Balance + w.Hold }

type document map[core.UserID]Wallet

func newDocument() document { return document{} }

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store   *docstore.Store
	log     *logrus.Entry
	metrics *metrics.Metrics
	now     core.Clock
}

type Option func(*Ledger)

func WithLogger(l *logrus.Entry) Option { return func(lg *Ledger) { lg.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(lg *Ledger) { lg.metrics = m } }

func WithClock(c core.Clock) Option { return func(lg *Ledger) { lg.now = c } }

func New(store *docstore.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		log:   logrus.NewEntry(logrus.StandardLogger()),
		now:   core.UTCNow,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.WithField("component", "wallet")
	return l
}

// Get returns the user's wallet, creating {0, 0} on first access.
func (l *Ledger) Get(ctx context.Context, user core.UserID) (Wallet, error) {
	doc, err := docstore.Load(ctx, l.store, DocumentKey, newDocument)
	if err != nil {
		return Wallet{}, fmt.Errorf("wallet get user %d: %w", user, err)
	}
	if w, ok := doc[user]; ok {
		return normalize(user, w), nil
	}
	return l.apply(ctx, "open", user, 0, func(*Wallet) error { return nil })
}

// Credit adds amount to the usable balance.
func (l *Ledger) Credit(ctx context.Context, user core.UserID, amount int64) (Wallet, error) {
	return l.apply(ctx, "credit", user, amount, func(w *Wallet) error {
		if w.Balance > math.MaxInt64-amount {
			return fmt.Errorf("%w: balance overflow", core.ErrInvalidAmount)
		}
		w.Balance += amount
		return nil
	})
}

// Reserve moves amount from balance to hold for a pending withdrawal.
func (l *Ledger) Reserve(ctx context.Context, user core.UserID, amount int64) (Wallet, error) {
	return l.apply(ctx, "reserve", user, amount, func(w *Wallet) error {
		if w.Balance < amount {
			return &core.InsufficientFundsError{UserID: user, Available: w.Balance, Requested: amount}
		}
		if w.Hold > math.MaxInt64-amount {
			return fmt.Errorf("%w: hold overflow", core.ErrInvalidAmount)
		}
		w.Balance -= amount
		w.Hold += amount
		return nil
	})
}

// Release returns held funds to the usable balance.
func (l *Ledger) Release(ctx context.Context, user core.UserID, amount int64) (Wallet, error) {
	return l.apply(ctx, "release", user, amount, func(w *Wallet) error {
		if w.Balance > math.MaxInt64-amount {
			return fmt.Errorf("%w: balance overflow", core.ErrInvalidAmount)
		}
		w.Hold = l.drainHold(user, "release", w.Hold, amount)
		w.Balance += amount
		return nil
	})
}

// Settle extinguishes a hold once the withdrawal has left the system.
func (l *Ledger) Settle(ctx context.Context, user core.UserID, amount int64) (Wallet, error) {
	return l.apply(ctx, "settle", user, amount, func(w *Wallet) error {
		w.Hold = l.drainHold(user, "settle", w.Hold, amount)
		return nil
	})
}

// Debit removes amount from the usable balance without a hold phase.
func (l *Ledger) Debit(ctx context.Context, user core.UserID, amount int64) (Wallet, error) {
	return l.apply(ctx, "debit", user, amount, func(w *Wallet) error {
		if w.Balance < amount {
			return &core.InsufficientFundsError{UserID: user, Available: w.Balance, Requested: amount}
		}
		w.Balance -= amount
		return nil
	})
}

// =============================================================================
// SNAPSHOT - Admin statistics
// =============================================================================

// Snapshot is a point-in-time view of every wallet.
type Snapshot struct {
	TakenAt      time.Time `json:"taken_at"`
	Count        int       `json:"count"`
	TotalBalance int64     `json:"total_balance"`
	TotalHold    int64     `json:"total_hold"`
	Wallets      []Wallet  `json:"wallets"`
}

// Snapshot returns all wallets ordered by user id with totals.
func (l *Ledger) Snapshot(ctx context.Context) (Snapshot, error) {
	doc, err := docstore.Load(ctx, l.store, DocumentKey, newDocument)
	if err != nil {
		return Snapshot{}, fmt.Errorf("wallet snapshot: %w", err)
	}

	snap := Snapshot{TakenAt: l.now(), Wallets: make([]Wallet, 0, len(doc))}
	for user, w := range doc {
		w = normalize(user, w)
		snap.Wallets = append(snap.Wallets, w)
		snap.TotalBalance += w.Balance
		snap.TotalHold += w.Hold
	}
	sort.Slice(snap.Wallets, func(i, j int) bool {
		return snap.Wallets[i].UserID < snap.Wallets[j].UserID
	})
	snap.Count = len(snap.Wallets)
	return snap, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

func (l *Ledger) apply(ctx context.Context, op string, user core.UserID, amount int64, fn func(*Wallet) error) (Wallet, error) {
	if op != "open" && amount <= 0 {
		err := fmt.Errorf("wallet %s user %d: %w: %d", op, user, core.ErrInvalidAmount, amount)
		l.metrics.LedgerOp(op, err)
		return Wallet{}, err
	}

	var out Wallet
	_, err := docstore.Mutate(ctx, l.store, DocumentKey, newDocument, func(doc *document) error {
		if *doc == nil {
			*doc = document{}
		}
		w := normalize(user, (*doc)[user])
		if err := fn(&w); err != nil {
			return err
		}
		w = l.clamp(op, w)
		(*doc)[user] = w
		out = w
		return nil
	})
	l.metrics.LedgerOp(op, err)
	if err != nil {
		return Wallet{}, fmt.Errorf("wallet %s user %d: %w", op, user, err)
	}

	l.log.WithFields(logrus.Fields{
		"op":      op,
		"user_id": user,
		"amount":  amount,
		"balance": out.Balance,
		"hold":    out.Hold,
	}).Debug("wallet updated")
	return out, nil
}

func (l *Ledger) drainHold(user core.UserID, op string, hold, amount int64) int64 {
	if hold < amount {
		l.log.WithFields(logrus.Fields{
			"op":      op,
			"user_id": user,
			"hold":    hold,
			"amount":  amount,
		}).Warn("hold smaller than amount, clamping at zero")
		return 0
	}
	return hold - amount
}

func (l *Ledger) clamp(op string, w Wallet) Wallet {
	if w.Balance >= 0 && w.Hold >= 0 {
		return w
	}
	l.log.WithFields(logrus.Fields{
		"op":      op,
		"user_id": w.UserID,
		"balance": w.Balance,
		"hold":    w.Hold,
	}).Warn("negative wallet field clamped at zero")
	return Wallet{UserID: w.UserID, Balance: max(0, w.Balance), Hold: max(0, w.Hold)}
}

// normalize repairs records written by hand or by older versions.
func normalize(user core.UserID, w Wallet) Wallet {
	w.UserID = user
	w.Balance = max(0, w.Balance)
	w.Hold = max(0, w.Hold)
	return w
}
