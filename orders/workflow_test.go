package orders_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/warp/walletdesk/audit"
	"github.com/warp/walletdesk/core"
	"github.com/warp/walletdesk/docstore"
	"github.com/warp/walletdesk/inventory"
	"github.com/warp/walletdesk/metrics"
	"github.com/warp/walletdesk/orders"
	"github.com/warp/walletdesk/settings"
	"github.com/warp/walletdesk/wallet"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	alice core.UserID = 1001
	bob   core.UserID = 1002
)

var admin = core.Actor{ID: 1, Name: "admin"}

// keyFailBackend fails Saves for one key while failing is set.
type keyFailBackend struct {
	*docstore.MemoryBackend
	key     string
	failing atomic.Bool
}

func (b *keyFailBackend) Save(ctx context.Context, key string, data []byte) error {
	if key == b.key && b.failing.Load() {
		return errors.New("disk full")
	}
	return b.MemoryBackend.Save(ctx, key, data)
}

type harness struct {
	backend   *keyFailBackend
	ledger    *wallet.Ledger
	inventory *inventory.Inventory
	settings  *settings.Service
	audit     *audit.Log
	metrics   *metrics.Metrics
	workflow  *orders.Workflow
}

// newHarness wires a workflow over an in-memory store with no pending
// limit and minimums of 1 so tests can use small amounts.
func newHarness(t *testing.T) *harness {
	backend := &keyFailBackend{MemoryBackend: docstore.NewMemoryBackend(), key: orders.DocumentKey}
	store := docstore.New(backend)
	h := &harness{
		backend:   backend,
		ledger:    wallet.New(store),
		inventory: inventory.New(store),
		settings:  settings.New(store, nil),
		audit:     audit.New(store, 0, nil),
		metrics:   metrics.New(prometheus.NewRegistry()),
	}
	_, err := h.settings.Update(context.Background(), func(s *settings.Settings) {
		s.MinTopup, s.MinWithdraw, s.MaxPending = 1, 1, 0
	})
	require.NoError(t, err)

	h.workflow = orders.New(store, h.ledger, h.inventory, h.settings,
		orders.WithAudit(h.audit),
		orders.WithMetrics(h.metrics),
	)
	return h
}

func (h *harness) fund(t *testing.T, user core.UserID, amount int64) {
	_, err := h.ledger.Credit(context.Background(), user, amount)
	require.NoError(t, err)
}

func (h *harness) wallet(t *testing.T, user core.UserID) wallet.Wallet {
	w, err := h.ledger.Get(context.Background(), user)
	require.NoError(t, err)
	return w
}

func (h *harness) rawOrders() []byte {
	raw, _ := h.backend.Raw(orders.DocumentKey)
	return raw
}

func withdraw(amount int64) orders.WithdrawPayload {
	return orders.WithdrawPayload{ReceiverNo: "6037-9911", Amount: amount}
}

func topup(amount int64) orders.TopupPayload {
	return orders.TopupPayload{OperationNo: "op-1", Amount: amount}
}

// =============================================================================
// WITHDRAW SCENARIOS
// =============================================================================

func TestWorkflow_WithdrawRejected_RestoresWallet(t *testing.T) {
	// GIVEN: Alice has {balance: 100000, hold: 0}
	// WHEN: She requests a 50000 withdrawal and an admin rejects it
	// THEN: The wallet goes {50000, 50000} while pending and back to {100000, 0}

	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, alice, 100000)

	o, err := h.workflow.Create(ctx, alice, withdraw(50000))
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, wallet.Wallet{UserID: alice, Balance: 50000, Hold: 50000}, h.wallet(t, alice))

	rejected, err := h.workflow.Reject(ctx, o.ID, admin, "receiver account closed")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusRejected, rejected.Status)
	assert.Equal(t, "receiver account closed", rejected.Reason)
	assert.Equal(t, "admin", rejected.DecidedBy)
	require.NotNil(t, rejected.DecidedAt)

	assert.Equal(t, wallet.Wallet{UserID: alice, Balance: 100000, Hold: 0}, h.wallet(t, alice))
}

func TestWorkflow_WithdrawApproved_SettlesHold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, alice, 100000)

	o, err := h.workflow.Create(ctx, alice, withdraw(60000))
	require.NoError(t, err)
	_, err = h.workflow.Approve(ctx, o.ID, admin)
	require.NoError(t, err)

	assert.Equal(t, wallet.Wallet{UserID: alice, Balance: 40000, Hold: 0}, h.wallet(t, alice))
}

func TestWorkflow_WithdrawInsufficientFunds_NoOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, alice, 1000)

	_, err := h.workflow.Create(ctx, alice, withdraw(1001))
	assert.ErrorIs(t, err, core.ErrInsufficientFunds)

	pending, err := h.workflow.ListPending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, wallet.Wallet{UserID: alice, Balance: 1000}, h.wallet(t, alice))
}

func TestWorkflow_Create_OrderWriteFailureReleasesReservation(t *testing.T) {
	// GIVEN: The orders document cannot be written
	// WHEN: Alice requests a withdrawal
	// THEN: The error is a store error and the reservation is undone

	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, alice, 5000)
	h.backend.failing.Store(true)

	_, err := h.workflow.Create(ctx, alice, withdraw(2000))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrStoreIO)

	assert.Equal(t, wallet.Wallet{UserID: alice, Balance: 5000}, h.wallet(t, alice))
}

// =============================================================================
// TERMINAL STATES
// =============================================================================

func TestWorkflow_SecondDecision_IsNotPendingAndChangesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, alice, 100000)

	o, err := h.workflow.Create(ctx, alice, withdraw(50000))
	require.NoError(t, err)
	_, err = h.workflow.Approve(ctx, o.ID, admin)
	require.NoError(t, err)

	before := h.rawOrders()
	walletBefore := h.wallet(t, alice)

	attempts := map[string]func() error{
		"approve": func() error { _, err := h.workflow.Approve(ctx, o.ID, admin); return err },
		"reject":  func() error { _, err := h.workflow.Reject(ctx, o.ID, admin, "late"); return err },
		"cancel":  func() error { _, err := h.workflow.Cancel(ctx, o.ID, core.Actor{ID: alice}); return err },
		"edit":    func() error { _, err := h.workflow.Edit(ctx, o.ID, admin, withdraw(50000)); return err },
	}
	for name, attempt := range attempts {
		err := attempt()
		assert.ErrorIs(t, err, core.ErrNotPending, name)
		var npe *core.NotPendingError
		if assert.ErrorAs(t, err, &npe, name) {
			assert.Equal(t, "approved", npe.Status)
		}
	}

	assert.Equal(t, before, h.rawOrders())
	assert.Equal(t, walletBefore, h.wallet(t, alice))
}

func TestWorkflow_ConcurrentApprovals_ApplyOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	o, err := h.workflow.Create(ctx, alice, topup(20000))
	require.NoError(t, err)

	var ok atomic.Int32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := h.workflow.Approve(ctx, o.ID, admin)
			if err == nil {
				ok.Add(1)
				return nil
			}
			if errors.Is(err, core.ErrNotPending) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int64(20000), h.wallet(t, alice).Balance)
	assert.Zero(t, h.workflow.LockCount(), "order locks are released after use")
}

func TestWorkflow_UnknownOrder_NotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.workflow.Approve(context.Background(), 404, admin)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

// =============================================================================
// STATUS WRITE FAILURES
// =============================================================================

func TestWorkflow_StatusWriteFailure_ReversesCreditAndStaysRetryable(t *testing.T) {
	// GIVEN: A pending TOPUP and an orders document that cannot be written
	// WHEN: An admin approves it, then retries once writes work again
	// THEN: The first attempt leaves no credit behind and is retryable;
	//       the retry credits exactly once

	h := newHarness(t)
	ctx := context.Background()
	o, err := h.workflow.Create(ctx, alice, topup(20000))
	require.NoError(t, err)

	h.backend.failing.Store(true)
	_, err = h.workflow.Approve(ctx, o.ID, admin)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrStoreIO)
	assert.True(t, core.IsRetryable(err))

	got, err := h.workflow.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, got.Status)
	assert.Equal(t, int64(0), h.wallet(t, alice).Balance)

	h.backend.failing.Store(false)
	approved, err := h.workflow.Approve(ctx, o.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusApproved, approved.Status)
	assert.Equal(t, int64(20000), h.wallet(t, alice).Balance)
}

func TestWorkflow_StatusWriteFailure_ReversesRelease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, alice, 100000)
	o, err := h.workflow.Create(ctx, alice, withdraw(50000))
	require.NoError(t, err)

	h.backend.failing.Store(true)
	_, err = h.workflow.Reject(ctx, o.ID, admin, "no")
	assert.ErrorIs(t, err, core.ErrStoreIO)
	assert.Equal(t, wallet.Wallet{UserID: alice, Balance: 50000, Hold: 50000}, h.wallet(t, alice),
		"reservation is held again")
}

func TestWorkflow_StatusWriteFailure_SettledWithdrawNeedsRepair(t *testing.T) {
	// GIVEN: A pending WITHDRAW of 50000 out of 100000
	// WHEN: Approval settles the hold but the status write fails
	// THEN: The settle cannot be reversed, so the error says the order needs
	//       repair and is not retryable; the order is still PENDING

	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, alice, 100000)
	o, err := h.workflow.Create(ctx, alice, withdraw(50000))
	require.NoError(t, err)

	h.backend.failing.Store(true)
	_, err = h.workflow.Approve(ctx, o.ID, admin)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNeedsRepair)
	assert.NotErrorIs(t, err, core.ErrStoreIO)
	assert.False(t, core.IsRetryable(err))

	assert.Equal(t, wallet.Wallet{UserID: alice, Balance: 50000, Hold: 0}, h.wallet(t, alice))
	got, err := h.workflow.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, got.Status)
	assert.Zero(t, h.workflow.LockCount())
}

// =============================================================================
// CANCEL
// =============================================================================

func TestWorkflow_Cancel_Rules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, alice, 100000)

	w, err := h.workflow.Create(ctx, alice, withdraw(30000))
	require.NoError(t, err)
	tp, err := h.workflow.Create(ctx, alice, topup(20000))
	require.NoError(t, err)

	_, err = h.workflow.Cancel(ctx, w.ID, core.Actor{ID: bob})
	assert.ErrorIs(t, err, core.ErrNotOwner)

	_, err = h.workflow.Cancel(ctx, tp.ID, core.Actor{ID: alice})
	assert.ErrorIs(t, err, core.ErrNotCancellable)

	cancelled, err := h.workflow.Cancel(ctx, w.ID, core.Actor{ID: alice})
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, cancelled.Status)
	assert.Equal(t, wallet.Wallet{UserID: alice, Balance: 100000}, h.wallet(t, alice))
}

// =============================================================================
// TOPUP / INVENTORY ORDERS
// =============================================================================

func TestWorkflow_TopupApproved_Credits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	o, err := h.workflow.Create(ctx, alice, topup(25000))
	require.NoError(t, err)
	assert.Equal(t, int64(0), h.wallet(t, alice).Balance, "nothing moves before approval")

	_, err = h.workflow.Approve(ctx, o.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, int64(25000), h.wallet(t, alice).Balance)
}

func TestWorkflow_InvTopup_InsufficientFundsStaysPending(t *testing.T) {
	// GIVEN: An INV_TOPUP order costing more than the wallet holds at approval
	// WHEN: An admin approves it
	// THEN: Approval fails, the order stays PENDING, the wallet is untouched

	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, alice, 500)

	o, err := h.workflow.Create(ctx, alice, orders.InvTopupPayload{Amount: 800})
	require.NoError(t, err)
	assert.Equal(t, int64(800), o.Payload.(orders.InvTopupPayload).Cost)

	_, err = h.workflow.Approve(ctx, o.ID, admin)
	assert.ErrorIs(t, err, core.ErrInsufficientFunds)

	got, err := h.workflow.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, got.Status)
	assert.Equal(t, int64(500), h.wallet(t, alice).Balance)

	h.fund(t, alice, 300)
	_, err = h.workflow.Approve(ctx, o.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, int64(0), h.wallet(t, alice).Balance)
}

func TestWorkflow_InvRatesUseDecimalRounding(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.settings.Update(ctx, func(s *settings.Settings) {
		s.InventoryTopupRate = decimal.RequireFromString("1.35")
		s.InventoryWithdrawRate = decimal.RequireFromString("0.85")
	})
	require.NoError(t, err)

	buy, err := h.workflow.Create(ctx, alice, orders.InvTopupPayload{Amount: 7})
	require.NoError(t, err)
	sell, err := h.workflow.Create(ctx, alice, orders.InvWithdrawPayload{Amount: 7})
	require.NoError(t, err)

	assert.Equal(t, int64(10), buy.Payload.(orders.InvTopupPayload).Cost)
	assert.Equal(t, int64(5), sell.Payload.(orders.InvWithdrawPayload).Gain)

	_, err = h.workflow.Approve(ctx, sell.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, int64(5), h.wallet(t, alice).Balance)
}

func TestWorkflow_InvPricesComeFromRates(t *testing.T) {
	// GIVEN: Rates of 1
	// WHEN: A user names their own cost or gain, on create or on edit
	// THEN: Only the quoted value is accepted

	h := newHarness(t)
	ctx := context.Background()

	_, err := h.workflow.Create(ctx, alice, orders.InvWithdrawPayload{Amount: 1, Gain: 1_000_000_000})
	assert.ErrorIs(t, err, core.ErrInvalidPayload)
	_, err = h.workflow.Create(ctx, alice, orders.InvTopupPayload{Amount: 1_000_000, Cost: 1})
	assert.ErrorIs(t, err, core.ErrInvalidPayload)

	sell, err := h.workflow.Create(ctx, alice, orders.InvWithdrawPayload{Amount: 7, Gain: 7})
	require.NoError(t, err, "echoing the quote is fine")

	_, err = h.workflow.Edit(ctx, sell.ID, core.Actor{ID: alice}, orders.InvWithdrawPayload{Amount: 7, Gain: 999})
	assert.ErrorIs(t, err, core.ErrInvalidPayload)

	edited, err := h.workflow.Edit(ctx, sell.ID, core.Actor{ID: alice}, orders.InvWithdrawPayload{Amount: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(10), edited.Payload.(orders.InvWithdrawPayload).Gain)

	_, err = h.workflow.Approve(ctx, sell.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, int64(10), h.wallet(t, alice).Balance)
}

func TestWorkflow_InvCreate_AssignsBestMatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.inventory.AddItem(ctx, "johnny77", "s3cret")
	require.NoError(t, err)

	o, err := h.workflow.Create(ctx, alice, orders.InvCreatePayload{DesiredUsername: "john"})
	require.NoError(t, err)

	p := o.Payload.(orders.InvCreatePayload)
	assert.Equal(t, "johnny77", p.Username)
	assert.Equal(t, "s3cret", p.Password)

	item, err := h.inventory.Get(ctx, p.ItemID)
	require.NoError(t, err)
	assert.Equal(t, inventory.StatusAssigned, item.Status)
	require.NotNil(t, item.AssignedTo)
	assert.Equal(t, alice, *item.AssignedTo)

	_, err = h.workflow.Create(ctx, bob, orders.InvCreatePayload{DesiredUsername: "john"})
	assert.ErrorIs(t, err, core.ErrNoCandidate)
}

func TestWorkflow_InvCreate_OrderWriteFailureUnassigns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item, err := h.inventory.AddItem(ctx, "solo", "pw")
	require.NoError(t, err)
	h.backend.failing.Store(true)

	_, err = h.workflow.Create(ctx, alice, orders.InvCreatePayload{DesiredUsername: "solo"})
	assert.ErrorIs(t, err, core.ErrStoreIO)

	got, err := h.inventory.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.StatusAvailable, got.Status)
}

// =============================================================================
// SETTINGS CHECKS
// =============================================================================

func TestWorkflow_Create_EnforcesSettings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, alice, 1_000_000)
	_, err := h.settings.Update(ctx, func(s *settings.Settings) {
		s.MinTopup, s.MinWithdraw, s.MaxPending = 15000, 50000, 1
	})
	require.NoError(t, err)

	_, err = h.workflow.Create(ctx, alice, topup(14999))
	assert.ErrorIs(t, err, core.ErrBelowMinimum)
	_, err = h.workflow.Create(ctx, alice, withdraw(49999))
	assert.ErrorIs(t, err, core.ErrBelowMinimum)
	assert.Equal(t, int64(0), h.wallet(t, alice).Hold)

	_, err = h.workflow.Create(ctx, alice, topup(15000))
	require.NoError(t, err)
	_, err = h.workflow.Create(ctx, alice, withdraw(50000))
	assert.ErrorIs(t, err, core.ErrTooManyPending)
	assert.Equal(t, int64(0), h.wallet(t, alice).Hold, "no reservation when over the limit")

	_, err = h.settings.SetMaintenance(ctx, true, "")
	require.NoError(t, err)
	_, err = h.workflow.Create(ctx, bob, topup(20000))
	assert.ErrorIs(t, err, core.ErrMaintenance)
}

func TestWorkflow_Create_RejectsInvalidPayload(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.workflow.Create(ctx, alice, orders.TopupPayload{Amount: 100})
	assert.ErrorIs(t, err, core.ErrInvalidPayload)
	_, err = h.workflow.Create(ctx, alice, topup(0))
	assert.ErrorIs(t, err, core.ErrInvalidAmount)
	_, err = h.workflow.Create(ctx, alice, nil)
	assert.ErrorIs(t, err, core.ErrInvalidPayload)
}

// =============================================================================
// EDIT
// =============================================================================

func TestWorkflow_Edit(t *testing.T) {
	clock := time.Date(2025, time.July, 1, 10, 0, 0, 0, time.UTC)
	h := newHarness(t)
	store := docstore.New(h.backend)
	wf := orders.New(store, h.ledger, h.inventory, h.settings,
		orders.WithClock(func() time.Time { return clock }))
	ctx := context.Background()
	h.fund(t, alice, 100000)

	tp, err := wf.Create(ctx, alice, topup(20000))
	require.NoError(t, err)
	clock = clock.Add(time.Minute)

	edited, err := wf.Edit(ctx, tp.ID, core.Actor{ID: alice}, orders.TopupPayload{OperationNo: "op-2", Amount: 30000})
	require.NoError(t, err)
	assert.Equal(t, int64(30000), orders.Amount(edited.Payload))
	assert.Equal(t, clock, edited.UpdatedAt)
	assert.True(t, edited.UpdatedAt.After(edited.CreatedAt))

	_, err = wf.Edit(ctx, tp.ID, core.Actor{ID: alice}, withdraw(30000))
	assert.ErrorIs(t, err, core.ErrInvalidPayload, "type cannot change")

	wd, err := wf.Create(ctx, alice, withdraw(40000))
	require.NoError(t, err)
	_, err = wf.Edit(ctx, wd.ID, core.Actor{ID: alice}, withdraw(45000))
	assert.ErrorIs(t, err, core.ErrInvalidPayload, "reserved amount is fixed")

	edited, err = wf.Edit(ctx, wd.ID, core.Actor{ID: alice}, orders.WithdrawPayload{ReceiverNo: "new-acct", Amount: 40000})
	require.NoError(t, err)
	assert.Equal(t, "new-acct", edited.Payload.(orders.WithdrawPayload).ReceiverNo)

	_, err = h.settings.SetMaintenance(ctx, true, "upgrading")
	require.NoError(t, err)
	_, err = wf.Edit(ctx, wd.ID, core.Actor{ID: alice}, orders.WithdrawPayload{ReceiverNo: "other", Amount: 40000})
	assert.ErrorIs(t, err, core.ErrMaintenance, "no edits during maintenance")
}

// =============================================================================
// LISTING / AUDIT / METRICS
// =============================================================================

func TestWorkflow_Listing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a1, err := h.workflow.Create(ctx, alice, topup(100))
	require.NoError(t, err)
	b1, err := h.workflow.Create(ctx, bob, topup(200))
	require.NoError(t, err)
	a2, err := h.workflow.Create(ctx, alice, topup(300))
	require.NoError(t, err)
	_, err = h.workflow.Approve(ctx, b1.ID, admin)
	require.NoError(t, err)

	pending, err := h.workflow.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, a1.ID, pending[0].ID)
	assert.Equal(t, a2.ID, pending[1].ID)

	limited, err := h.workflow.ListPending(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	mine, err := h.workflow.ListByUser(ctx, alice, 0)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, a2.ID, mine[0].ID, "newest first")

	assert.Equal(t, []int64{1, 2, 3}, []int64{a1.ID, b1.ID, a2.ID})
}

func TestWorkflow_RecordsAuditAndMetrics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	o, err := h.workflow.Create(ctx, alice, topup(100))
	require.NoError(t, err)
	_, err = h.workflow.Reject(ctx, o.ID, admin, "no such payment")
	require.NoError(t, err)

	entries, err := h.audit.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "order.reject", entries[0].Action)
	assert.Equal(t, "admin", entries[0].Actor)
	assert.Equal(t, o.ID, entries[0].OrderID)
	assert.Equal(t, "order.create", entries[1].Action)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.OrderTransitions.WithLabelValues("topup", "pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.OrderTransitions.WithLabelValues("topup", "rejected")))
}
