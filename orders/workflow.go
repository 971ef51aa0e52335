/*
workflow.go - Order lifecycle and its ledger/inventory side effects

PURPOSE:
  Every money or inventory movement a user asks for is an Order. Orders
  start PENDING and an admin decides them; the decision drives the wallet
  ledger. WITHDRAW reserves funds at creation so the user cannot spend them
  twice while waiting.

STATE MACHINE:
  Create ──▶ PENDING ──Approve──▶ APPROVED
                │
                ├──Reject──▶ REJECTED
                │
                └──Cancel──▶ CANCELLED   (owner only, WITHDRAW only)

SIDE EFFECTS:
  type          create        approve          reject/cancel
  TOPUP         -             credit amount    -
  WITHDRAW      reserve       settle amount    release amount
  INV_CREATE    assign item   -                -
  INV_TOPUP     -             debit cost       -
  INV_WITHDRAW  -             credit gain      -

NON-ATOMIC COMPOSITE:
  The ledger effect and the status write are two separate document updates.
  If the status write fails the effect is reversed and the store error is
  returned, so the caller may retry. A settled hold cannot be reversed; then,
  or when the reversal itself fails, core.ErrNeedsRepair is returned and the
  order must be fixed by hand. A crash between the two updates leaves the
  same state as an unreversed failure. Within one process a per-order lock
  keeps a transition from running twice.

SEE ALSO:
  - types.go: payload union and wire codec
  - wallet/ledger.go, inventory/inventory.go: side-effect targets
*/
package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/warp/walletdesk/audit"
	"github.com/warp/walletdesk/core"
	"github.com/warp/walletdesk/docstore"
	"github.com/warp/walletdesk/inventory"
	"github.com/warp/walletdesk/metrics"
	"github.com/warp/walletdesk/settings"
	"github.com/warp/walletdesk/wallet"
)

// DocumentKey is the store key holding every order and the id counter.
const DocumentKey = "orders"

// =============================================================================
// COLLABORATORS
// =============================================================================

type Ledger interface {
	Credit(ctx context.Context, user core.UserID, amount int64) (wallet.Wallet, error)
	Reserve(ctx context.Context, user core.UserID, amount int64) (wallet.Wallet, error)
	Release(ctx context.Context, user core.UserID, amount int64) (wallet.Wallet, error)
	Settle(ctx context.Context, user core.UserID, amount int64) (wallet.Wallet, error)
	Debit(ctx context.Context, user core.UserID, amount int64) (wallet.Wallet, error)
}

type Inventory interface {
	FindBestMatch(ctx context.Context, desired string) (inventory.Item, bool, error)
	Assign(ctx context.Context, id int64, user core.UserID) (inventory.Item, bool, error)
	Unassign(ctx context.Context, id int64) (inventory.Item, error)
}

type Settings interface {
	Get(ctx context.Context) (settings.Settings, error)
}

type AuditLog interface {
	Record(ctx context.Context, actor core.Actor, e audit.Entry) (audit.Entry, error)
}

// =============================================================================
// WORKFLOW
// =============================================================================

type Workflow struct {
	store     *docstore.Store
	ledger    Ledger
	inventory Inventory
	settings  Settings
	audit     AuditLog
	log       *logrus.Entry
	metrics   *metrics.Metrics
	now       core.Clock

	mu    sync.Mutex
	locks map[int64]*orderLock
}

// orderLock is dropped from the map once nobody holds or waits for it.
type orderLock struct {
	sync.Mutex
	refs int
}

// undoFunc reverses a transition's ledger effect.
type undoFunc func(context.Context) error

// errIrreversible marks effects with no ledger inverse.
var errIrreversible = errors.New("effect cannot be reversed")

type Option func(*Workflow)

func WithAudit(a AuditLog) Option { return func(w *Workflow) { w.audit = a } }

func WithLogger(l *logrus.Entry) Option { return func(w *Workflow) { w.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(w *Workflow) { w.metrics = m } }

func WithClock(c core.Clock) Option { return func(w *Workflow) { w.now = c } }

func New(store *docstore.Store, ledger Ledger, inv Inventory, cfg Settings, opts ...Option) *Workflow {
	w := &Workflow{
		store:     store,
		ledger:    ledger,
		inventory: inv,
		settings:  cfg,
		log:       logrus.NewEntry(logrus.StandardLogger()),
		now:       core.UTCNow,
		locks:     make(map[int64]*orderLock),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.WithField("component", "orders")
	return w
}

// =============================================================================
// CREATE
// =============================================================================

// Create validates p against the current settings, runs the type's
// pre-step and stores a new PENDING order.
func (w *Workflow) Create(ctx context.Context, user core.UserID, p Payload) (Order, error) {
	if p == nil {
		return Order{}, invalid("payload is required")
	}
	if err := p.Validate(); err != nil {
		return Order{}, err
	}
	cfg, err := w.settings.Get(ctx)
	if err != nil {
		return Order{}, err
	}
	if err := checkSettings(cfg, p); err != nil {
		return Order{}, err
	}
	if cfg.MaxPending > 0 {
		n, err := w.countPending(ctx, user)
		if err != nil {
			return Order{}, err
		}
		if n >= cfg.MaxPending {
			return Order{}, fmt.Errorf("%w: user %d has %d", core.ErrTooManyPending, user, n)
		}
	}

	p, err = w.prepare(ctx, user, cfg, p)
	if err != nil {
		return Order{}, err
	}

	now := w.now()
	var created Order
	_, err = docstore.Mutate(ctx, w.store, DocumentKey, newDocument, func(doc *document) error {
		if cfg.MaxPending > 0 && pendingFor(doc.Orders, user) >= cfg.MaxPending {
			return fmt.Errorf("%w: user %d", core.ErrTooManyPending, user)
		}
		if doc.NextID < 1 {
			doc.NextID = 1
		}
		created = Order{
			ID:        doc.NextID,
			Type:      p.Type(),
			Status:    StatusPending,
			UserID:    user,
			Payload:   p,
			CreatedAt: now,
			UpdatedAt: now,
		}
		doc.NextID++
		doc.Orders = append(doc.Orders, created)
		return nil
	})
	if err != nil {
		w.compensate(ctx, user, p, err)
		return Order{}, fmt.Errorf("create %s order: %w", p.Type(), err)
	}

	w.metrics.Transition(string(created.Type), string(StatusPending))
	w.record(ctx, core.Actor{ID: user}, "order.create", created)
	w.log.WithFields(orderFields(created)).Info("order created")
	return created, nil
}

func checkSettings(cfg settings.Settings, p Payload) error {
	if cfg.Maintenance {
		if cfg.MaintenanceMessage != "" {
			return fmt.Errorf("%w: %s", core.ErrMaintenance, cfg.MaintenanceMessage)
		}
		return core.ErrMaintenance
	}
	return checkMinimum(cfg, p)
}

func checkMinimum(cfg settings.Settings, p Payload) error {
	switch v := p.(type) {
	case TopupPayload:
		if v.Amount < cfg.MinTopup {
			return fmt.Errorf("%w: top-up minimum is %d", core.ErrBelowMinimum, cfg.MinTopup)
		}
	case WithdrawPayload:
		if v.Amount < cfg.MinWithdraw {
			return fmt.Errorf("%w: withdraw minimum is %d", core.ErrBelowMinimum, cfg.MinWithdraw)
		}
	}
	return nil
}

// prepare runs the creation-time side effect and returns the payload to store.
func (w *Workflow) prepare(ctx context.Context, user core.UserID, cfg settings.Settings, p Payload) (Payload, error) {
	switch v := p.(type) {
	case WithdrawPayload:
		if _, err := w.ledger.Reserve(ctx, user, v.Amount); err != nil {
			return nil, err
		}
		return v, nil

	case InvCreatePayload:
		candidate, ok, err := w.inventory.FindBestMatch(ctx, v.DesiredUsername)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w for %q", core.ErrNoCandidate, v.DesiredUsername)
		}
		item, ok, err := w.inventory.Assign(ctx, candidate.ID, user)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: item %d", core.ErrAssignmentRaced, candidate.ID)
		}
		v.ItemID = item.ID
		v.Username = item.Username
		v.Password = item.Password
		return v, nil

	case InvTopupPayload, InvWithdrawPayload:
		return price(cfg, v)
	}
	return p, nil
}

// price sets the wallet side of an inventory order from the current rate.
// A caller may echo the quoted value but never choose it.
func price(cfg settings.Settings, p Payload) (Payload, error) {
	switch v := p.(type) {
	case InvTopupPayload:
		quoted := cfg.TopupCost(v.Amount)
		if v.Cost != 0 && v.Cost != quoted {
			return nil, invalid(fmt.Sprintf("cost for %d units is %d, got %d", v.Amount, quoted, v.Cost))
		}
		v.Cost = quoted
		return v, nil
	case InvWithdrawPayload:
		quoted := cfg.WithdrawGain(v.Amount)
		if v.Gain != 0 && v.Gain != quoted {
			return nil, invalid(fmt.Sprintf("gain for %d units is %d, got %d", v.Amount, quoted, v.Gain))
		}
		v.Gain = quoted
		return v, nil
	}
	return p, nil
}

// compensate undoes the pre-step of an order that was never stored.
func (w *Workflow) compensate(ctx context.Context, user core.UserID, p Payload, cause error) {
	var err error
	switch v := p.(type) {
	case WithdrawPayload:
		_, err = w.ledger.Release(ctx, user, v.Amount)
	case InvCreatePayload:
		_, err = w.inventory.Unassign(ctx, v.ItemID)
	default:
		return
	}
	entry := w.log.WithFields(logrus.Fields{
		"user_id": user,
		"type":    p.Type(),
		"amount":  Amount(p),
		"cause":   cause,
	})
	if err != nil {
		entry.WithError(err).Error("order not stored and pre-step could not be undone")
		return
	}
	entry.Warn("order not stored, pre-step undone")
}

// =============================================================================
// QUERIES
// =============================================================================

func (w *Workflow) Get(ctx context.Context, id int64) (Order, error) {
	doc, err := docstore.Load(ctx, w.store, DocumentKey, newDocument)
	if err != nil {
		return Order{}, fmt.Errorf("load orders: %w", err)
	}
	if i := doc.index(id); i >= 0 {
		return doc.Orders[i], nil
	}
	return Order{}, fmt.Errorf("order %d: %w", id, core.ErrNotFound)
}

// ListPending returns up to limit PENDING orders, oldest first. limit <= 0
// returns all.
func (w *Workflow) ListPending(ctx context.Context, limit int) ([]Order, error) {
	doc, err := docstore.Load(ctx, w.store, DocumentKey, newDocument)
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	var out []Order
	for _, o := range doc.Orders {
		if o.Status == StatusPending {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return truncate(out, limit), nil
}

// ListByUser returns up to limit of the user's orders, newest first.
func (w *Workflow) ListByUser(ctx context.Context, user core.UserID, limit int) ([]Order, error) {
	doc, err := docstore.Load(ctx, w.store, DocumentKey, newDocument)
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	var out []Order
	for _, o := range doc.Orders {
		if o.UserID == user {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return truncate(out, limit), nil
}

func (w *Workflow) countPending(ctx context.Context, user core.UserID) (int, error) {
	doc, err := docstore.Load(ctx, w.store, DocumentKey, newDocument)
	if err != nil {
		return 0, fmt.Errorf("load orders: %w", err)
	}
	return pendingFor(doc.Orders, user), nil
}

func pendingFor(orders []Order, user core.UserID) int {
	n := 0
	for _, o := range orders {
		if o.UserID == user && o.Status == StatusPending {
			n++
		}
	}
	return n
}

func truncate(orders []Order, limit int) []Order {
	if limit > 0 && len(orders) > limit {
		return orders[:limit]
	}
	return orders
}

// =============================================================================
// EDIT
// =============================================================================

// Edit replaces the payload of a PENDING order. The reserved WITHDRAW
// amount and the assigned INV_CREATE item are fixed.
func (w *Workflow) Edit(ctx context.Context, id int64, actor core.Actor, p Payload) (Order, error) {
	if p == nil {
		return Order{}, invalid("payload is required")
	}
	if err := p.Validate(); err != nil {
		return Order{}, err
	}
	cfg, err := w.settings.Get(ctx)
	if err != nil {
		return Order{}, err
	}
	if err := checkSettings(cfg, p); err != nil {
		return Order{}, err
	}

	unlock := w.lockOrder(id)
	defer unlock()

	var edited Order
	_, err = docstore.Mutate(ctx, w.store, DocumentKey, newDocument, func(doc *document) error {
		i := doc.index(id)
		if i < 0 {
			return fmt.Errorf("order %d: %w", id, core.ErrNotFound)
		}
		o := &doc.Orders[i]
		if o.Status != StatusPending {
			return &core.NotPendingError{OrderID: id, Status: string(o.Status)}
		}
		next, err := mergeEdit(cfg, o.Payload, p)
		if err != nil {
			return err
		}
		o.Payload = next
		o.UpdatedAt = w.now()
		edited = *o
		return nil
	})
	if err != nil {
		return Order{}, fmt.Errorf("edit order %d: %w", id, err)
	}

	w.record(ctx, actor, "order.edit", edited)
	w.log.WithFields(orderFields(edited)).Info("order edited")
	return edited, nil
}

func mergeEdit(cfg settings.Settings, cur, next Payload) (Payload, error) {
	if cur.Type() != next.Type() {
		return nil, invalid(fmt.Sprintf("cannot change %s order into %s", cur.Type(), next.Type()))
	}
	switch v := next.(type) {
	case WithdrawPayload:
		if v.Amount != cur.(WithdrawPayload).Amount {
			return nil, invalid("withdraw amount is reserved and cannot change")
		}
	case InvCreatePayload:
		old := cur.(InvCreatePayload)
		if v.ItemID != 0 && v.ItemID != old.ItemID {
			return nil, invalid("assigned item cannot change")
		}
		v.ItemID, v.Username, v.Password = old.ItemID, old.Username, old.Password
		return v, nil
	case InvTopupPayload, InvWithdrawPayload:
		return price(cfg, v)
	}
	return next, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Approve applies the type's ledger effect and marks the order APPROVED.
// If the effect fails the order stays PENDING.
func (w *Workflow) Approve(ctx context.Context, id int64, actor core.Actor) (Order, error) {
	return w.transition(ctx, id, actor, "approve", StatusApproved, "", nil, w.applyApproval)
}

// Reject undoes any reservation and marks the order REJECTED.
func (w *Workflow) Reject(ctx context.Context, id int64, actor core.Actor, reason string) (Order, error) {
	return w.transition(ctx, id, actor, "reject", StatusRejected, reason, nil, w.releaseReservation)
}

// Cancel lets the owner withdraw a pending WITHDRAW order.
func (w *Workflow) Cancel(ctx context.Context, id int64, actor core.Actor) (Order, error) {
	check := func(o Order) error {
		if o.UserID != actor.ID {
			return fmt.Errorf("order %d: %w", o.ID, core.ErrNotOwner)
		}
		if o.Type != TypeWithdraw {
			return fmt.Errorf("order %d (%s): %w", o.ID, o.Type, core.ErrNotCancellable)
		}
		return nil
	}
	return w.transition(ctx, id, actor, "cancel", StatusCancelled, "", check, w.releaseReservation)
}

func (w *Workflow) transition(
	ctx context.Context,
	id int64,
	actor core.Actor,
	action string,
	final Status,
	reason string,
	check func(Order) error,
	effect func(context.Context, Order) (undoFunc, error),
) (Order, error) {
	unlock := w.lockOrder(id)
	defer unlock()

	o, err := w.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if o.Status != StatusPending {
		return Order{}, &core.NotPendingError{OrderID: id, Status: string(o.Status)}
	}
	if check != nil {
		if err := check(o); err != nil {
			return Order{}, err
		}
	}
	undo, err := effect(ctx, o)
	if err != nil {
		return Order{}, fmt.Errorf("%s order %d: %w", action, id, err)
	}

	done, err := w.finish(ctx, id, final, actor, reason)
	if err != nil {
		return Order{}, w.rollback(ctx, o, action, undo, err)
	}

	w.metrics.Transition(string(done.Type), string(final))
	w.record(ctx, actor, "order."+action, done)
	w.log.WithFields(orderFields(done)).WithField("actor", actor.String()).Info("order decided")
	return done, nil
}

// rollback reverses an applied effect after the status write failed. The
// returned error is retryable only if nothing is left applied.
func (w *Workflow) rollback(ctx context.Context, o Order, action string, undo undoFunc, cause error) error {
	if undo == nil {
		return fmt.Errorf("%s order %d: %w", action, o.ID, cause)
	}
	entry := w.log.WithFields(orderFields(o)).WithField("action", action).WithField("cause", cause)
	uerr := undo(context.WithoutCancel(ctx))
	if uerr == nil {
		entry.Warn("status write failed, side effect reversed")
		return fmt.Errorf("%s order %d: %w", action, o.ID, cause)
	}
	entry.WithError(uerr).Error("side effect applied but status write failed, order needs manual repair")
	return fmt.Errorf("%s order %d: %w (status write: %v; reversal: %v)", action, o.ID, core.ErrNeedsRepair, cause, uerr)
}

func (w *Workflow) applyApproval(ctx context.Context, o Order) (undoFunc, error) {
	user := o.UserID
	switch p := o.Payload.(type) {
	case TopupPayload:
		return w.credit(ctx, user, p.Amount)
	case WithdrawPayload:
		if _, err := w.ledger.Settle(ctx, user, p.Amount); err != nil {
			return nil, err
		}
		return func(context.Context) error { return errIrreversible }, nil
	case InvCreatePayload:
		return nil, nil
	case InvTopupPayload:
		if p.Cost <= 0 {
			return nil, nil
		}
		if _, err := w.ledger.Debit(ctx, user, p.Cost); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			_, err := w.ledger.Credit(ctx, user, p.Cost)
			return err
		}, nil
	case InvWithdrawPayload:
		if p.Gain <= 0 {
			return nil, nil
		}
		return w.credit(ctx, user, p.Gain)
	}
	return nil, invalid(fmt.Sprintf("unhandled payload %T", o.Payload))
}

func (w *Workflow) credit(ctx context.Context, user core.UserID, amount int64) (undoFunc, error) {
	if _, err := w.ledger.Credit(ctx, user, amount); err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		_, err := w.ledger.Debit(ctx, user, amount)
		return err
	}, nil
}

func (w *Workflow) releaseReservation(ctx context.Context, o Order) (undoFunc, error) {
	p, ok := o.Payload.(WithdrawPayload)
	if !ok {
		return nil, nil
	}
	if _, err := w.ledger.Release(ctx, o.UserID, p.Amount); err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		_, err := w.ledger.Reserve(ctx, o.UserID, p.Amount)
		return err
	}, nil
}

func (w *Workflow) finish(ctx context.Context, id int64, final Status, actor core.Actor, reason string) (Order, error) {
	var out Order
	_, err := docstore.Mutate(ctx, w.store, DocumentKey, newDocument, func(doc *document) error {
		i := doc.index(id)
		if i < 0 {
			return fmt.Errorf("order %d: %w", id, core.ErrNotFound)
		}
		o := &doc.Orders[i]
		if o.Status != StatusPending {
			return &core.NotPendingError{OrderID: id, Status: string(o.Status)}
		}
		now := w.now()
		o.Status = final
		o.UpdatedAt = now
		o.DecidedAt = &now
		o.DecidedBy = actor.String()
		o.DecidedByID = actor.ID
		o.Reason = reason
		out = *o
		return nil
	})
	return out, err
}

// =============================================================================
// HELPERS
// =============================================================================

// lockOrder serializes transitions on one order and returns the unlock.
func (w *Workflow) lockOrder(id int64) func() {
	w.mu.Lock()
	l, ok := w.locks[id]
	if !ok {
		l = &orderLock{}
		w.locks[id] = l
	}
	l.refs++
	w.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		w.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(w.locks, id)
		}
		w.mu.Unlock()
	}
}

// record writes an audit entry. Failures are logged only.
func (w *Workflow) record(ctx context.Context, actor core.Actor, action string, o Order) {
	if w.audit == nil {
		return
	}
	details := map[string]any{"type": o.Type, "status": o.Status}
	if amt := Amount(o.Payload); amt != 0 {
		details["amount"] = amt
	}
	switch p := o.Payload.(type) {
	case InvTopupPayload:
		details["cost"] = p.Cost
	case InvWithdrawPayload:
		details["gain"] = p.Gain
	}
	if o.Reason != "" {
		details["reason"] = o.Reason
	}
	_, err := w.audit.Record(ctx, actor, audit.Entry{
		Action:  action,
		OrderID: o.ID,
		UserID:  o.UserID,
		Details: details,
	})
	if err != nil {
		w.log.WithError(err).WithField("order_id", o.ID).Warn("audit entry not recorded")
	}
}

func orderFields(o Order) logrus.Fields {
	f := logrus.Fields{
		"order_id": o.ID,
		"type":     o.Type,
		"status":   o.Status,
		"user_id":  o.UserID,
		"amount":   Amount(o.Payload),
	}
	switch p := o.Payload.(type) {
	case InvTopupPayload:
		f["cost"] = p.Cost
	case InvWithdrawPayload:
		f["gain"] = p.Gain
	}
	return f
}
