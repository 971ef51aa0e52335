/*
inventory.go - Pool of assignable credential pairs

PURPOSE:
  Admins load username/password pairs into the pool. An INV_CREATE order
  suggests the best available item for a desired username and assigns it
  to the requesting user in the same request.

ITEM LIFECYCLE:
  available ──Assign──▶ assigned
      ▲                    │
      └──────Unassign──────┘
  Remove only succeeds on available items.

ASSIGNMENT RACE:
  FindBestMatch and Assign are separate document operations. Two users can
  be suggested the same item; Assign re-checks status under the document
  lock, so exactly one wins and the other gets ok=false and must ask for
  a new suggestion.

SEE ALSO:
  - match.go: normalization and similarity scoring
  - orders/workflow.go: INV_CREATE pre-step
*/
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/walletdesk/core"
	"github.com/warp/walletdesk/docstore"
)

// DocumentKey is the store key holding the pool.
const DocumentKey = "inventory"

type Status string

const (
	StatusAvailable Status = "available"
	StatusAssigned  Status = "assigned"
)

type Item struct {
	ID         int64        `json:"id"`
	Username   string       `json:"username"`
	Password   string       `json:"password"`
	Status     Status       `json:"status"`
	AssignedTo *core.UserID `json:"assigned_to,omitempty"`
	AssignedAt *time.Time   `json:"assigned_at,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

func (it Item) Available() bool { return it.Status == StatusAvailable }

type document struct {
	NextID int64  `json:"next_id"`
	Items  []Item `json:"items"`
}

// errUnchanged aborts a Mutate that decided not to modify the pool.
var errUnchanged = errors.New("inventory unchanged")

func newDocument() document { return document{NextID: 1, Items: []Item{}} }

func (d *document) index(id int64) int {
	for i := range d.Items {
		if d.Items[i].ID == id {
			return i
		}
	}
	return -1
}

// =============================================================================
// INVENTORY
// =============================================================================

type Inventory struct {
	store     *docstore.Store
	log       *logrus.Entry
	now       core.Clock
	threshold float64
}

type Option func(*Inventory)

func WithLogger(l *logrus.Entry) Option { return func(inv *Inventory) { inv.log = l } }

func WithClock(c core.Clock) Option { return func(inv *Inventory) { inv.now = c } }

// WithMatchThreshold sets the minimum similarity a fuzzy candidate needs.
func WithMatchThreshold(t float64) Option { return func(inv *Inventory) { inv.threshold = t } }

func New(store *docstore.Store, opts ...Option) *Inventory {
	inv := &Inventory{
		store:     store,
		log:       logrus.NewEntry(logrus.StandardLogger()),
		now:       core.UTCNow,
		threshold: DefaultMatchThreshold,
	}
	for _, opt := range opts {
		opt(inv)
	}
	inv.log = inv.log.WithField("component", "inventory")
	return inv
}

// AddItem puts a new available item in the pool.
func (inv *Inventory) AddItem(ctx context.Context, username, password string) (Item, error) {
	if normalize(username) == "" || password == "" {
		return Item{}, fmt.Errorf("%w: username and password are required", core.ErrInvalidPayload)
	}

	var out Item
	_, err := docstore.Mutate(ctx, inv.store, DocumentKey, newDocument, func(doc *document) error {
		want := normalize(username)
		for _, it := range doc.Items {
			if normalize(it.Username) == want {
				return fmt.Errorf("%w: %q", core.ErrDuplicateUsername, username)
			}
		}
		if doc.NextID < 1 {
			doc.NextID = 1
		}
		out = Item{
			ID:        doc.NextID,
			Username:  username,
			Password:  password,
			Status:    StatusAvailable,
			CreatedAt: inv.now(),
		}
		doc.NextID++
		doc.Items = append(doc.Items, out)
		return nil
	})
	if err != nil {
		return Item{}, fmt.Errorf("add inventory item: %w", err)
	}
	inv.log.WithFields(logrus.Fields{"item_id": out.ID, "username": out.Username}).Info("item added")
	return out, nil
}

// FindBestMatch suggests an available item for desired. It does not
// reserve anything.
func (inv *Inventory) FindBestMatch(ctx context.Context, desired string) (Item, bool, error) {
	doc, err := docstore.Load(ctx, inv.store, DocumentKey, newDocument)
	if err != nil {
		return Item{}, false, fmt.Errorf("load inventory: %w", err)
	}
	it, ok := bestMatch(doc.Items, desired, inv.threshold)
	return it, ok, nil
}

// Assign flips item id to assigned for user. ok is false when the item is
// no longer available.
func (inv *Inventory) Assign(ctx context.Context, id int64, user core.UserID) (Item, bool, error) {
	var out Item
	var ok bool
	_, err := docstore.Mutate(ctx, inv.store, DocumentKey, newDocument, func(doc *document) error {
		i := doc.index(id)
		if i < 0 {
			return fmt.Errorf("inventory item %d: %w", id, core.ErrNotFound)
		}
		it := &doc.Items[i]
		if !it.Available() {
			out = *it
			return errUnchanged
		}
		now := inv.now()
		assignee := user
		it.Status = StatusAssigned
		it.AssignedTo = &assignee
		it.AssignedAt = &now
		out = *it
		ok = true
		return nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return Item{}, false, fmt.Errorf("assign inventory item: %w", err)
	}
	if ok {
		inv.log.WithFields(logrus.Fields{"item_id": id, "user_id": user}).Info("item assigned")
	}
	return out, ok, nil
}

// Unassign returns item id to the pool.
func (inv *Inventory) Unassign(ctx context.Context, id int64) (Item, error) {
	var out Item
	_, err := docstore.Mutate(ctx, inv.store, DocumentKey, newDocument, func(doc *document) error {
		i := doc.index(id)
		if i < 0 {
			return fmt.Errorf("inventory item %d: %w", id, core.ErrNotFound)
		}
		it := &doc.Items[i]
		it.Status = StatusAvailable
		it.AssignedTo = nil
		it.AssignedAt = nil
		out = *it
		return nil
	})
	if err != nil {
		return Item{}, fmt.Errorf("unassign inventory item: %w", err)
	}
	inv.log.WithField("item_id", id).Info("item unassigned")
	return out, nil
}

// Remove deletes the available item with the given username. It reports
// false and changes nothing if the item is missing or assigned.
func (inv *Inventory) Remove(ctx context.Context, username string) (bool, error) {
	want := normalize(username)
	var removed bool
	_, err := docstore.Mutate(ctx, inv.store, DocumentKey, newDocument, func(doc *document) error {
		for i, it := range doc.Items {
			if normalize(it.Username) != want {
				continue
			}
			if !it.Available() {
				return errUnchanged
			}
			doc.Items = append(doc.Items[:i:i], doc.Items[i+1:]...)
			removed = true
			return nil
		}
		return errUnchanged
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return false, fmt.Errorf("remove inventory item: %w", err)
	}
	return removed, nil
}

func (inv *Inventory) Get(ctx context.Context, id int64) (Item, error) {
	doc, err := docstore.Load(ctx, inv.store, DocumentKey, newDocument)
	if err != nil {
		return Item{}, fmt.Errorf("load inventory: %w", err)
	}
	if i := doc.index(id); i >= 0 {
		return doc.Items[i], nil
	}
	return Item{}, fmt.Errorf("inventory item %d: %w", id, core.ErrNotFound)
}

// List returns every item in stored order.
func (inv *Inventory) List(ctx context.Context) ([]Item, error) {
	doc, err := docstore.Load(ctx, inv.store, DocumentKey, newDocument)
	if err != nil {
		return nil, fmt.Errorf("load inventory: %w", err)
	}
	return doc.Items, nil
}

// AssignedTo returns the items held by user.
func (inv *Inventory) AssignedTo(ctx context.Context, user core.UserID) ([]Item, error) {
	items, err := inv.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []Item
	for _, it := range items {
		if it.AssignedTo != nil && *it.AssignedTo == user {
			out = append(out, it)
		}
	}
	return out, nil
}
