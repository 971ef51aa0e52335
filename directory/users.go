/*
users.go - Registry of front-end users

PURPOSE:
  Records who has talked to the service. Touch is called on every contact:
  it creates the user on first sight, refreshes profile fields and last_seen
  afterwards, and opens the user's wallet so balances can be shown
  immediately.

SEE ALSO:
  - admins.go: role membership
  - wallet/ledger.go: Get opens wallets lazily
*/
package directory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/walletdesk/core"
	"github.com/warp/walletdesk/docstore"
	"github.com/warp/walletdesk/wallet"
)

// UsersKey is the store key holding the user registry.
const UsersKey = "users"

type User struct {
	ID        core.UserID `json:"id"`
	Username  string      `json:"username,omitempty"`
	FirstName string      `json:"first_name,omitempty"`
	LastName  string      `json:"last_name,omitempty"`
	JoinedAt  time.Time   `json:"joined_at"`
	LastSeen  time.Time   `json:"last_seen"`
	Banned    bool        `json:"banned"`
	BanReason string      `json:"ban_reason,omitempty"`
}

// Profile is what the front-end knows about a user at contact time.
type Profile struct {
	ID        core.UserID
	Username  string
	FirstName string
	LastName  string
}

type usersDoc map[core.UserID]User

func newUsersDoc() usersDoc { return usersDoc{} }

// WalletOpener opens a wallet on first access.
type WalletOpener interface {
	Get(ctx context.Context, user core.UserID) (wallet.Wallet, error)
}

type Users struct {
	store   *docstore.Store
	wallets WalletOpener
	log     *logrus.Entry
	now     core.Clock
}

func NewUsers(store *docstore.Store, wallets WalletOpener, log *logrus.Entry, now core.Clock) *Users {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if now == nil {
		now = core.UTCNow
	}
	return &Users{store: store, wallets: wallets, log: log.WithField("component", "users"), now: now}
}

// Touch creates or refreshes the user and makes sure a wallet exists.
func (u *Users) Touch(ctx context.Context, p Profile) (User, error) {
	now := u.now()
	var out User
	var created bool
	_, err := docstore.Mutate(ctx, u.store, UsersKey, newUsersDoc, func(doc *usersDoc) error {
		if *doc == nil {
			*doc = usersDoc{}
		}
		cur, ok := (*doc)[p.ID]
		if !ok {
			cur = User{ID: p.ID, JoinedAt: now}
			created = true
		}
		cur.Username = p.Username
		cur.FirstName = p.FirstName
		cur.LastName = p.LastName
		cur.LastSeen = now
		(*doc)[p.ID] = cur
		out = cur
		return nil
	})
	if err != nil {
		return User{}, fmt.Errorf("touch user %d: %w", p.ID, err)
	}

	if u.wallets != nil {
		if _, err := u.wallets.Get(ctx, p.ID); err != nil {
			return User{}, fmt.Errorf("open wallet for user %d: %w", p.ID, err)
		}
	}
	if created {
		u.log.WithFields(logrus.Fields{"user_id": p.ID, "username": p.Username}).Info("new user")
	}
	return out, nil
}

// Get returns the user or core.ErrNotFound.
func (u *Users) Get(ctx context.Context, id core.UserID) (User, error) {
	doc, err := docstore.Load(ctx, u.store, UsersKey, newUsersDoc)
	if err != nil {
		return User{}, fmt.Errorf("load users: %w", err)
	}
	user, ok := doc[id]
	if !ok {
		return User{}, fmt.Errorf("user %d: %w", id, core.ErrNotFound)
	}
	return user, nil
}

// List returns every user ordered by id.
func (u *Users) List(ctx context.Context) ([]User, error) {
	doc, err := docstore.Load(ctx, u.store, UsersKey, newUsersDoc)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	out := make([]User, 0, len(doc))
	for _, user := range doc {
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (u *Users) Ban(ctx context.Context, id core.UserID, reason string) (User, error) {
	return u.setBan(ctx, id, true, reason)
}

func (u *Users) Unban(ctx context.Context, id core.UserID) (User, error) {
	return u.setBan(ctx, id, false, "")
}

// IsBanned reports false for unknown users.
func (u *Users) IsBanned(ctx context.Context, id core.UserID) (bool, error) {
	user, err := u.Get(ctx, id)
	if core.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.Banned, nil
}

func (u *Users) setBan(ctx context.Context, id core.UserID, banned bool, reason string) (User, error) {
	var out User
	_, err := docstore.Mutate(ctx, u.store, UsersKey, newUsersDoc, func(doc *usersDoc) error {
		cur, ok := (*doc)[id]
		if !ok {
			return fmt.Errorf("user %d: %w", id, core.ErrNotFound)
		}
		cur.Banned = banned
		cur.BanReason = reason
		(*doc)[id] = cur
		out = cur
		return nil
	})
	if err != nil {
		return User{}, err
	}
	u.log.WithFields(logrus.Fields{"user_id": id, "banned": banned, "reason": reason}).Info("ban status changed")
	return out, nil
}
