package directory

import (
	"context"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/warp/walletdesk/core"
	"github.com/warp/walletdesk/docstore"
)

// AdminsKey is the store key holding role membership.
const AdminsKey = "admins"

type adminsDoc struct {
	SuperAdmin core.UserID   `json:"super_admin"`
	Admins     []core.UserID `json:"admins"`
}

func newAdminsDoc() adminsDoc { return adminsDoc{Admins: []core.UserID{}} }

// Admins tracks who may decide orders. The super admin always counts as an
// admin and cannot be revoked.
type Admins struct {
	store *docstore.Store
	log   *logrus.Entry
}

func NewAdmins(store *docstore.Store, log *logrus.Entry) *Admins {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Admins{store: store, log: log.WithField("component", "admins")}
}

// EnsureSuper records id as the super admin. Zero is ignored.
func (a *Admins) EnsureSuper(ctx context.Context, id core.UserID) error {
	if id == 0 {
		return nil
	}
	_, err := docstore.Mutate(ctx, a.store, AdminsKey, newAdminsDoc, func(doc *adminsDoc) error {
		doc.SuperAdmin = id
		return nil
	})
	if err != nil {
		return fmt.Errorf("set super admin: %w", err)
	}
	return nil
}

func (a *Admins) Grant(ctx context.Context, id core.UserID) error {
	_, err := docstore.Mutate(ctx, a.store, AdminsKey, newAdminsDoc, func(doc *adminsDoc) error {
		if id == doc.SuperAdmin || slices.Contains(doc.Admins, id) {
			return nil
		}
		doc.Admins = append(doc.Admins, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("grant admin %d: %w", id, err)
	}
	a.log.WithField("user_id", id).Info("admin granted")
	return nil
}

func (a *Admins) Revoke(ctx context.Context, id core.UserID) error {
	_, err := docstore.Mutate(ctx, a.store, AdminsKey, newAdminsDoc, func(doc *adminsDoc) error {
		if id == doc.SuperAdmin {
			return core.ErrProtectedAdmin
		}
		i := slices.Index(doc.Admins, id)
		if i < 0 {
			return fmt.Errorf("admin %d: %w", id, core.ErrNotFound)
		}
		doc.Admins = slices.Delete(doc.Admins, i, i+1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("revoke admin %d: %w", id, err)
	}
	a.log.WithField("user_id", id).Info("admin revoked")
	return nil
}

func (a *Admins) IsAdmin(ctx context.Context, id core.UserID) (bool, error) {
	doc, err := docstore.Load(ctx, a.store, AdminsKey, newAdminsDoc)
	if err != nil {
		return false, fmt.Errorf("load admins: %w", err)
	}
	return id != 0 && (id == doc.SuperAdmin || slices.Contains(doc.Admins, id)), nil
}

// List returns the super admin (if set) followed by the other admins.
func (a *Admins) List(ctx context.Context) ([]core.UserID, error) {
	doc, err := docstore.Load(ctx, a.store, AdminsKey, newAdminsDoc)
	if err != nil {
		return nil, fmt.Errorf("load admins: %w", err)
	}
	out := make([]core.UserID, 0, len(doc.Admins)+1)
	if doc.SuperAdmin != 0 {
		out = append(out, doc.SuperAdmin)
	}
	return append(out, doc.Admins...), nil
}
