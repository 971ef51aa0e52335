/*
notify.go - Outbound user/admin notifications

PURPOSE:
  The core returns updated orders and wallets; the HTTP layer decides who
  to tell. A Notifier delivers plain text to one user or to every admin.
  Delivery is best-effort: callers log failures and carry on.

ADAPTERS:
  LogNotifier  writes each message to logrus (default, tests, dev)
  Telegram     sends through the Telegram Bot API (telegram.go)
  Multi        fans out to several notifiers, joining their errors

SEE ALSO:
  - format.go: message text
  - api/handlers.go: call sites
*/
package notify

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/warp/walletdesk/core"
)

type Notifier interface {
	NotifyUser(ctx context.Context, user core.UserID, text string) error
	NotifyAdmins(ctx context.Context, text string) error
}

// =============================================================================
// LOG NOTIFIER
// =============================================================================

type LogNotifier struct {
	log *logrus.Entry
}

func NewLogNotifier(log *logrus.Entry) *LogNotifier {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LogNotifier{log: log.WithField("component", "notify")}
}

func (n *LogNotifier) NotifyUser(_ context.Context, user core.UserID, text string) error {
	n.log.WithField("user_id", user).Info(text)
	return nil
}

func (n *LogNotifier) NotifyAdmins(_ context.Context, text string) error {
	n.log.WithField("audience", "admins").Info(text)
	return nil
}

// =============================================================================
// MULTI
// =============================================================================

// Multi delivers to every notifier even if some fail.
type Multi []Notifier

func (m Multi) NotifyUser(ctx context.Context, user core.UserID, text string) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyUser(ctx, user, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyAdmins(ctx context.Context, text string) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyAdmins(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
