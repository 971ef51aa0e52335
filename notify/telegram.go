package notify

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/warp/walletdesk/core"
)

// Sender is the part of *tgbotapi.BotAPI used here.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// AdminLister resolves the current admin ids at send time.
type AdminLister interface {
	List(ctx context.Context) ([]core.UserID, error)
}

// Telegram delivers messages as chat messages; a UserID is the chat id.
type Telegram struct {
	sender Sender
	admins AdminLister
	log    *logrus.Entry
}

func NewTelegram(sender Sender, admins AdminLister, log *logrus.Entry) *Telegram {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Telegram{sender: sender, admins: admins, log: log.WithField("component", "telegram")}
}

// DialTelegram authenticates token against the Bot API.
func DialTelegram(token string, admins AdminLister, log *logrus.Entry) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	t := NewTelegram(bot, admins, log)
	t.log.WithField("bot", bot.Self.UserName).Info("telegram notifier ready")
	return t, nil
}

func (t *Telegram) NotifyUser(_ context.Context, user core.UserID, text string) error {
	if _, err := t.sender.Send(tgbotapi.NewMessage(int64(user), text)); err != nil {
		return fmt.Errorf("telegram send to %d: %w", user, err)
	}
	return nil
}

func (t *Telegram) NotifyAdmins(ctx context.Context, text string) error {
	ids, err := t.admins.List(ctx)
	if err != nil {
		return fmt.Errorf("resolve admins: %w", err)
	}
	var errs []error
	for _, id := range ids {
		if err := t.NotifyUser(ctx, id, text); err != nil {
			t.log.WithError(err).WithField("admin_id", id).Warn("admin not notified")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
