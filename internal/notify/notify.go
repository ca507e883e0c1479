// Package notify abstracts the local notification service. Notifications are
// fire-and-forget: a failed or dropped notification never affects
// reconciliation.
package notify

import (
	"go.uber.org/zap"

	"github.com/fernwood-labs/messenger-sync/internal/store"
	"github.com/fernwood-labs/messenger-sync/pkg/logger"
)

// Notifier requests a system notification be shown.
type Notifier interface {
	Notify(title, body string)
}

// StoreNotifier publishes notification events onto the store's event stream;
// the UI shell renders them as system notifications.
type StoreNotifier struct {
	store *store.Store
	log   *logger.Logger
}

// NewStoreNotifier creates a notifier backed by the store event stream.
func NewStoreNotifier(s *store.Store, log *logger.Logger) *StoreNotifier {
	return &StoreNotifier{store: s, log: log.Named("notify")}
}

func (n *StoreNotifier) Notify(title, body string) {
	n.store.Notify(title, body)
	n.log.Debug("notification emitted", zap.String("title", title))
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) Notify(string, string) {}
