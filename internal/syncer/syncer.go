// Package syncer orchestrates the sync engine: it feeds long-poll updates
// and paginated fetches into the store, hydrates minimal push payloads, and
// carries UI intents (open conversation, send message) out to the remote.
package syncer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fernwood-labs/messenger-sync/internal/identity"
	"github.com/fernwood-labs/messenger-sync/internal/model"
	"github.com/fernwood-labs/messenger-sync/internal/notify"
	"github.com/fernwood-labs/messenger-sync/internal/remote"
	"github.com/fernwood-labs/messenger-sync/internal/store"
	"github.com/fernwood-labs/messenger-sync/pkg/logger"
)

// Gateway dispatches logical calls through the rate-limited request gateway.
type Gateway interface {
	Call(ctx context.Context, method string, params remote.Params, useCache bool) (json.RawMessage, error)
}

// Enqueuer schedules logical calls through the batch scheduler.
type Enqueuer interface {
	Enqueue(method string, params remote.Params) <-chan remote.Result
}

// EventSource is the long-poll loop contract the syncer consumes.
type EventSource interface {
	Run(ctx context.Context) error
	Updates() <-chan model.Update
}

// Syncer is the single writer of the store. One goroutine consumes decoded
// updates and applies hydration before moving on, which keeps reconciliation
// ordered relative to the push notification that triggered it.
type Syncer struct {
	gw       Gateway
	batch    Enqueuer
	ids      *identity.Cache
	store    *store.Store
	events   EventSource
	notifier notify.Notifier
	log      *logger.Logger

	// active holds the peer id of the conversation currently open in the
	// UI; inbound messages elsewhere raise notifications.
	active atomic.Int64
}

// New wires a syncer from its collaborators.
func New(
	gw Gateway,
	batch Enqueuer,
	ids *identity.Cache,
	st *store.Store,
	events EventSource,
	notifier notify.Notifier,
	log *logger.Logger,
) *Syncer {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Syncer{
		gw:       gw,
		batch:    batch,
		ids:      ids,
		store:    st,
		events:   events,
		notifier: notifier,
		log:      log.Named("syncer"),
	}
}

// Run performs the initial conversation fetch, starts the event source, and
// consumes updates until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) error {
	if err := s.RefreshConversations(ctx); err != nil {
		s.store.SetError(err.Error())
		s.log.Error("initial conversation fetch failed", zap.Error(err))
	}

	go func() {
		if err := s.events.Run(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("event source stopped", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u := <-s.events.Updates():
			s.apply(ctx, u)
		}
	}
}

// RefreshConversations replaces the conversation set from a full list fetch.
func (s *Syncer) RefreshConversations(ctx context.Context) error {
	payload, err := s.gw.Call(ctx, "messages.getConversations", remote.Params{
		"count":    "200",
		"extended": "1",
	}, false)
	if err != nil {
		return fmt.Errorf("fetch conversations: %w", err)
	}

	var list wireConversationList
	if err := json.Unmarshal(payload, &list); err != nil {
		return fmt.Errorf("decode conversations: %w", err)
	}

	items := make([]*model.Conversation, 0, len(list.Items))
	for i := range list.Items {
		items = append(items, s.conversation(&list.Items[i]))
	}
	s.store.ApplyConversationList(items)
	s.store.ClearError()
	return nil
}

// conversation converts one wire item, resolving direct and community titles
// from the identity cache. The extended list fetch embeds the profiles and
// groups, so the gateway scanner has fed the cache before this runs.
func (s *Syncer) conversation(item *wireConversationItem) *model.Conversation {
	wc := &item.Conversation
	c := &model.Conversation{
		PeerID:      wc.Peer.ID,
		Kind:        peerKind(wc.Peer.Type),
		Unread:      wc.UnreadCount,
		LastMessage: item.LastMessage.message(false),
	}
	c.Empty = c.LastMessage == nil

	if cs := wc.ChatSettings; cs != nil {
		c.Title = cs.Title
		c.MemberCount = cs.MembersCount
		c.Admin = cs.IsAdmin
		c.Left = cs.State != "" && cs.State != "in"
		if cs.Photo != nil {
			c.Avatar = cs.Photo.Photo100
		}
		return c
	}

	if ident := s.ids.Lookup(wc.Peer.ID); ident != nil {
		c.Title = ident.Name
		c.Avatar = ident.Avatar
	}
	return c
}

// SetActive marks the conversation the UI is currently presenting.
func (s *Syncer) SetActive(peerID int64) {
	s.active.Store(peerID)
}

// SendMessage carries a send intent to the remote through the batch
// scheduler and returns the assigned message id. The echoed message itself
// arrives back through the long-poll stream.
func (s *Syncer) SendMessage(ctx context.Context, peerID int64, text string) (int64, error) {
	res, err := await(ctx, s.batch.Enqueue("messages.send", remote.Params{
		"peer_id":   strconv.FormatInt(peerID, 10),
		"message":   text,
		"random_id": strconv.FormatInt(clientID(), 10),
	}))
	if err != nil {
		return 0, err
	}

	var messageID int64
	if err := json.Unmarshal(res, &messageID); err != nil {
		return 0, fmt.Errorf("decode send result: %w", err)
	}
	return messageID, nil
}

// OpenConversation marks a conversation active, pulls a page of its history
// into the store, and acknowledges the read position.
func (s *Syncer) OpenConversation(ctx context.Context, peerID int64, count int) error {
	s.SetActive(peerID)
	if count <= 0 {
		count = 50
	}

	payload, err := s.gw.Call(ctx, "messages.getHistory", remote.Params{
		"peer_id":  strconv.FormatInt(peerID, 10),
		"count":    strconv.Itoa(count),
		"extended": "1",
	}, true)
	if err != nil {
		s.store.SetError(err.Error())
		return fmt.Errorf("fetch history: %w", err)
	}

	var list wireMessageList
	if err := json.Unmarshal(payload, &list); err != nil {
		s.store.SetError(err.Error())
		return fmt.Errorf("decode history: %w", err)
	}

	hydrated := make(map[int64]bool)
	for _, m := range s.store.Messages(peerID) {
		hydrated[m.ID] = m.Hydrated
	}

	// History arrives newest-first; the idempotent ordered insert puts
	// every page in its place regardless.
	for i := range list.Items {
		m := list.Items[i].message(true)
		if s.store.AppendMessage(peerID, m) {
			continue
		}
		// A hydrated entry may carry an edit newer than this page, which
		// the cache can serve stale. Only minimal push stubs are upgraded.
		if !hydrated[m.ID] {
			s.store.ReplaceMessage(peerID, m.ID, m)
		}
	}
	s.store.ClearError()

	s.ackRead(peerID)
	return nil
}

// ackRead acknowledges the read position remotely and clears the local
// unread counter. Fire-and-forget: a failed ack is logged only.
func (s *Syncer) ackRead(peerID int64) {
	s.store.MarkRead(peerID)
	ch := s.batch.Enqueue("messages.markAsRead", remote.Params{
		"peer_id": strconv.FormatInt(peerID, 10),
	})
	go func() {
		if res := <-ch; res.Err != nil {
			s.log.Warn("read ack failed", zap.Int64("peer_id", peerID), zap.Error(res.Err))
		}
	}()
}

func (s *Syncer) apply(ctx context.Context, u model.Update) {
	switch v := u.(type) {
	case model.NewMessage:
		s.applyNewMessage(ctx, v)
	case model.MessageEdited:
		s.applyEdit(ctx, v)
	case model.MessageDeleted:
		s.store.RemoveMessage(v.PeerID, v.MessageID)
		s.refreshPreview(v.PeerID)
	case model.MessagesRead:
		if v.Inbound {
			s.store.MarkRead(v.PeerID)
		} else {
			s.store.SetPeerRead(v.PeerID, v.MessageID)
		}
	case model.PresenceChanged:
		s.store.SetPresence(v.UserID, v.Online)
	case model.Ignored:
		s.log.Debug("ignored update", zap.Int("tag", v.Tag))
	}
}

// applyNewMessage is the two-phase notify-then-hydrate path: the minimal
// push payload lands immediately, then the full fetch replaces it in place.
func (s *Syncer) applyNewMessage(ctx context.Context, v model.NewMessage) {
	m := &model.Message{
		ID:        v.MessageID,
		PeerID:    v.PeerID,
		Text:      v.Text,
		Outbound:  v.Outbound(),
		Timestamp: v.Timestamp,
	}
	if !m.Outbound {
		m.SenderID = v.PeerID
	}

	s.ensureConversation(ctx, v.PeerID)
	s.store.AppendMessage(v.PeerID, m)
	s.store.UpdateLastMessage(v.PeerID, m)

	if !m.Outbound && s.active.Load() != v.PeerID {
		s.store.IncrementUnread(v.PeerID)
		s.notifier.Notify(s.conversationTitle(v.PeerID), v.Text)
	}

	hydrated, err := s.fetchMessage(ctx, v.MessageID)
	if err != nil {
		s.store.SetError(err.Error())
		s.log.Warn("message hydration failed",
			zap.Int64("message_id", v.MessageID), zap.Error(err))
		return
	}
	if hydrated == nil {
		return
	}

	s.store.ReplaceMessage(v.PeerID, v.MessageID, hydrated)
	if c := s.store.Conversation(v.PeerID); c != nil && c.LastMessage != nil && c.LastMessage.ID == hydrated.ID {
		s.store.UpdateLastMessage(v.PeerID, hydrated)
	}
}

func (s *Syncer) applyEdit(ctx context.Context, v model.MessageEdited) {
	hydrated, err := s.fetchMessage(ctx, v.MessageID)
	if err != nil {
		s.store.SetError(err.Error())
		s.log.Warn("edit hydration failed",
			zap.Int64("message_id", v.MessageID), zap.Error(err))
		return
	}
	if hydrated == nil {
		return
	}
	if !s.store.ReplaceMessage(v.PeerID, v.MessageID, hydrated) {
		s.store.AppendMessage(v.PeerID, hydrated)
	}
	if c := s.store.Conversation(v.PeerID); c != nil && c.LastMessage != nil && c.LastMessage.ID == hydrated.ID {
		s.store.UpdateLastMessage(v.PeerID, hydrated)
	}
}

// ensureConversation creates a minimal list entry for a peer first seen
// through a push event. The next full list fetch replaces it with the
// complete record.
func (s *Syncer) ensureConversation(ctx context.Context, peerID int64) {
	if s.store.Conversation(peerID) != nil {
		return
	}

	c := &model.Conversation{PeerID: peerID, Kind: peerKindForID(peerID), Empty: true}
	ident := s.ids.Lookup(peerID)
	if ident == nil && c.Kind == model.PeerDirect {
		var err error
		if ident, err = s.ids.Profile(ctx, peerID); err != nil {
			s.log.Warn("title resolution for new peer failed",
				zap.Int64("peer_id", peerID), zap.Error(err))
		}
	}
	if ident != nil {
		c.Title = ident.Name
		c.Avatar = ident.Avatar
	}
	s.store.AddConversation(c)
}

// fetchMessage hydrates one message by id.
func (s *Syncer) fetchMessage(ctx context.Context, id int64) (*model.Message, error) {
	payload, err := s.gw.Call(ctx, "messages.getById", remote.Params{
		"message_ids": strconv.FormatInt(id, 10),
		"extended":    "1",
	}, false)
	if err != nil {
		return nil, fmt.Errorf("fetch message %d: %w", id, err)
	}

	var list wireMessageList
	if err := json.Unmarshal(payload, &list); err != nil {
		return nil, fmt.Errorf("decode message %d: %w", id, err)
	}
	if len(list.Items) == 0 {
		return nil, nil
	}
	return list.Items[0].message(true), nil
}

// refreshPreview recomputes the last-message snapshot after a removal.
func (s *Syncer) refreshPreview(peerID int64) {
	msgs := s.store.Messages(peerID)
	if len(msgs) == 0 {
		s.store.ClearLastMessage(peerID)
		return
	}
	s.store.UpdateLastMessage(peerID, msgs[len(msgs)-1])
}

func (s *Syncer) conversationTitle(peerID int64) string {
	if c := s.store.Conversation(peerID); c != nil && c.Title != "" {
		return c.Title
	}
	if ident := s.ids.Lookup(peerID); ident != nil {
		return ident.Name
	}
	return "New message"
}

func await(ctx context.Context, ch <-chan remote.Result) (json.RawMessage, error) {
	select {
	case res := <-ch:
		return res.Payload, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// clientID derives a positive random id for send deduplication.
func clientID() int64 {
	u := uuid.New()
	return int64(binary.BigEndian.Uint64(u[:8]) &^ (1 << 63))
}
