// Package store holds the local view of conversations and message histories
// and implements the reconciliation operations that merge remote state into
// it. All merge operations are all-or-nothing per call; a failed fetch never
// corrupts previously reconciled state, it only sets the store-level error.
package store

import (
	"sort"
	"sync"

	"github.com/fernwood-labs/messenger-sync/internal/model"
	"github.com/fernwood-labs/messenger-sync/pkg/metrics"
)

// EventType labels a store change notification.
type EventType string

const (
	EventConversations EventType = "conversations_updated"
	EventMessages      EventType = "messages_updated"
	EventPresence      EventType = "presence_updated"
	EventError         EventType = "error_updated"
	EventNotification  EventType = "notification"
)

// Event is a store-shaped update a UI layer consumes reactively.
type Event struct {
	Type   EventType `json:"type"`
	PeerID int64     `json:"peer_id,omitempty"`
	Title  string    `json:"title,omitempty"`
	Body   string    `json:"body,omitempty"`
}

// Store is the single-writer conversation/message store. The syncer is the
// only writer; handlers read snapshots concurrently.
type Store struct {
	mu            sync.RWMutex
	conversations map[int64]*model.Conversation
	messages      map[int64][]*model.Message
	messageCount  int
	lastErr       string

	subMu   sync.Mutex
	subs    map[int64]chan Event
	nextSub int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		conversations: make(map[int64]*model.Conversation),
		messages:      make(map[int64][]*model.Message),
		subs:          make(map[int64]chan Event),
	}
}

// Subscribe registers a change listener. The channel is buffered; a slow
// consumer loses intermediate events, never blocks the writer.
func (s *Store) Subscribe() (int64, <-chan Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextSub++
	id := s.nextSub
	ch := make(chan Event, 64)
	s.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a change listener.
func (s *Store) Unsubscribe(id int64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *Store) publish(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Notify emits a notification event for the UI layer to render as a system
// notification.
func (s *Store) Notify(title, body string) {
	s.publish(Event{Type: EventNotification, Title: title, Body: body})
}

// ApplyConversationList replaces the conversation set. A full refresh wins
// over any in-flight unread/online overlays.
func (s *Store) ApplyConversationList(items []*model.Conversation) {
	s.mu.Lock()
	s.conversations = make(map[int64]*model.Conversation, len(items))
	for _, c := range items {
		s.conversations[c.PeerID] = c
	}
	size := len(s.conversations)
	s.mu.Unlock()

	metrics.ConversationsGauge.Set(float64(size))
	s.publish(Event{Type: EventConversations})
}

// AddConversation inserts a conversation for a previously unknown peer.
// An existing entry is left untouched. Reports whether it was added.
func (s *Store) AddConversation(c *model.Conversation) bool {
	s.mu.Lock()
	if _, exists := s.conversations[c.PeerID]; exists {
		s.mu.Unlock()
		return false
	}
	s.conversations[c.PeerID] = c
	size := len(s.conversations)
	s.mu.Unlock()

	metrics.ConversationsGauge.Set(float64(size))
	s.publish(Event{Type: EventConversations, PeerID: c.PeerID})
	return true
}

// Conversations returns a snapshot ordered by most-recent-activity
// descending.
func (s *Store) Conversations() []*model.Conversation {
	s.mu.RLock()
	out := make([]*model.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		cc := *c
		out = append(out, &cc)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity() > out[j].LastActivity()
	})
	return out
}

// Conversation returns a snapshot of one conversation, or nil.
func (s *Store) Conversation(peerID int64) *model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[peerID]
	if !ok {
		return nil
	}
	cc := *c
	return &cc
}

// Messages returns a snapshot of one conversation's message list in
// ascending timestamp order.
func (s *Store) Messages(peerID int64) []*model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.messages[peerID]
	out := make([]*model.Message, len(list))
	copy(out, list)
	return out
}

// AppendMessage inserts a message keeping ascending timestamp order. It is
// idempotent by message id: a duplicate insert is a no-op. Reports whether
// the message was inserted.
func (s *Store) AppendMessage(peerID int64, m *model.Message) bool {
	s.mu.Lock()
	list := s.messages[peerID]
	for _, existing := range list {
		if existing.ID == m.ID {
			s.mu.Unlock()
			return false
		}
	}
	// Insert before the first later message; ties keep arrival order.
	idx := sort.Search(len(list), func(i int) bool {
		return list[i].Timestamp > m.Timestamp
	})
	list = append(list, nil)
	copy(list[idx+1:], list[idx:])
	list[idx] = m
	s.messages[peerID] = list
	s.messageCount++
	count := s.messageCount
	s.mu.Unlock()

	metrics.MessagesGauge.Set(float64(count))
	s.publish(Event{Type: EventMessages, PeerID: peerID})
	return true
}

// ReplaceMessage swaps a message by id, preserving its position. Used after
// hydration and edit events. Reports whether the id was found.
func (s *Store) ReplaceMessage(peerID, id int64, m *model.Message) bool {
	s.mu.Lock()
	list := s.messages[peerID]
	replaced := false
	for i, existing := range list {
		if existing.ID == id {
			list[i] = m
			replaced = true
			break
		}
	}
	s.mu.Unlock()

	if replaced {
		s.publish(Event{Type: EventMessages, PeerID: peerID})
	}
	return replaced
}

// RemoveMessage deletes a message by id.
func (s *Store) RemoveMessage(peerID, id int64) bool {
	s.mu.Lock()
	list := s.messages[peerID]
	removed := false
	for i, existing := range list {
		if existing.ID == id {
			s.messages[peerID] = append(list[:i], list[i+1:]...)
			s.messageCount--
			removed = true
			break
		}
	}
	count := s.messageCount
	s.mu.Unlock()

	if removed {
		metrics.MessagesGauge.Set(float64(count))
		s.publish(Event{Type: EventMessages, PeerID: peerID})
	}
	return removed
}

// UpdateLastMessage recomputes a conversation's summary snapshot. The
// conversation list order follows from LastActivity on read.
func (s *Store) UpdateLastMessage(peerID int64, m *model.Message) {
	s.mu.Lock()
	c, ok := s.conversations[peerID]
	if ok {
		c.LastMessage = m
		c.Empty = false
	}
	s.mu.Unlock()

	if ok {
		s.publish(Event{Type: EventConversations, PeerID: peerID})
	}
}

// ClearLastMessage drops the preview after the last message is removed and
// marks the conversation empty.
func (s *Store) ClearLastMessage(peerID int64) {
	s.mu.Lock()
	c, ok := s.conversations[peerID]
	if ok {
		c.LastMessage = nil
		c.Empty = true
	}
	s.mu.Unlock()

	if ok {
		s.publish(Event{Type: EventConversations, PeerID: peerID})
	}
}

// IncrementUnread bumps the unread counter for an inbound message.
func (s *Store) IncrementUnread(peerID int64) {
	s.mu.Lock()
	c, ok := s.conversations[peerID]
	if ok {
		c.Unread++
	}
	s.mu.Unlock()

	if ok {
		s.publish(Event{Type: EventConversations, PeerID: peerID})
	}
}

// MarkRead clears the unread counter after a local read acknowledgment.
func (s *Store) MarkRead(peerID int64) {
	s.mu.Lock()
	c, ok := s.conversations[peerID]
	if ok {
		c.Unread = 0
	}
	s.mu.Unlock()

	if ok {
		s.publish(Event{Type: EventConversations, PeerID: peerID})
	}
}

// SetPeerRead records the peer's outbound read receipt.
func (s *Store) SetPeerRead(peerID, messageID int64) {
	s.mu.Lock()
	c, ok := s.conversations[peerID]
	if ok && messageID > c.PeerReadUpTo {
		c.PeerReadUpTo = messageID
	}
	s.mu.Unlock()

	if ok {
		s.publish(Event{Type: EventConversations, PeerID: peerID})
	}
}

// SetPresence flips the online overlay of the direct conversation with the
// given user, if it exists.
func (s *Store) SetPresence(userID int64, online bool) {
	s.mu.Lock()
	c, ok := s.conversations[userID]
	if ok && c.Kind == model.PeerDirect {
		c.Online = online
	} else {
		ok = false
	}
	s.mu.Unlock()

	if ok {
		s.publish(Event{Type: EventPresence, PeerID: userID})
	}
}

// SetError surfaces a fetch failure for the UI to render.
func (s *Store) SetError(msg string) {
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
	s.publish(Event{Type: EventError})
}

// ClearError clears the surfaced error.
func (s *Store) ClearError() {
	s.mu.Lock()
	cleared := s.lastErr != ""
	s.lastErr = ""
	s.mu.Unlock()
	if cleared {
		s.publish(Event{Type: EventError})
	}
}

// LastError returns the surfaced error, empty when healthy.
func (s *Store) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}
