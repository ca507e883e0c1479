package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fernwood-labs/messenger-sync/internal/identity"
	"github.com/fernwood-labs/messenger-sync/internal/longpoll"
	"github.com/fernwood-labs/messenger-sync/internal/model"
	"github.com/fernwood-labs/messenger-sync/internal/remote"
	"github.com/fernwood-labs/messenger-sync/internal/store"
	"github.com/fernwood-labs/messenger-sync/pkg/logger"
)

// fakeGateway scripts gateway responses per method.
type fakeGateway struct {
	mu        sync.Mutex
	calls     []string
	responses map[string]json.RawMessage
	errs      map[string]error
}

func (g *fakeGateway) Call(_ context.Context, method string, _ remote.Params, _ bool) (json.RawMessage, error) {
	g.mu.Lock()
	g.calls = append(g.calls, method)
	g.mu.Unlock()
	if err, ok := g.errs[method]; ok {
		return nil, err
	}
	if res, ok := g.responses[method]; ok {
		return res, nil
	}
	return nil, fmt.Errorf("unscripted method %s", method)
}

func (g *fakeGateway) called(method string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c == method {
			n++
		}
	}
	return n
}

// fakeEnqueuer answers batch enqueues from a script and records the params.
type fakeEnqueuer struct {
	mu      sync.Mutex
	entries []struct {
		Method string
		Params remote.Params
	}
	reply func(method string, params remote.Params) remote.Result
}

func (e *fakeEnqueuer) Enqueue(method string, params remote.Params) <-chan remote.Result {
	e.mu.Lock()
	e.entries = append(e.entries, struct {
		Method string
		Params remote.Params
	}{method, params})
	e.mu.Unlock()
	ch := make(chan remote.Result, 1)
	if e.reply != nil {
		ch <- e.reply(method, params)
	} else {
		ch <- remote.Result{Payload: json.RawMessage(`1`)}
	}
	return ch
}

func (e *fakeEnqueuer) enqueued(method string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, entry := range e.entries {
		if entry.Method == method {
			n++
		}
	}
	return n
}

// fakeEvents is a hand-fed event source.
type fakeEvents struct {
	updates chan model.Update
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{updates: make(chan model.Update, 16)}
}

func (f *fakeEvents) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeEvents) Updates() <-chan model.Update { return f.updates }

func (f *fakeEvents) push(t *testing.T, raw string) {
	t.Helper()
	u, err := longpoll.DecodeUpdate(json.RawMessage(raw))
	require.NoError(t, err)
	f.updates <- u
}

type fixture struct {
	syncer *Syncer
	gw     *fakeGateway
	batch  *fakeEnqueuer
	events *fakeEvents
	store  *store.Store
	ids    *identity.Cache
}

func newFixture(gw *fakeGateway, batch *fakeEnqueuer) *fixture {
	if gw.responses == nil {
		gw.responses = map[string]json.RawMessage{}
	}
	events := newFakeEvents()
	st := store.New()
	ids := identity.NewCache(batch, logger.Nop())
	s := New(gw, batch, ids, st, events, nil, logger.Nop())
	return &fixture{syncer: s, gw: gw, batch: batch, events: events, store: st, ids: ids}
}

func (f *fixture) run(t *testing.T) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = f.syncer.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("syncer did not stop after cancel")
		}
	})
	return cancel
}

const conversationListPayload = `{
	"count": 2,
	"items": [
		{
			"conversation": {"peer": {"id": 501, "type": "user"}, "unread_count": 1},
			"last_message": {"id": 8000, "from_id": 501, "peer_id": 501, "date": 1699999000, "text": "earlier", "out": 0}
		},
		{
			"conversation": {
				"peer": {"id": 2000000001, "type": "chat"},
				"unread_count": 0,
				"chat_settings": {"title": "Weekend plans", "members_count": 4, "state": "in", "is_admin": true}
			},
			"last_message": {"id": 8001, "from_id": 502, "peer_id": 2000000001, "date": 1699999500, "text": "saturday?", "out": 0}
		}
	],
	"profiles": [{"id": 501, "first_name": "Ada", "last_name": "Lovelace", "photo_100": "https://pics/ada.jpg"}]
}`

func TestRefreshConversations(t *testing.T) {
	gw := &fakeGateway{responses: map[string]json.RawMessage{
		"messages.getConversations": json.RawMessage(conversationListPayload),
	}}
	f := newFixture(gw, &fakeEnqueuer{})
	// The gateway response scanner feeds the identity cache before the
	// syncer decodes the list; the fixture replays that step.
	f.ids.ScanPayload(json.RawMessage(conversationListPayload))

	require.NoError(t, f.syncer.RefreshConversations(context.Background()))

	convs := f.store.Conversations()
	require.Len(t, convs, 2)

	direct := f.store.Conversation(501)
	require.Equal(t, model.PeerDirect, direct.Kind)
	require.Equal(t, "Ada Lovelace", direct.Title)
	require.Equal(t, "https://pics/ada.jpg", direct.Avatar)
	require.Equal(t, 1, direct.Unread)
	require.Equal(t, "earlier", direct.LastMessage.Text)

	chat := f.store.Conversation(2000000001)
	require.Equal(t, model.PeerGroupChat, chat.Kind)
	require.Equal(t, "Weekend plans", chat.Title)
	require.Equal(t, 4, chat.MemberCount)
	require.True(t, chat.Admin)
	require.False(t, chat.Left)
}

func TestRefreshConversations_ErrorSurfaced(t *testing.T) {
	gw := &fakeGateway{errs: map[string]error{
		"messages.getConversations": &remote.Error{Kind: remote.KindNetwork, Message: "unreachable"},
	}}
	f := newFixture(gw, &fakeEnqueuer{})

	err := f.syncer.RefreshConversations(context.Background())
	require.Error(t, err)
	require.Empty(t, f.store.Conversations())
}

func TestNewMessage_NotifyThenHydrate(t *testing.T) {
	gw := &fakeGateway{responses: map[string]json.RawMessage{
		"messages.getConversations": json.RawMessage(conversationListPayload),
		"messages.getById": json.RawMessage(`{
			"count": 1,
			"items": [{
				"id": 9001, "from_id": 501, "peer_id": 501, "date": 1700000000,
				"text": "hi", "out": 0,
				"attachments": [{"type": "photo", "photo": {"sizes": [{"type": "x", "url": "https://pics/full.jpg"}]}}]
			}]
		}`),
	}}
	f := newFixture(gw, &fakeEnqueuer{})
	f.run(t)

	// Another conversation is open, so this inbound message is background.
	f.syncer.SetActive(2000000001)
	f.events.push(t, `[4, 9001, 0, 501, 1700000000, "hi"]`)

	require.Eventually(t, func() bool {
		msgs := f.store.Messages(501)
		c := f.store.Conversation(501)
		return len(msgs) == 1 && msgs[0].Hydrated &&
			c != nil && c.LastMessage != nil && c.LastMessage.Hydrated
	}, 2*time.Second, 5*time.Millisecond)

	msgs := f.store.Messages(501)
	require.Equal(t, int64(9001), msgs[0].ID)
	require.Equal(t, "hi", msgs[0].Text)
	require.Equal(t, int64(501), msgs[0].SenderID)
	require.Len(t, msgs[0].Attachments, 1)
	require.Equal(t, "https://pics/full.jpg", msgs[0].Attachments[0].URL)

	conv := f.store.Conversation(501)
	require.Equal(t, int64(9001), conv.LastMessage.ID)
	require.True(t, conv.LastMessage.Hydrated, "hydration upgrades the preview too")
	require.Equal(t, 2, conv.Unread, "background inbound message bumps unread")
}

func TestNewMessage_ActiveConversationNoUnread(t *testing.T) {
	gw := &fakeGateway{responses: map[string]json.RawMessage{
		"messages.getConversations": json.RawMessage(conversationListPayload),
		"messages.getById": json.RawMessage(`{
			"count": 1,
			"items": [{"id": 9002, "from_id": 501, "peer_id": 501, "date": 1700000010, "text": "again", "out": 0}]
		}`),
	}}
	f := newFixture(gw, &fakeEnqueuer{})
	f.run(t)

	f.syncer.SetActive(501)
	f.events.push(t, `[4, 9002, 0, 501, 1700000010, "again"]`)

	require.Eventually(t, func() bool {
		return len(f.store.Messages(501)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 1, f.store.Conversation(501).Unread, "active conversation keeps its counter")
}

func TestNewMessage_HydrationFailureKeepsStub(t *testing.T) {
	gw := &fakeGateway{
		responses: map[string]json.RawMessage{
			"messages.getConversations": json.RawMessage(conversationListPayload),
		},
		errs: map[string]error{
			"messages.getById": &remote.Error{Kind: remote.KindNetwork, Message: "timeout"},
		},
	}
	f := newFixture(gw, &fakeEnqueuer{})
	f.run(t)

	f.events.push(t, `[4, 9003, 0, 501, 1700000020, "stub text"]`)

	require.Eventually(t, func() bool {
		return f.store.LastError() != ""
	}, 2*time.Second, 5*time.Millisecond)

	msgs := f.store.Messages(501)
	require.Len(t, msgs, 1)
	require.Equal(t, "stub text", msgs[0].Text)
	require.False(t, msgs[0].Hydrated, "the minimal payload stays until hydration succeeds")
}

func TestNewMessage_UnknownPeerCreatesConversation(t *testing.T) {
	gw := &fakeGateway{responses: map[string]json.RawMessage{
		"messages.getConversations": json.RawMessage(conversationListPayload),
		"messages.getById": json.RawMessage(`{
			"count": 1,
			"items": [{"id": 9100, "from_id": 777, "peer_id": 777, "date": 1700000030, "text": "hello stranger", "out": 0}]
		}`),
	}}
	f := newFixture(gw, &fakeEnqueuer{})
	// The extended getById payload would carry the sender's profile; the
	// fixture replays the scanner feed.
	f.ids.ScanPayload(json.RawMessage(`{"profiles":[{"id":777,"first_name":"Linus","last_name":"Pauling","photo_100":"https://pics/lp.jpg"}]}`))
	f.run(t)

	f.syncer.SetActive(501)
	f.events.push(t, `[4, 9100, 0, 777, 1700000030, "hello stranger"]`)

	require.Eventually(t, func() bool {
		c := f.store.Conversation(777)
		return c != nil && c.LastMessage != nil
	}, 2*time.Second, 5*time.Millisecond)

	c := f.store.Conversation(777)
	require.Equal(t, model.PeerDirect, c.Kind)
	require.Equal(t, "Linus Pauling", c.Title)
	require.Equal(t, "https://pics/lp.jpg", c.Avatar)
	require.Equal(t, "hello stranger", c.LastMessage.Text)
	require.Equal(t, 1, c.Unread, "a background first message counts as unread")
	require.False(t, c.Empty)

	for _, listed := range f.store.Conversations() {
		if listed.PeerID == 777 {
			return
		}
	}
	t.Fatal("new peer missing from the conversation list")
}

func TestNewMessage_UnknownChatPeerKind(t *testing.T) {
	gw := &fakeGateway{responses: map[string]json.RawMessage{
		"messages.getConversations": json.RawMessage(conversationListPayload),
		"messages.getById": json.RawMessage(`{
			"count": 1,
			"items": [{"id": 9101, "from_id": 502, "peer_id": 2000000042, "date": 1700000040, "text": "new room", "out": 0}]
		}`),
	}}
	f := newFixture(gw, &fakeEnqueuer{})
	f.run(t)

	f.events.push(t, `[4, 9101, 0, 2000000042, 1700000040, "new room"]`)

	require.Eventually(t, func() bool {
		return f.store.Conversation(2000000042) != nil
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, model.PeerGroupChat, f.store.Conversation(2000000042).Kind)
}

func TestDeleteRefreshesPreview(t *testing.T) {
	gw := &fakeGateway{responses: map[string]json.RawMessage{
		"messages.getConversations": json.RawMessage(conversationListPayload),
	}}
	f := newFixture(gw, &fakeEnqueuer{})

	f.store.ApplyConversationList([]*model.Conversation{{PeerID: 501, Kind: model.PeerDirect}})
	f.store.AppendMessage(501, &model.Message{ID: 1, PeerID: 501, Timestamp: 100, Text: "keep"})
	f.store.AppendMessage(501, &model.Message{ID: 2, PeerID: 501, Timestamp: 200, Text: "drop"})
	f.store.UpdateLastMessage(501, f.store.Messages(501)[1])

	f.run(t)
	f.events.push(t, `[2, 2, 128, 501]`)

	require.Eventually(t, func() bool {
		c := f.store.Conversation(501)
		return len(f.store.Messages(501)) == 1 && c != nil && c.LastMessage != nil && c.LastMessage.Text == "keep"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReadMarkersApply(t *testing.T) {
	gw := &fakeGateway{responses: map[string]json.RawMessage{
		"messages.getConversations": json.RawMessage(conversationListPayload),
	}}
	f := newFixture(gw, &fakeEnqueuer{})
	f.run(t)

	require.Eventually(t, func() bool {
		c := f.store.Conversation(501)
		return c != nil && c.Unread == 1
	}, 2*time.Second, 5*time.Millisecond)

	f.events.push(t, `[6, 501, 8000]`)
	require.Eventually(t, func() bool {
		return f.store.Conversation(501).Unread == 0
	}, 2*time.Second, 5*time.Millisecond)

	f.events.push(t, `[7, 501, 8000]`)
	require.Eventually(t, func() bool {
		return f.store.Conversation(501).PeerReadUpTo == 8000
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPresenceApplies(t *testing.T) {
	gw := &fakeGateway{responses: map[string]json.RawMessage{
		"messages.getConversations": json.RawMessage(conversationListPayload),
	}}
	f := newFixture(gw, &fakeEnqueuer{})
	f.run(t)

	f.events.push(t, `[8, -501, 7]`)
	require.Eventually(t, func() bool {
		c := f.store.Conversation(501)
		return c != nil && c.Online
	}, 2*time.Second, 5*time.Millisecond)

	f.events.push(t, `[9, -501, 0]`)
	require.Eventually(t, func() bool {
		return !f.store.Conversation(501).Online
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSendMessage(t *testing.T) {
	batch := &fakeEnqueuer{reply: func(method string, params remote.Params) remote.Result {
		require.Equal(t, "messages.send", method)
		require.Equal(t, "501", params["peer_id"])
		require.Equal(t, "hello there", params["message"])
		rid, err := strconv.ParseInt(params["random_id"], 10, 64)
		require.NoError(t, err)
		require.Positive(t, rid)
		return remote.Result{Payload: json.RawMessage(`9005`)}
	}}
	f := newFixture(&fakeGateway{}, batch)

	id, err := f.syncer.SendMessage(context.Background(), 501, "hello there")
	require.NoError(t, err)
	require.Equal(t, int64(9005), id)
}

func TestSendMessage_ErrorPropagates(t *testing.T) {
	batch := &fakeEnqueuer{reply: func(string, remote.Params) remote.Result {
		return remote.Result{Err: &remote.Error{Kind: remote.KindQuota, Code: 9}}
	}}
	f := newFixture(&fakeGateway{}, batch)

	_, err := f.syncer.SendMessage(context.Background(), 501, "hello")
	require.True(t, remote.IsKind(err, remote.KindQuota))
}

func TestOpenConversation(t *testing.T) {
	gw := &fakeGateway{responses: map[string]json.RawMessage{
		"messages.getHistory": json.RawMessage(`{
			"count": 3,
			"items": [
				{"id": 3, "from_id": 1, "peer_id": 501, "date": 300, "text": "newest", "out": 1},
				{"id": 2, "from_id": 501, "peer_id": 501, "date": 200, "text": "middle", "out": 0},
				{"id": 1, "from_id": 501, "peer_id": 501, "date": 100, "text": "oldest", "out": 0}
			]
		}`),
	}}
	f := newFixture(gw, &fakeEnqueuer{})
	f.store.ApplyConversationList([]*model.Conversation{{PeerID: 501, Kind: model.PeerDirect, Unread: 2}})
	// A push stub already landed for the newest message.
	f.store.AppendMessage(501, &model.Message{ID: 3, PeerID: 501, Timestamp: 300, Text: "newest"})

	require.NoError(t, f.syncer.OpenConversation(context.Background(), 501, 50))

	msgs := f.store.Messages(501)
	require.Len(t, msgs, 3, "newest-first page lands in ascending order without duplicates")
	require.Equal(t, []string{"oldest", "middle", "newest"}, []string{msgs[0].Text, msgs[1].Text, msgs[2].Text})
	require.True(t, msgs[2].Hydrated, "the full history payload wins over the push stub")

	require.Equal(t, 0, f.store.Conversation(501).Unread)
	require.Equal(t, 1, f.batch.enqueued("messages.markAsRead"))
}

func TestOpenConversation_KeepsHydratedEditOverCachedPage(t *testing.T) {
	// The history page the gateway serves may come from its TTL cache and
	// predate an edit that already hydrated into the store.
	gw := &fakeGateway{responses: map[string]json.RawMessage{
		"messages.getHistory": json.RawMessage(`{
			"count": 1,
			"items": [{"id": 7, "from_id": 501, "peer_id": 501, "date": 100, "text": "original", "out": 0}]
		}`),
	}}
	f := newFixture(gw, &fakeEnqueuer{})
	f.store.ApplyConversationList([]*model.Conversation{{PeerID: 501, Kind: model.PeerDirect}})

	edited := &model.Message{ID: 7, PeerID: 501, SenderID: 501, Timestamp: 100, Text: "original, amended", Hydrated: true}
	f.store.AppendMessage(501, edited)

	require.NoError(t, f.syncer.OpenConversation(context.Background(), 501, 50))

	msgs := f.store.Messages(501)
	require.Len(t, msgs, 1)
	require.Equal(t, "original, amended", msgs[0].Text, "a stale page must not regress a hydrated edit")
}

func TestDeleteLastMessageClearsPreview(t *testing.T) {
	gw := &fakeGateway{responses: map[string]json.RawMessage{
		"messages.getConversations": json.RawMessage(conversationListPayload),
	}}
	f := newFixture(gw, &fakeEnqueuer{})
	f.run(t)

	require.Eventually(t, func() bool {
		c := f.store.Conversation(501)
		return c != nil && c.LastMessage != nil
	}, 2*time.Second, 5*time.Millisecond)

	f.store.AppendMessage(501, &model.Message{ID: 8000, PeerID: 501, Timestamp: 1699999000, Text: "earlier"})
	f.events.push(t, `[2, 8000, 128, 501]`)

	require.Eventually(t, func() bool {
		c := f.store.Conversation(501)
		return c != nil && c.LastMessage == nil && c.Empty
	}, 2*time.Second, 5*time.Millisecond)
	require.Empty(t, f.store.Messages(501))
}

func TestOpenConversation_ErrorSurfaced(t *testing.T) {
	gw := &fakeGateway{errs: map[string]error{
		"messages.getHistory": &remote.Error{Kind: remote.KindRemoteAPI, Code: 15, Message: "denied"},
	}}
	f := newFixture(gw, &fakeEnqueuer{})

	err := f.syncer.OpenConversation(context.Background(), 501, 50)
	require.Error(t, err)
	require.NotEmpty(t, f.store.LastError())
	require.Zero(t, f.batch.enqueued("messages.markAsRead"), "a failed fetch must not ack the read position")
}

func TestClientID(t *testing.T) {
	seen := map[int64]bool{}
	for i := 0; i < 64; i++ {
		id := clientID()
		require.Positive(t, id)
		require.False(t, seen[id])
		seen[id] = true
	}
}
