package syncer

import (
	"github.com/fernwood-labs/messenger-sync/internal/model"
)

// Wire shapes for conversation and message payloads. Decoding happens at
// this boundary; everything past the syncer works on model types.

type wirePhoto struct {
	Photo100 string `json:"photo_100"`
}

type wireAttachment struct {
	Type string `json:"type"`
	Photo *struct {
		Sizes []struct {
			Type string `json:"type"`
			URL  string `json:"url"`
		} `json:"sizes"`
	} `json:"photo"`
	Doc *struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	} `json:"doc"`
	Link *struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	} `json:"link"`
}

func (a wireAttachment) attachment() model.Attachment {
	out := model.Attachment{Type: a.Type}
	switch {
	case a.Photo != nil && len(a.Photo.Sizes) > 0:
		out.URL = a.Photo.Sizes[len(a.Photo.Sizes)-1].URL
	case a.Doc != nil:
		out.URL = a.Doc.URL
		out.Title = a.Doc.Title
	case a.Link != nil:
		out.URL = a.Link.URL
		out.Title = a.Link.Title
	}
	return out
}

type wireMessage struct {
	ID          int64            `json:"id"`
	FromID      int64            `json:"from_id"`
	PeerID      int64            `json:"peer_id"`
	Date        int64            `json:"date"`
	Text        string           `json:"text"`
	Out         int              `json:"out"`
	Attachments []wireAttachment `json:"attachments"`
	ReplyTo     *wireMessage     `json:"reply_message"`
	Forwarded   []wireMessage    `json:"fwd_messages"`
}

// message converts recursively; reply and forward chains are acyclic by
// construction on the remote side.
func (m *wireMessage) message(hydrated bool) *model.Message {
	if m == nil {
		return nil
	}
	out := &model.Message{
		ID:        m.ID,
		PeerID:    m.PeerID,
		SenderID:  m.FromID,
		Text:      m.Text,
		Outbound:  m.Out != 0,
		Timestamp: m.Date,
		Hydrated:  hydrated,
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, a.attachment())
	}
	out.ReplyTo = m.ReplyTo.message(hydrated)
	for i := range m.Forwarded {
		out.Forwarded = append(out.Forwarded, m.Forwarded[i].message(hydrated))
	}
	return out
}

type wireChatSettings struct {
	Title        string     `json:"title"`
	MembersCount int        `json:"members_count"`
	State        string     `json:"state"`
	IsAdmin      bool       `json:"is_admin"`
	Photo        *wirePhoto `json:"photo"`
}

type wireConversation struct {
	Peer struct {
		ID   int64  `json:"id"`
		Type string `json:"type"`
	} `json:"peer"`
	UnreadCount  int               `json:"unread_count"`
	ChatSettings *wireChatSettings `json:"chat_settings"`
}

type wireConversationItem struct {
	Conversation wireConversation `json:"conversation"`
	LastMessage  *wireMessage     `json:"last_message"`
}

type wireConversationList struct {
	Count int                    `json:"count"`
	Items []wireConversationItem `json:"items"`
}

type wireMessageList struct {
	Count int           `json:"count"`
	Items []wireMessage `json:"items"`
}

func peerKind(peerType string) model.PeerKind {
	switch peerType {
	case "chat":
		return model.PeerGroupChat
	case "group":
		return model.PeerCommunity
	default:
		return model.PeerDirect
	}
}

// chatPeerBase is the id offset of group-chat peers on the wire.
const chatPeerBase int64 = 2000000000

// peerKindForID classifies a peer by its id range when no typed record is
// available, such as a push event for an unlisted peer.
func peerKindForID(id int64) model.PeerKind {
	switch {
	case id >= chatPeerBase:
		return model.PeerGroupChat
	case id < 0:
		return model.PeerCommunity
	default:
		return model.PeerDirect
	}
}
