// Package model defines data structures for the messenger sync engine.
package model

// PeerKind classifies the addressable target of a conversation.
type PeerKind string

const (
	PeerDirect    PeerKind = "direct"
	PeerGroupChat PeerKind = "group-chat"
	PeerCommunity PeerKind = "community"
)

// Conversation represents one entry in the conversation list.
type Conversation struct {
	PeerID      int64    `json:"peer_id"`
	Kind        PeerKind `json:"kind"`
	Title       string   `json:"title"`
	Avatar      string   `json:"avatar,omitempty"`
	LastMessage *Message `json:"last_message,omitempty"`
	Unread      int      `json:"unread"`

	// PeerReadUpTo is the highest outbound message id the peer has read.
	PeerReadUpTo int64 `json:"peer_read_up_to,omitempty"`

	// Direct-peer overlay.
	Online bool `json:"online,omitempty"`

	// Group-chat membership metadata.
	MemberCount int  `json:"member_count,omitempty"`
	Admin       bool `json:"admin,omitempty"`

	// Conversations are never deleted, only marked left or empty.
	Left  bool `json:"left,omitempty"`
	Empty bool `json:"empty,omitempty"`
}

// LastActivity returns the timestamp used to order the conversation list.
func (c *Conversation) LastActivity() int64 {
	if c.LastMessage == nil {
		return 0
	}
	return c.LastMessage.Timestamp
}
