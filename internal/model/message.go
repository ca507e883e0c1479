package model

// Attachment is one item of a message's ordered attachment list.
type Attachment struct {
	Type  string `json:"type"`
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

// Message represents a single message within a conversation.
//
// ReplyTo and Forwarded are self-referential and recursively structured; the
// remote guarantees the resulting tree is acyclic.
type Message struct {
	ID       int64 `json:"id"`
	PeerID   int64 `json:"peer_id"`
	SenderID int64 `json:"sender_id"`

	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`

	Outbound  bool  `json:"outbound"`
	Timestamp int64 `json:"timestamp"`

	ReplyTo   *Message   `json:"reply_to,omitempty"`
	Forwarded []*Message `json:"forwarded,omitempty"`

	// Hydrated marks a message whose full payload (attachments, sender,
	// reply/forward chains) has been fetched; push payloads are minimal.
	Hydrated bool `json:"hydrated"`
}

// ListMessagesResponse is the local API response for a conversation's messages.
type ListMessagesResponse struct {
	PeerID   int64      `json:"peer_id"`
	Messages []*Message `json:"messages"`
}

// ListConversationsResponse is the local API response for the conversation list.
type ListConversationsResponse struct {
	Conversations []*Conversation `json:"conversations"`
	Total         int             `json:"total"`
	Error         string          `json:"error,omitempty"`
}

// SendMessageRequest is the local API request to send a message.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// SendMessageResponse acknowledges an accepted send intent.
type SendMessageResponse struct {
	MessageID int64 `json:"message_id"`
}
