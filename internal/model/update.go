package model

// Update is a long-poll update decoded at the boundary into one of a closed
// set of variants. Unknown tags decode to Ignored rather than falling
// through silently.
type Update interface {
	// UpdateKind returns a stable label for logging and metrics.
	UpdateKind() string
}

// Long-poll update tags.
const (
	TagMessageDeleted = 2
	TagNewMessage     = 4
	TagMessageEdited  = 5
	TagInboundRead    = 6
	TagOutboundRead   = 7
	TagUserOnline     = 8
	TagUserOffline    = 9
)

// Message flag bits carried by new-message updates.
const (
	FlagUnread   = 1
	FlagOutbound = 2
)

// NewMessage announces a message with a minimal inline payload. The full
// message must be hydrated before final reconciliation.
type NewMessage struct {
	MessageID int64
	Flags     int
	PeerID    int64
	Timestamp int64
	Text      string
}

func (NewMessage) UpdateKind() string { return "new_message" }

// Outbound reports whether the message was sent from this account.
func (u NewMessage) Outbound() bool { return u.Flags&FlagOutbound != 0 }

// MessageEdited announces an edit; the edited body must be re-fetched.
type MessageEdited struct {
	MessageID int64
	PeerID    int64
	Timestamp int64
	Text      string
}

func (MessageEdited) UpdateKind() string { return "message_edited" }

// MessageDeleted announces a message removal.
type MessageDeleted struct {
	MessageID int64
	PeerID    int64
}

func (MessageDeleted) UpdateKind() string { return "message_deleted" }

// MessagesRead announces a read receipt up to and including a message id.
type MessagesRead struct {
	PeerID    int64
	MessageID int64
	Inbound   bool
}

func (MessagesRead) UpdateKind() string { return "messages_read" }

// PresenceChanged announces a direct peer going online or offline.
type PresenceChanged struct {
	UserID   int64
	Online   bool
	Platform int
}

func (PresenceChanged) UpdateKind() string { return "presence_changed" }

// Ignored is emitted for tags outside the closed set, for forward
// compatibility with newer server deployments.
type Ignored struct {
	Tag int
}

func (Ignored) UpdateKind() string { return "ignored" }
