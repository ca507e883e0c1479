package model

// IdentityKind distinguishes user profiles from group records.
type IdentityKind string

const (
	IdentityUser  IdentityKind = "user"
	IdentityGroup IdentityKind = "group"
)

// Identity is a resolved sender identity (user or group). Conversations and
// messages hold only the id; identity updates propagate without touching
// message history.
type Identity struct {
	ID     int64        `json:"id"`
	Kind   IdentityKind `json:"kind"`
	Name   string       `json:"name"`
	Avatar string       `json:"avatar,omitempty"`
}
