package longpoll

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fernwood-labs/messenger-sync/internal/model"
)

func TestDecodeUpdate_NewMessage(t *testing.T) {
	u, err := DecodeUpdate(json.RawMessage(`[4, 9001, 0, 501, 1700000000, "hi"]`))
	require.NoError(t, err)

	msg, ok := u.(model.NewMessage)
	require.True(t, ok)
	require.Equal(t, int64(9001), msg.MessageID)
	require.Equal(t, int64(501), msg.PeerID)
	require.Equal(t, int64(1700000000), msg.Timestamp)
	require.Equal(t, "hi", msg.Text)
	require.False(t, msg.Outbound())
}

func TestDecodeUpdate_OutboundFlag(t *testing.T) {
	u, err := DecodeUpdate(json.RawMessage(`[4, 9002, 3, 501, 1700000001, "sent from phone"]`))
	require.NoError(t, err)

	msg := u.(model.NewMessage)
	require.True(t, msg.Outbound())
}

func TestDecodeUpdate_Edited(t *testing.T) {
	u, err := DecodeUpdate(json.RawMessage(`[5, 9001, 0, 501, 1700000100, "hi (edited)"]`))
	require.NoError(t, err)

	edit, ok := u.(model.MessageEdited)
	require.True(t, ok)
	require.Equal(t, int64(9001), edit.MessageID)
	require.Equal(t, int64(501), edit.PeerID)
	require.Equal(t, "hi (edited)", edit.Text)
}

func TestDecodeUpdate_Deleted(t *testing.T) {
	u, err := DecodeUpdate(json.RawMessage(`[2, 9001, 128, 501]`))
	require.NoError(t, err)

	del, ok := u.(model.MessageDeleted)
	require.True(t, ok)
	require.Equal(t, int64(9001), del.MessageID)
	require.Equal(t, int64(501), del.PeerID)
}

func TestDecodeUpdate_ReadMarkers(t *testing.T) {
	u, err := DecodeUpdate(json.RawMessage(`[6, 501, 9001]`))
	require.NoError(t, err)
	in := u.(model.MessagesRead)
	require.True(t, in.Inbound)
	require.Equal(t, int64(501), in.PeerID)
	require.Equal(t, int64(9001), in.MessageID)

	u, err = DecodeUpdate(json.RawMessage(`[7, 501, 9002]`))
	require.NoError(t, err)
	out := u.(model.MessagesRead)
	require.False(t, out.Inbound)
	require.Equal(t, int64(9002), out.MessageID)
}

func TestDecodeUpdate_Presence(t *testing.T) {
	u, err := DecodeUpdate(json.RawMessage(`[8, -501, 7]`))
	require.NoError(t, err)
	on := u.(model.PresenceChanged)
	require.True(t, on.Online)
	require.Equal(t, int64(501), on.UserID)
	require.Equal(t, 7, on.Platform)

	u, err = DecodeUpdate(json.RawMessage(`[9, -501, 0]`))
	require.NoError(t, err)
	off := u.(model.PresenceChanged)
	require.False(t, off.Online)
	require.Equal(t, int64(501), off.UserID)
}

func TestDecodeUpdate_UnknownTagIgnored(t *testing.T) {
	u, err := DecodeUpdate(json.RawMessage(`[114, 1, 2, 3]`))
	require.NoError(t, err)

	ig, ok := u.(model.Ignored)
	require.True(t, ok)
	require.Equal(t, 114, ig.Tag)
}

func TestDecodeUpdate_Malformed(t *testing.T) {
	cases := map[string]string{
		"not a tuple":       `{"ts": 1}`,
		"empty tuple":       `[]`,
		"short new message": `[4, 9001, 0]`,
		"non-numeric tag":   `["four", 9001]`,
		"non-numeric id":    `[2, "x", 0, 501]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeUpdate(json.RawMessage(raw))
			require.Error(t, err)
		})
	}
}
