package longpoll

import (
	"encoding/json"
	"fmt"

	"github.com/fernwood-labs/messenger-sync/internal/model"
)

// DecodeUpdate turns one tagged wire tuple into a typed update variant.
// Tags outside the closed set decode to model.Ignored for forward
// compatibility; a malformed tuple is an error.
func DecodeUpdate(raw json.RawMessage) (model.Update, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("longpoll: update is not a tuple: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("longpoll: empty update tuple")
	}

	tag, err := asInt(fields[0])
	if err != nil {
		return nil, fmt.Errorf("longpoll: update tag: %w", err)
	}

	switch tag {
	case model.TagNewMessage:
		// [4, message_id, flags, peer_id, ts, text]
		if len(fields) < 6 {
			return nil, shortTuple(tag, len(fields))
		}
		u := model.NewMessage{}
		if u.MessageID, err = asInt64(fields[1]); err != nil {
			return nil, err
		}
		if u.Flags, err = asInt(fields[2]); err != nil {
			return nil, err
		}
		if u.PeerID, err = asInt64(fields[3]); err != nil {
			return nil, err
		}
		if u.Timestamp, err = asInt64(fields[4]); err != nil {
			return nil, err
		}
		if u.Text, err = asString(fields[5]); err != nil {
			return nil, err
		}
		return u, nil

	case model.TagMessageEdited:
		// [5, message_id, mask, peer_id, ts, new_text]
		if len(fields) < 6 {
			return nil, shortTuple(tag, len(fields))
		}
		u := model.MessageEdited{}
		if u.MessageID, err = asInt64(fields[1]); err != nil {
			return nil, err
		}
		if u.PeerID, err = asInt64(fields[3]); err != nil {
			return nil, err
		}
		if u.Timestamp, err = asInt64(fields[4]); err != nil {
			return nil, err
		}
		if u.Text, err = asString(fields[5]); err != nil {
			return nil, err
		}
		return u, nil

	case model.TagMessageDeleted:
		// [2, message_id, mask, peer_id]
		if len(fields) < 4 {
			return nil, shortTuple(tag, len(fields))
		}
		u := model.MessageDeleted{}
		if u.MessageID, err = asInt64(fields[1]); err != nil {
			return nil, err
		}
		if u.PeerID, err = asInt64(fields[3]); err != nil {
			return nil, err
		}
		return u, nil

	case model.TagInboundRead, model.TagOutboundRead:
		// [6|7, peer_id, message_id]
		if len(fields) < 3 {
			return nil, shortTuple(tag, len(fields))
		}
		u := model.MessagesRead{Inbound: tag == model.TagInboundRead}
		if u.PeerID, err = asInt64(fields[1]); err != nil {
			return nil, err
		}
		if u.MessageID, err = asInt64(fields[2]); err != nil {
			return nil, err
		}
		return u, nil

	case model.TagUserOnline, model.TagUserOffline:
		// [8|9, -user_id, platform]
		if len(fields) < 2 {
			return nil, shortTuple(tag, len(fields))
		}
		u := model.PresenceChanged{Online: tag == model.TagUserOnline}
		id, err := asInt64(fields[1])
		if err != nil {
			return nil, err
		}
		u.UserID = -id
		if len(fields) >= 3 {
			u.Platform, _ = asInt(fields[2])
		}
		return u, nil

	default:
		return model.Ignored{Tag: tag}, nil
	}
}

func shortTuple(tag, got int) error {
	return fmt.Errorf("longpoll: tag %d tuple too short (%d fields)", tag, got)
}

func asInt(raw json.RawMessage) (int, error) {
	var v int
	err := json.Unmarshal(raw, &v)
	return v, err
}

func asInt64(raw json.RawMessage) (int64, error) {
	var v int64
	err := json.Unmarshal(raw, &v)
	return v, err
}

func asString(raw json.RawMessage) (string, error) {
	var v string
	err := json.Unmarshal(raw, &v)
	return v, err
}
