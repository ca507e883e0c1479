package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fernwood-labs/messenger-sync/internal/model"
	"github.com/fernwood-labs/messenger-sync/internal/store"
	"github.com/fernwood-labs/messenger-sync/pkg/logger"
)

// maxMessageLength bounds outbound message bodies.
const maxMessageLength = 10000

// Intents carries UI intents into the sync engine.
type Intents interface {
	SendMessage(ctx context.Context, peerID int64, text string) (int64, error)
	OpenConversation(ctx context.Context, peerID int64, count int) error
}

// MessageHandler serves per-conversation message slices and send intents.
type MessageHandler struct {
	store   *store.Store
	intents Intents
	logger  *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(st *store.Store, intents Intents, log *logger.Logger) *MessageHandler {
	return &MessageHandler{store: st, intents: intents, logger: log}
}

// List handles GET /api/v1/conversations/{peerID}/messages
//
// Listing a conversation's messages marks it open: history is pulled in and
// the read position acknowledged before the snapshot is served.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	peerID, err := parsePeerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid peer id")
		return
	}

	count := 50
	if v := r.URL.Query().Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			count = n
		}
	}

	if err := h.intents.OpenConversation(r.Context(), peerID, count); err != nil {
		h.logger.Warn("open conversation failed",
			zap.Int64("peer_id", peerID), zap.Error(err))
		// The snapshot below still serves whatever was reconciled before.
	}

	writeJSON(w, http.StatusOK, &model.ListMessagesResponse{
		PeerID:   peerID,
		Messages: h.store.Messages(peerID),
	})
}

// Send handles POST /api/v1/conversations/{peerID}/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	peerID, err := parsePeerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid peer id")
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateMessageText(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	messageID, err := h.intents.SendMessage(r.Context(), peerID, req.Text)
	if err != nil {
		h.logger.Error("send failed", zap.Int64("peer_id", peerID), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, &model.SendMessageResponse{MessageID: messageID})
}

func parsePeerID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "peerID"), 10, 64)
}

func validateMessageText(text string) error {
	switch {
	case len(text) == 0:
		return errEmptyMessage
	case len(text) > maxMessageLength:
		return errMessageTooLong
	case !utf8.ValidString(text):
		return errInvalidUTF8
	}
	return nil
}

var (
	errEmptyMessage   = jsonError("message text cannot be empty")
	errMessageTooLong = jsonError("message text exceeds maximum length")
	errInvalidUTF8    = jsonError("message text must be valid UTF-8")
)

type jsonError string

func (e jsonError) Error() string { return string(e) }
