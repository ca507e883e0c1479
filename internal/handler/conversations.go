package handler

import (
	"net/http"

	"github.com/fernwood-labs/messenger-sync/internal/model"
	"github.com/fernwood-labs/messenger-sync/internal/store"
	"github.com/fernwood-labs/messenger-sync/pkg/logger"
)

// ConversationHandler serves conversation list snapshots.
type ConversationHandler struct {
	store  *store.Store
	logger *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(st *store.Store, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{store: st, logger: log}
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	convs := h.store.Conversations()
	writeJSON(w, http.StatusOK, &model.ListConversationsResponse{
		Conversations: convs,
		Total:         len(convs),
		Error:         h.store.LastError(),
	})
}
