package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fernwood-labs/messenger-sync/internal/model"
	"github.com/fernwood-labs/messenger-sync/internal/store"
	"github.com/fernwood-labs/messenger-sync/pkg/logger"
)

func TestConversationList(t *testing.T) {
	st := store.New()
	st.ApplyConversationList([]*model.Conversation{
		{PeerID: 501, Title: "Ada", LastMessage: &model.Message{ID: 1, Timestamp: 100}},
		{PeerID: 502, Title: "Grace", LastMessage: &model.Message{ID: 2, Timestamp: 200}},
	})
	h := NewConversationHandler(st, logger.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp model.ListConversationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Total)
	require.Equal(t, "Grace", resp.Conversations[0].Title, "most recent activity first")
	require.Empty(t, resp.Error)
}

func TestConversationList_SurfacesStoreError(t *testing.T) {
	st := store.New()
	st.SetError("conversation refresh failed")
	h := NewConversationHandler(st, logger.Nop())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil))

	var resp model.ListConversationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "conversation refresh failed", resp.Error)
}
