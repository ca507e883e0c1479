package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(
		StaticToken("tok-test"),
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
		WithVersion("5.131"),
	)
	require.NoError(t, err)
	return c
}

func TestNewClient_NilTokenProvider(t *testing.T) {
	_, err := NewClient(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestClient_Call_HappyPath(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/messages.getConversations", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.Write([]byte(`{"response":{"count":0,"items":[]}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	payload, err := c.Call(context.Background(), "messages.getConversations", Params{"count": "200"})
	require.NoError(t, err)
	require.JSONEq(t, `{"count":0,"items":[]}`, string(payload))

	require.Equal(t, "tok-test", gotForm.Get("access_token"))
	require.Equal(t, "5.131", gotForm.Get("v"))
	require.Equal(t, "200", gotForm.Get("count"))
}

func TestClient_Call_AuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"error_code":5,"error_msg":"User authorization failed"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Call(context.Background(), "messages.send", nil)
	require.Error(t, err)
	require.True(t, IsKind(err, KindAuth), "code 5 must map to KindAuth, got %v", err)
}

func TestClient_Call_QuotaErrors(t *testing.T) {
	for _, code := range []int{6, 9, 29} {
		require.Equal(t, KindQuota, kindForCode(code), "code %d", code)
	}
}

func TestClient_Call_RemoteAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"error_code":100,"error_msg":"One of the parameters specified was missing"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Call(context.Background(), "messages.send", nil)
	require.True(t, IsKind(err, KindRemoteAPI))

	var re *Error
	require.ErrorAs(t, err, &re)
	require.Equal(t, 100, re.Code)
	require.Contains(t, re.Message, "missing")
}

func TestClient_Call_Non200IsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Call(context.Background(), "messages.send", nil)
	require.True(t, IsKind(err, KindNetwork), "got %v", err)
}

func TestClient_Call_TransportFailureIsNetworkError(t *testing.T) {
	c, err := NewClient(
		StaticToken("tok-test"),
		WithBaseURL("http://127.0.0.1:1"),
		WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}),
	)
	require.NoError(t, err)

	_, err = c.Call(context.Background(), "messages.send", nil)
	require.True(t, IsKind(err, KindNetwork), "got %v", err)
}

func TestClient_Call_EmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("must not reach the network with an empty token")
	}))
	defer srv.Close()

	c, err := NewClient(StaticToken(""), WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.Call(context.Background(), "messages.send", nil)
	require.True(t, IsKind(err, KindAuth))
}

func TestClient_Call_MalformedEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not-json`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Call(context.Background(), "messages.send", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode envelope")
}
