package infrastructure

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"autodm/internal/entities"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayClient_PostCommentReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/accounts/ig-1/comments/c-1/replies", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "post-1", body["content_id"])
		assert.Equal(t, "Check your DMs!", body["text"])

		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	ok, err := NewGatewayClient(srv.URL+"/", time.Second).
		PostCommentReply(context.Background(), "ig-1", "tok", "c-1", "post-1", "Check your DMs!")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGatewayClient_SendDirectMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts/ig-1/messages", r.URL.Path)

		var body struct {
			RecipientID string           `json:"recipient_id"`
			Text        string           `json:"text"`
			Button      *entities.Button `json:"button"`
			CommentID   string           `json:"comment_id"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user-1", body.RecipientID)
		assert.Equal(t, "Here it is", body.Text)
		assert.Equal(t, "c-1", body.CommentID)
		if assert.NotNil(t, body.Button) {
			assert.Equal(t, "https://example.com", body.Button.URL)
		}

		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	ok, err := NewGatewayClient(srv.URL, time.Second).SendDirectMessage(context.Background(), "ig-1", "tok", "user-1",
		entities.DirectMessage{
			Text:      "Here it is",
			Button:    &entities.Button{Label: "Open", URL: "https://example.com"},
			CommentID: "c-1",
		})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGatewayClient_CheckFollowStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case "/v1/accounts/ig-1/followers/fan":
			w.Write([]byte(`{"ok":true,"following":true}`))
		case "/v1/accounts/ig-1/followers/stranger":
			w.Write([]byte(`{"ok":true,"following":false}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"ok":false,"error":"unknown user"}`))
		}
	}))
	defer srv.Close()

	g := NewGatewayClient(srv.URL, time.Second)
	ctx := context.Background()

	following, err := g.CheckFollowStatus(ctx, "ig-1", "tok", "fan")
	require.NoError(t, err)
	assert.True(t, following)

	following, err = g.CheckFollowStatus(ctx, "ig-1", "tok", "stranger")
	require.NoError(t, err)
	assert.False(t, following)

	_, err = g.CheckFollowStatus(ctx, "ig-1", "tok", "ghost")
	assert.Error(t, err)
}

func TestGatewayClient_FailuresAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if strings.Contains(r.URL.Path, "/comments/") {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"ok":false,"error":"comment deleted"}`))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewGatewayClient(srv.URL, time.Second)
	ctx := context.Background()

	ok, err := g.PostCommentReply(ctx, "ig-1", "tok", "c-1", "post-1", "hi")
	assert.NoError(t, err)
	assert.False(t, ok)

	ok, err = g.SendDirectMessage(ctx, "ig-1", "tok", "user-1", entities.DirectMessage{Text: "hi"})
	assert.Error(t, err)
	assert.False(t, ok)

	assert.Equal(t, int32(2), calls.Load())
}

func TestGatewayClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	ok, err := NewGatewayClient(srv.URL, 50*time.Millisecond).
		SendDirectMessage(context.Background(), "ig-1", "tok", "user-1", entities.DirectMessage{Text: "hi"})
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestTelegramNotifier_Notify(t *testing.T) {
	var sent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"alerts","username":"alerts_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			assert.NoError(t, r.ParseForm())
			sent.Store(r.PostForm.Get("chat_id") + ":" + r.PostForm.Get("text"))
			w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	bot, err := tgbotapi.NewBotAPIWithClient("test-token", srv.URL+"/bot%s/%s", srv.Client())
	require.NoError(t, err)

	n := &TelegramNotifier{Bot: bot, ChatID: 42}
	require.NoError(t, n.Notify(context.Background(), "owner-1 reached the hourly call limit"))
	assert.Equal(t, "42:owner-1 reached the hourly call limit", sent.Load())
}

func TestNopNotifier(t *testing.T) {
	assert.NoError(t, NopNotifier{}.Notify(context.Background(), "ignored"))
}
