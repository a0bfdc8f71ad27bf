package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessage(t *testing.T) {
	var gotPath, gotChat, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotPath = r.URL.Path
		gotChat = r.PostForm.Get("chat_id")
		gotText = r.PostForm.Get("text")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	bot := NewBot("TOKEN", srv.URL, time.Second)
	require.NoError(t, bot.SendMessage(context.Background(), "42", "hello"))

	assert.Equal(t, "/botTOKEN/sendMessage", gotPath)
	assert.Equal(t, "42", gotChat)
	assert.Equal(t, "hello", gotText)
}

func TestSendMessage_APIError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		temporary bool
		desc      string
	}{
		{name: "chat not found", status: http.StatusBadRequest, body: `{"ok":false,"description":"Bad Request: chat not found"}`, desc: "Bad Request: chat not found"},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"ok":false,"description":"Too Many Requests"}`, temporary: true, desc: "Too Many Requests"},
		{name: "gateway", status: http.StatusBadGateway, body: `<html>`, temporary: true, desc: "502 Bad Gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := NewBot("T", srv.URL, time.Second).SendMessage(context.Background(), "1", "x")

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.temporary, apiErr.Temporary())
			assert.Equal(t, tt.desc, apiErr.Description)
		})
	}
}
