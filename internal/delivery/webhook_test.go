package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestWebhookSendPostsReminder(t *testing.T) {
	var (
		got    Message
		header http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, time.Second, zerolog.Nop())
	ok := w.Send(context.Background(), "alice", "⏰ Reminder: call mom (Task #1)")

	assert.True(t, ok)
	assert.Equal(t, Message{Sender: "alice", Message: "⏰ Reminder: call mom (Task #1)", Type: TypeReminder}, got)
	assert.Equal(t, "application/json", header.Get("Content-Type"))
	_, err := uuid.Parse(header.Get("X-Delivery-ID"))
	assert.NoError(t, err)
}

func TestWebhookSendNon200IsFailure(t *testing.T) {
	for _, code := range []int{http.StatusCreated, http.StatusBadRequest, http.StatusInternalServerError} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		w := NewWebhook(srv.URL, time.Second, zerolog.Nop())
		assert.False(t, w.Send(context.Background(), "bob", "hi"), "status %d", code)
		srv.Close()
	}
}

func TestWebhookSendUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	w := NewWebhook(url, time.Second, zerolog.Nop())
	assert.False(t, w.Send(context.Background(), "bob", "hi"))
}

func TestWebhookSendTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	w := NewWebhook(srv.URL, 50*time.Millisecond, zerolog.Nop())
	assert.False(t, w.Send(context.Background(), "carol", "hi"))
}

func TestWebhookSendBadURL(t *testing.T) {
	w := NewWebhook("://nope", time.Second, zerolog.Nop())
	assert.False(t, w.Send(context.Background(), "dave", "hi"))
}
