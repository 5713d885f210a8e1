package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name  string
	fail  bool
	calls []string
}

func (s *fakeSender) Send(_ context.Context, title, _ string) error {
	s.calls = append(s.calls, title)
	if s.fail {
		return errors.New("boom")
	}
	return nil
}

func (s *fakeSender) Name() string { return s.name }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersEvents(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{EventOrderFilled}, discard())

	require.NoError(t, n.Notify(context.Background(), EventRiskRejected, "skip", "m"))
	require.NoError(t, n.Notify(context.Background(), EventOrderFilled, "fill", "m"))

	assert.Equal(t, []string{"fill"}, s.calls)
}

func TestNotifyEmptyFilterAllowsEverything(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, discard())

	require.NoError(t, n.Notify(context.Background(), "anything", "t", "m"))
	assert.Len(t, s.calls, 1)
}

func TestDispatchContinuesPastFailingSender(t *testing.T) {
	bad := &fakeSender{name: "bad", fail: true}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.NotifyAll(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Len(t, good.calls, 1)
}

func TestTelegramSenderPostsMessage(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottok/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "chat-1")
	s.apiBase = srv.URL

	require.NoError(t, s.Send(context.Background(), "Order filled", "details"))
	assert.Equal(t, "chat-1", got["chat_id"])
	assert.Equal(t, "*Order filled*\ndetails", got["text"])
}

func TestDiscordSenderReportsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	err := s.Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
