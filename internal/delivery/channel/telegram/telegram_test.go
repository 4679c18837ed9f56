package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/delivery/channel"
)

type call struct {
	path string
	body map[string]any
}

func botAPI(t *testing.T, status int, reply string, calls *[]call) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		*calls = append(*calls, call{path: r.URL.Path, body: body})
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testMessage() channel.Message {
	return channel.NewMessage(domain.NotifyNewProposal, domain.ProposalRecord{
		ExternalID: "9",
		DAOID:      "gitcoin",
		Title:      "Fund <rounds> & more",
		URL:        "https://example.org/9",
	}, false, time.Now())
}

func TestSend(t *testing.T) {
	var calls []call
	srv := botAPI(t, http.StatusOK, `{"ok":true,"result":{"message_id":321}}`, &calls)
	c := New(srv.URL, "TOKEN", time.Second)

	ref, err := c.Send(context.Background(), "1001", testMessage())
	require.NoError(t, err)
	assert.Equal(t, domain.MessageRef("321"), ref)

	require.Len(t, calls, 1)
	assert.Equal(t, "/botTOKEN/sendMessage", calls[0].path)
	assert.Equal(t, "1001", calls[0].body["chat_id"])
	assert.Equal(t, "HTML", calls[0].body["parse_mode"])
	assert.Contains(t, calls[0].body["text"], "Fund &lt;rounds&gt; &amp; more")
}

func TestTransportErrorHidesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	c := New(base, "123456:SECRET-TOKEN", time.Second)
	_, err := c.Send(context.Background(), "1001", testMessage())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDeliveryTransient)
	assert.NotContains(t, err.Error(), "SECRET-TOKEN")
}

func TestEditAndDelete(t *testing.T) {
	var calls []call
	srv := botAPI(t, http.StatusOK, `{"ok":true,"result":{"message_id":321}}`, &calls)
	c := New(srv.URL, "TOKEN", time.Second)
	ctx := context.Background()

	require.NoError(t, c.Edit(ctx, "1001", "321", testMessage()))
	require.NoError(t, c.Delete(ctx, "1001", "321"))

	require.Len(t, calls, 2)
	assert.Equal(t, "/botTOKEN/editMessageText", calls[0].path)
	assert.Equal(t, float64(321), calls[0].body["message_id"])
	assert.Equal(t, "/botTOKEN/deleteMessage", calls[1].path)
}

func TestInvalidRefIsGone(t *testing.T) {
	c := New("http://unused", "TOKEN", time.Second)
	assert.ErrorIs(t, c.Delete(context.Background(), "1001", "abc"), domain.ErrTargetGone)
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		reply  string
		target error
	}{
		{"blocked", http.StatusForbidden, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`, domain.ErrTargetGone},
		{"chat not found", http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`, domain.ErrTargetGone},
		{"flood", http.StatusTooManyRequests, `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 5"}`, domain.ErrDeliveryTransient},
		{"bad markup", http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`, domain.ErrDeliveryRejected},
		{"gateway html", http.StatusBadGateway, `<html>bad gateway</html>`, domain.ErrDeliveryTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []call
			srv := botAPI(t, tt.status, tt.reply, &calls)
			_, err := New(srv.URL, "TOKEN", time.Second).Send(context.Background(), "1", testMessage())
			assert.ErrorIs(t, err, tt.target)
		})
	}
}
