package slack

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

func testMessage() channel.Message {
	return channel.NewMessage(domain.NotifyEndedProposal, domain.ProposalRecord{
		ExternalID: "1",
		DAOID:      "aave",
		Title:      "Raise caps",
		URL:        "https://example.org/1",
		State:      domain.ProposalExecuted,
	}, false, time.Now())
}

func webhook(t *testing.T, status int, body string, got *payload) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSend_OK(t *testing.T) {
	var got payload
	srv := webhook(t, http.StatusOK, "ok", &got)

	ref, err := New(time.Second).Send(context.Background(), srv.URL, testMessage())
	require.NoError(t, err)
	assert.Empty(t, ref)
	assert.Equal(t, "Ended proposal: Raise caps", got.Text)
	require.Len(t, got.Blocks, 2)
	assert.Equal(t, "*<https://example.org/1|Ended proposal: Raise caps>*", got.Blocks[0].Text.Text)
	assert.Contains(t, got.Blocks[1].Text.Text, "Result: executed")
}

func TestSend_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		target error
	}{
		{"revoked webhook", http.StatusNotFound, "no_service", domain.ErrTargetGone},
		{"archived channel", http.StatusGone, "channel_is_archived", domain.ErrTargetGone},
		{"bad payload", http.StatusBadRequest, "invalid_payload", domain.ErrDeliveryRejected},
		{"rate limited", http.StatusTooManyRequests, "rate_limited", domain.ErrDeliveryTransient},
		{"server error", http.StatusInternalServerError, "", domain.ErrDeliveryTransient},
		{"odd success body", http.StatusOK, "maybe", domain.ErrDeliveryRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := webhook(t, tt.status, tt.body, nil)
			_, err := New(time.Second).Send(context.Background(), srv.URL, testMessage())
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestEditDeleteUnsupported(t *testing.T) {
	c := New(time.Second)
	assert.ErrorIs(t, c.Edit(context.Background(), "u", "r", testMessage()), channel.ErrUnsupported)
	assert.ErrorIs(t, c.Delete(context.Background(), "u", "r"), channel.ErrUnsupported)
}
