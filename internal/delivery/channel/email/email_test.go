package email

import (
	"context"
	"errors"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/delivery/channel"
)

type sent struct {
	from string
	to   []string
	msg  string
}

func newTestChannel(err error) (*Channel, *[]sent) {
	var out []sent
	c := New(Config{Host: "smtp.example.org", Port: 587, From: "govwatch@example.org"})
	c.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	c.send = func(_ context.Context, from string, to []string, msg []byte) error {
		if err != nil {
			return err
		}
		out = append(out, sent{from: from, to: to, msg: string(msg)})
		return nil
	}
	return c, &out
}

func TestSend(t *testing.T) {
	c, out := newTestChannel(nil)
	msg := channel.NewMessage(domain.NotifyNewProposal, domain.ProposalRecord{
		ExternalID: "3",
		DAOID:      "arbitrum",
		Title:      "Élection du conseil",
		URL:        "https://example.org/3",
	}, false, time.Now())

	ref, err := c.Send(context.Background(), "alice@example.com", msg)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(ref), "@example.org>"))

	require.Len(t, *out, 1)
	got := (*out)[0]
	assert.Equal(t, "govwatch@example.org", got.from)
	assert.Equal(t, []string{"alice@example.com"}, got.to)
	assert.Contains(t, got.msg, "To: alice@example.com\r\n")
	assert.Contains(t, got.msg, "Message-ID: "+string(ref)+"\r\n")
	assert.Contains(t, got.msg, "Subject: =?utf-8?q?")
	assert.Contains(t, got.msg, "Date: Wed, 01 May 2024 12:00:00 +0000\r\n")
	assert.Contains(t, got.msg, "https://example.org/3")
}

func TestSend_InvalidRecipient(t *testing.T) {
	c, out := newTestChannel(nil)
	_, err := c.SendText(context.Background(), "not-an-address", "s", "b")
	assert.ErrorIs(t, err, domain.ErrTargetGone)
	assert.Empty(t, *out)
}

func TestSend_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"no such mailbox", &textproto.Error{Code: 550, Msg: "no such user"}, domain.ErrTargetGone},
		{"policy", &textproto.Error{Code: 554, Msg: "rejected"}, domain.ErrDeliveryRejected},
		{"greylisted", &textproto.Error{Code: 451, Msg: "try later"}, domain.ErrDeliveryTransient},
		{"network", errors.New("connection refused"), domain.ErrDeliveryTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestChannel(tt.err)
			_, err := c.SendText(context.Background(), "bob@example.com", "s", "b")
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestEditDeleteUnsupported(t *testing.T) {
	c, _ := newTestChannel(nil)
	assert.ErrorIs(t, c.Delete(context.Background(), "a@b", "<x>"), channel.ErrUnsupported)
}
