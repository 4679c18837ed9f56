// Package slack delivers notifications to Slack incoming webhooks.
// The target of a job is the webhook URL. Webhooks cannot edit or delete
// what they posted, so Edit and Delete report channel.ErrUnsupported.
package slack

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/delivery/channel"
)

// Webhook error bodies that mean the webhook or its channel is gone.
var goneBodies = []string{"no_service", "no_team", "channel_not_found", "channel_is_archived", "team_disabled"}

type block struct {
	Type string `json:"type"`
	Text *text  `json:"text,omitempty"`
}

type text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type payload struct {
	Text   string  `json:"text"`
	Blocks []block `json:"blocks"`
}

// Channel posts to incoming webhooks.
type Channel struct {
	client *http.Client
}

// New creates a Slack channel with the given request timeout.
func New(timeout time.Duration) *Channel {
	return &Channel{client: &http.Client{Timeout: timeout}}
}

// Kind implements channel.Channel.
func (c *Channel) Kind() domain.ChannelKind { return domain.ChannelSlack }

// Send posts msg to the webhook at target. Slack answers "ok" on success.
func (c *Channel) Send(ctx context.Context, target string, msg channel.Message) (domain.MessageRef, error) {
	status, body, err := channel.PostJSON(ctx, c.client, target, render(msg))
	if err != nil {
		return "", err
	}
	detail := strings.TrimSpace(string(body))
	if status == http.StatusOK && detail == "ok" {
		return "", nil
	}
	for _, g := range goneBodies {
		if detail == g {
			return "", domain.TargetGone(errors.New(detail))
		}
	}
	if status == http.StatusOK {
		return "", channel.Rejected(errors.New("unexpected webhook response: " + detail))
	}
	return "", channel.StatusError(status, detail)
}

// Edit implements channel.Channel.
func (c *Channel) Edit(context.Context, string, domain.MessageRef, channel.Message) error {
	return channel.ErrUnsupported
}

// Delete implements channel.Channel.
func (c *Channel) Delete(context.Context, string, domain.MessageRef) error {
	return channel.ErrUnsupported
}

func render(msg channel.Message) payload {
	title := msg.Title()
	if msg.Proposal.URL != "" {
		title = "<" + msg.Proposal.URL + "|" + title + ">"
	}
	return payload{
		Text: msg.Title(),
		Blocks: []block{
			{Type: "section", Text: &text{Type: "mrkdwn", Text: "*" + title + "*"}},
			{Type: "section", Text: &text{Type: "mrkdwn", Text: strings.Join(msg.Lines(), "\n")}},
		},
	}
}
