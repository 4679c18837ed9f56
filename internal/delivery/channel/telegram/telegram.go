// Package telegram delivers notifications through the Telegram Bot API.
// The target of a job is the chat id.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/delivery/channel"
)

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// Bot API descriptions that mean the chat or message no longer exists.
var goneDescriptions = []string{
	"chat not found",
	"bot was blocked by the user",
	"bot was kicked",
	"user is deactivated",
	"message to edit not found",
	"message to delete not found",
	"message can't be deleted",
}

type response struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// Channel talks to the Bot API for one bot token.
type Channel struct {
	client  *http.Client
	baseURL string
	token   string
}

// New creates a Telegram channel. An empty baseURL uses DefaultBaseURL.
func New(baseURL, token string, timeout time.Duration) *Channel {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Channel{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

// Kind implements channel.Channel.
func (c *Channel) Kind() domain.ChannelKind { return domain.ChannelTelegram }

// Send posts msg to the chat and returns the message id.
func (c *Channel) Send(ctx context.Context, target string, msg channel.Message) (domain.MessageRef, error) {
	resp, err := c.call(ctx, "sendMessage", map[string]any{
		"chat_id":                  target,
		"text":                     render(msg),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return "", err
	}
	return domain.MessageRef(strconv.FormatInt(resp.Result.MessageID, 10)), nil
}

// Edit replaces the text of a previously sent message.
func (c *Channel) Edit(ctx context.Context, target string, ref domain.MessageRef, msg channel.Message) error {
	id, err := messageID(ref)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, "editMessageText", map[string]any{
		"chat_id":    target,
		"message_id": id,
		"text":       render(msg),
		"parse_mode": "HTML",
	})
	return err
}

// Delete removes a previously sent message.
func (c *Channel) Delete(ctx context.Context, target string, ref domain.MessageRef) error {
	id, err := messageID(ref)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    target,
		"message_id": id,
	})
	return err
}

func (c *Channel) call(ctx context.Context, method string, body any) (*response, error) {
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	status, data, err := channel.PostJSON(ctx, c.client, url, body)
	if err != nil {
		return nil, err
	}

	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		if status != http.StatusOK {
			return nil, channel.StatusError(status, string(data))
		}
		return nil, channel.Transient(fmt.Errorf("failed to decode %s response: %w", method, err))
	}
	if resp.OK {
		return &resp, nil
	}

	desc := strings.ToLower(resp.Description)
	for _, g := range goneDescriptions {
		if strings.Contains(desc, g) {
			return nil, domain.TargetGone(fmt.Errorf("%s: %s", method, resp.Description))
		}
	}
	code := resp.ErrorCode
	if code == 0 {
		code = status
	}
	return nil, channel.StatusError(code, fmt.Sprintf("%s: %s", method, resp.Description))
}

func messageID(ref domain.MessageRef) (int64, error) {
	id, err := strconv.ParseInt(string(ref), 10, 64)
	if err != nil {
		return 0, domain.TargetGone(fmt.Errorf("invalid message ref %q", ref))
	}
	return id, nil
}

func render(msg channel.Message) string {
	title := "<b>" + html.EscapeString(msg.Title()) + "</b>"
	if msg.Proposal.URL != "" {
		title = `<a href="` + html.EscapeString(msg.Proposal.URL) + `">` + title + "</a>"
	}
	lines := msg.Lines()
	escaped := make([]string, 0, len(lines))
	for _, l := range lines {
		escaped = append(escaped, html.EscapeString(l))
	}
	return title + "\n" + strings.Join(escaped, "\n")
}

