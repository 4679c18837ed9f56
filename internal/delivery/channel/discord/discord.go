// Package discord delivers notifications as embeds in Discord channels.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/delivery/channel"
)

// Embed colors per notification kind.
const (
	colorNew      = 0x5865F2
	colorReminder = 0xFEE75C
	colorEnded    = 0x57F287
)

// messenger is the subset of *discordgo.Session used for delivery.
type messenger interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
}

// Channel sends embeds through a bot session. The target is a channel id.
type Channel struct {
	session messenger
}

// New opens a bot session for token. The REST API needs no gateway connection.
func New(token string) (*Channel, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	// The ladder handles retries.
	s.MaxRestRetries = 0
	s.ShouldRetryOnRateLimit = false
	return &Channel{session: s}, nil
}

// Kind implements channel.Channel.
func (c *Channel) Kind() domain.ChannelKind { return domain.ChannelDiscord }

// Send posts msg as an embed and returns the message id.
func (c *Channel) Send(ctx context.Context, target string, msg channel.Message) (domain.MessageRef, error) {
	m, err := c.session.ChannelMessageSendEmbed(target, Embed(msg), discordgo.WithContext(ctx))
	if err != nil {
		return "", classify(err)
	}
	return domain.MessageRef(m.ID), nil
}

// Edit replaces the embed of a previously sent message.
func (c *Channel) Edit(ctx context.Context, target string, ref domain.MessageRef, msg channel.Message) error {
	if ref == "" {
		return domain.TargetGone(errors.New("empty message ref"))
	}
	if _, err := c.session.ChannelMessageEditEmbed(target, string(ref), Embed(msg), discordgo.WithContext(ctx)); err != nil {
		return classify(err)
	}
	return nil
}

// Delete removes a previously sent message.
func (c *Channel) Delete(ctx context.Context, target string, ref domain.MessageRef) error {
	if ref == "" {
		return domain.TargetGone(errors.New("empty message ref"))
	}
	if err := c.session.ChannelMessageDelete(target, string(ref), discordgo.WithContext(ctx)); err != nil {
		return classify(err)
	}
	return nil
}

// Embed renders msg for Discord.
func Embed(msg channel.Message) *discordgo.MessageEmbed {
	color := colorNew
	switch msg.Kind {
	case domain.NotifyFirstReminder, domain.NotifySecondReminder:
		color = colorReminder
	case domain.NotifyEndedProposal:
		color = colorEnded
	}

	e := &discordgo.MessageEmbed{
		Title:       truncate(msg.Title(), 256),
		URL:         msg.Proposal.URL,
		Description: truncate(strings.Join(msg.Lines(), "\n"), 4096),
		Color:       color,
		Footer:      &discordgo.MessageEmbedFooter{Text: msg.Proposal.DAOID},
	}
	if !msg.Proposal.TimeEnd.IsZero() {
		e.Timestamp = msg.Proposal.TimeEnd.UTC().Format(time.RFC3339)
	}
	return e
}

// classify maps a discordgo error to the delivery taxonomy.
func classify(err error) error {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return channel.Transient(err)
	}

	if rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeUnknownMessage:
			return domain.TargetGone(err)
		case discordgo.ErrCodeMissingAccess, discordgo.ErrCodeMissingPermissions:
			return channel.Rejected(err)
		}
	}
	if rest.Response == nil {
		return channel.Transient(err)
	}
	switch status := rest.Response.StatusCode; {
	case status == http.StatusNotFound:
		return domain.TargetGone(err)
	case status == http.StatusTooManyRequests || status >= 500:
		return channel.Transient(err)
	default:
		return channel.Rejected(err)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
