// Package email delivers notifications over SMTP.
// The target of a job is the recipient address.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/delivery/channel"
)

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// ImplicitTLS dials TLS directly (port 465). Otherwise STARTTLS is used
	// when the server offers it.
	ImplicitTLS bool
	Timeout     time.Duration
}

type sendFunc func(ctx context.Context, from string, to []string, msg []byte) error

// Channel sends plain-text mail. Sent mail cannot be edited or recalled.
type Channel struct {
	cfg  Config
	send sendFunc
	now  func() time.Time
}

// New creates an email channel for cfg.
func New(cfg Config) *Channel {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &Channel{cfg: cfg, now: time.Now}
	c.send = c.smtpSend
	return c
}

// Kind implements channel.Channel.
func (c *Channel) Kind() domain.ChannelKind { return domain.ChannelEmail }

// Send mails msg to target and returns the Message-ID.
func (c *Channel) Send(ctx context.Context, target string, msg channel.Message) (domain.MessageRef, error) {
	return c.SendText(ctx, target, msg.Title(), strings.Join(msg.Lines(), "\n"))
}

// SendText mails a plain-text body to one recipient.
func (c *Channel) SendText(ctx context.Context, to, subject, body string) (domain.MessageRef, error) {
	if to == "" || !strings.Contains(to, "@") {
		return "", domain.TargetGone(fmt.Errorf("invalid recipient %q", to))
	}
	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), c.domain())
	raw, err := c.compose(id, to, subject, body)
	if err != nil {
		return "", channel.Rejected(err)
	}
	if err := c.send(ctx, c.cfg.From, []string{to}, raw); err != nil {
		return "", classify(err)
	}
	return domain.MessageRef(id), nil
}

// Edit implements channel.Channel.
func (c *Channel) Edit(context.Context, string, domain.MessageRef, channel.Message) error {
	return channel.ErrUnsupported
}

// Delete implements channel.Channel.
func (c *Channel) Delete(context.Context, string, domain.MessageRef) error {
	return channel.ErrUnsupported
}

func (c *Channel) domain() string {
	if i := strings.LastIndex(c.cfg.From, "@"); i >= 0 {
		return strings.Trim(c.cfg.From[i+1:], "> ")
	}
	return "localhost"
}

func (c *Channel) compose(id, to, subject, body string) ([]byte, error) {
	var buf bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }

	header("From", c.cfg.From)
	header("To", to)
	header("Subject", mime.QEncoding.Encode("utf-8", subject))
	header("Date", c.now().UTC().Format(time.RFC1123Z))
	header("Message-ID", id)
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	header("Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString("\r\n")

	w := quotedprintable.NewWriter(&buf)
	if _, err := w.Write([]byte(strings.ReplaceAll(body, "\n", "\r\n"))); err != nil {
		return nil, fmt.Errorf("failed to encode body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode body: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Channel) smtpSend(ctx context.Context, from string, to []string, msg []byte) error {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	dialer := &net.Dialer{Timeout: c.cfg.Timeout}
	tlsCfg := &tls.Config{ServerName: c.cfg.Host, MinVersion: tls.VersionTLS12}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	if c.cfg.ImplicitTLS {
		conn = tls.Client(conn, tlsCfg)
	}
	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, c.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to start smtp session: %w", err)
	}
	defer client.Close()

	if !c.cfg.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsCfg); err != nil {
				return fmt.Errorf("failed to start tls: %w", err)
			}
		}
	}
	if c.cfg.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)); err != nil {
			return fmt.Errorf("failed to authenticate: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// classify maps SMTP replies to the delivery taxonomy. 550, 551 and 553
// mean the mailbox does not exist, other 5xx replies are permanent and
// 4xx replies or connection failures are retryable.
func classify(err error) error {
	var proto *textproto.Error
	if !errors.As(err, &proto) {
		return channel.Transient(err)
	}
	switch {
	case proto.Code == 550 || proto.Code == 551 || proto.Code == 553:
		return domain.TargetGone(err)
	case proto.Code >= 500:
		return channel.Rejected(err)
	default:
		return channel.Transient(err)
	}
}
