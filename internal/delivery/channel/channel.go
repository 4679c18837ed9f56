// Package channel defines the outbound delivery contract shared by the
// Discord, Slack, Telegram and email senders.
package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/vietddude/govwatch/internal/core/domain"
)

// ErrUnsupported is returned by channels that cannot edit or delete a sent message.
var ErrUnsupported = errors.New("operation not supported by channel")

// Channel delivers rendered notifications to one kind of destination.
// Errors wrap domain.ErrDeliveryTransient or domain.ErrDeliveryRejected;
// domain.TargetGone marks a handle or message that no longer exists.
type Channel interface {
	Kind() domain.ChannelKind
	Send(ctx context.Context, target string, msg Message) (domain.MessageRef, error)
	Edit(ctx context.Context, target string, ref domain.MessageRef, msg Message) error
	Delete(ctx context.Context, target string, ref domain.MessageRef) error
}

// Set indexes channels by kind.
type Set map[domain.ChannelKind]Channel

// NewSet builds a Set from the given channels, skipping nils.
func NewSet(chs ...Channel) Set {
	s := make(Set, len(chs))
	for _, ch := range chs {
		if ch != nil {
			s[ch.Kind()] = ch
		}
	}
	return s
}

// Get returns the channel for kind.
func (s Set) Get(kind domain.ChannelKind) (Channel, error) {
	ch, ok := s[kind]
	if !ok {
		return nil, fmt.Errorf("channel %s not configured: %w", kind, domain.ErrDeliveryRejected)
	}
	return ch, nil
}

// Transient wraps err as a retryable delivery failure.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrDeliveryTransient, err)
}

// Rejected wraps err as a permanent delivery failure.
func Rejected(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrDeliveryRejected, err)
}
