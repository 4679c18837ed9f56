package channel

import (
	"fmt"
	"strings"
	"time"

	"github.com/vietddude/govwatch/internal/core/domain"
)

// Message is the channel-independent content of a notification.
type Message struct {
	Kind     domain.NotificationKind
	Proposal domain.ProposalRecord
	// Voted is set when one of the user's addresses already voted.
	Voted bool
	// Now is the render time used for relative deadlines.
	Now time.Time
}

// NewMessage builds a message for kind about p rendered at now.
func NewMessage(kind domain.NotificationKind, p domain.ProposalRecord, voted bool, now time.Time) Message {
	return Message{Kind: kind, Proposal: p, Voted: voted, Now: now}
}

// Title is a one-line summary used as email subject and embed title.
func (m Message) Title() string {
	name := m.Proposal.Title
	if name == "" {
		name = m.Proposal.ExternalID
	}
	switch m.Kind {
	case domain.NotifyNewProposal:
		return fmt.Sprintf("New proposal: %s", name)
	case domain.NotifyFirstReminder, domain.NotifySecondReminder:
		return fmt.Sprintf("Ends in %s: %s", humanize(m.Proposal.TimeEnd.Sub(m.Now)), name)
	case domain.NotifyEndedProposal:
		return fmt.Sprintf("Ended proposal: %s", name)
	default:
		return name
	}
}

// Lines returns the body of the message, one entry per line.
func (m Message) Lines() []string {
	p := m.Proposal
	lines := []string{fmt.Sprintf("DAO: %s", p.DAOID)}

	switch m.Kind {
	case domain.NotifyEndedProposal:
		lines = append(lines, fmt.Sprintf("Result: %s", p.State))
		lines = append(lines, m.tally()...)
	default:
		if !p.TimeEnd.IsZero() {
			lines = append(lines, fmt.Sprintf("Voting ends %s", p.TimeEnd.UTC().Format(time.RFC1123)))
		}
		if m.Kind != domain.NotifyNewProposal {
			lines = append(lines, m.tally()...)
		}
	}

	if m.Voted {
		lines = append(lines, "You already voted on this proposal.")
	} else if m.Kind != domain.NotifyEndedProposal {
		lines = append(lines, "You have not voted yet.")
	}
	if p.URL != "" {
		lines = append(lines, p.URL)
	}
	return lines
}

// Text is Title followed by Lines.
func (m Message) Text() string {
	return m.Title() + "\n" + strings.Join(m.Lines(), "\n")
}

func (m Message) tally() []string {
	p := m.Proposal
	var out []string
	for i, choice := range p.Choices {
		if i >= len(p.Scores) {
			break
		}
		pct := 0.0
		if p.ScoresTotal > 0 {
			pct = p.Scores[i] / p.ScoresTotal * 100
		}
		out = append(out, fmt.Sprintf("%s: %.2f (%.1f%%)", choice, p.Scores[i], pct))
	}
	if p.Quorum > 0 {
		out = append(out, fmt.Sprintf("Quorum: %.2f", p.Quorum))
	}
	return out
}

func humanize(d time.Duration) string {
	if d <= 0 {
		return "now"
	}
	d = d.Round(time.Minute)
	h := int(d.Hours())
	mins := int(d.Minutes()) % 60
	switch {
	case h == 0:
		return fmt.Sprintf("%dm", mins)
	case mins == 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dh%dm", h, mins)
	}
}
