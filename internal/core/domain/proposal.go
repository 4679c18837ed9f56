package domain

import (
	"slices"
	"time"
)

// ProposalState is the normalized lifecycle state of a proposal.
type ProposalState string

const (
	ProposalPending   ProposalState = "pending"
	ProposalActive    ProposalState = "active"
	ProposalCanceled  ProposalState = "canceled"
	ProposalDefeated  ProposalState = "defeated"
	ProposalSucceeded ProposalState = "succeeded"
	ProposalQueued    ProposalState = "queued"
	ProposalExpired   ProposalState = "expired"
	ProposalExecuted  ProposalState = "executed"
	ProposalHidden    ProposalState = "hidden"
	ProposalUnknown   ProposalState = "unknown"
)

// ProposalRecord is the normalized result of a fetch.
// Origin is the creation block for on-chain proposals and the creation
// unix timestamp for off-chain ones.
type ProposalRecord struct {
	ExternalID  string
	DAOID       string
	SourceID    string
	Title       string
	TimeCreated time.Time
	TimeStart   time.Time
	TimeEnd     time.Time
	Origin      int64
	Choices     []string
	Scores      []float64
	ScoresTotal float64
	Quorum      float64
	URL         string
	State       ProposalState
	Visible     bool
	// Estimated is set while start or end were extrapolated from block numbers.
	Estimated bool
}

// Open reports whether voting is still running at now.
func (p ProposalRecord) Open(now time.Time) bool {
	return p.TimeEnd.After(now)
}

// Same reports whether two records carry identical stored fields.
func (p ProposalRecord) Same(o ProposalRecord) bool {
	return p.ExternalID == o.ExternalID &&
		p.DAOID == o.DAOID &&
		p.Title == o.Title &&
		p.TimeCreated.Equal(o.TimeCreated) &&
		p.TimeStart.Equal(o.TimeStart) &&
		p.TimeEnd.Equal(o.TimeEnd) &&
		p.Origin == o.Origin &&
		slices.Equal(p.Choices, o.Choices) &&
		slices.Equal(p.Scores, o.Scores) &&
		p.ScoresTotal == o.ScoresTotal &&
		p.Quorum == o.Quorum &&
		p.URL == o.URL &&
		p.State == o.State &&
		p.Visible == o.Visible &&
		p.Estimated == o.Estimated
}

// VoteTally is a live tally read from a governance contract.
type VoteTally struct {
	Choices []string
	Scores  []float64
	Total   float64
	Quorum  float64
}

// VoteRecord is one voter's vote on one proposal.
// Origin is the block number (on-chain) or unix timestamp (off-chain).
type VoteRecord struct {
	ProposalExternalID string
	DAOID              string
	Voter              string
	Choice             string
	Weight             float64
	Reason             string
	Origin             int64
}

// Subscription links a user to a DAO on one delivery channel.
type Subscription struct {
	UserID  string      `db:"user_id"`
	DAOID   string      `db:"dao_id"`
	Channel ChannelKind `db:"channel"`
	Target  string      `db:"target"`
	Address string      `db:"address"`
}
