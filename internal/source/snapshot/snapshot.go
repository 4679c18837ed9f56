// Package snapshot fetches off-chain proposals and votes from a Snapshot
// GraphQL hub.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/indexing/metrics"
	"github.com/vietddude/govwatch/internal/infra/rpc"
	"github.com/vietddude/govwatch/internal/source"
)

// DefaultEndpoint is the public Snapshot hub.
const DefaultEndpoint = "https://hub.snapshot.org/graphql"

const proposalsQuery = `query Proposals($space: String!, $since: Int!, $first: Int!) {
  proposals(
    first: $first,
    where: {space: $space, created_gte: $since},
    orderBy: "created",
    orderDirection: asc
  ) {
    id
    title
    choices
    scores
    scores_total
    scores_state
    created
    start
    end
    quorum
    link
    state
    flagged
  }
}`

const votesQuery = `query Votes($space: String!, $voters: [String], $since: Int!, $first: Int!) {
  votes(
    first: $first,
    where: {space: $space, voter_in: $voters, created_gte: $since},
    orderBy: "created",
    orderDirection: asc
  ) {
    id
    voter
    created
    choice
    vp
    reason
    proposal {
      id
      choices
    }
  }
}`

// Fetcher implements source.Fetcher against a Snapshot hub.
type Fetcher struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	log        *slog.Logger
}

var _ source.Fetcher = (*Fetcher)(nil)

// New creates a fetcher. An empty endpoint selects DefaultEndpoint.
func New(endpoint, apiKey string, timeout time.Duration) *Fetcher {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Fetcher{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		log:        slog.Default().With("component", "snapshot"),
	}
}

type graphqlProposal struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Choices     []string  `json:"choices"`
	Scores      []float64 `json:"scores"`
	ScoresTotal float64   `json:"scores_total"`
	ScoresState string    `json:"scores_state"`
	Created     int64     `json:"created"`
	Start       int64     `json:"start"`
	End         int64     `json:"end"`
	Quorum      float64   `json:"quorum"`
	Link        string    `json:"link"`
	State       string    `json:"state"`
	Flagged     *bool     `json:"flagged"`
}

type graphqlVote struct {
	ID       string          `json:"id"`
	Voter    string          `json:"voter"`
	Created  int64           `json:"created"`
	Choice   json.RawMessage `json:"choice"`
	VP       float64         `json:"vp"`
	Reason   string          `json:"reason"`
	Proposal *struct {
		ID      string   `json:"id"`
		Choices []string `json:"choices"`
	} `json:"proposal"`
}

func (f *Fetcher) FetchProposals(ctx context.Context, src domain.Source, q source.Query) ([]domain.ProposalRecord, error) {
	var data struct {
		Proposals []graphqlProposal `json:"proposals"`
	}
	vars := map[string]any{
		"space": src.Space,
		"since": q.Since,
		"first": q.Limit,
	}
	if err := f.query(ctx, "proposals", proposalsQuery, vars, &data); err != nil {
		return nil, err
	}

	records := make([]domain.ProposalRecord, 0, len(data.Proposals))
	for _, p := range data.Proposals {
		records = append(records, domain.ProposalRecord{
			ExternalID:  p.ID,
			DAOID:       src.DAOID,
			SourceID:    src.ID,
			Title:       source.Title(p.Title),
			TimeCreated: time.Unix(p.Created, 0).UTC(),
			TimeStart:   time.Unix(p.Start, 0).UTC(),
			TimeEnd:     time.Unix(p.End, 0).UTC(),
			Origin:      p.Created,
			Choices:     p.Choices,
			Scores:      p.Scores,
			ScoresTotal: p.ScoresTotal,
			Quorum:      p.Quorum,
			URL:         proposalURL(src, p),
			State:       MapState(p.State, p.ScoresState),
			Visible:     p.Flagged == nil || !*p.Flagged,
		})
	}
	return records, nil
}

func (f *Fetcher) FetchVotes(ctx context.Context, src domain.Source, q source.Query) ([]domain.VoteRecord, error) {
	if len(q.Voters) == 0 {
		return nil, nil
	}

	var data struct {
		Votes []graphqlVote `json:"votes"`
	}
	vars := map[string]any{
		"space":  src.Space,
		"voters": q.Voters,
		"since":  q.Since,
		"first":  q.Limit,
	}
	if err := f.query(ctx, "votes", votesQuery, vars, &data); err != nil {
		return nil, err
	}

	votes := make([]domain.VoteRecord, 0, len(data.Votes))
	for _, v := range data.Votes {
		if v.Proposal == nil {
			f.log.Debug("skipping vote without proposal", "vote", v.ID)
			continue
		}
		votes = append(votes, domain.VoteRecord{
			ProposalExternalID: v.Proposal.ID,
			DAOID:              src.DAOID,
			Voter:              strings.ToLower(v.Voter),
			Choice:             choiceLabel(v.Choice, v.Proposal.Choices),
			Weight:             v.VP,
			Reason:             v.Reason,
			Origin:             v.Created,
		})
	}
	return votes, nil
}

func (f *Fetcher) query(ctx context.Context, name, query string, vars map[string]any, out any) error {
	start := time.Now()
	err := f.do(ctx, query, vars, out)
	metrics.UpstreamLatency.WithLabelValues("snapshot", name).Observe(time.Since(start).Seconds())

	outcome := "ok"
	if err != nil {
		err = rpc.Classify(err)
		switch {
		case errors.Is(err, domain.ErrUpstreamRateLimited):
			outcome = "rate_limited"
		case errors.Is(err, domain.ErrUpstreamUnavailable):
			outcome = "unavailable"
		case errors.Is(err, domain.ErrDecode):
			outcome = "decode"
		default:
			outcome = "error"
		}
	}
	metrics.UpstreamCalls.WithLabelValues("snapshot", name, outcome).Inc()
	if err != nil {
		return fmt.Errorf("snapshot %s query failed: %w", name, err)
	}
	return nil
}

func (f *Fetcher) do(ctx context.Context, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if f.apiKey != "" {
		req.Header.Set("x-api-key", f.apiKey)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %w", domain.ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return &rpc.HTTPStatusError{
			StatusCode: resp.StatusCode,
			Body:       string(raw),
			RetryAfter: resp.Header.Get("Retry-After"),
		}
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("%w: parse response: %w", domain.ErrDecode, err)
	}
	if len(envelope.Errors) > 0 {
		msgs := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			msgs = append(msgs, e.Message)
		}
		gqlErr := errors.New(strings.Join(msgs, "; "))
		if classified := rpc.Classify(gqlErr); classified != gqlErr {
			return classified
		}
		return fmt.Errorf("%w: graphql: %w", domain.ErrDecode, gqlErr)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return fmt.Errorf("%w: empty data", domain.ErrDecode)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("%w: decode data: %w", domain.ErrDecode, err)
	}
	return nil
}

// MapState normalizes a Snapshot state. Closed proposals only count as
// executed once their scores are final.
func MapState(state, scoresState string) domain.ProposalState {
	switch state {
	case "active":
		return domain.ProposalActive
	case "pending":
		return domain.ProposalPending
	case "closed":
		if scoresState == "final" {
			return domain.ProposalExecuted
		}
		return domain.ProposalHidden
	default:
		return domain.ProposalUnknown
	}
}

func proposalURL(src domain.Source, p graphqlProposal) string {
	if src.ProposalURL != "" {
		return src.ProposalURL + p.ID
	}
	if p.Link != "" {
		return p.Link
	}
	return fmt.Sprintf("https://snapshot.org/#/%s/proposal/%s", src.Space, p.ID)
}

// choiceLabel renders a vote choice. Single-choice votes are 1-based
// indexes into the proposal's choices; other voting types are kept raw.
func choiceLabel(raw json.RawMessage, choices []string) string {
	var idx int
	if err := json.Unmarshal(raw, &idx); err == nil {
		if idx >= 1 && idx <= len(choices) {
			return choices[idx-1]
		}
		return fmt.Sprintf("%d", idx)
	}
	return string(raw)
}
