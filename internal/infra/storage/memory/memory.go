package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/infra/storage"
)

type MemoryStorage struct {
	sources   map[string]*domain.Source
	proposals map[string]domain.ProposalRecord
	votes     map[string]domain.VoteRecord
	jobs      map[string]*domain.NotificationJob
	jobKeys   map[string]string
	subs      map[string]domain.Subscription
	mu        sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		sources:   make(map[string]*domain.Source),
		proposals: make(map[string]domain.ProposalRecord),
		votes:     make(map[string]domain.VoteRecord),
		jobs:      make(map[string]*domain.NotificationJob),
		jobKeys:   make(map[string]string),
		subs:      make(map[string]domain.Subscription),
	}
}

// NewStore returns every repository backed by one MemoryStorage.
func NewStore() *storage.Store {
	s := NewMemoryStorage()
	return &storage.Store{
		Sources:       NewSourceRepo(s),
		Proposals:     NewProposalRepo(s),
		Votes:         NewVoteRepo(s),
		Jobs:          NewJobRepo(s),
		Subscriptions: NewSubscriptionRepo(s),
	}
}

// -----------------------------------------------------------------------------
// Source Repository
// -----------------------------------------------------------------------------

type SourceRepo struct {
	store *MemoryStorage
}

func NewSourceRepo(store *MemoryStorage) *SourceRepo {
	return &SourceRepo{store: store}
}

func copySource(src *domain.Source) *domain.Source {
	c := *src
	c.Voters = slices.Clone(src.Voters)
	return &c
}

func (r *SourceRepo) Get(ctx context.Context, id string) (*domain.Source, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	src, ok := r.store.sources[id]
	if !ok {
		return nil, storage.ErrSourceNotFound
	}
	return copySource(src), nil
}

func (r *SourceRepo) List(ctx context.Context) ([]*domain.Source, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.Source, 0, len(r.store.sources))
	for _, src := range r.store.sources {
		out = append(out, copySource(src))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *SourceRepo) Seed(ctx context.Context, src *domain.Source) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.sources[src.ID]; ok {
		return false, nil
	}
	c := copySource(src)
	c.Voters = nil
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	r.store.sources[src.ID] = c
	return true, nil
}

func (r *SourceRepo) Save(ctx context.Context, src *domain.Source) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.sources[src.ID]; !ok {
		return storage.ErrSourceNotFound
	}
	c := copySource(src)
	c.Voters = nil
	c.UpdatedAt = time.Now()
	r.store.sources[src.ID] = c
	return nil
}

// -----------------------------------------------------------------------------
// Proposal Repository
// -----------------------------------------------------------------------------

type ProposalRepo struct {
	store *MemoryStorage
}

func NewProposalRepo(store *MemoryStorage) *ProposalRepo {
	return &ProposalRepo{store: store}
}

func proposalKey(daoID, externalID string) string {
	return daoID + "|" + externalID
}

func copyProposal(p domain.ProposalRecord) domain.ProposalRecord {
	p.Choices = slices.Clone(p.Choices)
	p.Scores = slices.Clone(p.Scores)
	return p
}

func (r *ProposalRepo) Upsert(ctx context.Context, rec domain.ProposalRecord) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := proposalKey(rec.DAOID, rec.ExternalID)
	if old, ok := r.store.proposals[key]; ok && old.Same(rec) {
		return false, nil
	}
	r.store.proposals[key] = copyProposal(rec)
	return true, nil
}

func (r *ProposalRepo) Get(ctx context.Context, daoID, externalID string) (*domain.ProposalRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	p, ok := r.store.proposals[proposalKey(daoID, externalID)]
	if !ok {
		return nil, storage.ErrProposalNotFound
	}
	c := copyProposal(p)
	return &c, nil
}

func (r *ProposalRepo) List(ctx context.Context, f storage.ProposalFilter) ([]domain.ProposalRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []domain.ProposalRecord
	for _, p := range r.store.proposals {
		if f.DAOID != "" && p.DAOID != f.DAOID {
			continue
		}
		if len(f.States) > 0 && !slices.Contains(f.States, p.State) {
			continue
		}
		if !f.EndAfter.IsZero() && !p.TimeEnd.After(f.EndAfter) {
			continue
		}
		if !f.EndBefore.IsZero() && !p.TimeEnd.Before(f.EndBefore) {
			continue
		}
		if !f.CreatedFrom.IsZero() && p.TimeCreated.Before(f.CreatedFrom) {
			continue
		}
		if f.OnlyVisible && !p.Visible {
			continue
		}
		out = append(out, copyProposal(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TimeEnd.Equal(out[j].TimeEnd) {
			return proposalKey(out[i].DAOID, out[i].ExternalID) < proposalKey(out[j].DAOID, out[j].ExternalID)
		}
		return out[i].TimeEnd.Before(out[j].TimeEnd)
	})
	return out, nil
}

// -----------------------------------------------------------------------------
// Vote Repository
// -----------------------------------------------------------------------------

type VoteRepo struct {
	store *MemoryStorage
}

func NewVoteRepo(store *MemoryStorage) *VoteRepo {
	return &VoteRepo{store: store}
}

func voteKey(daoID, proposalID, voter string) string {
	return daoID + "|" + proposalID + "|" + voter
}

func (r *VoteRepo) Upsert(ctx context.Context, v domain.VoteRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.votes[voteKey(v.DAOID, v.ProposalExternalID, v.Voter)] = v
	return nil
}

func (r *VoteRepo) HasVoted(ctx context.Context, daoID, proposalID, voter string) (bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	_, ok := r.store.votes[voteKey(daoID, proposalID, voter)]
	return ok, nil
}

// -----------------------------------------------------------------------------
// Job Repository
// -----------------------------------------------------------------------------

type JobRepo struct {
	store *MemoryStorage
}

func NewJobRepo(store *MemoryStorage) *JobRepo {
	return &JobRepo{store: store}
}

func (r *JobRepo) Create(ctx context.Context, job *domain.NotificationJob) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := job.DedupKey()
	if _, ok := r.store.jobKeys[key]; ok {
		return false, nil
	}
	c := *job
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	r.store.jobs[c.ID] = &c
	r.store.jobKeys[key] = c.ID
	return true, nil
}

func (r *JobRepo) Get(ctx context.Context, id string) (*domain.NotificationJob, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	j, ok := r.store.jobs[id]
	if !ok {
		return nil, storage.ErrJobNotFound
	}
	c := *j
	return &c, nil
}

func (r *JobRepo) ListDispatchable(
	ctx context.Context,
	channel domain.ChannelKind,
	limit int,
) ([]*domain.NotificationJob, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.NotificationJob
	for _, j := range r.store.jobs {
		if j.Channel != channel || j.State.Terminal() {
			continue
		}
		c := *j
		out = append(out, &c)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *JobRepo) Save(ctx context.Context, job *domain.NotificationJob) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.jobs[job.ID]; !ok {
		return storage.ErrJobNotFound
	}
	c := *job
	c.UpdatedAt = time.Now()
	r.store.jobs[job.ID] = &c
	return nil
}

func (r *JobRepo) FindDispatched(
	ctx context.Context,
	userID, daoID, proposalID string,
	kind domain.NotificationKind,
	channel domain.ChannelKind,
) (*domain.NotificationJob, error) {
	key := domain.NotificationJob{
		UserID:             userID,
		DAOID:              daoID,
		ProposalExternalID: proposalID,
		Kind:               kind,
		Channel:            channel,
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	id, ok := r.store.jobKeys[key.DedupKey()]
	if !ok {
		return nil, storage.ErrJobNotFound
	}
	j := r.store.jobs[id]
	if j == nil || j.State != domain.DispatchDispatched {
		return nil, storage.ErrJobNotFound
	}
	c := *j
	return &c, nil
}

func (r *JobRepo) DeleteTerminalBefore(ctx context.Context, t time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for id, j := range r.store.jobs {
		if j.State.Terminal() && j.UpdatedAt.Before(t) {
			delete(r.store.jobKeys, j.DedupKey())
			delete(r.store.jobs, id)
			n++
		}
	}
	return n, nil
}

func (r *JobRepo) CountByState(ctx context.Context) (map[domain.DispatchState]int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make(map[domain.DispatchState]int)
	for _, j := range r.store.jobs {
		out[j.State]++
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Subscription Repository
// -----------------------------------------------------------------------------

type SubscriptionRepo struct {
	store *MemoryStorage
}

func NewSubscriptionRepo(store *MemoryStorage) *SubscriptionRepo {
	return &SubscriptionRepo{store: store}
}

func subKey(s domain.Subscription) string {
	return s.UserID + "|" + s.DAOID + "|" + string(s.Channel)
}

func sortSubs(subs []domain.Subscription) {
	sort.Slice(subs, func(i, j int) bool { return subKey(subs[i]) < subKey(subs[j]) })
}

func (r *SubscriptionRepo) Add(ctx context.Context, sub domain.Subscription) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.subs[subKey(sub)] = sub
	return nil
}

func (r *SubscriptionRepo) List(ctx context.Context) ([]domain.Subscription, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]domain.Subscription, 0, len(r.store.subs))
	for _, s := range r.store.subs {
		out = append(out, s)
	}
	sortSubs(out)
	return out, nil
}

func (r *SubscriptionRepo) ListByDAO(ctx context.Context, daoID string) ([]domain.Subscription, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []domain.Subscription
	for _, s := range r.store.subs {
		if s.DAOID == daoID {
			out = append(out, s)
		}
	}
	sortSubs(out)
	return out, nil
}

var (
	_ storage.SourceRepository       = (*SourceRepo)(nil)
	_ storage.ProposalRepository     = (*ProposalRepo)(nil)
	_ storage.VoteRepository         = (*VoteRepo)(nil)
	_ storage.JobRepository          = (*JobRepo)(nil)
	_ storage.SubscriptionRepository = (*SubscriptionRepo)(nil)
)
