package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bulktok/internal/hedra"
	"bulktok/internal/model"
	"bulktok/internal/repository"
	"bulktok/internal/tier"
)

// fakeProfileRepo is an in-memory ProfileRepository mirroring the
// SQL-backed semantics closely enough for service-level tests.
type fakeProfileRepo struct {
	mu       sync.Mutex
	profiles map[string]*model.Profile
}

func newFakeProfileRepo(profiles ...*model.Profile) *fakeProfileRepo {
	r := &fakeProfileRepo{profiles: make(map[string]*model.Profile)}
	for _, p := range profiles {
		r.profiles[p.ID] = p
	}
	return r
}

func (r *fakeProfileRepo) Create(ctx context.Context, p *model.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[p.ID]; ok {
		return nil
	}
	cp := *p
	r.profiles[p.ID] = &cp
	return nil
}

func (r *fakeProfileRepo) GetByID(ctx context.Context, id string) (*model.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return nil, repository.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakeProfileRepo) GetByEmail(ctx context.Context, email string) (*model.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.profiles {
		if p.Email == email {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrProfileNotFound
}

func (r *fakeProfileRepo) GetByStripeCustomerID(ctx context.Context, customerID string) (*model.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.byCustomerLocked(customerID)
	if p == nil {
		return nil, repository.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakeProfileRepo) byCustomerLocked(customerID string) *model.Profile {
	for _, p := range r.profiles {
		if p.StripeCustomerID != nil && *p.StripeCustomerID == customerID {
			return p
		}
	}
	return nil
}

func (r *fakeProfileRepo) UpdateStripeCustomerID(ctx context.Context, userID, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return repository.ErrProfileNotFound
	}
	p.StripeCustomerID = &customerID
	return nil
}

func (r *fakeProfileRepo) SetHedraKeyFlag(ctx context.Context, userID string, has bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return repository.ErrProfileNotFound
	}
	p.HasHedraKey = has
	return nil
}

func (r *fakeProfileRepo) GetQuota(ctx context.Context, userID string) (model.QuotaState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return model.QuotaState{}, repository.ErrProfileNotFound
	}
	return fakeQuotaState(p), nil
}

func fakeQuotaState(p *model.Profile) model.QuotaState {
	limit := tier.Limit(p.SubscriptionTier)
	remaining := limit - p.VideosGeneratedThisMonth
	if remaining < 0 {
		remaining = 0
	}
	return model.QuotaState{
		Tier:      p.SubscriptionTier,
		Limit:     limit,
		Usage:     p.VideosGeneratedThisMonth,
		Remaining: remaining,
	}
}

func (r *fakeProfileRepo) ReserveUsage(ctx context.Context, userID string, delta int) (model.QuotaState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return model.QuotaState{}, repository.ErrProfileNotFound
	}
	limit := tier.Limit(p.SubscriptionTier)
	if p.VideosGeneratedThisMonth+delta > limit {
		return fakeQuotaState(p), repository.ErrQuotaExceeded
	}
	p.VideosGeneratedThisMonth += delta
	return fakeQuotaState(p), nil
}

func (r *fakeProfileRepo) ReleaseUsage(ctx context.Context, userID string, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return repository.ErrProfileNotFound
	}
	p.VideosGeneratedThisMonth -= delta
	if p.VideosGeneratedThisMonth < 0 {
		p.VideosGeneratedThisMonth = 0
	}
	return nil
}

func (r *fakeProfileRepo) ResetUsage(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return repository.ErrProfileNotFound
	}
	p.VideosGeneratedThisMonth = 0
	p.BillingCycleStart = time.Now()
	return nil
}

func (r *fakeProfileRepo) RolloverExpired(ctx context.Context, window time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	cutoff := time.Now().Add(-window)
	for _, p := range r.profiles {
		if !p.BillingCycleStart.After(cutoff) {
			p.VideosGeneratedThisMonth = 0
			p.BillingCycleStart = time.Now()
			n++
		}
	}
	return n, nil
}

func (r *fakeProfileRepo) ApplyBillingState(ctx context.Context, customerID string, t tier.Tier, subscriptionID *string, eventTS time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.byCustomerLocked(customerID)
	if p == nil {
		return false, nil
	}
	if p.StripeEventTS != nil && p.StripeEventTS.After(eventTS) {
		return false, nil
	}
	p.SubscriptionTier = t
	p.StripeSubscriptionID = subscriptionID
	ts := eventTS
	p.StripeEventTS = &ts
	return true, nil
}

func (r *fakeProfileRepo) UpdateBillingByID(ctx context.Context, userID string, t tier.Tier, customerID, subscriptionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return repository.ErrProfileNotFound
	}
	p.SubscriptionTier = t
	p.StripeCustomerID = &customerID
	p.StripeSubscriptionID = &subscriptionID
	return nil
}

// fakeVideoRepo records created video rows in memory.
type fakeVideoRepo struct {
	mu     sync.Mutex
	videos []model.Video
	nextID int
}

func (r *fakeVideoRepo) Create(ctx context.Context, v *model.Video) (*model.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	v.ID = fmt.Sprintf("video-%d", r.nextID)
	v.CreatedAt = time.Now()
	v.UpdatedAt = v.CreatedAt
	r.videos = append(r.videos, *v)
	return v, nil
}

func (r *fakeVideoRepo) GetByID(ctx context.Context, id string) (*model.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.videos {
		if r.videos[i].ID == id {
			cp := r.videos[i]
			return &cp, nil
		}
	}
	return nil, repository.ErrVideoNotFound
}

func (r *fakeVideoRepo) ListByUser(ctx context.Context, userID string, from, to *time.Time) ([]model.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Video
	for _, v := range r.videos {
		if v.UserID != userID {
			continue
		}
		if from != nil && v.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && v.CreatedAt.After(*to) {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// fakeSecretStore keeps keys in a map.
type fakeSecretStore struct {
	mu   sync.Mutex
	keys map[string]string
}

func newFakeSecretStore() *fakeSecretStore {
	return &fakeSecretStore{keys: make(map[string]string)}
}

func (s *fakeSecretStore) StoreHedraKey(ctx context.Context, userID, apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[userID] = apiKey
	return nil
}

func (s *fakeSecretStore) GetHedraKey(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[userID]
	if !ok {
		return "", errors.New("secret not found")
	}
	return key, nil
}

func (s *fakeSecretStore) DeleteHedraKey(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, userID)
	return nil
}

// fakeGenerator accepts a configurable number of items per batch.
type fakeGenerator struct {
	apiKey string
	accept int
	err    error
	calls  int
}

func (g *fakeGenerator) GenerateBulk(ctx context.Context, req hedra.BulkRequest) ([]hedra.BulkResult, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	n := g.accept
	if n > len(req.Images) {
		n = len(req.Images)
	}
	results := make([]hedra.BulkResult, 0, n)
	for i := 0; i < n; i++ {
		results = append(results, hedra.BulkResult{
			JobID:         fmt.Sprintf("job-%d", i+1),
			ImageFilename: req.Images[i].Filename,
		})
	}
	return results, nil
}

// fakeQueue records enqueued payloads.
type fakeQueue struct {
	mu       sync.Mutex
	messages [][]byte
}

func (q *fakeQueue) Send(ctx context.Context, queue string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, payload)
	return nil
}
