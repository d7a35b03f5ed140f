package audience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cymasphere/cymasphere-website-sub009/internal/domain"
	"github.com/cymasphere/cymasphere-website-sub009/internal/pkg/distlock"
	"github.com/cymasphere/cymasphere-website-sub009/internal/pkg/logger"
	"github.com/cymasphere/cymasphere-website-sub009/internal/segmentation"
)

// Config tunes reach and count refresh.
type Config struct {
	// BatchConcurrency bounds how many batch items are computed at once.
	BatchConcurrency int
	// RefreshLockTTL caps how long a refresh-all may hold its lock.
	RefreshLockTTL time.Duration
}

// DefaultConfig returns the settings used when none are supplied.
func DefaultConfig() Config {
	return Config{BatchConcurrency: 4, RefreshLockTTL: 10 * time.Minute}
}

// Service implements audience resolution, reach and administration. All
// public methods are safe for concurrent use if the underlying repositories
// are concurrency-safe.
type Service struct {
	repo     Repository
	subs     SubscriberRepository
	resolver *Resolver
	locks    distlock.Factory
	cfg      Config
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithConfig overrides DefaultConfig. Non-positive values keep the default.
func WithConfig(cfg Config) Option {
	return func(s *Service) {
		if cfg.BatchConcurrency > 0 {
			s.cfg.BatchConcurrency = cfg.BatchConcurrency
		}
		if cfg.RefreshLockTTL > 0 {
			s.cfg.RefreshLockTTL = cfg.RefreshLockTTL
		}
	}
}

// WithLocks guards RefreshAllCounts with locks from f.
func WithLocks(f distlock.Factory) Option {
	return func(s *Service) { s.locks = f }
}

// NewService creates an audience service.
func NewService(repo Repository, subs SubscriberRepository, rules RuleEvaluator, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		subs:     subs,
		resolver: NewResolver(repo, rules),
		cfg:      DefaultConfig(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolver exposes the membership resolver the service uses.
func (s *Service) Resolver() *Resolver { return s.resolver }

// Get returns a single audience.
func (s *Service) Get(ctx context.Context, id string) (*domain.Audience, error) {
	return s.repo.Get(ctx, id)
}

// List returns audiences matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Audience, int, error) {
	return s.repo.List(ctx, f)
}

// Create validates and persists a new audience, then fills in its
// subscriber count. The returned warnings name rules that will not
// constrain membership.
func (s *Service) Create(ctx context.Context, input CreateInput, createdBy string) (*domain.Audience, []domain.ResolutionWarning, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, nil, ErrNameRequired
	}

	filters := domain.RuleFilters()
	if len(input.Filters) > 0 {
		doc, err := parseFilters(input.Filters)
		if err != nil {
			return nil, nil, err
		}
		filters = doc
	}

	a := &domain.Audience{
		ID:          uuid.New().String(),
		Name:        name,
		Description: input.Description,
		Filters:     filters,
	}
	if createdBy != "" {
		a.CreatedBy = &createdBy
	}

	id, err := s.repo.Create(ctx, a)
	if err != nil {
		return nil, nil, fmt.Errorf("create audience: %w", err)
	}
	a.ID = id

	s.refreshBestEffort(ctx, a)
	logger.Info("audience created", "audience_id", a.ID, "static", a.IsStatic(), "subscriber_count", a.SubscriberCount)
	return a, ruleWarnings(a), nil
}

// Update modifies mutable audience fields and recomputes the count.
func (s *Service) Update(ctx context.Context, id string, input UpdateInput) (*domain.Audience, []domain.ResolutionWarning, error) {
	u := UpdateFields{Description: input.Description}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, nil, ErrNameRequired
		}
		u.Name = &name
	}
	if len(input.Filters) > 0 {
		doc, err := parseFilters(input.Filters)
		if err != nil {
			return nil, nil, err
		}
		u.Filters = &doc
	}

	if err := s.repo.Update(ctx, id, u); err != nil {
		return nil, nil, err
	}

	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	s.refreshBestEffort(ctx, a)
	return a, ruleWarnings(a), nil
}

// AddMember adds the subscriber with email to a static audience, creating
// an active subscriber when none exists.
func (s *Service) AddMember(ctx context.Context, audienceID, email string) (*domain.Subscriber, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrEmailRequired
	}

	a, err := s.repo.Get(ctx, audienceID)
	if err != nil {
		return nil, err
	}
	if !a.IsStatic() {
		return nil, ErrNotStatic
	}

	sub, err := s.subs.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrSubscriberNotFound):
		sub = &domain.Subscriber{
			ID:            uuid.New().String(),
			Email:         email,
			Status:        domain.SubscriberActive,
			SubscribeDate: s.now().UTC(),
			Tags:          []string{},
		}
		sub.ID, err = s.repo.AddNewMember(ctx, a.ID, sub)
		if err != nil {
			return nil, fmt.Errorf("create subscriber: %w", err)
		}
		logger.Info("subscriber created for static audience", "audience_id", a.ID, "email", email)
	case err != nil:
		return nil, fmt.Errorf("find subscriber: %w", err)
	default:
		if err := s.repo.AddMember(ctx, a.ID, sub.ID); err != nil {
			return nil, err
		}
	}

	s.refreshBestEffort(ctx, a)
	return sub, nil
}

// RemoveMember deletes a static membership row.
func (s *Service) RemoveMember(ctx context.Context, audienceID, subscriberID string) error {
	a, err := s.repo.Get(ctx, audienceID)
	if err != nil {
		return err
	}
	if !a.IsStatic() {
		return ErrNotStatic
	}
	if err := s.repo.RemoveMember(ctx, audienceID, subscriberID); err != nil {
		return err
	}

	s.refreshBestEffort(ctx, a)
	return nil
}

// MemberPage is one page of an audience's resolved membership.
type MemberPage struct {
	Subscribers []domain.Subscriber
	Total       int
	Warnings    []domain.ResolutionWarning
}

// Members resolves the audience and returns the subscribers on the
// requested page, ordered by ID.
func (s *Service) Members(ctx context.Context, audienceID string, limit, offset int) (MemberPage, error) {
	a, err := s.repo.Get(ctx, audienceID)
	if err != nil {
		return MemberPage{}, err
	}

	res, err := s.resolver.Resolve(ctx, a)
	if err != nil {
		return MemberPage{}, err
	}
	observeWarnings(res.Warnings)

	ids := res.IDs.IDs()
	page := MemberPage{Total: len(ids), Warnings: res.Warnings, Subscribers: []domain.Subscriber{}}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(ids) {
		return page, nil
	}
	end := len(ids)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	subs, err := s.subs.GetSubscribers(ctx, ids[offset:end])
	if err != nil {
		return MemberPage{}, fmt.Errorf("load subscribers: %w", err)
	}
	page.Subscribers = subs
	return page, nil
}

// SubscriberMemberships reports, for every audience, whether the subscriber
// currently belongs to it.
func (s *Service) SubscriberMemberships(ctx context.Context, subscriberID string) (map[string]bool, error) {
	if _, err := s.subs.GetSubscriber(ctx, subscriberID); err != nil {
		return nil, err
	}

	audiences, _, err := s.repo.List(ctx, ListFilter{})
	if err != nil {
		return nil, fmt.Errorf("list audiences: %w", err)
	}

	joined, err := s.repo.AudienceIDsForSubscriber(ctx, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("static memberships: %w", err)
	}
	static := domain.NewSubscriberSet(joined...)

	memberships := make(map[string]bool, len(audiences))
	for i := range audiences {
		a := &audiences[i]
		ok, err := s.resolver.Matches(ctx, a, subscriberID, static.Contains(a.ID))
		if err != nil {
			return nil, err
		}
		memberships[a.ID] = ok
	}
	return memberships, nil
}

func parseFilters(raw []byte) (domain.FilterDocument, error) {
	doc := domain.ParseFilterDocument(raw)
	if doc.Kind == domain.FilterInvalid {
		return doc, fmt.Errorf("%w: %s", ErrInvalidFilters, doc.Problem)
	}
	return doc, nil
}

func ruleWarnings(a *domain.Audience) []domain.ResolutionWarning {
	if a.Filters.Kind != domain.FilterRules {
		return nil
	}
	return stamp(a.ID, segmentation.ValidateRules(a.Filters.Rules))
}
