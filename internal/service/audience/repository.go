package audience

import (
	"context"
	"encoding/json"

	"github.com/cymasphere/cymasphere-website-sub009/internal/domain"
	"github.com/cymasphere/cymasphere-website-sub009/internal/segmentation"
)

// Repository defines the data access contract for audiences and their
// static membership rows. Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single audience. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Audience, error)

	// GetMany returns the audiences among ids in one read. Unknown IDs are
	// simply absent from the result.
	GetMany(ctx context.Context, ids []string) ([]domain.Audience, error)

	// List returns audiences ordered by created_at DESC, plus the total.
	// A zero Limit returns every audience.
	List(ctx context.Context, filter ListFilter) ([]domain.Audience, int, error)

	// Create inserts a new audience and returns its ID.
	Create(ctx context.Context, a *domain.Audience) (string, error)

	// Update modifies an audience. Nil fields are not applied.
	Update(ctx context.Context, id string, u UpdateFields) error

	// UpdateSubscriberCount overwrites the cached subscriber_count.
	UpdateSubscriberCount(ctx context.Context, id string, count int) error

	// StaticMemberIDs returns the subscriber IDs joined to a static audience.
	StaticMemberIDs(ctx context.Context, audienceID string) ([]string, error)

	// AddMember inserts a join row. Returns ErrAlreadyMember on a duplicate.
	AddMember(ctx context.Context, audienceID, subscriberID string) error

	// AddNewMember creates subscriber s and its join row atomically and
	// returns the subscriber ID. Nothing is kept when either insert fails.
	AddNewMember(ctx context.Context, audienceID string, s *domain.Subscriber) (string, error)

	// RemoveMember deletes a join row. Returns ErrNotMember if absent.
	RemoveMember(ctx context.Context, audienceID, subscriberID string) error

	// AudienceIDsForSubscriber returns the audiences holding a join row for
	// the subscriber.
	AudienceIDsForSubscriber(ctx context.Context, subscriberID string) ([]string, error)
}

// SubscriberRepository is the read/insert surface of the subscriber store
// needed by membership administration.
type SubscriberRepository interface {
	// GetSubscriber returns ErrSubscriberNotFound if it doesn't exist.
	GetSubscriber(ctx context.Context, id string) (*domain.Subscriber, error)

	// FindByEmail returns ErrSubscriberNotFound if no subscriber has email.
	FindByEmail(ctx context.Context, email string) (*domain.Subscriber, error)

	// CreateSubscriber inserts s and returns its ID.
	CreateSubscriber(ctx context.Context, s *domain.Subscriber) (string, error)

	// GetSubscribers returns the rows for ids ordered by id.
	GetSubscribers(ctx context.Context, ids []string) ([]domain.Subscriber, error)
}

// RuleEvaluator resolves a dynamic audience's rules against the store.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, rules []domain.Rule) (segmentation.Result, error)
	Count(ctx context.Context, rules []domain.Rule) (int, []domain.ResolutionWarning, error)
	Matches(ctx context.Context, subscriberID string, rules []domain.Rule) (bool, []domain.ResolutionWarning, error)
}

// ListFilter controls pagination for audience lists.
type ListFilter struct {
	Limit  int
	Offset int
}

// UpdateFields holds the mutable fields for an audience update.
// Nil fields are not applied.
type UpdateFields struct {
	Name        *string
	Description *string
	Filters     *domain.FilterDocument
}

// CreateInput holds the fields for creating a new audience.
type CreateInput struct {
	Name        string          `json:"name" validate:"required,max=255"`
	Description *string         `json:"description"`
	Filters     json.RawMessage `json:"filters"`
}

// UpdateInput holds the fields for editing an audience. Absent fields are
// left untouched.
type UpdateInput struct {
	Name        *string         `json:"name" validate:"omitempty,max=255"`
	Description *string         `json:"description"`
	Filters     json.RawMessage `json:"filters"`
}
