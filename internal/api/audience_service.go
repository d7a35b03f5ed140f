package api

import (
	"context"

	"github.com/cymasphere/cymasphere-website-sub009/internal/domain"
	"github.com/cymasphere/cymasphere-website-sub009/internal/service/audience"
)

// AudienceService is the audience and reach surface the handlers depend on.
// *audience.Service implements it.
type AudienceService interface {
	UniqueReach(ctx context.Context, included, excluded []string) (domain.ReachResult, error)
	BatchReach(ctx context.Context, items []domain.ReachRequest) (map[string]domain.ReachResult, error)

	Get(ctx context.Context, id string) (*domain.Audience, error)
	List(ctx context.Context, f audience.ListFilter) ([]domain.Audience, int, error)
	Create(ctx context.Context, input audience.CreateInput, createdBy string) (*domain.Audience, []domain.ResolutionWarning, error)
	Update(ctx context.Context, id string, input audience.UpdateInput) (*domain.Audience, []domain.ResolutionWarning, error)

	AddMember(ctx context.Context, audienceID, email string) (*domain.Subscriber, error)
	RemoveMember(ctx context.Context, audienceID, subscriberID string) error
	Members(ctx context.Context, audienceID string, limit, offset int) (audience.MemberPage, error)
	SubscriberMemberships(ctx context.Context, subscriberID string) (map[string]bool, error)

	RefreshAllCounts(ctx context.Context) (audience.RefreshSummary, error)
}

var _ AudienceService = (*audience.Service)(nil)
