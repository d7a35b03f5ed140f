package audience

import (
	"context"
	"fmt"

	"github.com/cymasphere/cymasphere-website-sub009/internal/domain"
	"github.com/cymasphere/cymasphere-website-sub009/internal/pkg/logger"
)

// Resolution is the membership of one audience plus any reasons part of it
// contributed nothing.
type Resolution struct {
	IDs      domain.SubscriberSet
	Warnings []domain.ResolutionWarning
}

// Resolver turns an audience record into its subscriber set.
type Resolver struct {
	repo  Repository
	rules RuleEvaluator
}

// NewResolver creates a Resolver reading static membership from repo and
// evaluating dynamic audiences with rules.
func NewResolver(repo Repository, rules RuleEvaluator) *Resolver {
	return &Resolver{repo: repo, rules: rules}
}

// Resolve returns the members of a. Broken audiences resolve to the empty
// set with a warning; only store errors are returned.
func (r *Resolver) Resolve(ctx context.Context, a *domain.Audience) (Resolution, error) {
	if a == nil {
		return emptyResolution(domain.ResolutionWarning{Kind: domain.WarnAudienceNotFound}), nil
	}

	switch a.Filters.Kind {
	case domain.FilterStatic:
		ids, err := r.repo.StaticMemberIDs(ctx, a.ID)
		if err != nil {
			return Resolution{}, fmt.Errorf("static members of %s: %w", a.ID, err)
		}
		return Resolution{IDs: domain.NewSubscriberSet(ids...)}, nil

	case domain.FilterRules:
		res, err := r.rules.Evaluate(ctx, a.Filters.Rules)
		if err != nil {
			return Resolution{}, fmt.Errorf("evaluate audience %s: %w", a.ID, err)
		}
		return Resolution{IDs: res.IDs, Warnings: stamp(a.ID, res.Warnings)}, nil
	}

	logger.Warn("audience has unusable filters", "audience_id", a.ID, "problem", a.Filters.Problem)
	return emptyResolution(domain.ResolutionWarning{
		AudienceID: a.ID,
		Kind:       domain.WarnFiltersMissing,
		Detail:     a.Filters.Problem,
	}), nil
}

// Count returns the cardinality of a's membership, letting the evaluator
// count in the database where it can.
func (r *Resolver) Count(ctx context.Context, a *domain.Audience) (int, []domain.ResolutionWarning, error) {
	switch a.Filters.Kind {
	case domain.FilterStatic:
		ids, err := r.repo.StaticMemberIDs(ctx, a.ID)
		if err != nil {
			return 0, nil, fmt.Errorf("static members of %s: %w", a.ID, err)
		}
		return domain.NewSubscriberSet(ids...).Len(), nil, nil

	case domain.FilterRules:
		n, warnings, err := r.rules.Count(ctx, a.Filters.Rules)
		if err != nil {
			return 0, nil, fmt.Errorf("count audience %s: %w", a.ID, err)
		}
		return n, stamp(a.ID, warnings), nil
	}

	return 0, []domain.ResolutionWarning{{
		AudienceID: a.ID,
		Kind:       domain.WarnFiltersMissing,
		Detail:     a.Filters.Problem,
	}}, nil
}

// Matches reports whether subscriberID belongs to a. staticMember carries
// the join-table answer so callers can batch that lookup.
func (r *Resolver) Matches(ctx context.Context, a *domain.Audience, subscriberID string, staticMember bool) (bool, error) {
	switch a.Filters.Kind {
	case domain.FilterStatic:
		return staticMember, nil
	case domain.FilterRules:
		ok, _, err := r.rules.Matches(ctx, subscriberID, a.Filters.Rules)
		if err != nil {
			return false, fmt.Errorf("evaluate audience %s: %w", a.ID, err)
		}
		return ok, nil
	}
	return false, nil
}

func emptyResolution(w domain.ResolutionWarning) Resolution {
	return Resolution{IDs: domain.NewSubscriberSet(), Warnings: []domain.ResolutionWarning{w}}
}

func stamp(audienceID string, warnings []domain.ResolutionWarning) []domain.ResolutionWarning {
	for i := range warnings {
		warnings[i].AudienceID = audienceID
	}
	return warnings
}
