package audience

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cymasphere/cymasphere-website-sub009/internal/domain"
	"github.com/cymasphere/cymasphere-website-sub009/internal/pkg/logger"
)

// UniqueReach returns the number of distinct subscribers reachable through
// the included audiences after removing everyone in an excluded audience.
// Exclusion always wins, including for an audience listed on both sides.
func (s *Service) UniqueReach(ctx context.Context, included, excluded []string) (domain.ReachResult, error) {
	reachRequests.WithLabelValues("single").Inc()
	if len(included) == 0 {
		return domain.ReachResult{}, nil
	}

	audiences, err := s.fetchAudiences(ctx, included, excluded)
	if err != nil {
		return domain.ReachResult{}, err
	}
	return s.computeReach(ctx, audiences, included, excluded)
}

// canonicalID returns the lowercase hyphenated form of a UUID in any form
// uuid.Parse accepts. Other strings are returned unchanged.
func canonicalID(id string) string {
	u, err := uuid.Parse(id)
	if err != nil {
		return id
	}
	return u.String()
}

// fetchAudiences loads every referenced audience in one read, keyed by
// canonical ID.
func (s *Service) fetchAudiences(ctx context.Context, idLists ...[]string) (map[string]*domain.Audience, error) {
	seen := make(map[string]struct{})
	var ids []string
	for _, list := range idLists {
		for _, id := range list {
			if id == "" {
				continue
			}
			id = canonicalID(id)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	byID := make(map[string]*domain.Audience, len(ids))
	if len(ids) == 0 {
		return byID, nil
	}

	audiences, err := s.repo.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch audiences: %w", err)
	}
	for i := range audiences {
		byID[canonicalID(audiences[i].ID)] = &audiences[i]
	}
	return byID, nil
}

// computeReach runs the set algebra over already-fetched audiences. It only
// reads, so concurrent calls may share the audiences map.
func (s *Service) computeReach(ctx context.Context, audiences map[string]*domain.Audience, included, excluded []string) (domain.ReachResult, error) {
	start := time.Now()
	defer func() { reachDuration.Observe(time.Since(start).Seconds()) }()

	var result domain.ReachResult
	if len(included) == 0 {
		return result, nil
	}

	memo := make(map[string]Resolution)

	includedSet, includedFound, warnings, err := s.resolveUnion(ctx, audiences, included, memo)
	if err != nil {
		return result, err
	}
	excludedSet, excludedFound, excludedWarnings, err := s.resolveUnion(ctx, audiences, excluded, memo)
	if err != nil {
		return result, err
	}

	result.Details = domain.ReachDetails{
		TotalIncluded:     includedSet.Len(),
		TotalExcluded:     excludedSet.Len(),
		IncludedAudiences: includedFound,
		ExcludedAudiences: excludedFound,
	}

	includedSet.Subtract(excludedSet)
	result.UniqueCount = includedSet.Len()
	result.Warnings = append(warnings, excludedWarnings...)

	observeWarnings(result.Warnings)
	return result, nil
}

// resolveUnion unions the membership of each distinct ID in ids and counts
// how many of them exist. IDs are compared in canonical form; missing IDs
// become warnings carrying the ID as the caller sent it.
func (s *Service) resolveUnion(ctx context.Context, audiences map[string]*domain.Audience, ids []string, memo map[string]Resolution) (domain.SubscriberSet, int, []domain.ResolutionWarning, error) {
	set := domain.NewSubscriberSet()
	var warnings []domain.ResolutionWarning
	found := 0
	seen := make(map[string]struct{}, len(ids))

	for _, raw := range ids {
		if raw == "" {
			continue
		}
		id := canonicalID(raw)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		a, ok := audiences[id]
		if !ok {
			logger.Warn("audience not found during reach", "audience_id", raw)
			warnings = append(warnings, domain.ResolutionWarning{AudienceID: raw, Kind: domain.WarnAudienceNotFound})
			continue
		}
		found++

		res, cached := memo[id]
		if !cached {
			var err error
			res, err = s.resolver.Resolve(ctx, a)
			if err != nil {
				return nil, 0, nil, err
			}
			memo[id] = res
			warnings = append(warnings, res.Warnings...)
		}
		set.Union(res.IDs)
	}

	return set, found, warnings, nil
}
