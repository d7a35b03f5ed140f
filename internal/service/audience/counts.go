package audience

import (
	"context"
	"fmt"

	"github.com/cymasphere/cymasphere-website-sub009/internal/domain"
	"github.com/cymasphere/cymasphere-website-sub009/internal/pkg/logger"
)

const refreshAllLockKey = "audience:refresh-counts"

// RefreshSummary reports the outcome of RefreshAllCounts.
type RefreshSummary struct {
	Refreshed int            `json:"refreshed"`
	Failed    int            `json:"failed"`
	Counts    map[string]int `json:"counts"`
}

// RefreshCount recomputes and stores one audience's subscriber_count.
func (s *Service) RefreshCount(ctx context.Context, id string) (int, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return s.refreshCount(ctx, a)
}

// RefreshAllCounts recomputes every audience's subscriber_count. Only one
// refresh-all runs at a time across instances; a concurrent call gets
// ErrLockHeld. Individual failures are counted and the rest continue.
func (s *Service) RefreshAllCounts(ctx context.Context) (RefreshSummary, error) {
	summary := RefreshSummary{Counts: make(map[string]int)}

	if s.locks != nil {
		lock := s.locks(refreshAllLockKey, s.cfg.RefreshLockTTL)
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return summary, fmt.Errorf("acquire refresh lock: %w", err)
		}
		if !ok {
			return summary, ErrLockHeld
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("release refresh lock", "error", err)
			}
		}()
	}

	audiences, _, err := s.repo.List(ctx, ListFilter{})
	if err != nil {
		return summary, fmt.Errorf("list audiences: %w", err)
	}

	for i := range audiences {
		n, err := s.refreshCount(ctx, &audiences[i])
		if err != nil {
			summary.Failed++
			logger.Error("refresh subscriber count", "audience_id", audiences[i].ID, "error", err)
			continue
		}
		summary.Refreshed++
		summary.Counts[audiences[i].ID] = n
	}

	logger.Info("subscriber counts refreshed", "refreshed", summary.Refreshed, "failed", summary.Failed)
	return summary, nil
}

func (s *Service) refreshCount(ctx context.Context, a *domain.Audience) (int, error) {
	n, warnings, err := s.resolver.Count(ctx, a)
	if err != nil {
		countRefreshes.WithLabelValues("error").Inc()
		return 0, err
	}
	observeWarnings(warnings)

	if err := s.repo.UpdateSubscriberCount(ctx, a.ID, n); err != nil {
		countRefreshes.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("store subscriber count: %w", err)
	}
	countRefreshes.WithLabelValues("ok").Inc()
	a.SubscriberCount = n
	return n, nil
}

// refreshBestEffort updates the cached count after a write. The write it
// follows stands even when the count cannot be computed.
func (s *Service) refreshBestEffort(ctx context.Context, a *domain.Audience) {
	if _, err := s.refreshCount(ctx, a); err != nil {
		logger.Warn("subscriber count not updated", "audience_id", a.ID, "error", err)
	}
}
