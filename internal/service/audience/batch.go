package audience

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/cymasphere/cymasphere-website-sub009/internal/domain"
	"github.com/cymasphere/cymasphere-website-sub009/internal/pkg/logger"
)

// BatchReach computes the reach of each request independently, keyed by
// request ID. Audience records are fetched once for the whole batch; a
// failure there fails the call. A failure inside one item is logged and that
// item reports a zero result while the rest complete normally.
func (s *Service) BatchReach(ctx context.Context, items []domain.ReachRequest) (map[string]domain.ReachResult, error) {
	reachRequests.WithLabelValues("batch").Inc()
	results := make(map[string]domain.ReachResult, len(items))
	if len(items) == 0 {
		return results, nil
	}

	idLists := make([][]string, 0, 2*len(items))
	for _, it := range items {
		idLists = append(idLists, it.AudienceIDs, it.ExcludedAudienceIDs)
	}
	audiences, err := s.fetchAudiences(ctx, idLists...)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ReachResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BatchConcurrency)

	for i, it := range items {
		g.Go(func() error {
			res, err := s.computeItem(gctx, audiences, it)
			if err != nil {
				batchItemFailures.Inc()
				logger.Error("batch reach item failed", "campaign_id", it.ID, "error", err)
				return nil
			}
			out[i] = res
			return nil
		})
	}
	// items never return errors, so Wait only synchronizes
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, it := range items {
		results[it.ID] = out[i]
	}
	return results, nil
}

func (s *Service) computeItem(ctx context.Context, audiences map[string]*domain.Audience, it domain.ReachRequest) (res domain.ReachResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = domain.ReachResult{}, fmt.Errorf("panic: %v", r)
		}
	}()
	return s.computeReach(ctx, audiences, it.AudienceIDs, it.ExcludedAudienceIDs)
}
