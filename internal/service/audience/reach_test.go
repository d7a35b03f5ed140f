package audience_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cymasphere/cymasphere-website-sub009/internal/domain"
	"github.com/cymasphere/cymasphere-website-sub009/internal/pkg/distlock"
	"github.com/cymasphere/cymasphere-website-sub009/internal/service/audience"
)

// seedOverlap builds two included-style audiences sharing S2 plus an
// exclusion audience:
//
//	monthly (dynamic) = {S1, S2}
//	recent  (static)  = {S2, S3}
//	churned (static)  = {S3, S4}
func seedOverlap(t *testing.T) (*audience.Service, *memRepo, *fakeRules) {
	t.Helper()
	svc, repo, rules := newTestService()
	repo.addDynamic("monthly", monthlyRule())
	rules.byValue["monthly"] = []string{"S1", "S2"}
	repo.addStatic("recent", "S2", "S3")
	repo.addStatic("churned", "S3", "S4")
	return svc, repo, rules
}

// =============================================================================
// UNIQUE REACH
// =============================================================================

func TestUniqueReach_DeduplicatesOverlap(t *testing.T) {
	svc, _, _ := seedOverlap(t)

	res, err := svc.UniqueReach(context.Background(), []string{"monthly", "recent"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.UniqueCount)
	assert.Equal(t, domain.ReachDetails{
		TotalIncluded:     3,
		TotalExcluded:     0,
		IncludedAudiences: 2,
		ExcludedAudiences: 0,
	}, res.Details)
	assert.Empty(t, res.Warnings)
}

func TestUniqueReach_ExclusionSubtracts(t *testing.T) {
	svc, _, _ := seedOverlap(t)

	res, err := svc.UniqueReach(context.Background(), []string{"monthly", "recent"}, []string{"churned"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.UniqueCount) // S1, S2
	assert.Equal(t, 3, res.Details.TotalIncluded)
	assert.Equal(t, 2, res.Details.TotalExcluded)
	assert.Equal(t, 1, res.Details.ExcludedAudiences)
}

func TestUniqueReach_SelfExclusionIsZero(t *testing.T) {
	svc, _, _ := seedOverlap(t)

	for _, id := range []string{"monthly", "recent", "churned"} {
		res, err := svc.UniqueReach(context.Background(), []string{id}, []string{id})
		require.NoError(t, err)
		assert.Equal(t, 0, res.UniqueCount, id)
		assert.Equal(t, 1, res.Details.IncludedAudiences, id)
		assert.Equal(t, 1, res.Details.ExcludedAudiences, id)
	}
}

func TestUniqueReach_EmptyIncludedTouchesNothing(t *testing.T) {
	svc, repo, rules := seedOverlap(t)

	res, err := svc.UniqueReach(context.Background(), nil, []string{"churned"})
	require.NoError(t, err)
	assert.Equal(t, domain.ReachResult{}, res)
	assert.Zero(t, repo.getManyHits)
	assert.Zero(t, rules.calls)
}

func TestUniqueReach_Monotonicity(t *testing.T) {
	svc, _, _ := seedOverlap(t)
	ctx := context.Background()
	all := []string{"monthly", "recent", "churned"}

	for _, inc := range all {
		base, err := svc.UniqueReach(ctx, []string{inc}, nil)
		require.NoError(t, err)
		for _, extra := range all {
			more, err := svc.UniqueReach(ctx, []string{inc, extra}, nil)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, more.UniqueCount, base.UniqueCount, "adding %s to %s", extra, inc)

			less, err := svc.UniqueReach(ctx, []string{inc}, []string{extra})
			require.NoError(t, err)
			assert.LessOrEqual(t, less.UniqueCount, base.UniqueCount, "excluding %s from %s", extra, inc)
		}
	}
}

func TestUniqueReach_StaticIgnoresRules(t *testing.T) {
	svc, repo, rules := newTestService()
	rules.byValue["monthly"] = []string{"S1", "S2", "S3", "S4"}
	repo.addStatic("vip", "S9")
	repo.audiences["vip"].Filters = domain.ParseFilterDocument([]byte(
		`{"audience_type":"static","rules":[{"field":"subscription","value":"monthly"}]}`))

	res, err := svc.UniqueReach(context.Background(), []string{"vip"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.UniqueCount)
	assert.Zero(t, rules.calls)
}

func TestUniqueReach_MissingAndBrokenAudiencesContributeNothing(t *testing.T) {
	svc, repo, _ := seedOverlap(t)
	repo.audiences["broken"] = &domain.Audience{ID: "broken", Filters: domain.ParseFilterDocument([]byte("null"))}

	res, err := svc.UniqueReach(context.Background(), []string{"monthly", "typo", "broken"}, []string{"ghost"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.UniqueCount)
	assert.Equal(t, 2, res.Details.IncludedAudiences, "found audiences only")
	assert.Equal(t, 0, res.Details.ExcludedAudiences)

	kinds := map[domain.WarningKind][]string{}
	for _, w := range res.Warnings {
		kinds[w.Kind] = append(kinds[w.Kind], w.AudienceID)
	}
	assert.ElementsMatch(t, []string{"typo", "ghost"}, kinds[domain.WarnAudienceNotFound])
	assert.Equal(t, []string{"broken"}, kinds[domain.WarnFiltersMissing])
}

func TestUniqueReach_DuplicateIDsCountedOnce(t *testing.T) {
	svc, _, rules := seedOverlap(t)

	res, err := svc.UniqueReach(context.Background(), []string{"monthly", "monthly"}, []string{"monthly"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.UniqueCount)
	assert.Equal(t, 1, res.Details.IncludedAudiences)
	assert.Equal(t, 1, rules.calls, "resolution is reused within one calculation")
}

func TestUniqueReach_StoreErrorIsFatal(t *testing.T) {
	svc, repo, rules := seedOverlap(t)
	dbErr := errors.New("connection refused")

	rules.failOn["monthly"] = dbErr
	_, err := svc.UniqueReach(context.Background(), []string{"recent", "monthly"}, nil)
	assert.ErrorIs(t, err, dbErr)

	delete(rules.failOn, "monthly")
	repo.failGetMany = dbErr
	_, err = svc.UniqueReach(context.Background(), []string{"recent"}, nil)
	assert.ErrorIs(t, err, dbErr)
}

func TestUniqueReach_MatchesAnyUUIDSpelling(t *testing.T) {
	const (
		vip     = "3d6f0a1b-2c4e-4f5a-8b9c-0d1e2f3a4b01"
		churned = "3d6f0a1b-2c4e-4f5a-8b9c-0d1e2f3a4b02"
	)
	svc, repo, _ := newTestService()
	repo.addStatic(vip, "S1", "S2")
	repo.addStatic(churned, "S2")

	res, err := svc.UniqueReach(context.Background(),
		[]string{strings.ToUpper(vip), vip},
		[]string{"{" + strings.ToUpper(churned) + "}"},
	)
	require.NoError(t, err)
	assert.Equal(t, 1, res.UniqueCount, "excluded members must not count toward reach")
	assert.Equal(t, domain.ReachDetails{
		TotalIncluded:     2,
		TotalExcluded:     1,
		IncludedAudiences: 1,
		ExcludedAudiences: 1,
	}, res.Details)
	assert.Empty(t, res.Warnings)
}

func TestUniqueReach_MissingIDWarningKeepsCallerSpelling(t *testing.T) {
	svc, _, _ := newTestService()
	missing := "3D6F0A1B-2C4E-4F5A-8B9C-0D1E2F3A4BFF"

	res, err := svc.UniqueReach(context.Background(), []string{missing}, nil)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, missing, res.Warnings[0].AudienceID)
	assert.Equal(t, domain.WarnAudienceNotFound, res.Warnings[0].Kind)
}

// =============================================================================
// BATCH
// =============================================================================

func TestBatchReach_MatchesAnyUUIDSpelling(t *testing.T) {
	const (
		vip     = "3d6f0a1b-2c4e-4f5a-8b9c-0d1e2f3a4b01"
		churned = "3d6f0a1b-2c4e-4f5a-8b9c-0d1e2f3a4b02"
	)
	svc, repo, _ := newTestService()
	repo.addStatic(vip, "S1", "S2")
	repo.addStatic(churned, "S2")

	got, err := svc.BatchReach(context.Background(), []domain.ReachRequest{
		{ID: "Spring-Sale", AudienceIDs: []string{strings.ToUpper(vip)}, ExcludedAudienceIDs: []string{"urn:uuid:" + churned}},
		{ID: "spring-sale", AudienceIDs: []string{vip}},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got["Spring-Sale"].UniqueCount)
	assert.Equal(t, 1, got["Spring-Sale"].Details.ExcludedAudiences)
	assert.Equal(t, 2, got["spring-sale"].UniqueCount)
	assert.Equal(t, 1, repo.getManyHits)
}

func TestBatchReach_IsolatesItems(t *testing.T) {
	svc, repo, rules := seedOverlap(t)
	repo.addDynamic("flaky", domain.NewRule("subscription", "equals", "flaky"))
	rules.failOn["flaky"] = errors.New("query timeout")

	got, err := svc.BatchReach(context.Background(), []domain.ReachRequest{
		{ID: "c1", AudienceIDs: []string{"monthly", "recent"}},
		{ID: "c2", AudienceIDs: []string{"monthly", "recent"}, ExcludedAudienceIDs: []string{"churned"}},
		{ID: "c3", AudienceIDs: []string{"does-not-exist"}},
		{ID: "c4", AudienceIDs: []string{"recent", "flaky"}},
		{ID: "c5"},
	})
	require.NoError(t, err)
	require.Len(t, got, 5)

	assert.Equal(t, 3, got["c1"].UniqueCount)
	assert.Equal(t, 2, got["c2"].UniqueCount)
	assert.Equal(t, 0, got["c3"].UniqueCount)
	assert.Equal(t, domain.ReachDetails{}, got["c3"].Details)
	assert.Equal(t, domain.ReachResult{}, got["c4"], "failed item is zeroed")
	assert.Equal(t, domain.ReachResult{}, got["c5"])

	assert.Equal(t, 1, repo.getManyHits, "audience records are fetched once per batch")
}

func TestBatchReach_NoCrossItemDeduplication(t *testing.T) {
	svc, _, _ := seedOverlap(t)

	got, err := svc.BatchReach(context.Background(), []domain.ReachRequest{
		{ID: "a", AudienceIDs: []string{"monthly"}},
		{ID: "b", AudienceIDs: []string{"monthly"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, got["a"].UniqueCount)
	assert.Equal(t, 2, got["b"].UniqueCount)
}

func TestBatchReach_SharedFetchFailureFailsRequest(t *testing.T) {
	svc, repo, _ := seedOverlap(t)
	repo.failGetMany = errors.New("db down")

	_, err := svc.BatchReach(context.Background(), []domain.ReachRequest{
		{ID: "c1", AudienceIDs: []string{"monthly"}},
	})
	assert.Error(t, err)
}

func TestBatchReach_Empty(t *testing.T) {
	svc, repo, _ := seedOverlap(t)

	got, err := svc.BatchReach(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, repo.getManyHits)
}

func TestBatchReach_RespectsConcurrencyOption(t *testing.T) {
	repo := newMemRepo()
	rules := newFakeRules()
	svc := audience.NewService(repo, repo, rules, audience.WithConfig(audience.Config{BatchConcurrency: 1}))
	repo.addStatic("vip", "S1")

	items := make([]domain.ReachRequest, 20)
	for i := range items {
		items[i] = domain.ReachRequest{ID: string(rune('a' + i)), AudienceIDs: []string{"vip"}}
	}
	got, err := svc.BatchReach(context.Background(), items)
	require.NoError(t, err)
	for _, it := range items {
		assert.Equal(t, 1, got[it.ID].UniqueCount)
	}
}

// =============================================================================
// SUBSCRIBER-COUNT CACHE
// =============================================================================

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRefreshAllCounts(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc, repo, rules := newTestService(audience.WithLocks(distlock.NewFactory(client, nil)))
	seedRepo(repo, rules)

	summary, err := svc.RefreshAllCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Refreshed)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 2, repo.audiences["recent"].SubscriberCount)
	assert.Equal(t, 2, summary.Counts["monthly"])
}

func TestRefreshAllCounts_LockHeldElsewhere(t *testing.T) {
	client, _ := setupTestRedis(t)
	factory := distlock.NewFactory(client, nil)
	svc, _, _ := newTestService(audience.WithLocks(factory))

	other := factory("audience:refresh-counts", time.Minute)
	ok, err := other.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	_, err = svc.RefreshAllCounts(context.Background())
	assert.ErrorIs(t, err, audience.ErrLockHeld)

	require.NoError(t, other.Release(context.Background()))
	_, err = svc.RefreshAllCounts(context.Background())
	assert.NoError(t, err)
}

func TestRefreshAllCounts_ContinuesPastFailures(t *testing.T) {
	svc, repo, rules := newTestService()
	seedRepo(repo, rules)
	rules.failOn["monthly"] = errors.New("timeout")

	summary, err := svc.RefreshAllCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Refreshed)
	assert.Equal(t, 1, summary.Failed)
}

func TestRefreshCount(t *testing.T) {
	svc, repo, rules := newTestService()
	seedRepo(repo, rules)

	n, err := svc.RefreshCount(context.Background(), "churned")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = svc.RefreshCount(context.Background(), "missing")
	assert.ErrorIs(t, err, audience.ErrNotFound)
}

func seedRepo(repo *memRepo, rules *fakeRules) {
	repo.addDynamic("monthly", monthlyRule())
	rules.byValue["monthly"] = []string{"S1", "S2"}
	repo.addStatic("recent", "S2", "S3")
	repo.addStatic("churned", "S3", "S4")
}
