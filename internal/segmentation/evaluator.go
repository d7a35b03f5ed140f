package segmentation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/cymasphere/cymasphere-website-sub009/internal/domain"
)

const defaultAntiJoinChunk = 5000

// Result is the outcome of evaluating a rule list. Warnings name the rules
// that contributed no constraint, so an empty set can be told apart from a
// misconfigured audience.
type Result struct {
	IDs      domain.SubscriberSet
	Warnings []domain.ResolutionWarning
}

// Evaluator resolves rule lists against the subscriber store
type Evaluator struct {
	db        *sql.DB
	now       func() time.Time
	chunkSize int
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock overrides the clock relative windows are computed from.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// WithChunkSize bounds how many subscriber IDs one anti-join query carries.
func WithChunkSize(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// NewEvaluator creates a new Evaluator
func NewEvaluator(db *sql.DB, opts ...Option) *Evaluator {
	e := &Evaluator{
		db:        db,
		now:       time.Now,
		chunkSize: defaultAntiJoinChunk,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ==========================================
// SET EVALUATION
// ==========================================

// Evaluate returns every subscriber matching all rules
func (e *Evaluator) Evaluate(ctx context.Context, rules []domain.Rule) (Result, error) {
	now := e.now()
	qb := NewQueryBuilder(now)
	query, args := qb.BuildQuery(rules)

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	ids := domain.NewSubscriberSet()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return Result{}, fmt.Errorf("scan subscriber: %w", err)
		}
		ids.Add(id)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate subscribers: %w", err)
	}

	if days := qb.InactiveDays(); days > 0 && ids.Len() > 0 {
		recent, err := e.openedSince(ctx, ids.IDs(), now.AddDate(0, 0, -days))
		if err != nil {
			return Result{}, err
		}
		ids.Subtract(recent)
	}

	return Result{IDs: ids, Warnings: qb.Warnings()}, nil
}

// Count returns the number of matching subscribers. Rule lists without an
// anti-join are counted in the database.
func (e *Evaluator) Count(ctx context.Context, rules []domain.Rule) (int, []domain.ResolutionWarning, error) {
	qb := NewQueryBuilder(e.now())
	query, args := qb.BuildCountQuery(rules)

	if qb.InactiveDays() > 0 {
		res, err := e.Evaluate(ctx, rules)
		if err != nil {
			return 0, nil, err
		}
		return res.IDs.Len(), res.Warnings, nil
	}

	var count int
	if err := e.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, nil, fmt.Errorf("count subscribers: %w", err)
	}
	return count, qb.Warnings(), nil
}

// openedSince returns which of ids have an email open at or after since.
// IDs are sent in chunks to keep each statement bounded.
func (e *Evaluator) openedSince(ctx context.Context, ids []string, since time.Time) (domain.SubscriberSet, error) {
	opened := domain.NewSubscriberSet()

	for start := 0; start < len(ids); start += e.chunkSize {
		end := min(start+e.chunkSize, len(ids))

		rows, err := e.db.QueryContext(ctx, `
			SELECT DISTINCT subscriber_id FROM email_opens
			WHERE opened_at >= $1 AND subscriber_id = ANY($2)
		`, since, pq.Array(ids[start:end]))
		if err != nil {
			return nil, fmt.Errorf("query email opens: %w", err)
		}

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan email open: %w", err)
			}
			opened.Add(id)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate email opens: %w", err)
		}
	}

	return opened, nil
}

// ==========================================
// REAL-TIME EVALUATION
// ==========================================

// Matches checks if a single subscriber satisfies the rules
func (e *Evaluator) Matches(ctx context.Context, subscriberID string, rules []domain.Rule) (bool, []domain.ResolutionWarning, error) {
	now := e.now()
	qb := NewQueryBuilder(now)
	fullQuery, fullArgs := qb.BuildQuery(rules)

	checkQuery := fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM (%s) matched WHERE matched.id = $%d
		)
	`, fullQuery, len(fullArgs)+1)

	fullArgs = append(fullArgs, subscriberID)

	var matches bool
	if err := e.db.QueryRowContext(ctx, checkQuery, fullArgs...).Scan(&matches); err != nil {
		return false, nil, fmt.Errorf("evaluate subscriber: %w", err)
	}

	if matches && qb.InactiveDays() > 0 {
		since := now.AddDate(0, 0, -qb.InactiveDays())
		var opened bool
		err := e.db.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM email_opens WHERE subscriber_id = $1 AND opened_at >= $2
			)
		`, subscriberID, since).Scan(&opened)
		if err != nil {
			return false, nil, fmt.Errorf("check email opens: %w", err)
		}
		matches = !opened
	}

	return matches, qb.Warnings(), nil
}
