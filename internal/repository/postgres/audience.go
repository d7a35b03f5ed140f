package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/cymasphere/cymasphere-website-sub009/internal/domain"
	"github.com/cymasphere/cymasphere-website-sub009/internal/service/audience"
)

const uniqueViolation = "23505"

const audienceColumns = `id, name, description, filters, subscriber_count, created_by, created_at, updated_at`

// AudienceRepo implements audience.Repository against PostgreSQL.
type AudienceRepo struct{ db *sql.DB }

// NewAudienceRepo creates a Postgres-backed audience repository.
func NewAudienceRepo(db *sql.DB) *AudienceRepo { return &AudienceRepo{db: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAudience(row rowScanner) (domain.Audience, error) {
	var (
		a           domain.Audience
		description sql.NullString
		createdBy   sql.NullString
		filters     []byte
	)
	if err := row.Scan(&a.ID, &a.Name, &description, &filters, &a.SubscriberCount, &createdBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return a, err
	}
	if description.Valid {
		a.Description = &description.String
	}
	if createdBy.Valid {
		a.CreatedBy = &createdBy.String
	}
	a.Filters = domain.ParseFilterDocument(filters)
	return a, nil
}

// validIDs drops anything that is not a UUID, since such IDs cannot match a
// row, and returns the rest in canonical form.
func validIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if u, err := uuid.Parse(id); err == nil {
			out = append(out, u.String())
		}
	}
	return out
}

func (r *AudienceRepo) Get(ctx context.Context, id string) (*domain.Audience, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, audience.ErrNotFound
	}
	a, err := scanAudience(r.db.QueryRowContext(ctx,
		`SELECT `+audienceColumns+` FROM email_audiences WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, audience.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get audience: %w", err)
	}
	return &a, nil
}

func (r *AudienceRepo) GetMany(ctx context.Context, ids []string) ([]domain.Audience, error) {
	ids = validIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+audienceColumns+` FROM email_audiences WHERE id = ANY($1::uuid[])`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get audiences: %w", err)
	}
	defer rows.Close()

	var out []domain.Audience
	for rows.Next() {
		a, err := scanAudience(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audience: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AudienceRepo) List(ctx context.Context, f audience.ListFilter) ([]domain.Audience, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM email_audiences`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audiences: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = total
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+audienceColumns+`
		FROM email_audiences
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list audiences: %w", err)
	}
	defer rows.Close()

	var out []domain.Audience
	for rows.Next() {
		a, err := scanAudience(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan audience: %w", err)
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (r *AudienceRepo) Create(ctx context.Context, a *domain.Audience) (string, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	filters, err := json.Marshal(a.Filters)
	if err != nil {
		return "", fmt.Errorf("encode filters: %w", err)
	}

	var id string
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO email_audiences (id, name, description, filters, subscriber_count, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING id
	`, a.ID, a.Name, a.Description, filters, a.SubscriberCount, a.CreatedBy).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert audience: %w", err)
	}
	return id, nil
}

func (r *AudienceRepo) Update(ctx context.Context, id string, u audience.UpdateFields) error {
	if _, err := uuid.Parse(id); err != nil {
		return audience.ErrNotFound
	}

	sets := []string{"updated_at = NOW()"}
	args := []interface{}{}
	idx := 1

	if u.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *u.Name)
		idx++
	}
	if u.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", idx))
		args = append(args, *u.Description)
		idx++
	}
	if u.Filters != nil {
		filters, err := json.Marshal(*u.Filters)
		if err != nil {
			return fmt.Errorf("encode filters: %w", err)
		}
		sets = append(sets, fmt.Sprintf("filters = $%d", idx))
		args = append(args, filters)
		idx++
	}

	q := fmt.Sprintf(`UPDATE email_audiences SET %s WHERE id = $%d`, strings.Join(sets, ", "), idx)
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update audience: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return audience.ErrNotFound
	}
	return nil
}

func (r *AudienceRepo) UpdateSubscriberCount(ctx context.Context, id string, count int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE email_audiences SET subscriber_count = $1 WHERE id = $2`, count, id)
	if err != nil {
		return fmt.Errorf("update subscriber count: %w", err)
	}
	return nil
}

func (r *AudienceRepo) StaticMemberIDs(ctx context.Context, audienceID string) ([]string, error) {
	return r.queryIDs(ctx,
		`SELECT subscriber_id FROM email_audience_subscribers WHERE audience_id = $1`, audienceID)
}

func (r *AudienceRepo) AudienceIDsForSubscriber(ctx context.Context, subscriberID string) ([]string, error) {
	if _, err := uuid.Parse(subscriberID); err != nil {
		return nil, nil
	}
	return r.queryIDs(ctx,
		`SELECT audience_id FROM email_audience_subscribers WHERE subscriber_id = $1`, subscriberID)
}

func (r *AudienceRepo) AddMember(ctx context.Context, audienceID, subscriberID string) error {
	return insertMember(ctx, r.db, audienceID, subscriberID)
}

// AddNewMember inserts a new subscriber and its join row in one transaction.
// If the join row cannot be written the subscriber is not created either.
func (r *AudienceRepo) AddNewMember(ctx context.Context, audienceID string, s *domain.Subscriber) (string, error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.Tags == nil {
		s.Tags = []string{}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := insertSubscriber(ctx, tx, s)
	if err != nil {
		return "", err
	}
	if err := insertMember(ctx, tx, audienceID, id); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit new member: %w", err)
	}
	return id, nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertMember(ctx context.Context, ex execer, audienceID, subscriberID string) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO email_audience_subscribers (id, audience_id, subscriber_id, added_at)
		VALUES ($1, $2, $3, NOW())
	`, uuid.New().String(), audienceID, subscriberID)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return audience.ErrAlreadyMember
	}
	if err != nil {
		return fmt.Errorf("add audience member: %w", err)
	}
	return nil
}

func (r *AudienceRepo) RemoveMember(ctx context.Context, audienceID, subscriberID string) error {
	if _, err := uuid.Parse(subscriberID); err != nil {
		return audience.ErrNotMember
	}
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM email_audience_subscribers WHERE audience_id = $1 AND subscriber_id = $2`,
		audienceID, subscriberID,
	)
	if err != nil {
		return fmt.Errorf("remove audience member: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return audience.ErrNotMember
	}
	return nil
}

func (r *AudienceRepo) queryIDs(ctx context.Context, q string, args ...interface{}) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
