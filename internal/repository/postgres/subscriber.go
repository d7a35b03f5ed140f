package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/cymasphere/cymasphere-website-sub009/internal/domain"
	"github.com/cymasphere/cymasphere-website-sub009/internal/service/audience"
)

const subscriberColumns = `id, email, status, subscribe_date, tags, user_id, created_at, updated_at`

// SubscriberRepo implements audience.SubscriberRepository against PostgreSQL.
type SubscriberRepo struct{ db *sql.DB }

// NewSubscriberRepo creates a Postgres-backed subscriber repository.
func NewSubscriberRepo(db *sql.DB) *SubscriberRepo { return &SubscriberRepo{db: db} }

func scanSubscriber(row rowScanner) (domain.Subscriber, error) {
	var (
		s      domain.Subscriber
		userID sql.NullString
	)
	err := row.Scan(&s.ID, &s.Email, &s.Status, &s.SubscribeDate, pq.Array(&s.Tags), &userID, &s.CreatedAt, &s.UpdatedAt)
	if userID.Valid {
		s.UserID = &userID.String
	}
	return s, err
}

func (r *SubscriberRepo) GetSubscriber(ctx context.Context, id string) (*domain.Subscriber, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, audience.ErrSubscriberNotFound
	}
	s, err := scanSubscriber(r.db.QueryRowContext(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, audience.ErrSubscriberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return &s, nil
}

func (r *SubscriberRepo) FindByEmail(ctx context.Context, email string) (*domain.Subscriber, error) {
	s, err := scanSubscriber(r.db.QueryRowContext(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE LOWER(email) = LOWER($1)`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, audience.ErrSubscriberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find subscriber: %w", err)
	}
	return &s, nil
}

func (r *SubscriberRepo) CreateSubscriber(ctx context.Context, s *domain.Subscriber) (string, error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.Tags == nil {
		s.Tags = []string{}
	}

	return insertSubscriber(ctx, r.db, s)
}

// queryRower is satisfied by *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func insertSubscriber(ctx context.Context, q queryRower, s *domain.Subscriber) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, `
		INSERT INTO subscribers (id, email, status, subscribe_date, tags, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING id
	`, s.ID, s.Email, s.Status, s.SubscribeDate, pq.Array(s.Tags), s.UserID).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert subscriber: %w", err)
	}
	return id, nil
}

func (r *SubscriberRepo) GetSubscribers(ctx context.Context, ids []string) ([]domain.Subscriber, error) {
	ids = validIDs(ids)
	if len(ids) == 0 {
		return []domain.Subscriber{}, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE id = ANY($1::uuid[]) ORDER BY id`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get subscribers: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Subscriber, 0, len(ids))
	for rows.Next() {
		s, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
