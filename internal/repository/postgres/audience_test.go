package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cymasphere/cymasphere-website-sub009/internal/domain"
	"github.com/cymasphere/cymasphere-website-sub009/internal/service/audience"
)

const (
	audA = "6f1c2c1e-7a57-4c1e-9b8e-0a4d5b6c7d01"
	audB = "6f1c2c1e-7a57-4c1e-9b8e-0a4d5b6c7d02"
	subX = "0b7e3c52-1d2f-4e8a-a6a1-1c2d3e4f5a01"
)

var fixedTime = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func audienceRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "description", "filters", "subscriber_count", "created_by", "created_at", "updated_at",
	})
}

func TestAudienceRepo_Get(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAudienceRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM email_audiences WHERE id = $1`)).
		WithArgs(audA).
		WillReturnRows(audienceRows().AddRow(
			audA, "Monthly", "paying users", []byte(`{"rules":[{"field":"subscription","operator":"equals","value":"monthly"}]}`),
			12, nil, fixedTime, fixedTime,
		))

	a, err := repo.Get(context.Background(), audA)
	require.NoError(t, err)
	assert.Equal(t, "Monthly", a.Name)
	require.NotNil(t, a.Description)
	assert.Equal(t, "paying users", *a.Description)
	assert.Nil(t, a.CreatedBy)
	assert.Equal(t, domain.FilterRules, a.Filters.Kind)
	require.Len(t, a.Filters.Rules, 1)
	assert.Equal(t, "subscription", a.Filters.Rules[0].Field)
	assert.Equal(t, 12, a.SubscriberCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAudienceRepo_Get_NotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAudienceRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM email_audiences WHERE id = $1`)).
		WithArgs(audA).
		WillReturnRows(audienceRows())

	_, err := repo.Get(context.Background(), audA)
	assert.ErrorIs(t, err, audience.ErrNotFound)

	// Malformed IDs never reach the database.
	_, err = repo.Get(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, audience.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAudienceRepo_GetMany(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAudienceRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = ANY($1::uuid[])`)).
		WithArgs(pq.Array([]string{audA, audB})).
		WillReturnRows(audienceRows().
			AddRow(audA, "Static", nil, []byte(`{"audience_type":"static"}`), 3, nil, fixedTime, fixedTime).
			AddRow(audB, "Broken", nil, nil, 0, nil, fixedTime, fixedTime))

	got, err := repo.GetMany(context.Background(), []string{audA, "typo", audB})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].IsStatic())
	assert.Equal(t, domain.FilterInvalid, got[1].Filters.Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAudienceRepo_GetMany_CanonicalizesIDs(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAudienceRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = ANY($1::uuid[])`)).
		WithArgs(pq.Array([]string{audA, audB})).
		WillReturnRows(audienceRows().
			AddRow(audA, "Static", nil, []byte(`{"audience_type":"static"}`), 3, nil, fixedTime, fixedTime))

	got, err := repo.GetMany(context.Background(), []string{strings.ToUpper(audA), "{" + audB + "}"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, audA, got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Postgres accepts any UUID spelling but always returns the canonical form,
// so reach must match audiences regardless of how the caller wrote the IDs.
func TestUniqueReach_NonCanonicalIDsOverPostgres(t *testing.T) {
	db, mock := newMock(t)
	svc := audience.NewService(NewAudienceRepo(db), NewSubscriberRepo(db), nil)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = ANY($1::uuid[])`)).
		WithArgs(pq.Array([]string{audA, audB})).
		WillReturnRows(audienceRows().
			AddRow(audA, "Included", nil, []byte(`{"audience_type":"static"}`), 2, nil, fixedTime, fixedTime).
			AddRow(audB, "Excluded", nil, []byte(`{"audience_type":"static"}`), 1, nil, fixedTime, fixedTime))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT subscriber_id FROM email_audience_subscribers WHERE audience_id = $1`)).
		WithArgs(audA).
		WillReturnRows(sqlmock.NewRows([]string{"subscriber_id"}).AddRow(subX).AddRow("s2"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT subscriber_id FROM email_audience_subscribers WHERE audience_id = $1`)).
		WithArgs(audB).
		WillReturnRows(sqlmock.NewRows([]string{"subscriber_id"}).AddRow("s2"))

	res, err := svc.UniqueReach(context.Background(),
		[]string{strings.ToUpper(audA)},
		[]string{"urn:uuid:" + strings.ToUpper(audB)},
	)
	require.NoError(t, err)
	assert.Equal(t, 1, res.UniqueCount)
	assert.Equal(t, domain.ReachDetails{
		TotalIncluded:     2,
		TotalExcluded:     1,
		IncludedAudiences: 1,
		ExcludedAudiences: 1,
	}, res.Details)
	assert.Empty(t, res.Warnings)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAudienceRepo_GetMany_NoValidIDs(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAudienceRepo(db)

	got, err := repo.GetMany(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAudienceRepo_List(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAudienceRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM email_audiences`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY created_at DESC`)).
		WithArgs(2, 0).
		WillReturnRows(audienceRows().
			AddRow(audB, "Newer", nil, []byte(`{}`), 0, nil, fixedTime, fixedTime).
			AddRow(audA, "Older", nil, []byte(`{"audience_type":"static"}`), 1, nil, fixedTime, fixedTime))

	got, total, err := repo.List(context.Background(), audience.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, got, 2)
	assert.Equal(t, "Newer", got[0].Name)
	assert.Equal(t, domain.FilterRules, got[0].Filters.Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAudienceRepo_Create(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAudienceRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO email_audiences`)).
		WithArgs(sqlmock.AnyArg(), "VIP", nil, []byte(`{"audience_type":"static"}`), 0, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(audA))

	id, err := repo.Create(context.Background(), &domain.Audience{Name: "VIP", Filters: domain.StaticFilters()})
	require.NoError(t, err)
	assert.Equal(t, audA, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAudienceRepo_Update(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAudienceRepo(db)

	name := "Renamed"
	filters := domain.RuleFilters()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE email_audiences SET updated_at = NOW(), name = $1, filters = $2 WHERE id = $3`)).
		WithArgs(name, []byte(`{"rules":[]}`), audA).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), audA, audience.UpdateFields{Name: &name, Filters: &filters})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAudienceRepo_Update_NotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAudienceRepo(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE email_audiences SET updated_at = NOW() WHERE id = $1`)).
		WithArgs(audA).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), audA, audience.UpdateFields{})
	assert.ErrorIs(t, err, audience.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAudienceRepo_UpdateSubscriberCount(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAudienceRepo(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE email_audiences SET subscriber_count = $1 WHERE id = $2`)).
		WithArgs(42, audA).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateSubscriberCount(context.Background(), audA, 42))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAudienceRepo_StaticMemberIDs(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAudienceRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT subscriber_id FROM email_audience_subscribers WHERE audience_id = $1`)).
		WithArgs(audA).
		WillReturnRows(sqlmock.NewRows([]string{"subscriber_id"}).AddRow("s1").AddRow("s2"))

	ids, err := repo.StaticMemberIDs(context.Background(), audA)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAudienceRepo_AddMember(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAudienceRepo(db)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO email_audience_subscribers`)).
		WithArgs(sqlmock.AnyArg(), audA, subX).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO email_audience_subscribers`)).
		WithArgs(sqlmock.AnyArg(), audA, subX).
		WillReturnError(&pq.Error{Code: uniqueViolation})

	require.NoError(t, repo.AddMember(context.Background(), audA, subX))
	assert.ErrorIs(t, repo.AddMember(context.Background(), audA, subX), audience.ErrAlreadyMember)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAudienceRepo_AddNewMember(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAudienceRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO subscribers`)).
		WithArgs(subX, "new@example.com", sqlmock.AnyArg(), fixedTime, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(subX))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO email_audience_subscribers`)).
		WithArgs(sqlmock.AnyArg(), audA, subX).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	id, err := repo.AddNewMember(context.Background(), audA, &domain.Subscriber{
		ID: subX, Email: "new@example.com", Status: domain.SubscriberActive, SubscribeDate: fixedTime,
	})
	require.NoError(t, err)
	assert.Equal(t, subX, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAudienceRepo_AddNewMember_RollsBackSubscriber(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAudienceRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO subscribers`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(subX))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO email_audience_subscribers`)).
		WithArgs(sqlmock.AnyArg(), audA, subX).
		WillReturnError(&pq.Error{Code: "23503", Message: "violates foreign key constraint"})
	mock.ExpectRollback()

	_, err := repo.AddNewMember(context.Background(), audA, &domain.Subscriber{
		ID: subX, Email: "new@example.com", Status: domain.SubscriberActive, SubscribeDate: fixedTime,
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAudienceRepo_RemoveMember(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAudienceRepo(db)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM email_audience_subscribers`)).
		WithArgs(audA, subX).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM email_audience_subscribers`)).
		WithArgs(audA, subX).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.RemoveMember(context.Background(), audA, subX))
	assert.ErrorIs(t, repo.RemoveMember(context.Background(), audA, subX), audience.ErrNotMember)
	assert.ErrorIs(t, repo.RemoveMember(context.Background(), audA, "bogus"), audience.ErrNotMember)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAudienceRepo_AudienceIDsForSubscriber(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAudienceRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT audience_id FROM email_audience_subscribers WHERE subscriber_id = $1`)).
		WithArgs(subX).
		WillReturnRows(sqlmock.NewRows([]string{"audience_id"}).AddRow(audA))

	ids, err := repo.AudienceIDsForSubscriber(context.Background(), subX)
	require.NoError(t, err)
	assert.Equal(t, []string{audA}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
