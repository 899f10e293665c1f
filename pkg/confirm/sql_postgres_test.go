package confirm

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/anf-aiops/opsbot/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ticketColumns = []string{"ticket_id", "tenant_id", "conversation_id", "user_id", "operation_name", "params", "issued_at", "expires_at", "consumed"}

func newPostgresMock(t *testing.T) (*SQLStore, sqlmock.Sqlmock, *fakeClock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS confirmation_tickets")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	clock := newFakeClock()
	s, err := NewSQLStore(context.Background(), db, database.Postgres, time.Minute)
	require.NoError(t, err)
	return s.WithClock(clock.Now), mock, clock
}

func TestSQLStore_Postgres_Request(t *testing.T) {
	s, mock, clock := newPostgresMock(t)
	ctx := context.Background()
	now := clock.Now()
	params := map[string]string{"name": "vol1"}
	key, err := ticketKey("acme", "c", "u", "delete_volume", params)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE confirmation_tickets SET active_key = NULL WHERE active_key = $1 AND expires_at <= $2")).
		WithArgs(key, now.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO confirmation_tickets")).
		WithArgs(sqlmock.AnyArg(), key, key, "acme", "c", "u", "delete_volume", `{"name":"vol1"}`, now.UnixMilli(), now.Add(time.Minute).UnixMilli()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM confirmation_tickets WHERE active_key = $1")).
		WithArgs(key).
		WillReturnRows(sqlmock.NewRows(ticketColumns).
			AddRow("t-1", "acme", "c", "u", "delete_volume", `{"name":"vol1"}`, now.UnixMilli(), now.Add(time.Minute).UnixMilli(), 0))
	mock.ExpectCommit()

	tk, err := s.RequestConfirmation(ctx, "acme", "c", "u", "delete_volume", params)
	require.NoError(t, err)
	assert.Equal(t, "t-1", tk.TicketID)
	assert.Equal(t, "acme", tk.TenantID)
	assert.Equal(t, params, tk.TargetParameters)
	assert.False(t, tk.Consumed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Postgres_Consume(t *testing.T) {
	s, mock, clock := newPostgresMock(t)
	ctx := context.Background()
	now := clock.Now()

	consume := regexp.QuoteMeta("UPDATE confirmation_tickets SET consumed = 1, active_key = NULL WHERE ticket_id = $1 AND consumed = 0 AND expires_at > $2 RETURNING")
	status := regexp.QuoteMeta("SELECT consumed, expires_at FROM confirmation_tickets WHERE ticket_id = $1")

	// success
	mock.ExpectQuery(consume).
		WithArgs("t-1", now.UnixMilli()).
		WillReturnRows(sqlmock.NewRows(ticketColumns).
			AddRow("t-1", "acme", "c", "u", "delete_volume", `{"name":"vol1"}`, now.UnixMilli(), now.Add(time.Minute).UnixMilli(), 1))
	tk, err := s.Consume(ctx, "t-1")
	require.NoError(t, err)
	assert.True(t, tk.Consumed)

	// already consumed
	mock.ExpectQuery(consume).WithArgs("t-1", now.UnixMilli()).WillReturnRows(sqlmock.NewRows(ticketColumns))
	mock.ExpectQuery(status).WithArgs("t-1").
		WillReturnRows(sqlmock.NewRows([]string{"consumed", "expires_at"}).AddRow(1, now.Add(time.Minute).UnixMilli()))
	_, err = s.Consume(ctx, "t-1")
	assert.ErrorIs(t, err, ErrAlreadyConsumed)

	// expired
	mock.ExpectQuery(consume).WithArgs("t-2", now.UnixMilli()).WillReturnRows(sqlmock.NewRows(ticketColumns))
	mock.ExpectQuery(status).WithArgs("t-2").
		WillReturnRows(sqlmock.NewRows([]string{"consumed", "expires_at"}).AddRow(0, now.UnixMilli()))
	_, err = s.Consume(ctx, "t-2")
	assert.ErrorIs(t, err, ErrExpired)

	// consumed and past its deadline
	mock.ExpectQuery(consume).WithArgs("t-4", now.UnixMilli()).WillReturnRows(sqlmock.NewRows(ticketColumns))
	mock.ExpectQuery(status).WithArgs("t-4").
		WillReturnRows(sqlmock.NewRows([]string{"consumed", "expires_at"}).AddRow(1, now.Add(-time.Second).UnixMilli()))
	_, err = s.Consume(ctx, "t-4")
	assert.ErrorIs(t, err, ErrExpired)

	// unknown
	mock.ExpectQuery(consume).WithArgs("t-3", now.UnixMilli()).WillReturnRows(sqlmock.NewRows(ticketColumns))
	mock.ExpectQuery(status).WithArgs("t-3").WillReturnRows(sqlmock.NewRows([]string{"consumed", "expires_at"}))
	_, err = s.Consume(ctx, "t-3")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
