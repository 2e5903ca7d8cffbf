package sqlstore

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/nrf1proto/capsule/pkg/permit"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS permit_tickets")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	s, err := New(context.Background(), db, DialectSQLite)
	require.NoError(t, err)
	return s, mock, db
}

func TestCreateInsertsRow(t *testing.T) {
	s, mock, db := newMockStore(t)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO permit_tickets")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	tk := &permit.Ticket{
		TicketID:      "t1",
		Tenant:        "acme",
		Status:        permit.StatusPending,
		ExpiresAt:     1000,
		RequiredRoles: []string{"ops"},
		K:             1,
		N:             1,
		CreatedAt:     1,
	}
	require.NoError(t, s.Create(tk))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetScansRow(t *testing.T) {
	s, mock, db := newMockStore(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"ticket_id", "tenant", "status", "expires_at", "required_roles", "k", "n",
		"approvals", "created_at", "closed_at", "resume_after_step", "manifest_name",
	}).AddRow("t1", "acme", "PENDING", int64(1000), `["ops"]`, 1, 1, `[]`, int64(1), nil, 0, "")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT ticket_id, tenant, status")).
		WithArgs("t1").
		WillReturnRows(rows)

	tk, ok, err := s.Get("t1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, permit.StatusPending, tk.Status)
	require.Equal(t, []string{"ops"}, tk.RequiredRoles)
}

func TestGetNotFound(t *testing.T) {
	s, mock, db := newMockStore(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT ticket_id, tenant, status")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"ticket_id", "tenant", "status", "expires_at", "required_roles", "k", "n",
			"approvals", "created_at", "closed_at", "resume_after_step", "manifest_name",
		}))

	_, ok, err := s.Get("missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpdateRewritesRow(t *testing.T) {
	s, mock, db := newMockStore(t)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE permit_tickets SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tk := &permit.Ticket{
		TicketID: "t1", Tenant: "acme", Status: permit.StatusAllow, ExpiresAt: 1000,
		RequiredRoles: []string{"ops"}, K: 1, N: 1, Approvals: []string{"ops"},
		CreatedAt: 1, ClosedAt: 5, HasClosedAt: true,
	}
	require.NoError(t, s.Update(tk))
	require.NoError(t, mock.ExpectationsWereMet())
}
