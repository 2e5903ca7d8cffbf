package registry

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/capsule"
	"github.com/nrf1proto/capsule/pkg/sealer"
)

func newMockRegistry(t *testing.T) (*SQLRegistry, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS registry_capsules")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	r, err := NewSQLRegistry(context.Background(), db, DialectSQLite)
	require.NoError(t, err)
	return r, mock, db
}

func TestSQLRegistryPutInsertsRow(t *testing.T) {
	r, mock, db := newMockRegistry(t)
	defer db.Close()

	kp, err := sealer.Generate()
	require.NoError(t, err)
	c, err := capsule.Build(
		capsule.Header{Src: "svc-a", Ts: 1, Act: "intake.submit"},
		capsule.Envelope{Body: canon.Int(1), HasEvidence: true},
		kp.Kid, "", "", false, capsule.VerdictAllow, kp,
	)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO registry_capsules")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, r.Put(c))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRegistryGetNotFound(t *testing.T) {
	r, mock, db := newMockRegistry(t)
	defer db.Close()

	var id [32]byte
	mock.ExpectQuery(regexp.QuoteMeta("SELECT domain, verdict")).
		WithArgs(canon.EncodeHex(id[:])).
		WillReturnRows(sqlmock.NewRows([]string{
			"domain", "verdict", "header_hex", "body_hex", "links_hex", "evidence_json",
			"has_evidence", "seal_kid", "seal_aud", "has_aud", "seal_sig_hex", "receipts_json",
		}))

	_, ok, err := r.Get(id)
	require.NoError(t, err)
	require.False(t, ok)
}
