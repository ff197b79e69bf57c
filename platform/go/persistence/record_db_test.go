package persistence

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/require"

	"github.com/nivello-hq/nivello-core/platform/go/tenant"
)

func TestRecordDBWithTenantRewritesStatements(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM products WHERE (id = $1) AND products.tenant_id = $2")).
		WithArgs("p1", "tenant-a").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	db := newRecordDB(mock, testFilter(t))
	err = db.WithTenant(context.Background(), "tenant-a", func(sess *Session) error {
		tag, execErr := sess.Exec(context.Background(), "DELETE FROM products WHERE id = $1", "p1")
		if execErr != nil {
			return execErr
		}
		require.EqualValues(t, 1, tag.RowsAffected())
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDBWithTenantRequiresTenantID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	db := newRecordDB(mock, testFilter(t))
	err = db.WithTenant(context.Background(), "  ", func(sess *Session) error { return nil })
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDBWithAdminSkipsRewriting(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM products")).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("p1").AddRow("p2"))
	mock.ExpectCommit()

	db := newRecordDB(mock, testFilter(t))
	err = db.WithAdmin(context.Background(), func(sess *Session) error {
		_, hasTenant := sess.TenantID()
		require.False(t, hasTenant)

		rows, queryErr := sess.Query(context.Background(), "SELECT id FROM products")
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		var ids []string
		for rows.Next() {
			var id string
			if scanErr := rows.Scan(&id); scanErr != nil {
				return scanErr
			}
			ids = append(ids, id)
		}
		require.Equal(t, []string{"p1", "p2"}, ids)
		return rows.Err()
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDBRollsBackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	db := newRecordDB(mock, testFilter(t))
	boom := errors.New("boom")
	err = db.WithTenant(context.Background(), "tenant-a", func(sess *Session) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDBWithContextTenant(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	db := newRecordDB(mock, testFilter(t))

	err = db.WithContextTenant(context.Background(), func(sess *Session) error { return nil })
	require.ErrorIs(t, err, ErrInvalidArgument)

	mock.ExpectBegin()
	mock.ExpectCommit()

	ctx := tenant.WithID(context.Background(), "tenant-a")
	err = db.WithContextTenant(ctx, func(sess *Session) error {
		id, ok := sess.TenantID()
		require.True(t, ok)
		require.Equal(t, "tenant-a", id)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
