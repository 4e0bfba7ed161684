// internal/profile/pgstore_test.go
package profile

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/autofill"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newMockStore(t *testing.T) (*PGStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	store, err := NewPGStore(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return store, mockPool
}

func TestNewPGStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = NewPGStore(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPGStore_Migrate(t *testing.T) {
	store, mockPool := newMockStore(t)
	mockPool.ExpectExec(flexibleSQLMatcher(schema)).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPGStore_Profile(t *testing.T) {
	ctx := context.Background()

	t.Run("decodes the stored document", func(t *testing.T) {
		store, mockPool := newMockStore(t)
		mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT data FROM profiles WHERE key = $1`)).
			WithArgs("home").
			WillReturnRows(pgxmock.NewRows([]string{"data"}).
				AddRow([]byte(`{"billing":{"first_name":"Ada","state":"CA"},"payment":{"card_number":"4242 4242 4242 4242"}}`)))

		p, err := store.Profile(ctx, "home")
		require.NoError(t, err)
		assert.Equal(t, "home", p.Key)
		assert.Equal(t, "Ada", p.Billing.FirstName)
		assert.Equal(t, "4242", p.Payment.Last4())
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("missing row is ErrNotFound", func(t *testing.T) {
		store, mockPool := newMockStore(t)
		mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT data FROM profiles WHERE key = $1`)).
			WithArgs("work").
			WillReturnError(pgx.ErrNoRows)

		_, err := store.Profile(ctx, "work")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPGStore_ListProfiles(t *testing.T) {
	store, mockPool := newMockStore(t)
	mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT key, data FROM profiles ORDER BY key`)).
		WillReturnRows(pgxmock.NewRows([]string{"key", "data"}).
			AddRow("a", []byte(`{"contact":{"email":"a@example.com"}}`)).
			AddRow("b", []byte(`{"contact":{"email":"b@example.com"}}`)))

	profiles, err := store.ListProfiles(context.Background())
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "a", profiles[0].Key)
	assert.Equal(t, "b@example.com", profiles[1].Contact.Email)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPGStore_SaveProfile(t *testing.T) {
	store, mockPool := newMockStore(t)
	mockPool.ExpectExec(`INSERT INTO profiles`).
		WithArgs("home", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveProfile(context.Background(), Profile{Key: "home"}))
	assert.Error(t, store.SaveProfile(context.Background(), Profile{}), "a key is required")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPGStore_Settings(t *testing.T) {
	ctx := context.Background()
	query := flexibleSQLMatcher(`SELECT data FROM script_settings WHERE site = $1`)

	t.Run("stored settings", func(t *testing.T) {
		store, mockPool := newMockStore(t)
		mockPool.ExpectQuery(query).
			WithArgs("demo").
			WillReturnRows(pgxmock.NewRows([]string{"data"}).
				AddRow([]byte(`{"autofill_enabled":true,"autocheckout_enabled":true,"mode":"click","profile_key":"home"}`)))

		st, err := store.Settings(ctx, "demo")
		require.NoError(t, err)
		assert.Equal(t, "demo", st.Site)
		assert.True(t, st.AutocheckoutEnabled)
		assert.Equal(t, autofill.Click, st.Mode)
		assert.Equal(t, "home", st.ProfileKey)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("defaults when absent", func(t *testing.T) {
		store, mockPool := newMockStore(t)
		mockPool.ExpectQuery(query).WithArgs("demo").WillReturnError(pgx.ErrNoRows)

		st, err := store.Settings(ctx, "demo")
		require.NoError(t, err)
		assert.Equal(t, DefaultSettings("demo"), st)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("save", func(t *testing.T) {
		store, mockPool := newMockStore(t)
		mockPool.ExpectExec(`INSERT INTO script_settings`).
			WithArgs("demo", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, store.SaveSettings(ctx, DefaultSettings("demo")))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPGStore_Blacklist(t *testing.T) {
	ctx := context.Background()

	t.Run("read", func(t *testing.T) {
		store, mockPool := newMockStore(t)
		mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT origin FROM blacklist ORDER BY origin`)).
			WillReturnRows(pgxmock.NewRows([]string{"origin"}).AddRow("evil.example").AddRow("https://shop.test"))

		b, err := store.Blacklist(ctx)
		require.NoError(t, err)
		assert.Equal(t, Blacklist{"evil.example", "https://shop.test"}, b)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("replace in one transaction", func(t *testing.T) {
		store, mockPool := newMockStore(t)
		mockPool.ExpectBegin()
		mockPool.ExpectExec(`DELETE FROM blacklist`).WillReturnResult(pgxmock.NewResult("DELETE", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"blacklist"}, []string{"origin"}).WillReturnResult(2)
		mockPool.ExpectCommit()

		require.NoError(t, store.SaveBlacklist(ctx, Blacklist{"a.example", "b.example"}))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("copy failure rolls back", func(t *testing.T) {
		store, mockPool := newMockStore(t)
		copyErr := errors.New("copy failed")
		mockPool.ExpectBegin()
		mockPool.ExpectExec(`DELETE FROM blacklist`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mockPool.ExpectCopyFrom(pgx.Identifier{"blacklist"}, []string{"origin"}).WillReturnError(copyErr)
		mockPool.ExpectRollback()

		err := store.SaveBlacklist(ctx, Blacklist{"a.example"})
		assert.ErrorIs(t, err, copyErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
