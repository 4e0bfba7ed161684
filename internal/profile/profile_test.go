// internal/profile/profile_test.go
package profile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/autofill"
	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/config"
)

func TestBlacklist(t *testing.T) {
	b := Blacklist{"evil.example", "https://Shop.Test:8443", "  "}

	tests := []struct {
		origin string
		want   bool
	}{
		{"https://evil.example", true},
		{"https://checkout.evil.example/cart", true},
		{"notevil.example", false},
		{"http://shop.test", true},
		{"https://other.test", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			assert.Equal(t, tt.want, b.IsBlacklisted(tt.origin))
		})
	}
}

func TestPaymentHelpers(t *testing.T) {
	p := Payment{CardNumber: "4242 4242 4242 1234", ExpYear: "2031"}
	assert.Equal(t, "1234", p.Last4())
	assert.Equal(t, "31", p.ExpShortYear())
	assert.Equal(t, "Ada Lovelace", Address{FirstName: "Ada", LastName: "Lovelace"}.FullName())
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "profiles.json")
	store := NewFileStore(path, zaptest.NewLogger(t))

	// 1. An absent file reads as empty.
	profiles, err := store.ListProfiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, profiles)

	_, err = store.Profile(ctx, "home")
	assert.ErrorIs(t, err, ErrNotFound)

	st, err := store.Settings(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings("demo"), st)

	// 2. Saves create the file and round through it.
	require.NoError(t, store.SaveProfile(ctx, Profile{Key: "work", Contact: Contact{Email: "w@example.com"}}))
	require.NoError(t, store.SaveProfile(ctx, Profile{Key: "home", Billing: Address{FirstName: "Ada"}}))
	require.NoError(t, store.SaveSettings(ctx, Settings{Site: "demo", AutofillEnabled: true, Mode: autofill.Hover, ProfileKey: "home"}))
	require.NoError(t, store.SaveBlacklist(ctx, Blacklist{"evil.example"}))

	reopened := NewFileStore(path, zaptest.NewLogger(t))
	profiles, err = reopened.ListProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "home", profiles[0].Key)
	assert.Equal(t, "Ada", profiles[0].Billing.FirstName)

	st, err = reopened.Settings(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, autofill.Hover, st.Mode)

	b, err := reopened.Blacklist(ctx)
	require.NoError(t, err)
	assert.True(t, b.IsBlacklisted("evil.example"))

	// 3. No temp files are left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	assert.Error(t, store.SaveProfile(ctx, Profile{}))
	assert.Error(t, store.SaveSettings(ctx, Settings{}))
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileStore(path, nil).ListProfiles(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse profile store")
}

func TestOpen(t *testing.T) {
	store, err := Open(context.Background(), config.StoreConfig{Driver: config.StoreDriverFile, Path: filepath.Join(t.TempDir(), "p.json")}, nil)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)
	require.NoError(t, store.Close())

	_, err = Open(context.Background(), config.StoreConfig{Driver: "redis"}, nil)
	assert.Error(t, err)
}
