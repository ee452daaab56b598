package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nanit.db")
	s, err := New(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadTokensRoundTrips(t *testing.T) {
	s := openTestStore(t)
	passphrase := []byte("correct horse battery staple")
	expiresAt := time.Now().Add(time.Hour).Truncate(time.Second)

	require.NoError(t, s.SaveTokens("a@b.com", "access-1", "refresh-1", expiresAt, passphrase))

	rec, err := s.LoadTokens("a@b.com", passphrase)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "access-1", rec.AccessToken)
	require.Equal(t, "refresh-1", rec.RefreshToken)
	require.WithinDuration(t, expiresAt, rec.ExpiresAt, time.Second)
}

func TestLoadTokensMissingReturnsNilNil(t *testing.T) {
	s := openTestStore(t)
	rec, err := s.LoadTokens("nobody@b.com", []byte("pass"))
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestLoadTokensWrongPassphraseFails(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveTokens("a@b.com", "access-1", "refresh-1", time.Now(), []byte("right-pass")))

	_, err := s.LoadTokens("a@b.com", []byte("wrong-pass"))
	require.Error(t, err)
}

func TestSaveTokensUpsertsOnSecondCall(t *testing.T) {
	s := openTestStore(t)
	passphrase := []byte("pass")
	require.NoError(t, s.SaveTokens("a@b.com", "access-1", "refresh-1", time.Now(), passphrase))
	require.NoError(t, s.SaveTokens("a@b.com", "access-2", "refresh-2", time.Now(), passphrase))

	rec, err := s.LoadTokens("a@b.com", passphrase)
	require.NoError(t, err)
	require.Equal(t, "access-2", rec.AccessToken)
	require.Equal(t, "refresh-2", rec.RefreshToken)
}

func TestSaveAndListBabies(t *testing.T) {
	s := openTestStore(t)
	babies := []Baby{
		{UID: "baby-2", Name: "Bob", CameraUID: "cam-2"},
		{UID: "baby-1", Name: "Alice", CameraUID: "cam-1"},
	}
	require.NoError(t, s.SaveBabies(babies))

	got, err := s.ListBabies()
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "Alice", got[0].Name) // ordered by name
	require.Equal(t, "Bob", got[1].Name)
}

func TestLastLocalIPRoundTrips(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveBabies([]Baby{{UID: "baby-1", Name: "Alice", CameraUID: "cam-1"}}))

	ip, err := s.LastLocalIP("baby-1")
	require.NoError(t, err)
	require.Empty(t, ip)

	require.NoError(t, s.SaveLastLocalIP("baby-1", "192.168.1.50"))
	ip, err = s.LastLocalIP("baby-1")
	require.NoError(t, err)
	require.Equal(t, "192.168.1.50", ip)
}

func TestDeleteTokensRemovesRecord(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveTokens("a@b.com", "access-1", "refresh-1", time.Now(), []byte("pass")))
	require.NoError(t, s.DeleteTokens("a@b.com"))

	rec, err := s.LoadTokens("a@b.com", []byte("pass"))
	require.NoError(t, err)
	require.Nil(t, rec)
}
