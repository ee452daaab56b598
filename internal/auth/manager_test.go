package auth

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nanit/internal/rest"
)

func newManagerAgainst(t *testing.T, refreshCount *int64, handler http.HandlerFunc) *TokenManager {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	restClient := rest.New(srv.Client(), srv.URL, nil)
	return NewTokenManager(restClient, "stale-access", "a-refresh", time.Hour, nil)
}

func TestGetAccessTokenSkipsRefreshWhenFresh(t *testing.T) {
	var calls int64
	mgr := newManagerAgainst(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
	})
	tok, err := mgr.GetAccessToken(t.Context(), time.Minute)
	require.NoError(t, err)
	require.Equal(t, "stale-access", tok)
	require.Zero(t, atomic.LoadInt64(&calls))
}

func TestGetAccessTokenRefreshesExactlyOnceUnderContention(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"access_token":"fresh","refresh_token":"fresh-refresh","expires_in":3600}`))
	}))
	defer srv.Close()

	restClient := rest.New(srv.Client(), srv.URL, nil)
	mgr := NewTokenManager(restClient, "stale", "refresh", -time.Second, nil)

	const n = 20
	var wg sync.WaitGroup
	tokens := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := mgr.GetAccessToken(t.Context(), time.Minute)
			require.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt64(&calls))
	for _, tok := range tokens {
		require.Equal(t, "fresh", tok)
	}
}

func TestOnTokensRefreshedFiresWithNewPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"access_token":"new-a","refresh_token":"new-r"}`))
	}))
	defer srv.Close()

	restClient := rest.New(srv.Client(), srv.URL, nil)
	mgr := NewTokenManager(restClient, "old-a", "old-r", time.Hour, nil)

	var gotAccess, gotRefresh string
	unsubscribe := mgr.OnTokensRefreshed(func(a, r string) {
		gotAccess, gotRefresh = a, r
	})

	require.NoError(t, mgr.ForceRefresh(t.Context()))
	require.Equal(t, "new-a", gotAccess)
	require.Equal(t, "new-r", gotRefresh)

	unsubscribe()
	// Unsubscribing twice must not panic or remove another subscriber.
	unsubscribe()

	gotAccess = ""
	require.NoError(t, mgr.ForceRefresh(t.Context()))
	require.Empty(t, gotAccess)
}

func TestForceRefreshPropagatesAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	restClient := rest.New(srv.Client(), srv.URL, nil)
	mgr := NewTokenManager(restClient, "a", "r", time.Hour, nil)

	err := mgr.ForceRefresh(t.Context())
	require.Error(t, err)
	var re *rest.AuthError
	require.ErrorAs(t, err, &re)
}
