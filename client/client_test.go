package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nanit/internal/rest"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestLoginSuccessReturnsUsableClient(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/login", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"expires_in":    3600,
		})
	})

	c, err := Login(t.Context(), "a@b.com", "hunter2", Config{BaseURL: server.URL})
	require.NoError(t, err)
	require.Equal(t, "access-1", c.TokenManager().AccessToken())
}

func TestLoginMfaRequiredPropagatesError(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(482)
		json.NewEncoder(w).Encode(map[string]any{"mfa_token": "mfa-tok"})
	})

	_, err := Login(t.Context(), "a@b.com", "hunter2", Config{BaseURL: server.URL})
	require.Error(t, err)
	var mfaErr *rest.MfaRequiredError
	require.ErrorAs(t, err, &mfaErr)
	require.Equal(t, "mfa-tok", mfaErr.MfaToken)
}

func TestGetBabiesUsesCurrentAccessToken(t *testing.T) {
	var sawAuth string
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			json.NewEncoder(w).Encode(map[string]any{
				"access_token": "access-1", "refresh_token": "refresh-1", "expires_in": 3600,
			})
		case "/babies":
			sawAuth = r.Header.Get("Authorization")
			json.NewEncoder(w).Encode(map[string]any{
				"babies": []map[string]any{{"uid": "baby-1", "name": "Alice", "camera_uid": "cam-1"}},
			})
		}
	})

	c, err := Login(t.Context(), "a@b.com", "hunter2", Config{BaseURL: server.URL})
	require.NoError(t, err)

	babies, err := c.GetBabies(t.Context())
	require.NoError(t, err)
	require.Len(t, babies, 1)
	require.Equal(t, "baby-1", babies[0].UID)
	require.Equal(t, "access-1", sawAuth)
}

func TestCameraCachesControllerAcrossCalls(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-1", "refresh_token": "refresh-1", "expires_in": 3600,
		})
	})

	c, err := Login(t.Context(), "a@b.com", "hunter2", Config{BaseURL: server.URL})
	require.NoError(t, err)

	// Start normally fails here (no real camera/cloud reachable from this
	// test); Camera then returns the error and caches nothing. Only when
	// Start succeeds does a second call have to return the same instance
	// rather than starting a duplicate connection attempt.
	ctrl1, err1 := c.Camera(t.Context(), "cam-1", "baby-1", CameraOptions{})
	if err1 == nil {
		ctrl2, err2 := c.Camera(t.Context(), "cam-1", "baby-1", CameraOptions{})
		require.NoError(t, err2)
		require.Same(t, ctrl1, ctrl2)
	}
}

func TestGetEventsReturnsCloudEvents(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			json.NewEncoder(w).Encode(map[string]any{
				"access_token": "access-1", "refresh_token": "refresh-1", "expires_in": 3600,
			})
		case "/babies/baby-1/messages":
			require.Equal(t, "5", r.URL.Query().Get("limit"))
			json.NewEncoder(w).Encode(map[string]any{
				"messages": []map[string]any{{"type": "MOTION", "time": 1722550000}},
			})
		}
	})

	c, err := Login(t.Context(), "a@b.com", "hunter2", Config{BaseURL: server.URL})
	require.NoError(t, err)

	events := c.GetEvents(t.Context(), "baby-1", 5)
	require.Len(t, events, 1)
	require.Equal(t, "MOTION", events[0].EventType)
	require.Equal(t, "baby-1", events[0].BabyUID)
}

func TestGetEventsFailureSurfacesAsEmptyList(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			json.NewEncoder(w).Encode(map[string]any{
				"access_token": "access-1", "refresh_token": "refresh-1", "expires_in": 3600,
			})
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	c, err := Login(t.Context(), "a@b.com", "hunter2", Config{BaseURL: server.URL})
	require.NoError(t, err)

	require.Empty(t, c.GetEvents(t.Context(), "baby-1", 5))
}

func TestRestoreBuildsClientWithoutNetworkCall(t *testing.T) {
	c := Restore("access-1", "refresh-1", time.Now().Add(time.Hour), Config{})
	require.Equal(t, "access-1", c.TokenManager().AccessToken())
}

func TestCloseStopsAllCachedControllers(t *testing.T) {
	// No controller is cached here, so this checks only that Close
	// succeeds on an empty cache and is idempotent.
	c := Restore("access-1", "refresh-1", time.Now().Add(time.Hour), Config{})
	require.NoError(t, c.Close())
	require.NoError(t, c.Close()) // idempotent
}
