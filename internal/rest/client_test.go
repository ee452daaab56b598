package rest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := New(srv.Client(), srv.URL, nil)
	return c, srv
}

func TestLoginSuccess(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "1", r.Header.Get("nanit-api-version"))
		require.NotEmpty(t, r.Header.Get("X-Nanit-Client-Id"))
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"expires_in":    3600,
		})
	})
	defer srv.Close()

	result, err := c.Login(t.Context(), "a@b.com", "secret")
	require.NoError(t, err)
	require.Equal(t, "access-1", result.AccessToken)
	require.Equal(t, "refresh-1", result.RefreshToken)
	require.NotNil(t, result.ExpiresIn)
	require.EqualValues(t, 3600, *result.ExpiresIn)
}

func TestLoginInvalidCredentials(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	defer srv.Close()

	_, err := c.Login(t.Context(), "a@b.com", "wrong")
	require.Error(t, err)
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
}

func TestLoginMfaRequiredTakesPrecedenceOverStatus(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Nanit's non-standard 482 status, with mfa_token in the body.
		w.WriteHeader(482)
		_ = json.NewEncoder(w).Encode(map[string]any{"mfa_token": "mfa-tok"})
	})
	defer srv.Close()

	_, err := c.Login(t.Context(), "a@b.com", "secret")
	require.Error(t, err)
	var mfa *MfaRequiredError
	require.ErrorAs(t, err, &mfa)
	require.Equal(t, "mfa-tok", mfa.MfaToken)
}

func TestLoginMFASendsMfaFields(t *testing.T) {
	var gotBody map[string]string
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-2",
			"refresh_token": "refresh-2",
		})
	})
	defer srv.Close()

	result, err := c.LoginMFA(t.Context(), "a@b.com", "secret", "mfa-tok", "123456")
	require.NoError(t, err)
	require.Equal(t, "access-2", result.AccessToken)
	require.Nil(t, result.ExpiresIn)
	require.Equal(t, "mfa-tok", gotBody["mfa_token"])
	require.Equal(t, "123456", gotBody["mfa_code"])
}

func TestRefreshTokenExpired(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer srv.Close()

	_, err := c.RefreshToken(t.Context(), "stale-access", "stale-refresh")
	require.Error(t, err)
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
}

func TestRefreshTokenSendsBareAccessTokenAuthHeader(t *testing.T) {
	var gotAuth string
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-3",
			"refresh_token": "refresh-3",
		})
	})
	defer srv.Close()

	_, err := c.RefreshToken(t.Context(), "old-access", "a-refresh")
	require.NoError(t, err)
	require.Equal(t, "old-access", gotAuth)
}

func TestGetBabiesParsesList(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"babies": []map[string]string{
				{"uid": "baby-1", "name": "Alice", "camera_uid": "cam-1"},
			},
		})
	})
	defer srv.Close()

	babies, err := c.GetBabies(t.Context(), "tok")
	require.NoError(t, err)
	require.Len(t, babies, 1)
	require.Equal(t, "baby-1", babies[0].UID)
	require.Equal(t, "cam-1", babies[0].CameraUID)
}

func TestGetSnapshotReturnsNilNilOnFailure(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	defer srv.Close()

	data, err := c.GetSnapshot(t.Context(), "tok", "baby-1")
	require.NoError(t, err)
	require.Nil(t, data)
}

func TestGetSnapshotReturnsBytesOnSuccess(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("jpegdata"))
	})
	defer srv.Close()

	data, err := c.GetSnapshot(t.Context(), "tok", "baby-1")
	require.NoError(t, err)
	require.Equal(t, []byte("jpegdata"), data)
}
