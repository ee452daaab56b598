// Package rest implements the Nanit cloud HTTP API: login, MFA, token
// refresh, baby listing, cloud event listing, and snapshot fetch.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/google/uuid"
)

// DefaultBaseURL is the production Nanit cloud API host.
const DefaultBaseURL = "https://api.nanit.com"

// apiUserAgent mirrors the mobile app's User-Agent; the cloud API has
// been observed rejecting requests from an obviously non-mobile client.
const apiUserAgent = "Nanit/767 CFNetwork/1498.700.2 Darwin/23.6.0"

// AuthError covers invalid credentials, an expired refresh token, or any
// other auth-rejecting HTTP response from the cloud API.
type AuthError struct{ msg string }

func (e *AuthError) Error() string { return "rest: auth error: " + e.msg }

func newAuthError(format string, args ...any) *AuthError {
	return &AuthError{msg: fmt.Sprintf(format, args...)}
}

// MfaRequiredError signals that login succeeded up to the MFA step; the
// caller must resubmit with MfaToken and the user's MFA code.
type MfaRequiredError struct {
	MfaToken string
}

func (e *MfaRequiredError) Error() string { return "rest: MFA verification required" }

// ConnectionError is a network-level failure (DNS/TCP/TLS) or an
// unexpected non-auth HTTP status.
type ConnectionError struct{ msg string }

func (e *ConnectionError) Error() string { return "rest: connection error: " + e.msg }

func newConnectionError(format string, args ...any) *ConnectionError {
	return &ConnectionError{msg: fmt.Sprintf(format, args...)}
}

// LoginResult carries the token pair returned by login/refresh, plus an
// optional server-provided TTL (Open Question (a): honor expires_in when
// present instead of always assuming 3600s).
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    *int64 // seconds; nil if the server didn't report one
}

// Baby is a camera-owning profile returned by GET /babies.
type Baby struct {
	UID       string
	Name      string
	CameraUID string
}

// CloudEvent is one entry from the cloud messages endpoint.
type CloudEvent struct {
	EventType string
	Timestamp int64
	BabyUID   string
}

// Client is a REST client for the Nanit cloud API. It does not own the
// *http.Client; callers create and close it.
type Client struct {
	http     *http.Client
	baseURL  string
	clientID string
	logger   *log.Logger
}

// New creates a Client against baseURL using httpClient for transport.
// A random client instance ID is generated and sent as
// X-Nanit-Client-Id on every request for log correlation.
func New(httpClient *http.Client, baseURL string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(io.Discard, "[rest] ", log.LstdFlags)
	}
	return &Client{
		http:     httpClient,
		baseURL:  baseURL,
		clientID: uuid.NewString(),
		logger:   logger,
	}
}

func (c *Client) commonHeaders(req *http.Request) {
	req.Header.Set("nanit-api-version", "1")
	req.Header.Set("User-Agent", apiUserAgent)
	req.Header.Set("X-Nanit-Client-Id", c.clientID)
	req.Header.Set("Content-Type", "application/json")
}

// Login authenticates with email/password.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	return c.authRequest(ctx, map[string]string{"email": email, "password": password})
}

// LoginMFA completes a login that previously returned MfaRequiredError.
func (c *Client) LoginMFA(ctx context.Context, email, password, mfaToken, mfaCode string) (*LoginResult, error) {
	return c.authRequest(ctx, map[string]string{
		"email":     email,
		"password":  password,
		"mfa_token": mfaToken,
		"mfa_code":  mfaCode,
	})
}

func (c *Client) authRequest(ctx context.Context, body map[string]string) (*LoginResult, error) {
	data, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(data))
	if err != nil {
		return nil, newConnectionError("%v", err)
	}
	c.commonHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, newConnectionError("%v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newConnectionError("reading login response: %v", err)
	}

	var parsed struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		MfaToken     string `json:"mfa_token"`
		ExpiresIn    *int64 `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, newAuthError("invalid credentials")
		}
		return nil, newConnectionError("decoding login response: %v", err)
	}

	// Checked before any HTTP-status check: Nanit returns a
	// non-standard 482 for this case, and mfa_token in the body takes
	// precedence over whatever status code came with it.
	if parsed.MfaToken != "" {
		return nil, &MfaRequiredError{MfaToken: parsed.MfaToken}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, newAuthError("invalid credentials")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAuthError("login failed with status %d", resp.StatusCode)
	}

	return &LoginResult{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
		ExpiresIn:    parsed.ExpiresIn,
	}, nil
}

// RefreshToken exchanges a refresh token for a new token pair. The
// current (possibly stale) access token is sent bare in Authorization,
// matching the Nanit API's convention of never using a Bearer prefix.
func (c *Client) RefreshToken(ctx context.Context, accessToken, refreshToken string) (*LoginResult, error) {
	data, _ := json.Marshal(map[string]string{"refresh_token": refreshToken})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tokens/refresh", bytes.NewReader(data))
	if err != nil {
		return nil, newConnectionError("%v", err)
	}
	c.commonHeaders(req)
	req.Header.Set("Authorization", accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, newConnectionError("%v", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, newAuthError("refresh token expired")
	case http.StatusUnauthorized:
		return nil, newAuthError("access token invalid during refresh")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAuthError("refresh failed with status %d", resp.StatusCode)
	}

	var parsed struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    *int64 `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, newConnectionError("decoding refresh response: %v", err)
	}

	return &LoginResult{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
		ExpiresIn:    parsed.ExpiresIn,
	}, nil
}

// GetBabies lists every baby profile (and its associated camera) owned
// by the authenticated account.
func (c *Client) GetBabies(ctx context.Context, accessToken string) ([]Baby, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/babies", nil)
	if err != nil {
		return nil, newConnectionError("%v", err)
	}
	c.commonHeaders(req)
	req.Header.Set("Authorization", accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, newConnectionError("%v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, newAuthError("access token invalid")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newConnectionError("babies request failed with status %d", resp.StatusCode)
	}

	var parsed struct {
		Babies []struct {
			UID       string `json:"uid"`
			Name      string `json:"name"`
			CameraUID string `json:"camera_uid"`
		} `json:"babies"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, newConnectionError("decoding babies response: %v", err)
	}

	babies := make([]Baby, 0, len(parsed.Babies))
	for _, b := range parsed.Babies {
		babies = append(babies, Baby{UID: b.UID, Name: b.Name, CameraUID: b.CameraUID})
	}
	return babies, nil
}

// GetEvents lists recent cloud messages (motion/sound notifications) for
// a baby.
func (c *Client) GetEvents(ctx context.Context, accessToken, babyUID string, limit int) ([]CloudEvent, error) {
	url := fmt.Sprintf("%s/babies/%s/messages?limit=%d", c.baseURL, babyUID, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, newConnectionError("%v", err)
	}
	c.commonHeaders(req)
	req.Header.Set("Authorization", accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, newConnectionError("%v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, newAuthError("access token invalid")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newConnectionError("events request failed with status %d", resp.StatusCode)
	}

	var parsed struct {
		Messages []struct {
			Type string `json:"type"`
			Time int64  `json:"time"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, newConnectionError("decoding events response: %v", err)
	}

	events := make([]CloudEvent, 0, len(parsed.Messages))
	for _, m := range parsed.Messages {
		events = append(events, CloudEvent{EventType: m.Type, Timestamp: m.Time, BabyUID: babyUID})
	}
	return events, nil
}

// GetSnapshot fetches a JPEG snapshot. It returns (nil, nil), never an
// error, on any failure, network or HTTP: a missing snapshot is an
// absent value, not a fault worth failing a caller over.
func (c *Client) GetSnapshot(ctx context.Context, accessToken, babyUID string) ([]byte, error) {
	url := fmt.Sprintf("%s/babies/%s/snapshot", c.baseURL, babyUID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.logger.Printf("snapshot request build failed: %v", err)
		return nil, nil
	}
	c.commonHeaders(req)
	req.Header.Set("Authorization", accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Printf("snapshot fetch failed: %v", err)
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Printf("snapshot endpoint returned %d for baby %s", resp.StatusCode, babyUID)
		return nil, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Printf("snapshot read failed: %v", err)
		return nil, nil
	}
	return data, nil
}
