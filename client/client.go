// Package client is the top-level entry point for this module: it owns
// the REST client and the logged-in account's Token Manager, and hands
// out one *camera.Controller per camera, started lazily and cached for
// the process lifetime.
package client

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"nanit/internal/auth"
	"nanit/internal/camera"
	"nanit/internal/rest"
)

// Config configures a Client at construction.
type Config struct {
	BaseURL    string // defaults to rest.DefaultBaseURL
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Client is a logged-in Nanit account session: one REST client, one
// Token Manager, and a cache of running camera controllers.
type Client struct {
	rest     *rest.Client
	tokenMgr *auth.TokenManager
	logger   *log.Logger

	mu          sync.Mutex
	controllers map[string]*camera.Controller
}

// Login authenticates with email/password against the Nanit cloud API
// and returns a ready-to-use Client. If the account has MFA enabled,
// Login returns *rest.MfaRequiredError; call LoginMFA with the same
// email/password plus the error's MfaToken and the user's MFA code.
func Login(ctx context.Context, email, password string, cfg Config) (*Client, error) {
	restClient := newRestClient(cfg)
	result, err := restClient.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return newClient(restClient, result, cfg), nil
}

// LoginMFA completes a login that previously returned *rest.MfaRequiredError.
func LoginMFA(ctx context.Context, email, password, mfaToken, mfaCode string, cfg Config) (*Client, error) {
	restClient := newRestClient(cfg)
	result, err := restClient.LoginMFA(ctx, email, password, mfaToken, mfaCode)
	if err != nil {
		return nil, err
	}
	return newClient(restClient, result, cfg), nil
}

// Restore builds a Client from a previously persisted token pair (see
// internal/store), skipping the login/MFA round trip entirely.
func Restore(accessToken, refreshToken string, expiresAt time.Time, cfg Config) *Client {
	restClient := newRestClient(cfg)
	logger := loggerOrDefault(cfg.Logger)
	tokenMgr := auth.NewTokenManager(restClient, accessToken, refreshToken, time.Until(expiresAt), logger)
	return &Client{
		rest:        restClient,
		tokenMgr:    tokenMgr,
		logger:      logger,
		controllers: make(map[string]*camera.Controller),
	}
}

func newRestClient(cfg Config) *rest.Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = rest.DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return rest.New(httpClient, baseURL, loggerOrDefault(cfg.Logger))
}

func newClient(restClient *rest.Client, result *rest.LoginResult, cfg Config) *Client {
	logger := loggerOrDefault(cfg.Logger)
	expiresIn := time.Duration(0)
	if result.ExpiresIn != nil {
		expiresIn = time.Duration(*result.ExpiresIn) * time.Second
	}
	tokenMgr := auth.NewTokenManager(restClient, result.AccessToken, result.RefreshToken, expiresIn, logger)
	return &Client{
		rest:        restClient,
		tokenMgr:    tokenMgr,
		logger:      logger,
		controllers: make(map[string]*camera.Controller),
	}
}

func loggerOrDefault(logger *log.Logger) *log.Logger {
	if logger != nil {
		return logger
	}
	return log.New(io.Discard, "[client] ", log.LstdFlags)
}

// TokenManager exposes the account's Token Manager, e.g. to register a
// persistence callback via OnTokensRefreshed.
func (c *Client) TokenManager() *auth.TokenManager {
	return c.tokenMgr
}

// GetBabies lists every baby profile (and its associated camera) on the
// account.
func (c *Client) GetBabies(ctx context.Context) ([]rest.Baby, error) {
	token, err := c.tokenMgr.GetAccessToken(ctx, time.Minute)
	if err != nil {
		return nil, err
	}
	return c.rest.GetBabies(ctx, token)
}

// GetEvents lists recent cloud messages (motion/sound notifications) for
// a baby, in the order the endpoint returns them. Failures during normal operation, token refresh
// or the messages endpoint itself, surface as an empty list, never an
// error: the poll runs on a cadence and the next round will catch up.
func (c *Client) GetEvents(ctx context.Context, babyUID string, limit int) []rest.CloudEvent {
	token, err := c.tokenMgr.GetAccessToken(ctx, time.Minute)
	if err != nil {
		c.logger.Printf("events: token fetch failed: %v", err)
		return nil
	}
	events, err := c.rest.GetEvents(ctx, token, babyUID, limit)
	if err != nil {
		c.logger.Printf("events: fetch for baby %s failed: %v", babyUID, err)
		return nil
	}
	return events
}

// CameraOptions configures how Camera connects to a given camera.
type CameraOptions struct {
	PreferLocal bool
	LocalIP     string
}

// Camera returns the running Controller for (uid, babyUID), starting
// one on first access. Subsequent calls for the same uid return the
// cached controller; opts is only consulted the first time.
func (c *Client) Camera(ctx context.Context, uid, babyUID string, opts CameraOptions) (*camera.Controller, error) {
	c.mu.Lock()
	if ctrl, ok := c.controllers[uid]; ok {
		c.mu.Unlock()
		return ctrl, nil
	}
	c.mu.Unlock()

	ctrl := camera.New(uid, babyUID, c.tokenMgr, c.rest, camera.Options{
		PreferLocal: opts.PreferLocal,
		LocalIP:     opts.LocalIP,
		Logger:      c.logger,
	})
	if err := ctrl.Start(ctx); err != nil {
		return nil, fmt.Errorf("client: starting camera %s: %w", uid, err)
	}

	c.mu.Lock()
	if existing, ok := c.controllers[uid]; ok {
		c.mu.Unlock()
		_ = ctrl.Stop()
		return existing, nil
	}
	c.controllers[uid] = ctrl
	c.mu.Unlock()
	return ctrl, nil
}

// Close stops every cached camera controller. It does not close the
// underlying *http.Client, which the Client never owned.
func (c *Client) Close() error {
	c.mu.Lock()
	controllers := c.controllers
	c.controllers = make(map[string]*camera.Controller)
	c.mu.Unlock()

	var firstErr error
	for _, ctrl := range controllers {
		if err := ctrl.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
