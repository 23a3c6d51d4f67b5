// Package client is the calling-side companion of the auth API. Its job
// beyond plain HTTP plumbing is the refresh protocol: when many in-flight
// requests discover an expired access token at once, exactly one refresh
// call goes over the wire and every waiting request is replayed with the
// new token.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

var (
	// ErrSessionExpired is delivered to every request waiting on a refresh
	// that failed. The caller must re-authenticate.
	ErrSessionExpired = errors.New("session expired, re-authentication required")
	// ErrClosed is delivered to waiters when the client is torn down while
	// a refresh is in flight.
	ErrClosed = errors.New("client closed")
	// ErrNotAuthenticated is returned when no refresh token is held.
	ErrNotAuthenticated = errors.New("not authenticated")
)

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

type refreshResult struct {
	accessToken string
	err         error
}

// Client wraps http.Client with bearer-token auth and single-flight
// refresh. The coordinator state lives behind mu: the refreshing flag is
// the mutex over the refresh exchange, waiters is the FIFO queue of
// suspended callers. The "in-flight refreshes <= 1" invariant is enforced
// by this structure, not by caller discipline.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	refreshTimeout time.Duration

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	refreshing   bool
	waiters      []chan refreshResult
	closed       bool
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRefreshTimeout bounds the refresh exchange. A refresh that never
// completes fails the queue instead of hanging callers.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Client) { c.refreshTimeout = d }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        baseURL,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		refreshTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTokens seeds the stored pair, e.g. from persisted session state, and
// revives a closed client.
func (c *Client) SetTokens(access, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = access
	c.refreshToken = refresh
	c.closed = false
}

// Tokens returns the currently stored pair.
func (c *Client) Tokens() (access, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken, c.refreshToken
}

// Login authenticates and stores the issued pair.
func (c *Client) Login(ctx context.Context, email, password string) error {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("login failed: %s", string(b))
	}

	var pair TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return err
	}

	c.SetTokens(pair.AccessToken, pair.RefreshToken)
	return nil
}

// Logout revokes the stored refresh token and clears local state. A refresh
// in flight at this moment completes on the wire but its result is
// discarded, and its waiters fail.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	refresh := c.refreshToken
	c.mu.Unlock()

	c.Close()

	if refresh == "" {
		return nil
	}

	body, err := json.Marshal(map[string]string{"refresh_token": refresh})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/logout", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Close tears the session down: stored tokens are cleared and queued
// waiters are drained with failure immediately. The client can be reused
// after a fresh Login.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.accessToken = ""
	c.refreshToken = ""

	for _, w := range c.waiters {
		w <- refreshResult{err: ErrClosed}
	}
	c.waiters = nil
}

// Do executes a request with the stored access token. On the first 401 it
// runs the refresh protocol and retries the request once with the new
// token; a second 401 is surfaced to the caller rather than re-entering
// the coordinator.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	token := c.accessToken
	c.mu.Unlock()

	resp, err := c.send(req, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	newToken, err := c.awaitRefresh(req.Context())
	if err != nil {
		return nil, err
	}

	// Exactly one retry; whatever comes back now is the caller's answer.
	return c.send(req, newToken)
}

// send executes one attempt. The request body is rebuilt via GetBody so a
// retried request replays its payload.
func (c *Client) send(req *http.Request, token string) (*http.Response, error) {
	attempt := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		attempt.Body = body
	}

	if token != "" {
		attempt.Header.Set("Authorization", "Bearer "+token)
	}

	return c.httpClient.Do(attempt)
}

// awaitRefresh is the coordinator. The first caller to arrive while the
// state is idle becomes the leader and performs the one refresh call;
// everyone else parks on a buffered channel in arrival order and is woken
// with the leader's outcome.
func (c *Client) awaitRefresh(ctx context.Context) (string, error) {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}

	if c.refreshToken == "" {
		c.mu.Unlock()
		return "", ErrNotAuthenticated
	}

	if c.refreshing {
		// A refresh is already in flight: enqueue and wait.
		w := make(chan refreshResult, 1)
		c.waiters = append(c.waiters, w)
		c.mu.Unlock()

		select {
		case res := <-w:
			return res.accessToken, res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	c.refreshing = true
	refresh := c.refreshToken
	c.mu.Unlock()

	pair, err := c.callRefresh(refresh)

	c.mu.Lock()
	c.refreshing = false

	if c.closed {
		// Torn down mid-flight: waiters were already drained by Close,
		// the late result is discarded.
		c.mu.Unlock()
		return "", ErrClosed
	}

	var res refreshResult
	if err != nil {
		// Refresh failed: every waiter fails, stored tokens are cleared,
		// the caller must force re-authentication.
		c.accessToken = ""
		c.refreshToken = ""
		res = refreshResult{err: ErrSessionExpired}
	} else {
		c.accessToken = pair.AccessToken
		if pair.RefreshToken != "" {
			c.refreshToken = pair.RefreshToken
		}
		res = refreshResult{accessToken: pair.AccessToken}
	}

	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	// Drain in arrival order.
	for _, w := range waiters {
		w <- res
	}

	return res.accessToken, res.err
}

// callRefresh performs the single wire call, bounded by the refresh
// timeout regardless of any one caller's context.
func (c *Client) callRefresh(refreshToken string) (*TokenPair, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.refreshTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/refresh", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("refresh rejected: %s", string(b))
	}

	var pair TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return nil, err
	}

	return &pair, nil
}

// GetJSON is a convenience wrapper: GET path, decode the JSON answer.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed (%d): %s", resp.StatusCode, string(b))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// PostJSON posts a JSON payload and decodes the answer.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed (%d): %s", resp.StatusCode, string(b))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
