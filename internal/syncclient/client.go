// Package syncclient talks to the remote authoritative store: full-document
// snapshot pushes, a live SSE subscription delivering every accepted write,
// and the account endpoints that make up the identity boundary. Failures are
// soft — a failed push sets a status the UI can show and the user's next
// action re-attempts; there is no background retry loop.
package syncclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lurioneli/Sleep-Suivour/internal/document"
	"github.com/lurioneli/Sleep-Suivour/internal/reconcile"
)

// Status is the soft sync indicator surfaced to the user.
type Status string

const (
	StatusIdle  Status = "idle"
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

var (
	ErrNotSignedIn  = errors.New("not signed in")
	ErrUnauthorized = errors.New("unauthorized")
)

// Credentials identify a signed-in account on this device.
type Credentials struct {
	AccountID    string `json:"accountId" yaml:"accountId"`
	Email        string `json:"email" yaml:"email"`
	AccessToken  string `json:"accessToken" yaml:"accessToken"`
	RefreshToken string `json:"refreshToken" yaml:"refreshToken"`
}

// Client is the HTTP client for one syncd server.
type Client struct {
	base   string
	http   *http.Client
	stream *http.Client
	logger *slog.Logger

	mu     sync.Mutex
	creds  Credentials
	status Status

	streamCancel context.CancelFunc
	streamDone   chan struct{}
}

// New creates a client for baseURL. logger may be nil.
func New(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: 30 * time.Second},
		stream: &http.Client{}, // no timeout: the SSE stream stays open
		logger: logger,
		status: StatusIdle,
	}
}

// SetCredentials installs previously-saved credentials.
func (c *Client) SetCredentials(creds Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = creds
}

// Credentials returns the current credentials (zero when signed out).
func (c *Client) Credentials() Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds
}

// SignedIn reports whether an identity is currently attached.
func (c *Client) SignedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds.AccessToken != ""
}

// Status returns the last observed sync status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
}

type authResponse struct {
	AccountID    string `json:"accountId"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// SignUp creates an account and signs in.
func (c *Client) SignUp(ctx context.Context, email, password, displayName string) (Credentials, error) {
	return c.authenticate(ctx, "/api/auth/signup", map[string]string{
		"email":       email,
		"password":    password,
		"displayName": displayName,
	})
}

// SignIn exchanges credentials for a token pair.
func (c *Client) SignIn(ctx context.Context, email, password string) (Credentials, error) {
	return c.authenticate(ctx, "/api/auth/signin", map[string]string{
		"email":    email,
		"password": password,
	})
}

func (c *Client) authenticate(ctx context.Context, path string, body map[string]string) (Credentials, error) {
	var parsed authResponse
	if err := c.sendJSON(ctx, http.MethodPost, path, body, &parsed, false); err != nil {
		return Credentials{}, err
	}
	creds := Credentials{
		AccountID:    parsed.AccountID,
		Email:        body["email"],
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
	}
	c.mu.Lock()
	c.creds = creds
	c.mu.Unlock()
	return creds, nil
}

// Refresh rotates the token pair using the stored refresh token.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	refresh := c.creds.RefreshToken
	email := c.creds.Email
	c.mu.Unlock()
	if refresh == "" {
		return ErrNotSignedIn
	}

	var parsed authResponse
	if err := c.sendJSON(ctx, http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": refresh}, &parsed, false); err != nil {
		return err
	}
	c.mu.Lock()
	c.creds = Credentials{
		AccountID:    parsed.AccountID,
		Email:        email,
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
	}
	c.mu.Unlock()
	return nil
}

// SignOut revokes the refresh token, tears down the stream synchronously and
// clears all sync-local memory, so a late-arriving snapshot from the
// abandoned identity can never reach the next one.
func (c *Client) SignOut(ctx context.Context) {
	c.Close()

	c.mu.Lock()
	refresh := c.creds.RefreshToken
	c.creds = Credentials{}
	c.status = StatusIdle
	c.mu.Unlock()

	if refresh == "" {
		return
	}
	if err := c.sendJSON(ctx, http.MethodPost, "/api/auth/signout", map[string]string{"refreshToken": refresh}, nil, false); err != nil {
		c.logger.Warn("sign-out revoke failed", "error", err)
	}
}

// Push writes a full-document snapshot. The server assigns the write
// timestamp and returns it.
func (c *Client) Push(ctx context.Context, doc *document.Document) (document.Millis, error) {
	if !c.SignedIn() {
		return 0, ErrNotSignedIn
	}

	var parsed struct {
		LastModified document.Millis `json:"lastModified"`
	}
	err := c.sendJSON(ctx, http.MethodPut, "/api/snapshot", map[string]any{"state": doc}, &parsed, true)
	if err != nil {
		c.setStatus(StatusError)
		return 0, fmt.Errorf("push snapshot: %w", err)
	}
	c.setStatus(StatusOK)
	return parsed.LastModified, nil
}

// Fetch reads the current remote snapshot once. Empty is true when the
// account has never pushed.
func (c *Client) Fetch(ctx context.Context) (reconcile.RemoteUpdate, error) {
	if !c.SignedIn() {
		return reconcile.RemoteUpdate{}, ErrNotSignedIn
	}

	resp, err := c.do(ctx, http.MethodGet, "/api/snapshot", nil, true)
	if err != nil {
		c.setStatus(StatusError)
		return reconcile.RemoteUpdate{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		c.setStatus(StatusOK)
		return reconcile.RemoteUpdate{Empty: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		c.setStatus(StatusError)
		return reconcile.RemoteUpdate{}, fmt.Errorf("fetch snapshot: status %d", resp.StatusCode)
	}

	update, err := decodeSnapshot(resp.Body)
	if err != nil {
		c.setStatus(StatusError)
		return reconcile.RemoteUpdate{}, err
	}
	c.setStatus(StatusOK)
	return update, nil
}

// Subscribe opens the live snapshot stream and delivers every observed
// update — including the explicit empty event for a brand-new account — on
// the returned channel. The channel closes when the stream ends or Close is
// called.
func (c *Client) Subscribe(ctx context.Context) (<-chan reconcile.RemoteUpdate, error) {
	if !c.SignedIn() {
		return nil, ErrNotSignedIn
	}

	streamCtx, cancel := context.WithCancel(ctx)
	resp, err := c.doStream(streamCtx, "/api/snapshot/stream")
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("subscribe: status %d", resp.StatusCode)
	}

	updates := make(chan reconcile.RemoteUpdate)
	done := make(chan struct{})

	c.mu.Lock()
	c.streamCancel = cancel
	c.streamDone = done
	c.mu.Unlock()

	go func() {
		defer close(updates)
		defer close(done)
		defer resp.Body.Close()
		c.readStream(streamCtx, resp.Body, updates)
	}()

	return updates, nil
}

// Close tears down the subscription synchronously: when it returns, no
// further update will be delivered.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.streamCancel
	done := c.streamDone
	c.streamCancel = nil
	c.streamDone = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// readStream parses the SSE framing: "event:" and "data:" lines terminated
// by a blank line, with ":" comment lines as keep-alives.
func (c *Client) readStream(ctx context.Context, body io.Reader, updates chan<- reconcile.RemoteUpdate) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)

	var event string
	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			update, ok := parseEvent(event, data.Bytes())
			event = ""
			data.Reset()
			if !ok {
				continue
			}
			select {
			case updates <- update:
			case <-ctx.Done():
				return
			}
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		c.logger.Warn("snapshot stream ended", "error", err)
		c.setStatus(StatusError)
	}
}

func parseEvent(event string, data []byte) (reconcile.RemoteUpdate, bool) {
	switch event {
	case "empty":
		return reconcile.RemoteUpdate{Empty: true}, true
	case "snapshot":
		update, err := decodeSnapshot(bytes.NewReader(data))
		if err != nil {
			return reconcile.RemoteUpdate{}, false
		}
		return update, true
	default:
		return reconcile.RemoteUpdate{}, false
	}
}

func decodeSnapshot(r io.Reader) (reconcile.RemoteUpdate, error) {
	var payload struct {
		State        json.RawMessage `json:"state"`
		LastModified document.Millis `json:"lastModified"`
	}
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return reconcile.RemoteUpdate{}, fmt.Errorf("decode snapshot: %w", err)
	}
	state, err := document.Decode(payload.State, document.Now())
	if err != nil {
		return reconcile.RemoteUpdate{}, fmt.Errorf("decode snapshot state: %w", err)
	}
	return reconcile.RemoteUpdate{State: state, WrittenAt: payload.LastModified}, nil
}

// Version is one archived snapshot revision.
type Version struct {
	Hash         string          `json:"hash"`
	Message      string          `json:"message"`
	LastModified document.Millis `json:"lastModified"`
	CommittedAt  time.Time       `json:"committedAt"`
}

// Versions lists the archived snapshot revisions for the account.
func (c *Client) Versions(ctx context.Context) ([]Version, error) {
	if !c.SignedIn() {
		return nil, ErrNotSignedIn
	}
	resp, err := c.do(ctx, http.MethodGet, "/api/snapshot/versions", nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list versions: status %d", resp.StatusCode)
	}

	var payload struct {
		Versions []Version `json:"versions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode versions: %w", err)
	}
	return payload.Versions, nil
}

// VersionState fetches the archived document at a revision.
func (c *Client) VersionState(ctx context.Context, hash string) (*document.Document, error) {
	if !c.SignedIn() {
		return nil, ErrNotSignedIn
	}
	resp, err := c.do(ctx, http.MethodGet, "/api/snapshot/versions/"+url.PathEscape(hash), nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch version: status %d", resp.StatusCode)
	}

	update, err := decodeSnapshot(resp.Body)
	if err != nil {
		return nil, err
	}
	return update.State, nil
}

// SearchResult is one history-entry hit from the server.
type SearchResult struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Feeling string          `json:"feeling"`
	Note    string          `json:"note"`
	EndTime document.Millis `json:"endTime"`
}

// Search queries the account's history entries.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if !c.SignedIn() {
		return nil, ErrNotSignedIn
	}
	params := url.Values{"q": {query}}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}
	resp, err := c.do(ctx, http.MethodGet, "/api/search?"+params.Encode(), nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search: status %d", resp.StatusCode)
	}

	var payload struct {
		Results []SearchResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode search results: %w", err)
	}
	return payload.Results, nil
}

func (c *Client) sendJSON(ctx context.Context, method, path string, body, target any, authed bool) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	resp, err := c.do(ctx, method, path, raw, authed)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp)
	}
	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do issues the request, transparently refreshing the access token once on a
// 401 when a refresh token is available.
func (c *Client) do(ctx context.Context, method, path string, body []byte, authed bool) (*http.Response, error) {
	resp, err := c.doOnce(ctx, method, path, body, authed)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || !authed {
		return resp, nil
	}
	resp.Body.Close()

	if err := c.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return c.doOnce(ctx, method, path, body, authed)
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte, authed bool) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		c.mu.Lock()
		token := c.creds.AccessToken
		c.mu.Unlock()
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// doStream opens a long-lived GET on the no-timeout client.
func (c *Client) doStream(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	c.mu.Lock()
	token := c.creds.AccessToken
	c.mu.Unlock()
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	return resp, nil
}

func apiError(resp *http.Response) error {
	var payload struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("server: %s (%s)", payload.Error, payload.Code)
	}
	return fmt.Errorf("server: status %d", resp.StatusCode)
}
