package gateways

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ochairo/macrelease/internal/domain/interfaces"
	"github.com/ochairo/macrelease/internal/domain/interfaces/gateways"
)

const (
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxBackoff     = 32 * time.Second

	defaultGitHubAPI = "https://api.github.com"
)

// HTTPGitHubGateway talks to the GitHub REST API for release uploads
type HTTPGitHubGateway struct {
	client    *http.Client
	token     string
	userAgent string
	baseURL   string
	clock     interfaces.Clock
	logger    interfaces.Logger
}

// GitHubOption configures the gateway
type GitHubOption func(*HTTPGitHubGateway)

// WithGitHubBaseURL points the gateway at a GitHub Enterprise or test server
func WithGitHubBaseURL(baseURL string) GitHubOption {
	return func(g *HTTPGitHubGateway) { g.baseURL = strings.TrimSuffix(baseURL, "/") }
}

// WithGitHubClock replaces the clock used for retry backoff
func WithGitHubClock(clock interfaces.Clock) GitHubOption {
	return func(g *HTTPGitHubGateway) { g.clock = clock }
}

// WithGitHubLogger sets the logger
func WithGitHubLogger(logger interfaces.Logger) GitHubOption {
	return func(g *HTTPGitHubGateway) { g.logger = logger }
}

// NewHTTPGitHubGateway returns a gateway authenticated with token
func NewHTTPGitHubGateway(token string, opts ...GitHubOption) *HTTPGitHubGateway {
	g := &HTTPGitHubGateway{
		client: &http.Client{
			Timeout: 10 * time.Minute, // disk images can be large
		},
		token:     token,
		userAgent: "macrelease/1.0",
		baseURL:   defaultGitHubAPI,
		clock:     interfaces.RealClock{},
		logger:    &interfaces.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// checkRateLimit fails fast once the primary rate limit is spent, since
// retrying cannot succeed before the reset time
func (g *HTTPGitHubGateway) checkRateLimit(resp *http.Response) error {
	remaining, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
	if err != nil {
		return nil
	}

	if remaining == 0 {
		if resetUnix, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
			return fmt.Errorf("GitHub API rate limit exceeded (0 remaining), resets at %s", time.Unix(resetUnix, 0).Format(time.RFC3339))
		}
		return fmt.Errorf("GitHub API rate limit exceeded (0 remaining)")
	}

	if remaining <= 10 {
		g.logger.Warn("GitHub API rate limit low", interfaces.F("remaining", remaining))
	}
	return nil
}

// retryable reports whether a status is worth another attempt. 403 is included
// because secondary rate limits answer with it.
func retryable(status int) bool {
	return status == http.StatusForbidden || status == http.StatusTooManyRequests || status >= http.StatusInternalServerError && status != http.StatusNotImplemented
}

// backoff doubles from initialBackoff per attempt, capped at maxBackoff
func backoff(attempt int) time.Duration {
	d := initialBackoff << attempt
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

// doWithRetry executes a request with exponential backoff. newReq is called
// per attempt so request bodies are never reused after being consumed.
func (g *HTTPGitHubGateway) doWithRetry(ctx context.Context, newReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := g.clock.Sleep(ctx, backoff(attempt-1)); err != nil {
				return nil, err
			}
		}

		req, err := newReq()
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "token "+g.token)
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("User-Agent", g.userAgent)

		resp, err := g.client.Do(req)
		if err != nil {
			lastErr = err
			g.logger.Debug("GitHub request failed", interfaces.F("attempt", attempt+1), interfaces.F("error", err))
			continue
		}

		if rateLimitErr := g.checkRateLimit(resp); rateLimitErr != nil {
			_ = resp.Body.Close()
			return nil, rateLimitErr
		}

		if !retryable(resp.StatusCode) || attempt == maxRetries {
			return resp, nil
		}

		_ = resp.Body.Close()
	}

	return nil, lastErr
}

func (g *HTTPGitHubGateway) repoURL(owner, repo, suffix string) string {
	return fmt.Sprintf("%s/repos/%s/%s/%s", g.baseURL, url.PathEscape(owner), url.PathEscape(repo), suffix)
}

// apiCall describes one GitHub REST round trip
type apiCall struct {
	op          string
	method      string
	url         string
	body        []byte
	contentType string
	want        []int
}

// send performs the call and decodes a JSON response into out when out is non-nil.
// A 404 that is not in want is reported as errNotFound so callers can map it.
func (g *HTTPGitHubGateway) send(ctx context.Context, call apiCall, out any) error {
	resp, err := g.doWithRetry(ctx, func() (*http.Request, error) {
		var body io.Reader
		if call.body != nil {
			body = bytes.NewReader(call.body)
		}
		req, err := http.NewRequestWithContext(ctx, call.method, call.url, body)
		if err != nil {
			return nil, err
		}
		if call.contentType != "" {
			req.Header.Set("Content-Type", call.contentType)
			req.ContentLength = int64(len(call.body))
		}
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("failed to %s: %w", call.op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !slices.Contains(call.want, resp.StatusCode) {
		if resp.StatusCode == http.StatusNotFound {
			return errNotFound
		}
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("failed to %s: status %d: %s", call.op, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", call.op, err)
	}
	return nil
}

var errNotFound = errors.New("not found")

// releasePayload is the subset of the releases API this tool reads and writes
type releasePayload struct {
	ID        int64  `json:"id,omitempty"`
	TagName   string `json:"tag_name"`
	Name      string `json:"name"`
	Body      string `json:"body"`
	HTMLURL   string `json:"html_url,omitempty"`
	UploadURL string `json:"upload_url,omitempty"`
}

func (r releasePayload) release() *gateways.GitHubRelease {
	return &gateways.GitHubRelease{ID: r.ID, TagName: r.TagName, Name: r.Name, Body: r.Body, HTMLURL: r.HTMLURL, UploadURL: r.UploadURL}
}

type assetPayload struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	State              string `json:"state"`
	Size               int64  `json:"size"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

func (a assetPayload) asset() *gateways.GitHubAsset {
	return &gateways.GitHubAsset{ID: a.ID, Name: a.Name, State: a.State, Size: a.Size, BrowserDownloadURL: a.BrowserDownloadURL}
}

// CreateRelease publishes a non-draft release for the tag
func (g *HTTPGitHubGateway) CreateRelease(ctx context.Context, owner, repo string, release *gateways.GitHubRelease) (*gateways.GitHubRelease, error) {
	body, err := json.Marshal(releasePayload{TagName: release.TagName, Name: release.Name, Body: release.Body})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal release: %w", err)
	}
	var out releasePayload
	err = g.send(ctx, apiCall{
		op:          "create release " + release.TagName,
		method:      http.MethodPost,
		url:         g.repoURL(owner, repo, "releases"),
		body:        body,
		contentType: "application/json",
		want:        []int{http.StatusCreated},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.release(), nil
}

// GetRelease looks a release up by tag
func (g *HTTPGitHubGateway) GetRelease(ctx context.Context, owner, repo, tag string) (*gateways.GitHubRelease, error) {
	var out releasePayload
	err := g.send(ctx, apiCall{
		op:     "get release " + tag,
		method: http.MethodGet,
		url:    g.repoURL(owner, repo, "releases/tags/"+url.PathEscape(tag)),
		want:   []int{http.StatusOK},
	}, &out)
	if errors.Is(err, errNotFound) {
		return nil, fmt.Errorf("%w: %s", gateways.ErrReleaseNotFound, tag)
	}
	if err != nil {
		return nil, err
	}
	return out.release(), nil
}

// UploadAsset posts the content to the release's upload endpoint. The upload
// URL is the templated form returned by the API, e.g. ".../assets{?name,label}".
func (g *HTTPGitHubGateway) UploadAsset(ctx context.Context, uploadURL, filename string, content io.Reader) (*gateways.GitHubAsset, error) {
	endpoint, _, _ := strings.Cut(uploadURL, "{")
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid upload URL: %w", err)
	}
	endpoint = strings.Replace(endpoint, "://api.github.com", "://uploads.github.com", 1)

	// buffered so retries can replay the body
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}

	var out assetPayload
	err = g.send(ctx, apiCall{
		op:          "upload " + filename,
		method:      http.MethodPost,
		url:         endpoint + "?name=" + url.QueryEscape(filename),
		body:        data,
		contentType: "application/octet-stream",
		want:        []int{http.StatusCreated},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.asset(), nil
}

// ListReleaseAssets returns the first page (100) of assets, which covers every
// asset this tool uploads
func (g *HTTPGitHubGateway) ListReleaseAssets(ctx context.Context, owner, repo string, releaseID int64) ([]*gateways.GitHubAsset, error) {
	var out []assetPayload
	err := g.send(ctx, apiCall{
		op:     "list assets",
		method: http.MethodGet,
		url:    g.repoURL(owner, repo, fmt.Sprintf("releases/%d/assets?per_page=100", releaseID)),
		want:   []int{http.StatusOK},
	}, &out)
	if err != nil {
		return nil, err
	}
	assets := make([]*gateways.GitHubAsset, 0, len(out))
	for _, a := range out {
		assets = append(assets, a.asset())
	}
	return assets, nil
}

// DeleteAsset removes a release asset. A missing asset counts as deleted.
func (g *HTTPGitHubGateway) DeleteAsset(ctx context.Context, owner, repo string, assetID int64) error {
	return g.send(ctx, apiCall{
		op:     fmt.Sprintf("delete asset %d", assetID),
		method: http.MethodDelete,
		url:    g.repoURL(owner, repo, fmt.Sprintf("releases/assets/%d", assetID)),
		want:   []int{http.StatusNoContent, http.StatusNotFound},
	}, nil)
}
