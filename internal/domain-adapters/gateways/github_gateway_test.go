package gateways

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ochairo/macrelease/internal/domain/interfaces/gateways"
)

func newTestGitHub(server *httptest.Server) (*HTTPGitHubGateway, *stepClock) {
	clock := &stepClock{now: time.Unix(0, 0)}
	return NewHTTPGitHubGateway("test-token", WithGitHubBaseURL(server.URL), WithGitHubClock(clock)), clock
}

func TestGitHubGateway_CreateRelease(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/repos/acme/widget/releases" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "token test-token" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		var body releasePayload
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.TagName != "v1.4.0" {
			t.Errorf("tag_name = %s", body.TagName)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(releasePayload{ID: 7, TagName: body.TagName, UploadURL: "https://uploads.github.com/repos/acme/widget/releases/7/assets{?name,label}"})
	}))
	defer server.Close()

	gateway, _ := newTestGitHub(server)
	release, err := gateway.CreateRelease(context.Background(), "acme", "widget", &gateways.GitHubRelease{TagName: "v1.4.0", Name: "Widget 1.4.0"})
	if err != nil {
		t.Fatalf("CreateRelease() error = %v", err)
	}

	if release.ID != 7 || !strings.Contains(release.UploadURL, "releases/7/assets") {
		t.Errorf("unexpected release %+v", release)
	}
}

func TestGitHubGateway_CreateRelease_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message": "Validation Failed"}`))
	}))
	defer server.Close()

	gateway, _ := newTestGitHub(server)
	_, err := gateway.CreateRelease(context.Background(), "acme", "widget", &gateways.GitHubRelease{TagName: "v1.4.0"})

	if err == nil || !strings.Contains(err.Error(), "Validation Failed") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGitHubGateway_GetRelease_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message": "Not Found"}`))
	}))
	defer server.Close()

	gateway, _ := newTestGitHub(server)
	_, err := gateway.GetRelease(context.Background(), "acme", "widget", "v9.9.9")

	if !errors.Is(err, gateways.ErrReleaseNotFound) {
		t.Fatalf("expected ErrReleaseNotFound, got %v", err)
	}
}

func TestGitHubGateway_RetriesTransientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		body, _ := io.ReadAll(r.Body)
		if string(body) != "payload" {
			t.Errorf("attempt %d body = %q, want payload", n, body)
		}
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(assetPayload{ID: 1, Name: "Widget-1.4.0.zip", State: "uploaded"})
	}))
	defer server.Close()

	gateway, clock := newTestGitHub(server)
	asset, err := gateway.UploadAsset(context.Background(), server.URL+"/upload{?name,label}", "Widget-1.4.0.zip", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("UploadAsset() error = %v", err)
	}

	if asset.State != "uploaded" {
		t.Errorf("State = %s", asset.State)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(clock.sleeps) != 2 || clock.sleeps[0] != time.Second || clock.sleeps[1] != 2*time.Second {
		t.Errorf("backoff sleeps = %v", clock.sleeps)
	}
}

func TestGitHubGateway_UploadAsset_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("name") != "Widget 1.4.0.dmg" {
			t.Errorf("name = %q", r.URL.Query().Get("name"))
		}
		if r.Header.Get("Content-Type") != "application/octet-stream" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(assetPayload{
			ID:                 456,
			Name:               "Widget.1.4.0.dmg",
			State:              "uploaded",
			Size:               12,
			BrowserDownloadURL: "https://github.com/acme/widget/releases/download/v1.4.0/Widget.1.4.0.dmg",
		})
	}))
	defer server.Close()

	gateway, _ := newTestGitHub(server)
	result, err := gateway.UploadAsset(context.Background(), server.URL, "Widget 1.4.0.dmg", bytes.NewReader([]byte("test content")))
	if err != nil {
		t.Fatalf("UploadAsset failed: %v", err)
	}

	if result.ID != 456 || result.BrowserDownloadURL == "" {
		t.Errorf("unexpected asset %+v", result)
	}
}

func TestGitHubGateway_UploadAsset_InvalidURL(t *testing.T) {
	gateway := NewHTTPGitHubGateway("test-token")

	_, err := gateway.UploadAsset(context.Background(), "://invalid-url", "test.zip", strings.NewReader("test"))

	if err == nil || !strings.Contains(err.Error(), "invalid upload URL") {
		t.Errorf("Expected 'invalid upload URL' error, got: %v", err)
	}
}

func TestGitHubGateway_ListAndDeleteAssets(t *testing.T) {
	var deleted string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/repos/acme/widget/releases/7/assets":
			_ = json.NewEncoder(w).Encode([]assetPayload{{ID: 11, Name: "Widget-1.4.0.zip"}, {ID: 12, Name: "Widget-1.4.0.dmg"}})
		case r.Method == http.MethodDelete:
			deleted = r.URL.Path
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer server.Close()

	gateway, _ := newTestGitHub(server)
	assets, err := gateway.ListReleaseAssets(context.Background(), "acme", "widget", 7)
	if err != nil {
		t.Fatalf("ListReleaseAssets() error = %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("assets = %d, want 2", len(assets))
	}

	if err := gateway.DeleteAsset(context.Background(), "acme", "widget", assets[0].ID); err != nil {
		t.Fatalf("DeleteAsset() error = %v", err)
	}
	if deleted != "/repos/acme/widget/releases/assets/11" {
		t.Errorf("deleted path = %s", deleted)
	}
}

func TestGitHubGateway_RateLimitExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", "1700000000")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	gateway, clock := newTestGitHub(server)
	_, err := gateway.GetRelease(context.Background(), "acme", "widget", "v1.4.0")

	if err == nil || !strings.Contains(err.Error(), "rate limit exceeded") {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if len(clock.sleeps) != 0 {
		t.Errorf("rate limit exhaustion must not be retried, slept %v", clock.sleeps)
	}
}

func TestGitHubGateway_ContextCancellation(t *testing.T) {
	gateway := NewHTTPGitHubGateway("test-token", WithGitHubBaseURL("http://127.0.0.1:1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gateway.CreateRelease(ctx, "acme", "widget", &gateways.GitHubRelease{TagName: "v1.4.0"})
	if err == nil {
		t.Fatal("Expected error for canceled context, got nil")
	}
}
