package cmd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/littlehelper/littlehelper/internal/fault"
)

func withReleasesAPI(t *testing.T, h http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	old := releasesAPI
	releasesAPI = srv.URL
	t.Cleanup(func() { releasesAPI = old })
}

func TestGetLatestRelease(t *testing.T) {
	withReleasesAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/littlehelper/littlehelper/releases/latest" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"tag_name":"v0.2.0","assets":[{"name":"littlehelper-linux-amd64","browser_download_url":"https://example.com/lh"}]}`))
	})

	release, err := getLatestRelease(context.Background())
	if err != nil {
		t.Fatalf("getLatestRelease failed: %v", err)
	}
	if release.TagName != "v0.2.0" {
		t.Errorf("expected tag v0.2.0, got %s", release.TagName)
	}
	if got := release.downloadURL("littlehelper-linux-amd64"); got != "https://example.com/lh" {
		t.Errorf("unexpected download url %q", got)
	}
	if got := release.downloadURL("littlehelper-plan9-386"); got != "" {
		t.Errorf("expected no asset, got %q", got)
	}
}

func TestGetLatestRelease_NoReleases(t *testing.T) {
	withReleasesAPI(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	_, err := getLatestRelease(context.Background())
	if !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestGetAssetName(t *testing.T) {
	if got := getAssetName("linux", "arm64"); got != "littlehelper-linux-arm64" {
		t.Errorf("unexpected asset name %q", got)
	}
	if got := getAssetName("windows", "amd64"); got != "littlehelper-windows-amd64.exe" {
		t.Errorf("unexpected asset name %q", got)
	}
}
