package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/littlehelper/littlehelper/internal/fault"
)

const (
	// Version is the current version of littlehelper.
	Version = "0.1.0"

	GitHubOwner = "littlehelper"
	GitHubRepo  = "littlehelper"
)

// releasesAPI is the GitHub API root; tests point it at a local server.
var releasesAPI = "https://api.github.com"

var checkOnly bool

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Check for and install updates",
	Long:  `Check GitHub releases for a newer version of littlehelper and optionally install it.`,
	RunE:  runUpdate,
}

func init() {
	rootCmd.AddCommand(updateCmd)
	updateCmd.Flags().BoolVar(&checkOnly, "check", false, "Only check for updates, don't install")
}

type GitHubRelease struct {
	TagName string  `json:"tag_name"`
	Name    string  `json:"name"`
	Assets  []Asset `json:"assets"`
	Body    string  `json:"body"`
}

type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// downloadURL returns the asset for this platform, or "".
func (r *GitHubRelease) downloadURL(asset string) string {
	for _, a := range r.Assets {
		if a.Name == asset {
			return a.BrowserDownloadURL
		}
	}
	return ""
}

func runUpdate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	fmt.Printf("Current version: %s\n", Version)
	fmt.Println("Checking for updates...")

	release, err := getLatestRelease(ctx)
	if err != nil {
		return fmt.Errorf("failed to check for updates: %w", err)
	}

	latestVersion := strings.TrimPrefix(release.TagName, "v")
	if latestVersion == Version {
		fmt.Println("You are already running the latest version.")
		return nil
	}
	fmt.Printf("New version available: %s\n", latestVersion)

	if checkOnly {
		fmt.Println("\nRun 'littlehelper update' without --check to install the update.")
		return nil
	}

	assetName := getAssetName(runtime.GOOS, runtime.GOARCH)
	url := release.downloadURL(assetName)
	if url == "" {
		return fmt.Errorf("no binary found for %s/%s in release %s: %w", runtime.GOOS, runtime.GOARCH, release.TagName, fault.ErrNotFound)
	}

	fmt.Printf("Downloading %s...\n", assetName)
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}
	if err := replaceBinary(ctx, url, execPath); err != nil {
		return err
	}
	fmt.Printf("Successfully updated to version %s!\n", latestVersion)
	return nil
}

// replaceBinary downloads url next to execPath and swaps it in, keeping the
// old binary until the new one is in place.
func replaceBinary(ctx context.Context, url, execPath string) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(execPath), "littlehelper-update-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		_ = tmpFile.Close()
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to download update: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		_ = tmpFile.Close()
		return fmt.Errorf("download failed with status %s: %w", resp.Status, fault.ErrUpstream)
	}

	_, err = io.Copy(tmpFile, resp.Body)
	_ = tmpFile.Close()
	if err != nil {
		return fmt.Errorf("failed to write update: %w", err)
	}
	if err := os.Chmod(tmpPath, 0755); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	oldPath := execPath + ".old"
	if err := os.Rename(execPath, oldPath); err != nil {
		return fmt.Errorf("failed to backup old binary: %w", err)
	}
	if err := os.Rename(tmpPath, execPath); err != nil {
		_ = os.Rename(oldPath, execPath)
		return fmt.Errorf("failed to install update: %w", err)
	}
	_ = os.Remove(oldPath)
	return nil
}

func getLatestRelease(ctx context.Context) (*GitHubRelease, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", releasesAPI, GitHubOwner, GitHubRepo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, fault.ErrUpstream)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("no releases found: %w", fault.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned status %s: %w", resp.Status, fault.ErrUpstream)
	}

	var release GitHubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("failed to parse release info: %w", err)
	}
	return &release, nil
}

func getAssetName(goos, goarch string) string {
	name := fmt.Sprintf("littlehelper-%s-%s", goos, goarch)
	if goos == "windows" {
		name += ".exe"
	}
	return name
}
