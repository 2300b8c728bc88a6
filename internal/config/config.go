// Package config loads and saves the user settings file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultLocalModel     = "llama3.2:3b"
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-3-5-sonnet-20241022"
	DefaultGeminiModel    = "gemini-1.5-flash"
	DefaultMaxResults     = 200
)

// DefaultProviderPreference tries cloud providers first and falls back to local.
var DefaultProviderPreference = []string{"anthropic", "openai", "gemini", "local"}

type OAuthCredentials struct {
	AccessToken  string `json:"access_token" mapstructure:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty" mapstructure:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at,omitempty" mapstructure:"expires_at"` // unix seconds
}

// ProviderAuth holds either an API key or OAuth credentials for one provider.
type ProviderAuth struct {
	APIKey string            `json:"api_key,omitempty" mapstructure:"api_key"`
	OAuth  *OAuthCredentials `json:"oauth,omitempty" mapstructure:"oauth"`
}

// Credential returns the API key, else the OAuth access token, else "".
func (a ProviderAuth) Credential() (token string, isOAuth bool) {
	if k := strings.TrimSpace(a.APIKey); k != "" {
		return k, false
	}
	if a.OAuth != nil && strings.TrimSpace(a.OAuth.AccessToken) != "" {
		return strings.TrimSpace(a.OAuth.AccessToken), true
	}
	return "", false
}

type ModelSettings struct {
	LocalModel         string       `json:"local_model" mapstructure:"local_model"`
	ProviderPreference []string     `json:"provider_preference" mapstructure:"provider_preference"`
	OpenAIModel        string       `json:"openai_model" mapstructure:"openai_model"`
	AnthropicModel     string       `json:"anthropic_model" mapstructure:"anthropic_model"`
	GeminiModel        string       `json:"gemini_model" mapstructure:"gemini_model"`
	OpenAIAuth         ProviderAuth `json:"openai_auth" mapstructure:"openai_auth"`
	AnthropicAuth      ProviderAuth `json:"anthropic_auth" mapstructure:"anthropic_auth"`
	GeminiAuth         ProviderAuth `json:"gemini_auth" mapstructure:"gemini_auth"`
	// Without the /v1 suffix; empty means https://api.openai.com.
	OpenAIBaseURL string `json:"openai_base_url,omitempty" mapstructure:"openai_base_url"`
}

type Settings struct {
	AllowedDirs            []string      `json:"allowed_dirs" mapstructure:"allowed_dirs"`
	Model                  ModelSettings `json:"model" mapstructure:"model"`
	EnableInternetResearch bool          `json:"enable_internet_research" mapstructure:"enable_internet_research"`
	MaxResults             int           `json:"max_results" mapstructure:"max_results"`
	ShareSystemSummary     bool          `json:"share_system_summary" mapstructure:"share_system_summary"`
}

// Default returns settings with every default filled in and no allowed dirs.
func Default() *Settings {
	return &Settings{
		AllowedDirs: []string{},
		Model: ModelSettings{
			LocalModel:         DefaultLocalModel,
			ProviderPreference: append([]string(nil), DefaultProviderPreference...),
			OpenAIModel:        DefaultOpenAIModel,
			AnthropicModel:     DefaultAnthropicModel,
			GeminiModel:        DefaultGeminiModel,
		},
		MaxResults: DefaultMaxResults,
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("allowed_dirs", d.AllowedDirs)
	v.SetDefault("model.local_model", d.Model.LocalModel)
	v.SetDefault("model.provider_preference", d.Model.ProviderPreference)
	v.SetDefault("model.openai_model", d.Model.OpenAIModel)
	v.SetDefault("model.anthropic_model", d.Model.AnthropicModel)
	v.SetDefault("model.gemini_model", d.Model.GeminiModel)
	v.SetDefault("enable_internet_research", false)
	v.SetDefault("max_results", d.MaxResults)
	v.SetDefault("share_system_summary", false)
}

// Load reads the settings file at path. A missing file yields the defaults.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigType("json")
	setDefaults(v)

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat settings %s: %w", path, err)
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	s.normalize()
	return s, nil
}

func (s *Settings) normalize() {
	if s.AllowedDirs == nil {
		s.AllowedDirs = []string{}
	}
	if len(s.Model.ProviderPreference) == 0 {
		s.Model.ProviderPreference = append([]string(nil), DefaultProviderPreference...)
	}
	if s.MaxResults <= 0 {
		s.MaxResults = DefaultMaxResults
	}
	s.Model.OpenAIBaseURL = strings.TrimRight(s.Model.OpenAIBaseURL, "/")
}

// Save writes s to path atomically. Keys in the existing file that Settings
// does not know about are kept.
func Save(path string, s *Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	merged := map[string]json.RawMessage{}
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &merged)
	}

	ours, err := json.Marshal(s)
	if err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(ours, &fields); err != nil {
		return err
	}
	for k, v := range fields {
		merged[k] = v
	}

	out, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}

// ResolvedAllowedDirs returns the absolute allowed directories, or the home
// directory when none are configured.
func (s *Settings) ResolvedAllowedDirs() []string {
	dirs := make([]string, 0, len(s.AllowedDirs))
	for _, d := range s.AllowedDirs {
		d = ExpandHome(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if abs, err := filepath.Abs(d); err == nil {
			dirs = append(dirs, filepath.Clean(abs))
		}
	}
	if len(dirs) == 0 {
		if home, err := os.UserHomeDir(); err == nil {
			dirs = append(dirs, home)
		}
	}
	return dirs
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// GoogleOAuthClient is the optional OAuth client used to refresh Gemini tokens.
type GoogleOAuthClient struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// LoadGoogleOAuth reads google_oauth.json. A missing file returns nil, nil.
func LoadGoogleOAuth(path string) (*GoogleOAuthClient, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var c GoogleOAuthClient
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return nil, nil
	}
	return &c, nil
}

// LoadEnv loads provider keys from an optional .env file without overriding
// variables that are already set.
func LoadEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}
