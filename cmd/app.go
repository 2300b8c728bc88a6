package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/littlehelper/littlehelper/internal/audit"
	"github.com/littlehelper/littlehelper/internal/config"
	"github.com/littlehelper/littlehelper/internal/embed"
	"github.com/littlehelper/littlehelper/internal/index"
	"github.com/littlehelper/littlehelper/internal/paths"
	"github.com/littlehelper/littlehelper/internal/provider"
	"github.com/littlehelper/littlehelper/internal/safefs"
	"github.com/littlehelper/littlehelper/internal/shellguard"
	"github.com/littlehelper/littlehelper/internal/skill"
	"github.com/littlehelper/littlehelper/internal/skill/builtin"
	"github.com/littlehelper/littlehelper/internal/telemetry"
	"github.com/littlehelper/littlehelper/internal/versions"
)

// app is everything a command needs, opened from the user's settings.
type app struct {
	configDir string
	dataDir   string
	settings  *config.Settings
	allowed   []string

	audit    *audit.Log
	index    *index.Index
	files    *safefs.Ops
	embedder embed.Embedder
	registry *skill.Registry
	runtime  *skill.Runtime
	guard    *shellguard.Guard
}

func settingsPath() (string, error) {
	dir, err := paths.ConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config directory: %w", err)
	}
	return paths.SettingsFile(dir), nil
}

func openApp() (*app, error) {
	configDir, err := paths.ConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config directory: %w", err)
	}
	dataDir, err := paths.DataDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := config.LoadEnv(paths.EnvFile(configDir)); err != nil {
		slog.Warn("ignoring env file", "error", err)
	}
	settings, err := config.Load(paths.SettingsFile(configDir))
	if err != nil {
		return nil, err
	}
	a := &app{
		configDir: configDir,
		dataDir:   dataDir,
		settings:  settings,
		allowed:   settings.ResolvedAllowedDirs(),
	}

	if a.audit, err = audit.Open(paths.AuditDir(dataDir)); err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	if a.index, err = index.Open(paths.IndexDB(dataDir)); err != nil {
		return nil, fmt.Errorf("failed to open file index: %w", err)
	}
	a.embedder = newEmbedder(settings)
	a.index.SetEmbedder(a.embedder)

	a.files = safefs.New(safefs.Config{
		Roots:       versions.NewRoots(a.allowed),
		Audit:       a.audit,
		ArchiveDir:  paths.ArchiveDir(dataDir),
		AllowedDirs: a.allowed,
	})
	a.guard = shellguard.New(a.allowed, slog.Default())

	a.registry = skill.NewRegistry(a.audit)
	err = builtin.Register(a.registry, builtin.Deps{
		Index:      a.index,
		Files:      a.files,
		Embedder:   a.embedder,
		MaxResults: settings.MaxResults,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	if err := a.registry.Load(paths.SkillsFile(configDir)); err != nil {
		slog.Warn("ignoring skill permissions file", "error", err)
	}
	a.runtime = skill.NewRuntime(a.registry, a.audit, skill.RuntimeConfig{
		OnFinish: func(e *skill.Execution) {
			telemetry.TrackSkill(e.SkillID, string(e.Status), e.DurationMS)
		},
	})
	return a, nil
}

// newEmbedder prefers OpenAI when a key is configured and the local daemon
// otherwise. Availability is probed by the index when it is used.
func newEmbedder(s *config.Settings) embed.Embedder {
	key, _ := s.Model.OpenAIAuth.Credential()
	if key == "" {
		key = os.Getenv(provider.EnvOpenAIKey)
	}
	if key != "" {
		if e, err := embed.NewOpenAI(key, s.Model.OpenAIBaseURL, ""); err == nil {
			return embed.NewCached(e)
		}
	}
	return embed.NewCached(embed.NewOllama(os.Getenv(provider.EnvOllamaURL), ""))
}

// session builds the per-invocation skill context.
func (a *app) session(mode skill.Mode, approve []string) *skill.Context {
	wd, _ := os.Getwd()
	sc := skill.NewContext(mode, a.dataDir, wd)
	sc.Commands = a.guard
	for _, id := range approve {
		sc.Approvals.Approve(id)
	}
	return sc
}

func (a *app) router() *provider.Router {
	oauth, err := config.LoadGoogleOAuth(paths.GoogleOAuthFile(a.configDir))
	if err != nil {
		slog.Warn("ignoring google oauth client file", "error", err)
	}
	r := provider.New(a.settings.Model, provider.Options{GoogleOAuth: oauth})
	r.OnAnswer(telemetry.TrackProvider)
	return r
}

func (a *app) close() {
	if a.index != nil {
		_ = a.index.Close()
	}
}
