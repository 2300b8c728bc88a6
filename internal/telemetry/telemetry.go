// Package telemetry sends anonymous usage events to PostHog. It never sends
// paths, file names, prompts or file content.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/posthog/posthog-go"
)

const (
	// EnvKey holds the PostHog project key; telemetry is off without it.
	EnvKey      = "LH_POSTHOG_KEY"
	EnvHost     = "LH_POSTHOG_HOST"
	EnvOptOut   = "LH_NO_TELEMETRY"
	defaultHost = "https://us.i.posthog.com"
)

var (
	client   posthog.Client
	once     sync.Once
	disabled bool
	anonID   string
)

// OptedOut reports whether the user turned telemetry off.
func OptedOut(getenv func(string) string) bool {
	return getenv(EnvOptOut) != "" || getenv("DO_NOT_TRACK") == "1"
}

// Init initializes the telemetry client
func Init() {
	once.Do(func() {
		key := os.Getenv(EnvKey)
		if OptedOut(os.Getenv) || key == "" {
			disabled = true
			return
		}

		anonID = generateAnonID()

		host := os.Getenv(EnvHost)
		if host == "" {
			host = defaultHost
		}
		var err error
		client, err = posthog.NewWithConfig(key, posthog.Config{
			Endpoint: host,
			Interval: 5 * time.Second,
		})
		if err != nil {
			disabled = true
			return
		}
	})
}

// Close flushes and closes the telemetry client
func Close() {
	if client != nil {
		_ = client.Close()
	}
}

// Track sends an event to PostHog
func Track(event string, properties map[string]interface{}) {
	if disabled || client == nil {
		return
	}

	props := posthog.NewProperties()
	props.Set("os", runtime.GOOS)
	props.Set("arch", runtime.GOARCH)
	props.Set("version", Version)

	for k, v := range properties {
		props.Set(k, v)
	}

	_ = client.Enqueue(posthog.Capture{
		DistinctId: anonID,
		Event:      event,
		Properties: props,
	})
}

// TrackSetup tracks a setup event
func TrackSetup(step string) {
	Track("setup", map[string]interface{}{
		"step": step,
	})
}

// TrackCommand tracks a CLI command usage
func TrackCommand(command string) {
	Track("command", map[string]interface{}{
		"command": command,
	})
}

// TrackSkill records a finished skill execution by id and status.
func TrackSkill(skillID, status string, durationMS int64) {
	Track("skill", map[string]interface{}{
		"skill":       skillID,
		"status":      status,
		"duration_ms": durationMS,
	})
}

// TrackProvider records which provider answered and how many were skipped.
func TrackProvider(name string, failovers int) {
	Track("provider", map[string]interface{}{
		"provider":  name,
		"failovers": failovers,
	})
}

// TrackError tracks an error event by category only
func TrackError(category string) {
	Track("error", map[string]interface{}{
		"category": category,
	})
}

// generateAnonID creates a stable anonymous ID for this machine
func generateAnonID() string {
	home, _ := os.UserHomeDir()
	hostname, _ := os.Hostname()
	return anonymize(home + hostname)
}

func anonymize(s string) string {
	hash := sha256.Sum256([]byte(s + "littlehelper-salt-v1"))
	return hex.EncodeToString(hash[:16])
}

// Version is set by the calling package
var Version = "dev"

// SetVersion sets the version for telemetry events
func SetVersion(v string) {
	Version = v
}
