package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestOptedOut(t *testing.T) {
	assert.False(t, OptedOut(env(nil)))
	assert.True(t, OptedOut(env(map[string]string{EnvOptOut: "1"})))
	assert.True(t, OptedOut(env(map[string]string{"DO_NOT_TRACK": "1"})))
	assert.False(t, OptedOut(env(map[string]string{"DO_NOT_TRACK": "0"})))
}

func TestAnonymize(t *testing.T) {
	a := anonymize("/home/ada" + "host")
	assert.Len(t, a, 32)
	assert.Equal(t, a, anonymize("/home/adahost"))
	assert.NotEqual(t, a, anonymize("/home/bo"+"host"))
	assert.NotContains(t, a, "ada")
}

func TestTrackWithoutClient(t *testing.T) {
	// Without a client every call is a no-op.
	TrackSkill("file_search", "completed", 12)
	TrackProvider("openai", 1)
	TrackError("timeout")
	TrackCommand("search")
	TrackSetup("allowed_dirs")
}
