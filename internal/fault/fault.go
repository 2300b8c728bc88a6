// Package fault holds the error kinds shared by every component. Callers wrap
// them with fmt.Errorf("...: %w", fault.ErrX) and test with errors.Is.
package fault

import (
	"context"
	"errors"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrModeNotSupported  = errors.New("mode not supported")
	ErrInvalidInput      = errors.New("invalid input")
	ErrTimeout           = errors.New("timed out")
	ErrUpstream          = errors.New("upstream error")
	ErrBlocked           = errors.New("operation blocked")
	ErrCurrentMatches    = errors.New("file already matches that version")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInternal          = errors.New("internal error")
	ErrProviderExhausted = errors.New("all providers failed")
)

var categories = []struct {
	err  error
	name string
}{
	{ErrNotFound, "not_found"},
	{ErrPermissionDenied, "permission_denied"},
	{ErrModeNotSupported, "mode_not_supported"},
	{ErrInvalidInput, "invalid_input"},
	{ErrTimeout, "timeout"},
	{ErrUpstream, "upstream"},
	{ErrBlocked, "blocked"},
	{ErrCurrentMatches, "current_matches"},
	{ErrAlreadyExists, "already_exists"},
	{ErrProviderExhausted, "upstream"},
	{ErrInternal, "internal"},
}

// Category returns a stable, machine readable name for err's kind.
// Unclassified errors are "internal"; nil is "".
func Category(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	for _, c := range categories {
		if errors.Is(err, c.err) {
			return c.name
		}
	}
	return "internal"
}

// Friendly turns err into a sentence suitable for showing to the user.
func Friendly(err error) string {
	switch Category(err) {
	case "":
		return ""
	case "not_found":
		return "I couldn't find that. " + err.Error()
	case "permission_denied":
		return "That action isn't allowed right now. You can change skill permissions in settings."
	case "mode_not_supported":
		return "That skill isn't available in the current mode."
	case "invalid_input":
		return "Some input was missing or malformed: " + err.Error()
	case "timeout":
		return "That took too long and was stopped."
	case "upstream":
		return "The AI provider didn't respond. Check your connection or API keys."
	case "blocked":
		return "That operation was blocked for safety: " + err.Error()
	case "current_matches":
		return "The file already contains that version."
	case "already_exists":
		return "Something is already at that location: " + err.Error()
	default:
		return "Something went wrong: " + err.Error()
	}
}
