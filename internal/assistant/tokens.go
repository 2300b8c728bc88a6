package assistant

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/littlehelper/littlehelper/internal/provider"
)

// DefaultBudget is 70% of an 8k context window, leaving room for the reply.
const DefaultBudget = 5734

// perMessage is the framing overhead counted for every message.
const perMessage = 4

type Counter interface {
	Count(text string) int
}

// Approx estimates four bytes per token.
type Approx struct{}

func (Approx) Count(text string) int { return (len(text) + 3) / 4 }

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

var (
	defaultOnce    sync.Once
	defaultCounter Counter
)

// DefaultCounter returns a cl100k_base counter, or Approx when the encoding
// cannot be loaded.
func DefaultCounter() Counter {
	defaultOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Debug("tiktoken unavailable, estimating tokens", "error", err)
			defaultCounter = Approx{}
			return
		}
		defaultCounter = tiktokenCounter{enc: enc}
	})
	return defaultCounter
}

// fit keeps every system message plus the newest other messages whose total
// stays within budget. The newest message is always kept.
func fit(msgs []provider.Message, c Counter, budget int) []provider.Message {
	if budget <= 0 || len(msgs) == 0 {
		return msgs
	}
	used := 0
	for _, m := range msgs {
		if m.Role == provider.RoleSystem {
			used += c.Count(m.Content) + perMessage
		}
	}
	keep := make([]bool, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role == provider.RoleSystem {
			keep[i] = true
			continue
		}
		cost := c.Count(m.Content) + perMessage
		if used+cost > budget && i != len(msgs)-1 {
			break
		}
		used += cost
		keep[i] = true
	}
	out := make([]provider.Message, 0, len(msgs))
	for i, m := range msgs {
		if keep[i] || m.Role == provider.RoleSystem {
			out = append(out, m)
		}
	}
	return out
}
