package provider

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, r io.Reader) []sseEvent {
	t.Helper()
	s := newSSEReader(r)
	var out []sseEvent
	for {
		ev, err := s.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func TestSSE_SplitAcrossReads(t *testing.T) {
	stream := "event: a\ndata: one\n\n: comment\nid: 7\nretry: 10\ndata: two\ndata: lines\n\nevent: empty\n\ndata:[DONE]\n\n"
	events := readAll(t, iotest.OneByteReader(strings.NewReader(stream)))
	require.Len(t, events, 3)
	assert.Equal(t, sseEvent{Event: "a", Data: "one"}, events[0])
	assert.Equal(t, sseEvent{Data: "two\nlines"}, events[1])
	assert.Equal(t, sseDone, events[2].Data)
}

func TestSSE_CRLFAndTrailingEvent(t *testing.T) {
	events := readAll(t, strings.NewReader("data: x\r\n\r\ndata: tail"))
	require.Len(t, events, 2)
	assert.Equal(t, "x", events[0].Data)
	assert.Equal(t, "tail", events[1].Data)
}

func TestSSE_OnlyOneLeadingSpaceTrimmed(t *testing.T) {
	events := readAll(t, strings.NewReader("data:   indented\n\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "  indented", events[0].Data)
}
