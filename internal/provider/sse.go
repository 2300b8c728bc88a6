package provider

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// sseEvent is one server-sent event.
type sseEvent struct {
	Event string
	Data  string
}

// sseDone is the data payload some APIs send to mark the end of a stream.
const sseDone = "[DONE]"

// sseReader splits a byte stream into events. Events may be split across any
// number of reads; partial input is buffered until a blank line arrives.
type sseReader struct {
	r   io.Reader
	buf []byte
	eof bool
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{r: r}
}

// Next returns the next event that carries data. It returns io.EOF once the
// stream ends; a trailing event without a blank line is still delivered.
func (s *sseReader) Next() (sseEvent, error) {
	for {
		if block, ok := s.cut(); ok {
			if ev, ok := parseSSEBlock(block); ok {
				return ev, nil
			}
			continue
		}
		if s.eof {
			if len(bytes.TrimSpace(s.buf)) == 0 {
				return sseEvent{}, io.EOF
			}
			block := s.buf
			s.buf = nil
			if ev, ok := parseSSEBlock(block); ok {
				return ev, nil
			}
			return sseEvent{}, io.EOF
		}
		chunk := make([]byte, 4096)
		n, err := s.r.Read(chunk)
		s.buf = append(s.buf, chunk[:n]...)
		if err == io.EOF {
			s.eof = true
		} else if err != nil {
			return sseEvent{}, err
		}
	}
}

// cut removes one complete block from the buffer.
func (s *sseReader) cut() ([]byte, bool) {
	s.buf = bytes.ReplaceAll(s.buf, []byte("\r\n"), []byte("\n"))
	i := bytes.Index(s.buf, []byte("\n\n"))
	if i < 0 {
		return nil, false
	}
	block := s.buf[:i]
	s.buf = s.buf[i+2:]
	return block, true
}

func parseSSEBlock(block []byte) (sseEvent, bool) {
	var ev sseEvent
	var data []string
	hasData := false
	sc := bufio.NewScanner(bytes.NewReader(block))
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Event = value
		case "data":
			data = append(data, value)
			hasData = true
		}
	}
	if !hasData {
		return sseEvent{}, false
	}
	ev.Data = strings.Join(data, "\n")
	return ev, true
}
