// Package audit keeps an append-only JSONL record of skill executions, file
// operations, permission changes and errors.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// MaxFileSize is the size at which a day's log continues in a new file.
	MaxFileSize = 8 << 20
	// TailSize is the number of recent entries kept in memory.
	TailSize = 256
)

// Log appends entries to <dir>/<YYYY-MM-DD>[.<n>].jsonl.
type Log struct {
	dir         string
	maxFileSize int64

	mu       sync.Mutex
	tail     []Entry
	next     int
	full     bool
	curDate  string
	curSeq   int
	curSize  int64
	failures atomic.Int64
}

// Open creates dir if needed and returns a Log writing into it.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	return &Log{
		dir:         dir,
		maxFileSize: MaxFileSize,
		tail:        make([]Entry, TailSize),
	}, nil
}

func (l *Log) Dir() string { return l.dir }

// Failures reports how many appends could not be written to disk.
func (l *Log) Failures() int64 { return l.failures.Load() }

// Append records e. It never fails: write errors are counted and logged, and
// the entry remains visible through Recent and Query via the in-memory tail.
func (l *Log) Append(e Entry) {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.tail[l.next] = e
	l.next = (l.next + 1) % len(l.tail)
	if l.next == 0 {
		l.full = true
	}

	if err := l.write(e); err != nil {
		l.failures.Add(1)
		slog.Warn("audit append failed", "error", err, "action", e.Action)
	}
}

func (l *Log) write(e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	date := e.Timestamp.UTC().Format("2006-01-02")
	if date != l.curDate {
		l.curDate = date
		l.curSeq, l.curSize = l.latestSegment(date)
	}
	if l.curSize > 0 && l.curSize+int64(len(line)) > l.maxFileSize {
		l.curSeq++
		l.curSize = 0
	}

	f, err := os.OpenFile(l.segmentPath(date, l.curSeq), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	n, err := f.Write(line)
	l.curSize += int64(n)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func (l *Log) segmentPath(date string, seq int) string {
	if seq == 0 {
		return filepath.Join(l.dir, date+".jsonl")
	}
	return filepath.Join(l.dir, fmt.Sprintf("%s.%d.jsonl", date, seq))
}

// latestSegment finds the highest existing segment for date and its size.
func (l *Log) latestSegment(date string) (int, int64) {
	seq, size := 0, int64(0)
	for i := 0; ; i++ {
		info, err := os.Stat(l.segmentPath(date, i))
		if err != nil {
			break
		}
		seq, size = i, info.Size()
	}
	return seq, size
}

// Recent returns up to n of the most recent entries, newest first.
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recentLocked(n)
}

func (l *Log) recentLocked(n int) []Entry {
	count := l.next
	if l.full {
		count = len(l.tail)
	}
	if n <= 0 || n > count {
		n = count
	}
	out := make([]Entry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.tail)) % len(l.tail)
		out = append(out, l.tail[idx])
	}
	return out
}

// Query reads every log segment, merges in tail entries that never reached
// disk, and returns the matches newest first unless f.Ascending is set.
func (l *Log) Query(f Filter) ([]Entry, error) {
	files, err := l.segments()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var results []Entry
	for _, path := range files {
		if !f.From.IsZero() && segmentBefore(filepath.Base(path), f.From) {
			continue
		}
		if err := readSegment(path, func(e Entry) {
			seen[e.ID] = true
			if f.Matches(e) {
				results = append(results, e)
			}
		}); err != nil {
			return nil, err
		}
	}

	for _, e := range l.Recent(0) {
		if !seen[e.ID] && f.Matches(e) {
			results = append(results, e)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if f.Ascending {
			return results[i].Timestamp.Before(results[j].Timestamp)
		}
		return results[i].Timestamp.After(results[j].Timestamp)
	})
	if f.Limit > 0 && len(results) > f.Limit {
		results = results[:f.Limit]
	}
	return results, nil
}

// segments lists log files in chronological order.
func (l *Log) segments() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list audit directory: %w", err)
	}

	type seg struct {
		path string
		date string
		seq  int
	}
	var segs []seg
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		date, seq, ok := parseSegmentName(name)
		if !ok {
			continue
		}
		segs = append(segs, seg{filepath.Join(l.dir, name), date, seq})
	}
	sort.Slice(segs, func(i, j int) bool {
		if segs[i].date != segs[j].date {
			return segs[i].date < segs[j].date
		}
		return segs[i].seq < segs[j].seq
	})

	paths := make([]string, len(segs))
	for i, s := range segs {
		paths[i] = s.path
	}
	return paths, nil
}

func parseSegmentName(name string) (date string, seq int, ok bool) {
	base := strings.TrimSuffix(name, ".jsonl")
	date, rest, hasSeq := strings.Cut(base, ".")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return "", 0, false
	}
	if hasSeq {
		n, err := strconv.Atoi(rest)
		if err != nil {
			return "", 0, false
		}
		seq = n
	}
	return date, seq, true
}

func segmentBefore(name string, from time.Time) bool {
	date, _, ok := parseSegmentName(name)
	if !ok {
		return false
	}
	return date < from.UTC().Format("2006-01-02")
}

// readSegment calls fn for each well-formed line. Malformed lines are skipped.
func readSegment(path string, fn func(Entry)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		fn(e)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanning %s: %w", path, err)
	}
	return nil
}

// Stats counts entries by type.
type Stats struct {
	Total             int
	SkillExecutions   int
	FileOperations    int
	PermissionChanges int
	Errors            int
	WriteFailures     int64
}

// Summarize counts entries by type.
func Summarize(entries []Entry) Stats {
	var s Stats
	for _, e := range entries {
		s.Total++
		switch e.Type {
		case SkillExecEvent:
			s.SkillExecutions++
		case FileOpEvent:
			s.FileOperations++
		case PermChangeEvent:
			s.PermissionChanges++
		case ErrorEvent:
			s.Errors++
		}
	}
	return s
}

// Stats summarises the in-memory tail.
func (l *Log) Stats() Stats {
	s := Summarize(l.Recent(0))
	s.WriteFailures = l.Failures()
	return s
}
