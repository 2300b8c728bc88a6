package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/xrash/smetrics"

	"github.com/littlehelper/littlehelper/internal/embed"
)

// Filter narrows hybrid search candidates. Zero fields match everything.
type Filter struct {
	Extensions     []string  `json:"extensions,omitempty"`
	DriveID        string    `json:"drive_id,omitempty"`
	ModifiedAfter  time.Time `json:"modified_after,omitempty"`
	ModifiedBefore time.Time `json:"modified_before,omitempty"`
}

func (f Filter) where() (string, []any) {
	var clauses []string
	var args []any
	if len(f.Extensions) > 0 {
		marks := make([]string, len(f.Extensions))
		for i, e := range f.Extensions {
			marks[i] = "?"
			args = append(args, strings.TrimPrefix(strings.ToLower(e), "."))
		}
		clauses = append(clauses, "f.ext IN ("+strings.Join(marks, ",")+")")
	}
	if f.DriveID != "" {
		clauses = append(clauses, "f.drive_id = ?")
		args = append(args, f.DriveID)
	}
	if !f.ModifiedAfter.IsZero() {
		clauses = append(clauses, "f.modified_at >= ?")
		args = append(args, f.ModifiedAfter.Unix())
	}
	if !f.ModifiedBefore.IsZero() {
		clauses = append(clauses, "f.modified_at < ?")
		args = append(args, f.ModifiedBefore.Unix())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(clauses, " AND "), args
}

// ftsQuery turns free text into an implicit-AND of quoted prefix terms, so
// user input never reaches FTS5 as operators.
func ftsQuery(query string) string {
	tokens := strings.Fields(query)
	terms := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !strings.ContainsFunc(t, isWordRune) {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(t, `"`, `""`)+`"*`)
	}
	return strings.Join(terms, " ")
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// fuzzyScore compares the query with the file's base name.
func fuzzyScore(query, name string) float64 {
	return smetrics.JaroWinkler(strings.ToLower(strings.TrimSpace(query)), strings.ToLower(name), 0.7, 4)
}

func sortResults(rs []Result) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Score != rs[j].Score {
			return rs[i].Score > rs[j].Score
		}
		return rs[i].Path < rs[j].Path
	})
}

func (ix *Index) candidates(query string, filter Filter, n int) ([]File, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	where, args := filter.where()
	q := "SELECT " + fileColumns + ` FROM files_fts
		JOIN files f ON f.id = files_fts.rowid
		WHERE files_fts MATCH ?` + where + `
		ORDER BY rank
		LIMIT ?`
	all := append([]any{match}, args...)
	all = append(all, n)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	rows, err := ix.db.Query(q, all...)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// FuzzySearch finds files whose name or path contains every query token as
// a prefix, then re-ranks twice the requested number of candidates by
// Jaro-Winkler similarity between the query and the base name.
func (ix *Index) FuzzySearch(query string, limit int) ([]Result, error) {
	return ix.fuzzy(query, Filter{}, clampLimit(limit))
}

// Search is FuzzySearch restricted by filter.
func (ix *Index) Search(query string, filter Filter, limit int) ([]Result, error) {
	return ix.fuzzy(query, filter, clampLimit(limit))
}

func (ix *Index) fuzzy(query string, filter Filter, limit int) ([]Result, error) {
	files, err := ix.candidates(query, filter, limit*2)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(files))
	for _, f := range files {
		s := fuzzyScore(query, f.Name)
		results = append(results, Result{File: f, Score: s, FuzzyScore: s})
	}
	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// SemanticSearch blends fuzzy and embedding similarity:
// score = alpha*fuzzy + (1-alpha)*cosine. Files with a stored vector that the
// text search missed are considered too. Without a working embedder it is a
// filtered fuzzy search.
func (ix *Index) SemanticSearch(ctx context.Context, query string, filter Filter, limit int) ([]Result, error) {
	limit = clampLimit(limit)
	emb, alpha := ix.embedderAndAlpha()
	if emb == nil {
		return ix.fuzzy(query, filter, limit)
	}

	qv, err := emb.EmbedSingle(ctx, query)
	if err != nil {
		slog.Warn("query embedding failed, using fuzzy search", "error", err)
		return ix.fuzzy(query, filter, limit)
	}

	files, err := ix.candidates(query, filter, limit*2)
	if err != nil {
		return nil, err
	}
	vectors, err := ix.vectors(emb.Model(), filter)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool, len(files))
	results := make([]Result, 0, len(files)+limit)
	for _, f := range files {
		seen[f.ID] = true
		fz := fuzzyScore(query, f.Name)
		var sem float64
		if v, ok := vectors[f.ID]; ok {
			sem = clampUnit(embed.Cosine(qv, v.vector))
		}
		results = append(results, Result{
			File:          f,
			FuzzyScore:    fz,
			SemanticScore: sem,
			Score:         alpha*fz + (1-alpha)*sem,
		})
	}

	// Vector-only candidates, best cosine first.
	var extra []Result
	for id, v := range vectors {
		if seen[id] {
			continue
		}
		sem := clampUnit(embed.Cosine(qv, v.vector))
		if sem <= 0 {
			continue
		}
		fz := fuzzyScore(query, v.file.Name)
		extra = append(extra, Result{
			File:          v.file,
			FuzzyScore:    fz,
			SemanticScore: sem,
			Score:         alpha*fz + (1-alpha)*sem,
		})
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].SemanticScore > extra[j].SemanticScore })
	if len(extra) > limit*2 {
		extra = extra[:limit*2]
	}
	results = append(results, extra...)

	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func clampUnit(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
