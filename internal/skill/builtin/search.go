package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/littlehelper/littlehelper/internal/fault"
	"github.com/littlehelper/littlehelper/internal/index"
	"github.com/littlehelper/littlehelper/internal/skill"
)

// FileSearch looks files up in the index.
type FileSearch struct {
	meta
	ix  *index.Index
	max int
}

func NewFileSearch(ix *index.Index, maxResults int) *FileSearch {
	return &FileSearch{
		meta: meta{
			id:    "file_search",
			name:  "File search",
			desc:  "Find files on indexed drives by name or path. Set semantic to also match by meaning.",
			level: skill.Safe,
			schema: object([]string{"query"}, map[string]skill.Property{
				"query":      str("Words to look for in file names and paths"),
				"limit":      {Type: "integer", Description: "Maximum number of results"},
				"semantic":   {Type: "boolean", Description: "Blend in embedding similarity"},
				"extensions": {Type: "array", Description: "Only files with these extensions", Items: &skill.Items{Type: "string"}},
				"drive_id":   str("Only files from this drive"),
			}),
		},
		ix:  ix,
		max: maxResults,
	}
}

func query(in skill.Input) string {
	if q := strings.TrimSpace(in.StringParam("query")); q != "" {
		return q
	}
	return strings.TrimSpace(in.Query)
}

func (s *FileSearch) Validate(in skill.Input) error {
	if query(in) == "" {
		return fmt.Errorf("query is required: %w", fault.ErrInvalidInput)
	}
	var limit int
	if _, err := in.Param("limit", &limit); err != nil {
		return err
	}
	if limit < 0 {
		return fmt.Errorf("limit must not be negative: %w", fault.ErrInvalidInput)
	}
	return nil
}

func (s *FileSearch) Execute(ctx context.Context, in skill.Input, sc *skill.Context) (*skill.Output, error) {
	limit := s.max
	if limit <= 0 {
		limit = index.DefaultLimit
	}
	if _, err := in.Param("limit", &limit); err != nil {
		return nil, err
	}
	var semantic bool
	if _, err := in.Param("semantic", &semantic); err != nil {
		return nil, err
	}
	var filter index.Filter
	if _, err := in.Param("extensions", &filter.Extensions); err != nil {
		return nil, err
	}
	filter.DriveID = in.StringParam("drive_id")

	q := query(in)
	var (
		results []index.Result
		err     error
	)
	if semantic {
		results, err = s.ix.SemanticSearch(ctx, q, filter, limit)
	} else {
		results, err = s.ix.Search(q, filter, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", q, err)
	}

	summary := fmt.Sprintf("Found %d files matching %q", len(results), q)
	if len(results) == 0 {
		summary = fmt.Sprintf("No files match %q", q)
	}
	var sb strings.Builder
	sb.WriteString(summary)
	for _, r := range results {
		fmt.Fprintf(&sb, "\n%s", r.Path)
	}
	out, err := skill.DataOutput(sb.String(), results)
	if err != nil {
		return nil, err
	}
	return out, nil
}
