// Package preview extracts <preview> tags from model output.
package preview

import (
	"path/filepath"
	"strings"
	"unicode"
)

const (
	openTag  = "<preview"
	closeTag = "</preview>"
)

type Kind string

const (
	KindFile     Kind = "file"
	KindWeb      Kind = "web"
	KindImage    Kind = "image"
	KindASCII    Kind = "ascii"
	KindSecurity Kind = "security"
)

// Known reports whether k is one of the recognised kinds.
func (k Kind) Known() bool {
	switch k {
	case KindFile, KindWeb, KindImage, KindASCII, KindSecurity:
		return true
	}
	return false
}

// Tag is one parsed preview reference. Empty fields were not given.
type Tag struct {
	Type    Kind   `json:"type"`
	Path    string `json:"path,omitempty"`
	URL     string `json:"url,omitempty"`
	State   string `json:"state,omitempty"`
	Caption string `json:"caption"`
}

// span is the byte range of one complete tag in the input.
type span struct {
	start, headerEnd, closeStart, end int
}

// next finds the first complete tag at or after from. ok is false when there
// is none, or when the next "<preview" has no ">" or no closing tag.
func next(text string, from int) (span, bool) {
	rel := strings.Index(text[from:], openTag)
	if rel < 0 {
		return span{}, false
	}
	s := span{start: from + rel}
	gt := strings.IndexByte(text[s.start:], '>')
	if gt < 0 {
		return span{}, false
	}
	s.headerEnd = s.start + gt
	body := s.headerEnd + 1
	cl := strings.Index(text[body:], closeTag)
	if cl < 0 {
		return span{}, false
	}
	s.closeStart = body + cl
	s.end = s.closeStart + len(closeTag)
	return s, true
}

// Parse returns the tags in text in order. A tag without a type but with a
// caption is taken as a file preview of the caption; a tag with neither is
// dropped. Parsing stops at the first unterminated tag.
func Parse(text string) []Tag {
	var tags []Tag
	for cursor := 0; ; {
		s, ok := next(text, cursor)
		if !ok {
			return tags
		}
		cursor = s.end

		t := Tag{Caption: strings.TrimSpace(text[s.headerEnd+1 : s.closeStart])}
		for _, a := range attributes(text[s.start+len(openTag) : s.headerEnd]) {
			switch a.key {
			case "type":
				t.Type = Kind(a.value)
			case "path":
				t.Path = a.value
			case "url":
				t.URL = a.value
			case "state":
				t.State = a.value
			}
		}
		if t.Type == "" {
			if t.Caption == "" {
				continue
			}
			t.Type = KindFile
			t.Path = t.Caption
		}
		tags = append(tags, t)
	}
}

// Strip removes every complete tag and trims the result. Text from an
// unterminated tag onwards is kept as is.
func Strip(text string) string {
	var sb strings.Builder
	cursor := 0
	for {
		s, ok := next(text, cursor)
		if !ok {
			break
		}
		sb.WriteString(text[cursor:s.start])
		cursor = s.end
	}
	sb.WriteString(text[cursor:])
	return strings.TrimSpace(sb.String())
}

// Render writes tags back in canonical form, one per line. Parse(Render(t))
// returns t for any tag whose values contain no double quote.
func Render(tags []Tag) string {
	var sb strings.Builder
	for i, t := range tags {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(openTag)
		attr(&sb, "type", string(t.Type))
		attr(&sb, "path", t.Path)
		attr(&sb, "url", t.URL)
		attr(&sb, "state", t.State)
		sb.WriteByte('>')
		sb.WriteString(t.Caption)
		sb.WriteString(closeTag)
	}
	return sb.String()
}

func attr(sb *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	quote := `"`
	if strings.Contains(value, `"`) {
		quote = "'"
	}
	sb.WriteString(" " + key + "=" + quote + value + quote)
}

type attribute struct{ key, value string }

// attributes reads key=value pairs. Values may be double quoted, single
// quoted or bare; a bare value ends at whitespace. Stray slashes are skipped.
func attributes(s string) []attribute {
	var out []attribute
	r := []rune(s)
	i := 0
	skipSpace := func() {
		for i < len(r) && unicode.IsSpace(r[i]) {
			i++
		}
	}
	for i < len(r) {
		if unicode.IsSpace(r[i]) || r[i] == '/' {
			i++
			continue
		}
		start := i
		for i < len(r) && r[i] != '=' && !unicode.IsSpace(r[i]) {
			i++
		}
		key := string(r[start:i])
		skipSpace()
		if i < len(r) && r[i] == '=' {
			i++
		}
		skipSpace()

		var value string
		if i < len(r) && (r[i] == '"' || r[i] == '\'') {
			q := r[i]
			i++
			start = i
			for i < len(r) && r[i] != q {
				i++
			}
			value = string(r[start:i])
			if i < len(r) {
				i++
			}
		} else {
			start = i
			for i < len(r) && !unicode.IsSpace(r[i]) {
				i++
			}
			value = string(r[start:i])
		}
		if key != "" {
			out = append(out, attribute{key, value})
		}
	}
	return out
}

type FileType string

const (
	FileText     FileType = "text"
	FileImage    FileType = "image"
	FileCSV      FileType = "csv"
	FileJSON     FileType = "json"
	FileHTML     FileType = "html"
	FilePDF      FileType = "pdf"
	FileMarkdown FileType = "markdown"
	FileUnknown  FileType = "unknown"
)

// FileTypeOf picks a viewer for path from its extension.
func FileTypeOf(path string) FileType {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "txt", "log", "rs", "py", "js", "ts", "go", "sh", "toml", "yaml", "yml":
		return FileText
	case "png", "jpg", "jpeg", "gif", "bmp", "webp", "svg":
		return FileImage
	case "csv", "tsv":
		return FileCSV
	case "json":
		return FileJSON
	case "html", "htm":
		return FileHTML
	case "pdf":
		return FilePDF
	case "md", "markdown":
		return FileMarkdown
	}
	return FileUnknown
}
