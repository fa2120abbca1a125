// Package document turns ingestion sources (raw text or files) into numbered pages.
package document

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Source formats.
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
)

// pageBreak is the page separator emitted by PDF text extractors (pdftotext, mutool).
const pageBreak = "\f"

// Page is the extracted text of one source page.
type Page struct {
	Number int // 1-based
	Text   string
}

// Source is what gets ingested: either inline text or a path on disk.
// Metadata is copied onto every chunk produced from the source.
type Source struct {
	Text     string
	Path     string
	Format   string // FormatText or FormatMarkdown; inferred from Path when empty
	Metadata map[string]any
}

// TextSource wraps inline text.
func TextSource(text string) Source {
	return Source{Text: text}
}

// FileSource wraps a path to a text or markdown file.
func FileSource(path string) Source {
	return Source{Path: path}
}

// Describe returns a short label for logs.
func (s Source) Describe() string {
	if s.Path != "" {
		return s.Path
	}
	return fmt.Sprintf("inline text (%d bytes)", len(s.Text))
}

// Loader reads sources and splits them into pages.
type Loader struct {
	markdown *markdownSplitter
}

// NewLoader creates a Loader with a goldmark-backed markdown splitter.
func NewLoader() *Loader {
	return &Loader{markdown: newMarkdownSplitter()}
}

// Load returns the pages of src. Plain text is split on form feeds;
// markdown is split into one page per H1/H2 section.
func (l *Loader) Load(src Source) ([]Page, error) {
	content := src.Text
	format := src.Format

	if src.Path != "" {
		data, err := os.ReadFile(src.Path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", src.Path, err)
		}
		content = string(data)
		if format == "" {
			format = formatForPath(src.Path)
		}
	}

	switch format {
	case FormatMarkdown:
		return l.markdown.pages([]byte(content))
	case "", FormatText:
		return textPages(content), nil
	default:
		return nil, fmt.Errorf("unsupported source format %q", format)
	}
}

func formatForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return FormatMarkdown
	default:
		return FormatText
	}
}

// textPages splits on form feeds. Blank pages keep their number.
func textPages(content string) []Page {
	parts := strings.Split(content, pageBreak)
	pages := make([]Page, len(parts))
	for i, part := range parts {
		pages[i] = Page{Number: i + 1, Text: part}
	}
	return pages
}
