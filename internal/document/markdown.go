package document

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// markdownSplitter splits markdown at H1 and H2 boundaries.
type markdownSplitter struct {
	parser goldmark.Markdown
}

// section is a heading boundary with its header path.
type section struct {
	headerPath string
	start      int
}

func newMarkdownSplitter() *markdownSplitter {
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
	return &markdownSplitter{parser: md}
}

// pages returns one page per H1/H2 section, each prefixed with its header path.
// Text before the first heading becomes its own page.
func (m *markdownSplitter) pages(source []byte) ([]Page, error) {
	doc := m.parser.Parser().Parse(text.NewReader(source))

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(2),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("inspect TOC: %w", err)
	}

	var sections []section
	collectSections(doc, source, tree.Items, nil, &sections)
	if len(sections) == 0 {
		return []Page{{Number: 1, Text: string(source)}}, nil
	}
	sort.Slice(sections, func(i, j int) bool { return sections[i].start < sections[j].start })

	var pages []Page
	if preamble := strings.TrimSpace(string(source[:sections[0].start])); preamble != "" {
		pages = append(pages, Page{Text: preamble})
	}
	for i, s := range sections {
		end := len(source)
		if i+1 < len(sections) {
			end = sections[i+1].start
		}
		body := strings.TrimSpace(string(source[s.start:end]))
		pages = append(pages, Page{Text: s.headerPath + "\n\n" + body})
	}

	for i := range pages {
		pages[i].Number = i + 1
	}
	return pages, nil
}

// collectSections walks TOC items and records where each heading starts.
func collectSections(doc ast.Node, source []byte, items toc.Items, ancestors []string, out *[]section) {
	for _, item := range items {
		currentPath := append(ancestors[:len(ancestors):len(ancestors)], string(item.Title))

		heading := findHeaderByID(doc, string(item.ID))
		if heading != nil && heading.Lines().Len() > 0 {
			*out = append(*out, section{
				headerPath: formatHeaderPath(currentPath),
				start:      lineStart(source, heading.Lines().At(0).Start),
			})
		}

		if len(item.Items) > 0 {
			collectSections(doc, source, item.Items, currentPath, out)
		}
	}
}

// lineStart moves pos back to the beginning of its line so the "#" markers
// of an ATX heading stay in the section.
func lineStart(source []byte, pos int) int {
	for pos > 0 && source[pos-1] != '\n' {
		pos--
	}
	return pos
}

// formatHeaderPath builds a header hierarchy string.
// Example: ["Installation", "Prerequisites"] -> "# Installation > ## Prerequisites"
func formatHeaderPath(path []string) string {
	parts := make([]string, 0, len(path))
	for i, segment := range path {
		parts = append(parts, fmt.Sprintf("%s %s", strings.Repeat("#", i+1), segment))
	}
	return strings.Join(parts, " > ")
}

// findHeaderByID locates a heading node by its auto-generated ID.
func findHeaderByID(node ast.Node, id string) ast.Node {
	var found ast.Node
	ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && n.Kind() == ast.KindHeading {
			headingID, ok := n.AttributeString("id")
			if ok && string(headingID.([]byte)) == id {
				found = n
				return ast.WalkStop, nil
			}
		}
		return ast.WalkContinue, nil
	})
	return found
}
