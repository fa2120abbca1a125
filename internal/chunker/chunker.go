// Package chunker splits extracted document text into bounded, overlapping passages.
package chunker

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/bull/docrag/internal/document"
)

const (
	// DefaultChunkSize is the target maximum number of characters per chunk.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the maximum number of trailing characters carried into the next chunk.
	DefaultChunkOverlap = 200

	// DefaultMinChunkSize drops chunks whose trimmed text is shorter than this.
	DefaultMinChunkSize = 100
)

// ErrInvalidConfig is returned when chunk sizes are inconsistent.
var ErrInvalidConfig = errors.New("invalid chunker config")

// separators is tried in order; the first one present in the text is used for the whole split.
var separators = []string{
	"\n\n", // paragraphs
	"\n",   // lines
	". ",   // sentences
	"! ",
	"? ",
	"; ", // clauses
	", ",
	" ", // words
}

// Chunk is a contiguous span of a document's text.
type Chunk struct {
	DocumentID string
	ChunkIndex int // 0-based, continuous across pages
	PageNumber int // 1-based source page
	Text       string
	CharCount  int
	WordCount  int
}

// Config controls chunk sizes. All sizes are in characters.
type Config struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	MinChunkSize int `yaml:"min_chunk_size"`
}

// DefaultConfig returns the default chunk sizes (1000/200/100).
func DefaultConfig() Config {
	return Config{
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
		MinChunkSize: DefaultMinChunkSize,
	}
}

// Validate reports whether the sizes can be used to chunk text.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, %d), got %d",
			ErrInvalidConfig, c.ChunkSize, c.ChunkOverlap)
	}
	if c.MinChunkSize < 0 {
		return fmt.Errorf("%w: min_chunk_size must not be negative, got %d", ErrInvalidConfig, c.MinChunkSize)
	}
	return nil
}

// Chunker splits page text on the highest-priority separator present and packs
// the resulting tokens greedily into chunks with a small trailing overlap.
type Chunker struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Chunker. It returns ErrInvalidConfig for inconsistent sizes.
func New(cfg Config, logger *slog.Logger) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunker{cfg: cfg, logger: logger}, nil
}

// Config returns the sizes this chunker was built with.
func (c *Chunker) Config() Config {
	return c.cfg
}

// ChunkPages chunks every page of a document in order. Chunk indexes continue
// across pages so they are dense and strictly increasing for the document.
func (c *Chunker) ChunkPages(documentID string, pages []document.Page) []Chunk {
	var chunks []Chunk
	for _, page := range pages {
		chunks = append(chunks, c.Chunk(page.Text, documentID, page.Number, len(chunks))...)
	}
	return chunks
}

// Chunk splits the text of one page. Indexes start at startIndex.
// Blank pages and pages too short to reach MinChunkSize yield no chunks.
func (c *Chunker) Chunk(text, documentID string, pageNumber, startIndex int) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var pieces []string
	if runeLen(text) <= c.cfg.ChunkSize {
		pieces = []string{text}
	} else if sep, ok := pickSeparator(text); ok {
		pieces = c.pack(strings.Split(text, sep), sep)
	} else {
		pieces = c.window(text)
	}

	chunks := make([]Chunk, 0, len(pieces))
	dropped := 0
	for _, piece := range pieces {
		trimmed := strings.TrimSpace(piece)
		if trimmed == "" || runeLen(trimmed) < c.cfg.MinChunkSize {
			dropped++
			continue
		}
		chunks = append(chunks, Chunk{
			DocumentID: documentID,
			ChunkIndex: startIndex + len(chunks),
			PageNumber: pageNumber,
			Text:       trimmed,
			CharCount:  runeLen(trimmed),
			WordCount:  len(strings.Fields(trimmed)),
		})
	}

	if len(chunks) == 0 {
		c.logger.Debug("Page produced no chunks",
			"document_id", documentID, "page", pageNumber, "chars", runeLen(text))
	} else if dropped > 0 {
		c.logger.Debug("Dropped short chunks",
			"document_id", documentID, "page", pageNumber, "dropped", dropped)
	}
	return chunks
}

// pack greedily joins tokens into pieces no longer than ChunkSize.
// Tokens that alone exceed ChunkSize are cut into sliding windows.
func (c *Chunker) pack(tokens []string, sep string) []string {
	sepLen := runeLen(sep)
	var pieces []string
	var current []string
	size := 0

	flush := func() {
		if len(current) > 0 {
			pieces = append(pieces, strings.Join(current, sep))
		}
	}

	for _, tok := range tokens {
		if strings.TrimSpace(tok) == "" {
			continue
		}
		tokLen := runeLen(tok)

		if tokLen > c.cfg.ChunkSize {
			flush()
			current, size = nil, 0
			pieces = append(pieces, c.window(tok)...)
			continue
		}

		add := tokLen
		if len(current) > 0 {
			add += sepLen
		}
		if size+add > c.cfg.ChunkSize && len(current) > 0 {
			flush()
			current = append(c.overlapSeed(current, sepLen, tokLen), tok)
			size = joinedLen(current, sepLen)
			continue
		}
		current = append(current, tok)
		size += add
	}
	flush()

	return pieces
}

// overlapSeed returns the last two tokens of a closed chunk, or the last one,
// when they fit both the overlap budget and the next chunk's size bound.
func (c *Chunker) overlapSeed(closed []string, sepLen, nextLen int) []string {
	for n := 2; n >= 1; n-- {
		if len(closed) < n {
			continue
		}
		tail := closed[len(closed)-n:]
		l := joinedLen(tail, sepLen)
		if l > c.cfg.ChunkOverlap || l+sepLen+nextLen > c.cfg.ChunkSize {
			continue
		}
		seed := make([]string, n, n+1)
		copy(seed, tail)
		return seed
	}
	return nil
}

// window cuts text into fixed windows of ChunkSize characters advanced by
// ChunkSize-ChunkOverlap. Used for text with no separator at all.
func (c *Chunker) window(text string) []string {
	runes := []rune(text)
	step := c.cfg.ChunkSize - c.cfg.ChunkOverlap

	var pieces []string
	for start := 0; start < len(runes); start += step {
		end := min(start+c.cfg.ChunkSize, len(runes))
		pieces = append(pieces, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return pieces
}

func pickSeparator(text string) (string, bool) {
	for _, sep := range separators {
		if strings.Contains(text, sep) {
			return sep, true
		}
	}
	return "", false
}

func joinedLen(tokens []string, sepLen int) int {
	if len(tokens) == 0 {
		return 0
	}
	n := sepLen * (len(tokens) - 1)
	for _, t := range tokens {
		n += runeLen(t)
	}
	return n
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
