package rag

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/bull/docrag/internal/embedding"
	"github.com/bull/docrag/internal/generation"
	"github.com/bull/docrag/internal/vectorstore"
)

// apology is returned to users when an answer could not be generated.
const apology = "I'm sorry, I encountered an error while generating a response. Please try again."

// SearchDocuments embeds query and returns up to topK ranked passages,
// optionally restricted to one document. A query that embeds to the zero
// vector matches nothing.
func (o *Orchestrator) SearchDocuments(ctx context.Context, query string, topK int, documentID string) ([]vectorstore.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: got %d", vectorstore.ErrInvalidTopK, topK)
	}

	vec, err := o.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, err
	}
	if embedding.IsZero(vec) {
		o.logger.Warn("Query could not be embedded, returning no results", "query_chars", len(query))
		return []vectorstore.SearchResult{}, nil
	}

	results, err := o.Index().Search(vec, topK, documentID)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	o.logger.Debug("Searched index", "top_k", topK, "document_id", documentID, "results", len(results))
	return results, nil
}

// AnswerOptions tunes Answer. Zero values select the defaults.
type AnswerOptions struct {
	DocumentID string
	TopK       int
	MaxTokens  int
}

// Source is a passage cited by an answer.
type Source struct {
	Page       int     `json:"page"`
	Excerpt    string  `json:"text_excerpt"`
	Similarity float64 `json:"similarity"`
	DocumentID string  `json:"document_id"`
	ChunkID    string  `json:"chunk_id"`
	ChunkIndex int     `json:"chunk_index"`
}

// Answer is a generated response with the passages it was grounded on.
// Error holds the underlying failure for logs and is never shown to users.
type Answer struct {
	Response    string   `json:"response"`
	Sources     []Source `json:"sources"`
	HasContext  bool     `json:"has_context"`
	SourceCount int      `json:"source_count"`
	Success     bool     `json:"success"`
	Error       error    `json:"-"`
}

// Answer retrieves passages for query and asks gen to answer from them. A nil
// gen uses the orchestrator's default generator. Answer never returns an
// error: failures yield an apology with Success false and the cause in Error.
func (o *Orchestrator) Answer(ctx context.Context, query string, gen generation.Generator, opts AnswerOptions) *Answer {
	if gen == nil {
		gen = o.generator
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}

	failed := func(err error) *Answer {
		o.logger.Error("Failed to answer question", "document_id", opts.DocumentID, "error", err)
		return &Answer{Response: apology, Sources: []Source{}, Error: err}
	}

	if gen == nil {
		return failed(ErrNoGenerator)
	}

	results, err := o.SearchDocuments(ctx, query, opts.TopK, opts.DocumentID)
	if err != nil {
		return failed(err)
	}

	var prompt string
	if len(results) == 0 {
		prompt = noContextPrompt(query)
	} else {
		prompt = contextPrompt(query, results)
	}

	response, err := gen.Generate(ctx, prompt, opts.MaxTokens)
	if err != nil {
		return failed(fmt.Errorf("generate with %s: %w", gen.Name(), err))
	}

	sources := make([]Source, len(results))
	for i, r := range results {
		sources[i] = Source{
			Page:       r.PageNumber,
			Excerpt:    excerpt(r.Text),
			Similarity: math.Round(r.Score*1000) / 1000,
			DocumentID: r.DocumentID,
			ChunkID:    r.ChunkID,
			ChunkIndex: r.ChunkIndex,
		}
	}

	o.logger.Info("Answered question",
		"generator", gen.Name(), "sources", len(sources), "document_id", opts.DocumentID)
	return &Answer{
		Response:    strings.TrimSpace(response),
		Sources:     sources,
		HasContext:  len(results) > 0,
		SourceCount: len(sources),
		Success:     true,
	}
}

func noContextPrompt(query string) string {
	return "You are a helpful AI assistant.\n\n" +
		"User question: " + query + "\n\n" +
		"Answer: I don't have any relevant information in the uploaded documents to answer this question. " +
		"Please ask about content from the uploaded documents."
}

func contextPrompt(query string, results []vectorstore.SearchResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("[Source %d - Page %d, Score: %.2f]\n%s", i+1, r.PageNumber, r.Score, r.Text)
	}

	var b strings.Builder
	b.WriteString("You are a helpful AI assistant that answers questions based on provided document context.\n\n")
	b.WriteString("CONTEXT FROM DOCUMENTS:\n")
	b.WriteString(strings.Join(parts, "\n\n"))
	b.WriteString("\n\nUSER QUESTION: ")
	b.WriteString(query)
	b.WriteString("\n\nINSTRUCTIONS:\n")
	b.WriteString("- Answer the question using ONLY the information from the context above\n")
	b.WriteString("- Cite the sources you use by number (e.g., \"According to Source 1...\")\n")
	b.WriteString("- If the context doesn't contain enough information to answer, say so clearly\n")
	b.WriteString("- Be concise and to the point\n")
	b.WriteString("- Do not make up information that is not in the context\n\n")
	b.WriteString("ANSWER:")
	return b.String()
}

// excerpt returns the first excerptChars characters of text, with "..."
// appended when it was cut.
func excerpt(text string) string {
	if utf8.RuneCountInString(text) <= excerptChars {
		return text
	}
	return string([]rune(text)[:excerptChars]) + "..."
}
