package github

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/bull/docrag/internal/document"
	"github.com/bull/docrag/internal/rag"
)

// Ingester is the part of the orchestrator a sync needs.
type Ingester interface {
	ProcessDocument(ctx context.Context, documentID string, src document.Source, batchSize int) *rag.ProcessingResult
	DeleteDocument(ctx context.Context, documentID string) rag.DeleteResult
	Stats(ctx context.Context) (rag.Stats, error)
}

// Source is what a sync reads from; *Fetcher implements it.
type Source interface {
	Repo() Repo
	ListDocs(ctx context.Context) ([]string, error)
	FetchDoc(ctx context.Context, relativePath string) (*FetchedDoc, error)
	GetLatestCommitSHA(ctx context.Context) (string, error)
}

// SyncResult contains statistics from a sync run
type SyncResult struct {
	TotalDocs      int
	SuccessfulDocs int
	TotalChunks    int
	RemovedDocs    int
	FailedDocs     []FailedDoc
	Duration       time.Duration
	CommitSHA      string
}

// FailedDoc records a document that failed to sync
type FailedDoc struct {
	Path   string
	Reason string
}

// Syncer ingests every document of a repository directory.
type Syncer struct {
	source    Source
	ingester  Ingester
	batchSize int
	logger    *slog.Logger
}

// NewSyncer creates a Syncer.
func NewSyncer(source Source, ingester Ingester, batchSize int, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{source: source, ingester: ingester, batchSize: batchSize, logger: logger}
}

// DocumentID returns the id a file is ingested under: owner/repo/path/file.
func DocumentID(repo Repo, relativePath string) string {
	return path.Join(repo.String(), relativePath)
}

// Sync fetches and ingests every document. Individual failures are recorded
// and do not stop the run. With prune set, documents previously synced from
// the same directory that no longer exist upstream are deleted.
func (s *Syncer) Sync(ctx context.Context, prune bool) (*SyncResult, error) {
	start := time.Now()
	repo := s.source.Repo()
	result := &SyncResult{}

	commitSHA, err := s.source.GetLatestCommitSHA(ctx)
	if err != nil {
		return nil, fmt.Errorf("get commit SHA: %w", err)
	}
	result.CommitSHA = commitSHA
	s.logger.Info("Starting sync", "repo", repo.String(), "commit", commitSHA)

	paths, err := s.source.ListDocs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list docs: %w", err)
	}
	result.TotalDocs = len(paths)
	s.logger.Info("Found documents", "count", len(paths))

	seen := make(map[string]bool, len(paths))
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		id := DocumentID(repo, p)
		seen[id] = true

		chunks, err := s.syncDoc(ctx, id, p, commitSHA)
		if err != nil {
			s.logger.Warn("Failed to sync document", "path", p, "error", err)
			result.FailedDocs = append(result.FailedDocs, FailedDoc{Path: p, Reason: err.Error()})
			continue
		}
		result.SuccessfulDocs++
		result.TotalChunks += chunks
		s.logger.Info("Synced document", "path", p, "chunks", chunks, "progress", fmt.Sprintf("%d/%d", i+1, len(paths)))
	}

	if prune {
		removed, err := s.prune(ctx, repo, seen)
		if err != nil {
			return result, err
		}
		result.RemovedDocs = removed
	}

	result.Duration = time.Since(start)
	s.logger.Info("Sync complete",
		"successful", result.SuccessfulDocs,
		"failed", len(result.FailedDocs),
		"removed", result.RemovedDocs,
		"chunks", result.TotalChunks,
		"duration", result.Duration,
	)
	return result, nil
}

func (s *Syncer) syncDoc(ctx context.Context, id, relativePath, commitSHA string) (int, error) {
	doc, err := s.source.FetchDoc(ctx, relativePath)
	if err != nil {
		return 0, err
	}

	src := document.Source{
		Text:   doc.Content,
		Format: formatFor(relativePath),
		Metadata: map[string]any{
			"path":       relativePath,
			"url":        doc.URL,
			"commit_sha": commitSHA,
		},
	}
	res := s.ingester.ProcessDocument(ctx, id, src, s.batchSize)
	if !res.Success {
		return 0, fmt.Errorf("%s stage: %s", res.FailedStage, res.Error)
	}
	return res.ChunksCreated, nil
}

func (s *Syncer) prune(ctx context.Context, repo Repo, seen map[string]bool) (int, error) {
	stats, err := s.ingester.Stats(ctx)
	if err != nil {
		return 0, fmt.Errorf("list indexed documents: %w", err)
	}

	prefix := repo.String() + "/"
	removed := 0
	for _, id := range stats.Database.Documents {
		if !strings.HasPrefix(id, prefix) || seen[id] {
			continue
		}
		if res := s.ingester.DeleteDocument(ctx, id); res.Success {
			removed++
			s.logger.Info("Removed document deleted upstream", "document_id", id)
		}
	}
	return removed, nil
}

func formatFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".md", ".markdown":
		return document.FormatMarkdown
	default:
		return document.FormatText
	}
}
