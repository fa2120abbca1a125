package github

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/google/go-github/v81/github"
)

// DefaultExtensions are the file types synced when none are configured.
var DefaultExtensions = []string{".md", ".txt"}

var ErrInvalidRepo = errors.New("repository must be owner/repo[/path][@ref]")

// Repo identifies a directory in a GitHub repository. An empty Ref means the
// default branch.
type Repo struct {
	Owner string
	Name  string
	Path  string
	Ref   string
}

// ParseRepo parses "owner/repo[/path][@ref]".
func ParseRepo(s string) (Repo, error) {
	var r Repo
	s, r.Ref, _ = strings.Cut(strings.TrimSpace(s), "@")
	parts := strings.SplitN(strings.Trim(s, "/"), "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, fmt.Errorf("%w: got %q", ErrInvalidRepo, s)
	}
	r.Owner, r.Name = parts[0], parts[1]
	if len(parts) == 3 {
		r.Path = strings.Trim(parts[2], "/")
	}
	return r, nil
}

// String returns owner/repo/path, the prefix of synced document ids.
func (r Repo) String() string {
	return path.Join(r.Owner, r.Name, r.Path)
}

// FetchedDoc is a document file fetched from GitHub
type FetchedDoc struct {
	Path    string // relative to the repo directory
	Content string
	SHA     string // blob SHA
	URL     string // browser URL
}

// Fetcher lists and fetches documents under one repository directory.
type Fetcher struct {
	client     *Client
	repo       Repo
	extensions []string
}

// NewFetcher creates a fetcher for files with the given extensions
// (DefaultExtensions when empty).
func NewFetcher(client *Client, repo Repo, extensions ...string) *Fetcher {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	return &Fetcher{client: client, repo: repo, extensions: extensions}
}

// Repo returns the directory this fetcher reads.
func (f *Fetcher) Repo() Repo { return f.repo }

func (f *Fetcher) contentOptions() *github.RepositoryContentGetOptions {
	if f.repo.Ref == "" {
		return nil
	}
	return &github.RepositoryContentGetOptions{Ref: f.repo.Ref}
}

// ListDocs recursively lists matching files, as paths relative to the repo directory.
func (f *Fetcher) ListDocs(ctx context.Context) ([]string, error) {
	return f.listDocsRecursive(ctx, f.repo.Path, "")
}

func (f *Fetcher) listDocsRecursive(ctx context.Context, fullPath, relativePath string) ([]string, error) {
	_, dirContents, _, err := f.client.Repositories.GetContents(
		ctx, f.repo.Owner, f.repo.Name, fullPath, f.contentOptions(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get contents of %s: %w", fullPath, err)
	}

	var docs []string
	for _, item := range dirContents {
		name := item.GetName()
		if name == "" {
			continue
		}
		itemRelPath := path.Join(relativePath, name)

		switch item.GetType() {
		case "file":
			if f.wanted(name) {
				docs = append(docs, itemRelPath)
			}
		case "dir":
			subDocs, err := f.listDocsRecursive(ctx, path.Join(fullPath, name), itemRelPath)
			if err != nil {
				return nil, err
			}
			docs = append(docs, subDocs...)
		}
	}
	return docs, nil
}

func (f *Fetcher) wanted(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return slices.Contains(f.extensions, ext)
}

// FetchDoc fetches one file by its path relative to the repo directory.
func (f *Fetcher) FetchDoc(ctx context.Context, relativePath string) (*FetchedDoc, error) {
	fullPath := path.Join(f.repo.Path, relativePath)

	fileContent, _, _, err := f.client.Repositories.GetContents(
		ctx, f.repo.Owner, f.repo.Name, fullPath, f.contentOptions(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get content of %s: %w", fullPath, err)
	}
	if fileContent == nil {
		return nil, fmt.Errorf("no file content returned for %s", fullPath)
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode content of %s: %w", fullPath, err)
	}

	return &FetchedDoc{
		Path:    relativePath,
		Content: content,
		SHA:     fileContent.GetSHA(),
		URL:     fileContent.GetHTMLURL(),
	}, nil
}

// GetLatestCommitSHA retrieves the SHA of the most recent commit touching the directory.
func (f *Fetcher) GetLatestCommitSHA(ctx context.Context) (string, error) {
	commits, _, err := f.client.Repositories.ListCommits(
		ctx, f.repo.Owner, f.repo.Name,
		&github.CommitsListOptions{
			SHA:         f.repo.Ref,
			Path:        f.repo.Path,
			ListOptions: github.ListOptions{PerPage: 1},
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to get latest commit: %w", err)
	}
	if len(commits) == 0 {
		return "", fmt.Errorf("no commits found for path %s", f.repo.Path)
	}
	if commits[0].SHA == nil {
		return "", fmt.Errorf("commit SHA is nil")
	}
	return *commits[0].SHA, nil
}
