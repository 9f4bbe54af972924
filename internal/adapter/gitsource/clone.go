// Package gitsource fetches report corpora from git repositories for
// batch ingestion.
package gitsource

import (
	"context"
	"fmt"
	"os"

	goGit "github.com/go-git/go-git/v5"
)

// Fetcher clones report repositories into temporary directories.
type Fetcher struct{}

// NewFetcher creates a corpus fetcher.
func NewFetcher() *Fetcher {
	return &Fetcher{}
}

// Fetch shallow-clones url and returns the checkout path plus a
// cleanup function. The caller ingests the checkout, then calls
// cleanup.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, func(), error) {
	dir, err := os.MkdirTemp("", "mnemo-corpus-*")
	if err != nil {
		return "", nil, fmt.Errorf("creating checkout dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	_, err = goGit.PlainCloneContext(ctx, dir, false, &goGit.CloneOptions{
		URL:          url,
		Depth:        1,
		SingleBranch: true,
	})
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("cloning %s: %w", url, err)
	}

	return dir, cleanup, nil
}
