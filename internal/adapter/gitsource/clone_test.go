package gitsource

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	goGit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initSourceRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	repo, err := goGit.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.md"), []byte("# Report\nSSRF in proxy."), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("report.md")
	require.NoError(t, err)
	_, err = wt.Commit("add report", &goGit.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.com"},
	})
	require.NoError(t, err)

	return dir
}

func TestFetchClonesRepository(t *testing.T) {
	source := initSourceRepo(t)

	dir, cleanup, err := NewFetcher().Fetch(context.Background(), source)
	require.NoError(t, err)
	defer cleanup()

	data, err := os.ReadFile(filepath.Join(dir, "report.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "SSRF in proxy")
}

func TestFetchInvalidURL(t *testing.T) {
	_, _, err := NewFetcher().Fetch(context.Background(), "/nonexistent/repo/path")
	require.Error(t, err)
}
