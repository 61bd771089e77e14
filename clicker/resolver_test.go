package clicker

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// deadDownloadBase never connects, so resolution falls straight through the
// download step.
const deadDownloadBase = "http://127.0.0.1:1"

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvClickerPath, "")
	t.Setenv(EnvClickerPathAlias, "")
	t.Setenv("PATH", t.TempDir())
}

func writeExecutable(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0755))
	return path
}

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	return NewResolver(WithCacheDir(t.TempDir()), WithDownloadBase(deadDownloadBase))
}

func TestResolveExplicitPath(t *testing.T) {
	clearEnv(t)
	exe := writeExecutable(t, t.TempDir(), "clicker")

	path, err := newTestResolver(t).Resolve(exe)
	require.NoError(t, err)
	require.Equal(t, exe, path)
}

func TestResolveExplicitPathNotExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no executable bit on windows")
	}
	clearEnv(t)
	notExe := filepath.Join(t.TempDir(), "clicker")
	require.NoError(t, os.WriteFile(notExe, []byte("data"), 0644))

	_, err := newTestResolver(t).Resolve(notExe)
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Equal(t, notExe, resErr.Path)
	require.Contains(t, err.Error(), notExe)
}

func TestResolveEnvVar(t *testing.T) {
	clearEnv(t)
	exe := writeExecutable(t, t.TempDir(), "clicker")
	t.Setenv(EnvClickerPath, exe)

	path, err := newTestResolver(t).Resolve("")
	require.NoError(t, err)
	require.Equal(t, exe, path)
}

func TestResolveEnvVarAlias(t *testing.T) {
	clearEnv(t)
	exe := writeExecutable(t, t.TempDir(), "clicker")
	t.Setenv(EnvClickerPathAlias, exe)

	path, err := newTestResolver(t).Resolve("")
	require.NoError(t, err)
	require.Equal(t, exe, path)
}

func TestResolveDownload(t *testing.T) {
	clearEnv(t)

	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte("#!/bin/sh\nexit 0\n"))
	}))
	defer srv.Close()

	cacheDir := t.TempDir()
	r := NewResolver(WithCacheDir(cacheDir), WithDownloadBase(srv.URL))

	path, err := r.Resolve("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(cacheDir, "clicker", Version, BinaryName()), path)
	require.True(t, isExecutable(path))
	require.EqualValues(t, 1, requests.Load())

	// A second resolve reuses the extracted copy.
	again, err := r.Resolve("")
	require.NoError(t, err)
	require.Equal(t, path, again)
	require.EqualValues(t, 1, requests.Load())

	// No leftover temp files from the atomic extraction.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestResolveFromPath(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	exe := writeExecutable(t, dir, BinaryName())
	t.Setenv("PATH", dir)

	path, err := newTestResolver(t).Resolve("")
	require.NoError(t, err)
	require.Equal(t, exe, path)
}

func TestResolveFromCacheDir(t *testing.T) {
	clearEnv(t)
	cacheDir := t.TempDir()
	exe := writeExecutable(t, cacheDir, BinaryName())

	r := NewResolver(WithCacheDir(cacheDir), WithDownloadBase(deadDownloadBase))
	path, err := r.Resolve("")
	require.NoError(t, err)
	require.Equal(t, exe, path)
}

func TestResolveRemediation(t *testing.T) {
	clearEnv(t)

	_, err := newTestResolver(t).Resolve("")
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Contains(t, err.Error(), EnvClickerPath)
	require.Contains(t, err.Error(), "PATH")
}
