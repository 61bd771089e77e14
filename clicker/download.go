package clicker

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

// downloadRelease fetches the clicker release artifact for this platform into
// the version-keyed cache and returns its path. A previously extracted copy is
// reused, never overwritten; it may be in use by another process.
func (r *Resolver) downloadRelease() (string, error) {
	platform, err := PlatformIdentifier()
	if err != nil {
		return "", err
	}
	if r.cacheDir == "" {
		return "", fmt.Errorf("no cache directory available")
	}

	targetDir := filepath.Join(r.cacheDir, "clicker", Version)
	target := filepath.Join(targetDir, BinaryName())
	if isExecutable(target) {
		return target, nil
	}

	artifact := fmt.Sprintf("clicker-%s", platform)
	if runtime.GOOS == "windows" {
		artifact += ".exe"
	}
	url := fmt.Sprintf("%s/v%s/%s", r.downloadBase, Version, artifact)

	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.Logger = &logAdapter{SugaredLogger: r.log}
	if r.httpClient != nil {
		client.HTTPClient = r.httpClient
	}

	r.log.Debugw("downloading clicker release", "URL", url)
	resp, err := client.Get(url)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return "", fmt.Errorf("downloading %s: status %d", url, resp.StatusCode)
	}

	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return "", fmt.Errorf("creating cache dir: %w", err)
	}

	// Extract to a temp file then rename, so a concurrent resolve never sees
	// a partially-written binary.
	tmp := target + ".tmp." + uuid.NewString()
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0755)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp)

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return "", fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return "", fmt.Errorf("moving binary into cache: %w", err)
	}

	r.log.Infow("extracted clicker binary", "Path", target)
	return target, nil
}
