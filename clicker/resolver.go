package clicker

import (
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"
)

const (
	// EnvClickerPath points at a clicker binary and takes precedence over
	// every lookup except an explicit path argument.
	EnvClickerPath = "VIBIUM_CLICKER_PATH"

	// EnvClickerPathAlias is the shorter alias honored when EnvClickerPath
	// is unset.
	EnvClickerPathAlias = "CLICKER_PATH"

	// EnvDownloadBase overrides the release download base URL.
	EnvDownloadBase = "VIBIUM_DOWNLOAD_URL"

	defaultDownloadBase = "https://github.com/vibium/vibium/releases/download"
)

// Resolver locates the clicker binary.
//
// Search order, first match wins:
//
//  1. Explicit path (if provided)
//  2. VIBIUM_CLICKER_PATH or CLICKER_PATH environment variable
//  3. Release artifact downloaded to the cache on first use
//  4. System PATH
//  5. Cache directory (placed there manually or by another tool)
//  6. Local development paths relative to the working directory
type Resolver struct {
	log          *zap.SugaredLogger
	cacheDir     string
	downloadBase string
	httpClient   *http.Client
}

type ResolverOption func(r *Resolver)

func WithResolverLogger(l *zap.SugaredLogger) ResolverOption {
	return func(r *Resolver) {
		r.log = l.Named("resolver")
	}
}

// WithCacheDir overrides the per-user cache directory.
func WithCacheDir(dir string) ResolverOption {
	return func(r *Resolver) {
		r.cacheDir = dir
	}
}

// WithDownloadBase overrides the base URL that release artifacts are
// downloaded from.
func WithDownloadBase(url string) ResolverOption {
	return func(r *Resolver) {
		r.downloadBase = url
	}
}

func WithHTTPClient(c *http.Client) ResolverOption {
	return func(r *Resolver) {
		r.httpClient = c
	}
}

func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		log:          zap.NewNop().Sugar(),
		downloadBase: defaultDownloadBase,
	}
	if base := os.Getenv(EnvDownloadBase); base != "" {
		r.downloadBase = base
	}
	for _, o := range opts {
		o(r)
	}
	if r.cacheDir == "" {
		if dir, err := CacheDir(); err == nil {
			r.cacheDir = dir
		}
	}
	return r
}

// Resolve returns the path of the clicker binary to run. An empty explicitPath
// means "search"; a non-empty one must point at an executable file or the call
// fails with a ResolutionError naming it.
func (r *Resolver) Resolve(explicitPath string) (string, error) {
	binaryName := BinaryName()

	// 1. Explicit path
	if explicitPath != "" {
		if isExecutable(explicitPath) {
			r.log.Debugw("using explicit clicker path", "Path", explicitPath)
			return explicitPath, nil
		}
		return "", &ResolutionError{Path: explicitPath}
	}

	// 2. Environment variable
	envPath := os.Getenv(EnvClickerPath)
	if envPath == "" {
		envPath = os.Getenv(EnvClickerPathAlias)
	}
	if envPath != "" {
		if isExecutable(envPath) {
			r.log.Debugw("using env var clicker path", "Path", envPath)
			return envPath, nil
		}
		r.log.Warnw("environment variable set but binary not found", "Path", envPath)
	}

	// 3. Release artifact in the cache, downloaded on first use
	downloaded, err := r.downloadRelease()
	if err == nil {
		r.log.Debugw("using downloaded clicker", "Path", downloaded)
		return downloaded, nil
	}
	r.log.Debugw("no downloadable clicker release", "Error", err)

	// 4. System PATH
	if pathBinary, err := exec.LookPath(binaryName); err == nil {
		r.log.Debugw("using clicker from PATH", "Path", pathBinary)
		return pathBinary, nil
	}

	// 5. Cache directory
	cacheBinary := filepath.Join(r.cacheDir, binaryName)
	if r.cacheDir != "" && isExecutable(cacheBinary) {
		r.log.Debugw("using clicker from cache", "Path", cacheBinary)
		return cacheBinary, nil
	}

	// 6. Local development paths
	if cwd, err := os.Getwd(); err == nil {
		localPaths := []string{
			// from the vibium repo root
			filepath.Join(cwd, "clicker", "bin", binaryName),
			// from clients/<lang>/
			filepath.Join(cwd, "..", "..", "clicker", "bin", binaryName),
			// from tests/<lang>/
			filepath.Join(cwd, "..", "..", "..", "clicker", "bin", binaryName),
		}
		for _, localPath := range localPaths {
			if isExecutable(localPath) {
				abs, err := filepath.Abs(localPath)
				if err != nil {
					abs = localPath
				}
				r.log.Debugw("using local clicker path", "Path", abs)
				return abs, nil
			}
		}
	}

	return "", &ResolutionError{
		Remediation: "Options:\n" +
			"  1. Set the " + EnvClickerPath + " environment variable\n" +
			"  2. Add clicker to your PATH\n" +
			"  3. Build from source: make build-go",
	}
}

// Resolve locates the clicker binary with default resolver settings.
func Resolve(explicitPath string) (string, error) {
	return NewResolver().Resolve(explicitPath)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0111 != 0
}
