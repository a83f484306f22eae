package sandbox

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/caffeineduck/pybox/internal/metrics"
	"go.uber.org/zap"
)

// Defaults.
const (
	DefaultTimeout  = 40 * time.Second
	DefaultArtifact = "sandbox.wasm"
)

// Option configures a Host at creation time.
type Option func(*hostConfig)

type hostConfig struct {
	timeout   time.Duration
	artifact  string
	module    []byte
	limiter   ResourceLimiter
	diskCache bool
	cacheDir  string
	stdin     io.Reader
	stdout    io.Writer
	stderr    io.Writer
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func defaultHostConfig() hostConfig {
	return hostConfig{
		timeout:  DefaultTimeout,
		artifact: DefaultArtifact,
		limiter:  DefaultLimiter(),
		stdin:    os.Stdin,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		logger:   zap.NewNop(),
	}
}

// WithTimeout sets the wall-clock budget of every call. Non-positive values
// keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *hostConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithArtifact sets the path of the guest module.
func WithArtifact(path string) Option {
	return func(c *hostConfig) {
		c.artifact = path
	}
}

// WithModule supplies the guest module bytes directly; the artifact path is
// then ignored.
func WithModule(wasm []byte) Option {
	return func(c *hostConfig) {
		c.module = wasm
	}
}

// WithMemoryCap sets the maximum linear memory of a guest instance in bytes.
func WithMemoryCap(bytes uint64) Option {
	return func(c *hostConfig) {
		if bytes > 0 {
			c.limiter.MemoryCap = bytes
		}
	}
}

// WithTableCap sets the maximum number of entries in any guest table.
func WithTableCap(entries uint32) Option {
	return func(c *hostConfig) {
		if entries > 0 {
			c.limiter.TableCap = entries
		}
	}
}

// WithCompilationCache enables a persistent compilation cache. It only makes
// startup faster. Optionally provide a directory; otherwise uses
// $XDG_CACHE_HOME/pybox or ~/.cache/pybox.
func WithCompilationCache(dir ...string) Option {
	return func(c *hostConfig) {
		c.diskCache = true
		if len(dir) > 0 && dir[0] != "" {
			c.cacheDir = dir[0]
		}
	}
}

// WithStdin sets the stream passed through to the guest's stdin.
func WithStdin(r io.Reader) Option {
	return func(c *hostConfig) {
		c.stdin = r
	}
}

// WithStdout sets where guest stdout goes.
func WithStdout(w io.Writer) Option {
	return func(c *hostConfig) {
		c.stdout = w
	}
}

// WithStderr sets where guest stderr goes, minus result frames.
func WithStderr(w io.Writer) Option {
	return func(c *hostConfig) {
		c.stderr = w
	}
}

// WithLogger sets the logger for host and session events. A nil logger is
// ignored.
func WithLogger(l *zap.Logger) Option {
	return func(c *hostConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records executions and active sessions. Nil disables metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *hostConfig) {
		c.metrics = m
	}
}

func defaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "pybox")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "pybox")
	}
	return filepath.Join(os.TempDir(), "pybox-cache")
}
