package dimgreg

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/aweris/dimgreg/internal/remote"
)

// DefaultStagePrefix marks tags of intermediate build stages.
const DefaultStagePrefix = "dimgstage"

// DefaultConcurrency bounds parallel registry calls in batch operations.
const DefaultConcurrency = 4

// Authenticator provides credentials for remote registries.
type Authenticator = remote.Authenticator

// StaticAuthenticator returns fixed credentials for every registry.
type StaticAuthenticator = remote.StaticAuthenticator

// Options configures a View.
type Options struct {
	CacheDir    string
	Auth        Authenticator
	Concurrency int
	StagePrefix string
	Insecure    bool
	Logger      logrus.FieldLogger
}

// Option is a functional option for configuring Open and New.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		CacheDir:    defaultCacheDir(),
		Concurrency: DefaultConcurrency,
		StagePrefix: DefaultStagePrefix,
		Logger:      logrus.StandardLogger(),
	}
}

// WithCacheDir sets the directory for cached image configs.
func WithCacheDir(dir string) Option {
	return func(o *Options) { o.CacheDir = dir }
}

// WithoutCache disables the on-disk image config cache.
func WithoutCache() Option {
	return func(o *Options) { o.CacheDir = "" }
}

// WithAuth sets custom authentication.
func WithAuth(auth Authenticator) Option {
	return func(o *Options) { o.Auth = auth }
}

// WithConcurrency sets the number of parallel registry calls for batch operations.
func WithConcurrency(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}

// WithStagePrefix sets the tag prefix that marks stage tags.
func WithStagePrefix(prefix string) Option {
	return func(o *Options) {
		if prefix != "" {
			o.StagePrefix = prefix
		}
	}
}

// WithInsecure allows plain HTTP registries.
func WithInsecure() Option {
	return func(o *Options) { o.Insecure = true }
}

// WithLogger sets the logger for registry calls and maintenance operations.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

func defaultCacheDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "dimgreg")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "dimgreg")
	}
	return ".dimgreg"
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
