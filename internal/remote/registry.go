package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/sirupsen/logrus"

	"github.com/aweris/dimgreg/internal/store"
)

const maxAttempts = 3

// Registry is a Repository backed by a Docker Registry v2 / OCI distribution endpoint.
type Registry struct {
	base      name.Repository
	repo      name.Repository
	suffix    string
	nameOpts  []name.Option
	auth      Authenticator
	store     store.Store
	transport http.RoundTripper
	log       logrus.FieldLogger
}

var _ Repository = (*Registry)(nil)

type Option func(*Registry)

// WithStore caches image config blobs in s.
func WithStore(s store.Store) Option {
	return func(r *Registry) { r.store = s }
}

// WithInsecure allows plain HTTP to the registry.
func WithInsecure() Option {
	return func(r *Registry) { r.nameOpts = append(r.nameOpts, name.Insecure) }
}

func WithTransport(t http.RoundTripper) Option {
	return func(r *Registry) { r.transport = t }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRegistry creates an accessor for a repository ref such as "registry.example.com/project/app".
func NewRegistry(repoRef string, auth Authenticator, opts ...Option) (*Registry, error) {
	r := &Registry{
		auth: auth,
		log:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	repo, err := name.NewRepository(repoRef, r.nameOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidReference, repoRef, err)
	}
	r.base = repo
	r.repo = repo
	return r, nil
}

// WithStore returns a copy of r that caches image config blobs in s.
func (r *Registry) WithStore(s store.Store) *Registry {
	clone := *r
	clone.store = s
	return &clone
}

func (r *Registry) Suffix() string   { return r.suffix }
func (r *Registry) String() string   { return r.repo.String() }
func (r *Registry) Registry() string { return r.repo.RegistryStr() }

// WithSuffix returns a copy addressing base/join(suffix, extra).
func (r *Registry) WithSuffix(extra string) (Repository, error) {
	suffix := strings.Trim(path.Join(r.suffix, extra), "/")
	if suffix == "." {
		suffix = ""
	}
	if suffix == ".." || strings.HasPrefix(suffix, "../") {
		return nil, fmt.Errorf("%w: suffix %q escapes %s", ErrInvalidReference, extra, r.base)
	}

	clone := *r
	clone.suffix = suffix
	if suffix == "" {
		clone.repo = r.base
		return &clone, nil
	}

	repo, err := name.NewRepository(r.base.RegistryStr()+"/"+path.Join(r.base.RepositoryStr(), suffix), r.nameOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: suffix %q: %w", ErrInvalidReference, extra, err)
	}
	clone.repo = repo
	return &clone, nil
}

func (r *Registry) Tags(ctx context.Context) ([]string, error) {
	r.log.WithField("repository", r.repo.String()).Debug("list tags")

	tags, err := retry(ctx, maxAttempts, func() ([]string, error) {
		return remote.List(r.repo, r.remoteOptions(ctx)...)
	})
	if err != nil {
		return nil, fmt.Errorf("list tags of %s: %w", r.repo, err)
	}
	return tags, nil
}

func (r *Registry) ImageID(ctx context.Context, tag string) (string, error) {
	id, _, err := r.config(ctx, tag)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ImageParentID returns the parent image id recorded in the image config,
// or "" for images without one.
func (r *Registry) ImageParentID(ctx context.Context, tag string) (string, error) {
	_, raw, err := r.config(ctx, tag)
	if err != nil {
		return "", err
	}

	var cfg struct {
		Parent          string `json:"parent"`
		ContainerConfig struct {
			Image string `json:"Image"`
		} `json:"container_config"`
		Config struct {
			Image string `json:"Image"`
		} `json:"config"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return "", fmt.Errorf("parse config of %s: %w", r.tagString(tag), err)
	}

	switch {
	case cfg.Parent != "":
		return cfg.Parent, nil
	case cfg.ContainerConfig.Image != "":
		return cfg.ContainerConfig.Image, nil
	default:
		return cfg.Config.Image, nil
	}
}

func (r *Registry) ImageLabels(ctx context.Context, tag string) (map[string]string, error) {
	cfg, err := r.configFile(ctx, tag)
	if err != nil {
		return nil, err
	}
	if cfg.Config.Labels == nil {
		return map[string]string{}, nil
	}
	return cfg.Config.Labels, nil
}

func (r *Registry) ImageHistory(ctx context.Context, tag string) ([]v1.History, error) {
	cfg, err := r.configFile(ctx, tag)
	if err != nil {
		return nil, err
	}
	return cfg.History, nil
}

// DeleteImage resolves tag to its manifest digest and deletes the manifest.
// The distribution API only deletes by digest.
func (r *Registry) DeleteImage(ctx context.Context, tag string) error {
	ref, err := r.tag(tag)
	if err != nil {
		return err
	}

	log := r.log.WithFields(logrus.Fields{"repository": r.repo.String(), "tag": tag})
	log.Debug("resolve manifest digest")

	desc, err := retry(ctx, maxAttempts, func() (*v1.Descriptor, error) {
		return remote.Head(ref, r.remoteOptions(ctx)...)
	})
	if err != nil {
		return fmt.Errorf("resolve %s: %w", ref, err)
	}

	digest := r.repo.Digest(desc.Digest.String())
	log.WithField("digest", desc.Digest.String()).Debug("delete manifest")

	if _, err := retry(ctx, maxAttempts, func() (struct{}, error) {
		return struct{}{}, remote.Delete(digest, r.remoteOptions(ctx)...)
	}); err != nil {
		return fmt.Errorf("delete %s: %w", digest, err)
	}
	return nil
}

func (r *Registry) configFile(ctx context.Context, tag string) (*v1.ConfigFile, error) {
	_, raw, err := r.config(ctx, tag)
	if err != nil {
		return nil, err
	}
	cfg, err := v1.ParseConfigFile(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse config of %s: %w", r.tagString(tag), err)
	}
	return cfg, nil
}

// config returns the image ID and raw config blob for tag. Config blobs are
// content addressed, so a store hit for the ID never goes stale.
func (r *Registry) config(ctx context.Context, tag string) (v1.Hash, []byte, error) {
	ref, err := r.tag(tag)
	if err != nil {
		return v1.Hash{}, nil, err
	}

	log := r.log.WithFields(logrus.Fields{"repository": r.repo.String(), "tag": tag})
	log.Debug("fetch manifest")

	img, err := retry(ctx, maxAttempts, func() (v1.Image, error) {
		img, err := remote.Image(ref, r.remoteOptions(ctx)...)
		if err != nil {
			return nil, err
		}
		// Force the manifest fetch so failures are classified and retried here.
		if _, err := img.ConfigName(); err != nil {
			return nil, err
		}
		return img, nil
	})
	if err != nil {
		return v1.Hash{}, nil, fmt.Errorf("fetch %s: %w", ref, err)
	}

	id, err := img.ConfigName()
	if err != nil {
		return v1.Hash{}, nil, fmt.Errorf("config digest of %s: %w", ref, err)
	}

	if r.store != nil {
		if raw, err := r.store.Get(ctx, id.Hex); err == nil {
			log.WithField("id", id.String()).Debug("config cache hit")
			return id, raw, nil
		}
	}

	log.WithField("id", id.String()).Debug("fetch config")
	raw, err := retry(ctx, maxAttempts, func() ([]byte, error) {
		return img.RawConfigFile()
	})
	if err != nil {
		return v1.Hash{}, nil, fmt.Errorf("fetch config of %s: %w", ref, err)
	}

	if r.store != nil {
		if _, err := r.store.Put(ctx, raw); err != nil {
			log.WithError(err).Warn("cache image config")
		}
	}
	return id, raw, nil
}

func (r *Registry) tag(tag string) (name.Tag, error) {
	ref, err := name.NewTag(r.repo.String()+":"+tag, r.nameOpts...)
	if err != nil {
		return name.Tag{}, fmt.Errorf("%w: tag %q: %w", ErrInvalidReference, tag, err)
	}
	return ref, nil
}

func (r *Registry) tagString(tag string) string {
	return r.repo.String() + ":" + tag
}

func (r *Registry) remoteOptions(ctx context.Context) []remote.Option {
	options := []remote.Option{remote.WithContext(ctx)}
	if r.transport != nil {
		options = append(options, remote.WithTransport(r.transport))
	}

	if r.auth != nil {
		username, password, err := r.auth.Authenticate(r.Registry())
		if err != nil {
			r.log.WithError(err).WithField("registry", r.Registry()).Debug("authenticator failed, falling back to keychain")
		}
		if err == nil && username != "" {
			return append(options, remote.WithAuth(&authn.Basic{
				Username: username,
				Password: password,
			}))
		}
	}
	return append(options, remote.WithAuthFromKeychain(authn.DefaultKeychain))
}

func retry[T any](ctx context.Context, maxAttempts int, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = classify(err)
		if !retryable(lastErr) {
			return zero, lastErr
		}
		if i < maxAttempts-1 {
			delay := time.Duration(1<<i) * 500 * time.Millisecond // 500ms, 1s
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return zero, lastErr
}
