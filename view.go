package dimgreg

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/aweris/dimgreg/internal/remote"
	"github.com/aweris/dimgreg/internal/store"
)

// Repository is the registry accessor a View decorates.
type Repository = remote.Repository

// View classifies the tags of a repository by naming convention and
// addresses sub-repositories by suffix without mutating the accessor.
type View struct {
	repo        Repository
	stagePrefix string
	concurrency int
	log         logrus.FieldLogger
	store       store.Store

	mu      sync.Mutex
	history map[historyKey][]v1.History
	flight  singleflight.Group
}

type historyKey struct {
	suffix string
	tag    string
}

// New wraps repo. Only StagePrefix, Concurrency and Logger apply; the
// remaining options configure the accessor built by Open.
func New(repo Repository, opts ...Option) *View {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return newView(repo, options, nil)
}

// Open creates a View for a repository ref such as "registry.example.com/project/app".
func Open(repoRef string, opts ...Option) (*View, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	auth := options.Auth
	if auth == nil {
		auth = remote.NewDefaultAuthenticator()
	}

	remoteOpts := []remote.Option{remote.WithLogger(options.Logger)}
	if options.Insecure {
		remoteOpts = append(remoteOpts, remote.WithInsecure())
	}

	repo, err := remote.NewRegistry(repoRef, auth, remoteOpts...)
	if err != nil {
		return nil, err
	}

	if options.CacheDir == "" {
		return newView(repo, options, nil), nil
	}

	// One cache directory per registry host.
	s, err := store.NewLocalStore(expandPath(options.CacheDir), repo.Registry(), store.DefaultCacheSize, 2, true)
	if err != nil {
		return nil, fmt.Errorf("open config cache: %w", err)
	}
	return newView(repo.WithStore(s), options, s), nil
}

func newView(repo Repository, options *Options, s store.Store) *View {
	return &View{
		repo:        repo,
		stagePrefix: options.StagePrefix,
		concurrency: max(options.Concurrency, 1),
		log:         options.Logger,
		store:       s,
		history:     make(map[historyKey][]v1.History),
	}
}

// Ref returns the base repository reference.
func (v *View) Ref() string { return v.repo.String() }

// Close releases the config cache, if any.
func (v *View) Close() error {
	if v.store == nil {
		return nil
	}
	return v.store.Close()
}

// StageTags returns the tags carrying the stage prefix, in listing order.
func (v *View) StageTags(ctx context.Context) ([]string, error) {
	tags, err := v.Tags(ctx)
	if err != nil {
		return nil, err
	}
	return v.filter(tags, true), nil
}

// NamedTags returns every tag that is not a stage tag.
func (v *View) NamedTags(ctx context.Context) ([]string, error) {
	tags, err := v.Tags(ctx)
	if err != nil {
		return nil, err
	}
	return v.filter(tags, false), nil
}

// TagsForRepository lists the tags of the sub-repository name.
func (v *View) TagsForRepository(ctx context.Context, name string) ([]string, error) {
	return scoped(v, name, func(repo Repository) ([]string, error) {
		return listTags(ctx, repo)
	})
}

// Tags lists the repository's tags. A repository that does not exist yet has no tags.
func (v *View) Tags(ctx context.Context) ([]string, error) {
	return listTags(ctx, v.repo)
}

// ImageID returns the config digest of tag in the suffixed repository.
func (v *View) ImageID(ctx context.Context, tag, suffix string) (string, error) {
	return scoped(v, suffix, func(repo Repository) (string, error) {
		return repo.ImageID(ctx, tag)
	})
}

// ImageParentID returns the parent image ID of tag, or "" when it has none.
func (v *View) ImageParentID(ctx context.Context, tag, suffix string) (string, error) {
	return scoped(v, suffix, func(repo Repository) (string, error) {
		return repo.ImageParentID(ctx, tag)
	})
}

// ImageLabels returns the config labels of tag in the suffixed repository.
func (v *View) ImageLabels(ctx context.Context, tag, suffix string) (map[string]string, error) {
	return scoped(v, suffix, func(repo Repository) (map[string]string, error) {
		return repo.ImageLabels(ctx, tag)
	})
}

// DeleteImage deletes the manifest tag points to in the suffixed repository.
func (v *View) DeleteImage(ctx context.Context, tag, suffix string) error {
	_, err := scoped(v, suffix, func(repo Repository) (struct{}, error) {
		return struct{}{}, repo.DeleteImage(ctx, tag)
	})
	return err
}

// ImageHistory returns the image history of tag in the suffixed repository.
// Results are memoized per (suffix, tag) for the lifetime of the View; errors are not.
func (v *View) ImageHistory(ctx context.Context, tag, suffix string) ([]v1.History, error) {
	return scoped(v, suffix, func(repo Repository) ([]v1.History, error) {
		key := historyKey{suffix: repo.Suffix(), tag: tag}

		if h, ok := v.cachedHistory(key); ok {
			return slices.Clone(h), nil
		}

		// The shared lookup outlives any single caller; each caller stops
		// waiting when its own ctx is done.
		shared := context.WithoutCancel(ctx)
		ch := v.flight.DoChan(key.suffix+"\x00"+key.tag, func() (any, error) {
			// A flight that finished between our lookup and DoChan already filled the cache.
			if h, ok := v.cachedHistory(key); ok {
				return h, nil
			}
			h, err := repo.ImageHistory(shared, tag)
			if err != nil {
				return nil, err
			}
			v.mu.Lock()
			v.history[key] = h
			v.mu.Unlock()
			return h, nil
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			return slices.Clone(res.Val.([]v1.History)), nil
		}
	})
}

func (v *View) cachedHistory(key historyKey) ([]v1.History, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	h, ok := v.history[key]
	return h, ok
}

func (v *View) isStage(tag string) bool {
	return strings.HasPrefix(tag, v.stagePrefix)
}

func (v *View) filter(tags []string, stage bool) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if v.isStage(tag) == stage {
			out = append(out, tag)
		}
	}
	return out
}

func listTags(ctx context.Context, repo Repository) ([]string, error) {
	tags, err := repo.Tags(ctx)
	if errors.Is(err, ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return tags, nil
}

// scoped runs fn against the accessor extended with suffix. The base
// accessor is never modified, so there is nothing to restore.
func scoped[T any](v *View, suffix string, fn func(Repository) (T, error)) (T, error) {
	repo, err := v.repo.WithSuffix(suffix)
	if err != nil {
		var zero T
		return zero, err
	}
	return fn(repo)
}
