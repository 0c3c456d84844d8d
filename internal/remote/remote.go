// Package remote implements registry repository access on top of go-containerregistry.
//
// A Repository value is immutable: WithSuffix returns a new accessor
// addressing a sub-repository and never changes the receiver, so one
// accessor can be shared across goroutines.
package remote

import (
	"context"

	v1 "github.com/google/go-containerregistry/pkg/v1"
)

// Repository is the registry repository accessor consumed by the tag view.
type Repository interface {
	// Suffix is the path appended to the base repository, "" for the base itself.
	Suffix() string

	// WithSuffix returns an accessor for join(Suffix(), extra).
	WithSuffix(extra string) (Repository, error)

	// String is the effective repository reference.
	String() string

	Tags(ctx context.Context) ([]string, error)
	ImageID(ctx context.Context, tag string) (string, error)
	ImageParentID(ctx context.Context, tag string) (string, error)
	ImageLabels(ctx context.Context, tag string) (map[string]string, error)
	DeleteImage(ctx context.Context, tag string) error
	ImageHistory(ctx context.Context, tag string) ([]v1.History, error)
}
