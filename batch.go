package dimgreg

import (
	"context"
	"errors"
	"fmt"

	"github.com/sourcegraph/conc/pool"
)

// TagInfo identifies the image behind a tag.
type TagInfo struct {
	Tag      string
	ImageID  string
	ParentID string
}

// DescribeTags resolves image and parent IDs for tags in the suffixed
// repository, in parallel. The result follows the order of tags.
func (v *View) DescribeTags(ctx context.Context, tags []string, suffix string) ([]TagInfo, error) {
	return scoped(v, suffix, func(repo Repository) ([]TagInfo, error) {
		infos := make([]TagInfo, len(tags))
		if len(tags) == 0 {
			return infos, nil
		}

		p := pool.New().WithMaxGoroutines(v.concurrency).WithContext(ctx).WithCancelOnError()
		for i, tag := range tags {
			i, tag := i, tag
			p.Go(func(ctx context.Context) error {
				id, err := repo.ImageID(ctx, tag)
				if err != nil {
					return fmt.Errorf("image id of %s: %w", tag, err)
				}
				parent, err := repo.ImageParentID(ctx, tag)
				if err != nil {
					return fmt.Errorf("parent id of %s: %w", tag, err)
				}
				infos[i] = TagInfo{Tag: tag, ImageID: id, ParentID: parent}
				return nil
			})
		}

		if err := p.Wait(); err != nil {
			return nil, err
		}
		return infos, nil
	})
}

// FlushStages deletes every stage tag of the base repository and returns the
// tags removed. Tags already gone from the registry count as removed. With
// dryRun it only reports what would be deleted.
func (v *View) FlushStages(ctx context.Context, dryRun bool) ([]string, error) {
	tags, err := v.StageTags(ctx)
	if err != nil {
		return nil, err
	}
	if dryRun || len(tags) == 0 {
		return tags, nil
	}

	log := v.log.WithField("repository", v.Ref())
	log.WithField("count", len(tags)).Info("flushing stage tags")

	done := make([]bool, len(tags))
	p := pool.New().WithMaxGoroutines(v.concurrency).WithContext(ctx).WithCancelOnError()
	for i, tag := range tags {
		i, tag := i, tag
		p.Go(func(ctx context.Context) error {
			err := v.DeleteImage(ctx, tag, "")
			switch {
			case errors.Is(err, ErrNotFound):
				log.WithField("tag", tag).Debug("stage already removed")
			case err != nil:
				return fmt.Errorf("delete %s: %w", tag, err)
			default:
				log.WithField("tag", tag).Info("stage removed")
			}
			done[i] = true
			return nil
		})
	}
	err = p.Wait()

	removed := make([]string, 0, len(tags))
	for i, tag := range tags {
		if done[i] {
			removed = append(removed, tag)
		}
	}
	return removed, err
}
