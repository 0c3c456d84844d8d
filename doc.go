// Package dimgreg provides a tag-convention view over a Docker Registry v2 repository.
//
// Tags in a dimg repository fall into two classes: stage tags, which carry
// the "dimgstage" prefix and hold intermediate build cache, and named tags,
// which are user-facing releases. Sub-images live in sub-repositories
// addressed by a path suffix.
//
// Basic usage:
//
//	view, _ := dimgreg.Open("registry.example.com/project/app")
//
//	stages, _ := view.StageTags(ctx)
//	releases, _ := view.NamedTags(ctx)
//
//	// Tags of the "backend" dimg, stored at .../project/app/backend
//	tags, _ := view.TagsForRepository(ctx, "backend")
//
//	// Image metadata; the last argument is the repository suffix
//	id, _ := view.ImageID(ctx, "v1.0", "backend")
//	labels, _ := view.ImageLabels(ctx, "v1.0", "backend")
//	history, _ := view.ImageHistory(ctx, "v1.0", "backend") // memoized
//
//	// Maintenance
//	removed, _ := view.FlushStages(ctx, false)
//
// A View never mutates the accessor it wraps and is safe for concurrent use.
package dimgreg
