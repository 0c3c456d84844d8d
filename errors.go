package dimgreg

import "github.com/aweris/dimgreg/internal/remote"

var (
	ErrNotFound         = remote.ErrNotFound
	ErrInvalidReference = remote.ErrInvalidReference
)
