package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidReference = errors.New("invalid reference")
)

// classify marks registry "unknown" responses with ErrNotFound, keeping the
// original error in the chain.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}

	var terr *transport.Error
	if !errors.As(err, &terr) {
		return err
	}

	if terr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	for _, d := range terr.Errors {
		switch d.Code {
		case transport.NameUnknownErrorCode, transport.ManifestUnknownErrorCode, transport.BlobUnknownErrorCode:
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		}
	}
	return err
}

// retryable reports transient failures: network errors, 429 and 5xx.
func retryable(err error) bool {
	if errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var terr *transport.Error
	if errors.As(err, &terr) {
		return terr.StatusCode == http.StatusTooManyRequests || terr.StatusCode >= http.StatusInternalServerError
	}

	var nerr net.Error
	return errors.As(err, &nerr)
}
