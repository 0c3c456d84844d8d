package remote

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/registry"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/dimgreg/internal/store"
)

func newRegistryHandler() http.Handler {
	return registry.New(registry.Logger(log.New(io.Discard, "", 0)))
}

func newTestRegistry(t *testing.T) string {
	t.Helper()
	s := httptest.NewServer(newRegistryHandler())
	t.Cleanup(s.Close)
	return strings.TrimPrefix(s.URL, "http://")
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func pushImage(t *testing.T, ref string, mutateConfig func(*v1.ConfigFile)) v1.Image {
	t.Helper()

	img, err := random.Image(256, 1)
	require.NoError(t, err)

	if mutateConfig != nil {
		cfg, err := img.ConfigFile()
		require.NoError(t, err)
		mutateConfig(cfg)
		img, err = mutate.ConfigFile(img, cfg)
		require.NoError(t, err)
	}

	tag, err := name.NewTag(ref)
	require.NoError(t, err)
	require.NoError(t, remote.Write(tag, img))
	return img
}

func TestRegistryTags(t *testing.T) {
	ctx := context.Background()
	host := newTestRegistry(t)

	pushImage(t, host+"/project/app:v1", nil)
	pushImage(t, host+"/project/app:dimgstage-abc", nil)
	pushImage(t, host+"/project/app/backend:v2", nil)

	r, err := NewRegistry(host+"/project/app", nil, WithLogger(quietLogger()))
	require.NoError(t, err)

	tags, err := r.Tags(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"v1", "dimgstage-abc"}, tags)

	sub, err := r.WithSuffix("backend")
	require.NoError(t, err)
	assert.Equal(t, "backend", sub.Suffix())
	assert.Equal(t, "", r.Suffix())

	tags, err = sub.Tags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v2"}, tags)

	missing, err := r.WithSuffix("missing")
	require.NoError(t, err)
	_, err = missing.Tags(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryWithSuffix(t *testing.T) {
	r, err := NewRegistry("registry.example.com/project/app", nil)
	require.NoError(t, err)

	a, err := r.WithSuffix("a")
	require.NoError(t, err)
	ab, err := a.WithSuffix("b")
	require.NoError(t, err)

	assert.Equal(t, "a/b", ab.Suffix())
	assert.Equal(t, "registry.example.com/project/app/a/b", ab.String())
	assert.Equal(t, "registry.example.com/project/app/a", a.String())
	assert.Equal(t, "registry.example.com/project/app", r.String())

	same, err := r.WithSuffix("")
	require.NoError(t, err)
	assert.Equal(t, r.String(), same.String())

	_, err = r.WithSuffix("../other")
	assert.ErrorIs(t, err, ErrInvalidReference)

	_, err = r.WithSuffix("UPPER")
	assert.ErrorIs(t, err, ErrInvalidReference)

	_, err = NewRegistry("Not A Repo", nil)
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestRegistryImageMetadata(t *testing.T) {
	ctx := context.Background()
	host := newTestRegistry(t)

	img := pushImage(t, host+"/project/app:v1", func(cfg *v1.ConfigFile) {
		cfg.Config.Labels = map[string]string{"dapp": "app", "dimg": "backend"}
		cfg.Config.Image = "sha256:1111111111111111111111111111111111111111111111111111111111111111"
		cfg.History = []v1.History{
			{CreatedBy: "FROM alpine"},
			{CreatedBy: "RUN make", EmptyLayer: true},
		}
	})
	pushImage(t, host+"/project/app:bare", func(cfg *v1.ConfigFile) {
		cfg.Config.Labels = nil
	})

	s, err := store.NewLocalStore(t.TempDir(), host, 8, 2, true)
	require.NoError(t, err)
	defer s.Close()

	r, err := NewRegistry(host+"/project/app", nil, WithStore(s), WithLogger(quietLogger()))
	require.NoError(t, err)

	wantID, err := img.ConfigName()
	require.NoError(t, err)

	id, err := r.ImageID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, wantID.String(), id)

	ok, err := s.Has(ctx, wantID.Hex)
	require.NoError(t, err)
	assert.True(t, ok, "config blob cached by image id")

	parent, err := r.ImageParentID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "sha256:1111111111111111111111111111111111111111111111111111111111111111", parent)

	labels, err := r.ImageLabels(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"dapp": "app", "dimg": "backend"}, labels)

	history, err := r.ImageHistory(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "FROM alpine", history[0].CreatedBy)
	assert.True(t, history[1].EmptyLayer)

	labels, err = r.ImageLabels(ctx, "bare")
	require.NoError(t, err)
	assert.NotNil(t, labels)
	assert.Empty(t, labels)

	parent, err = r.ImageParentID(ctx, "bare")
	require.NoError(t, err)
	assert.Empty(t, parent)

	_, err = r.ImageID(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryDeleteImage(t *testing.T) {
	ctx := context.Background()
	host := newTestRegistry(t)

	img := pushImage(t, host+"/project/app:dimgstage-abc", nil)
	digest, err := img.Digest()
	require.NoError(t, err)

	r, err := NewRegistry(host+"/project/app", nil, WithLogger(quietLogger()))
	require.NoError(t, err)

	require.NoError(t, r.DeleteImage(ctx, "dimgstage-abc"))

	ref, err := name.NewDigest(host + "/project/app@" + digest.String())
	require.NoError(t, err)
	_, err = remote.Head(ref)
	assert.Error(t, err)

	err = r.DeleteImage(ctx, "never-pushed")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryUsesAuthenticator(t *testing.T) {
	ctx := context.Background()
	var sawAuth atomic.Bool

	reg := newRegistryHandler()
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if u, p, ok := req.BasicAuth(); ok && u == "user" && p == "secret" {
			sawAuth.Store(true)
		}
		reg.ServeHTTP(w, req)
	}))
	defer s.Close()
	host := strings.TrimPrefix(s.URL, "http://")

	pushImage(t, host+"/project/app:v1", nil)

	r, err := NewRegistry(host+"/project/app", StaticAuthenticator{Username: "user", Password: "secret"}, WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = r.Tags(ctx)
	require.NoError(t, err)
	assert.True(t, sawAuth.Load())
}

func TestClassify(t *testing.T) {
	notFound := &transport.Error{StatusCode: http.StatusNotFound}
	assert.ErrorIs(t, classify(notFound), ErrNotFound)

	var terr *transport.Error
	assert.True(t, errors.As(classify(notFound), &terr), "original error stays in the chain")

	unknown := &transport.Error{
		StatusCode: http.StatusBadRequest,
		Errors:     []transport.Diagnostic{{Code: transport.NameUnknownErrorCode}},
	}
	assert.ErrorIs(t, classify(unknown), ErrNotFound)

	denied := &transport.Error{StatusCode: http.StatusUnauthorized}
	assert.NotErrorIs(t, classify(denied), ErrNotFound)
	assert.False(t, retryable(classify(denied)))

	assert.True(t, retryable(&transport.Error{StatusCode: http.StatusBadGateway}))
	assert.True(t, retryable(&transport.Error{StatusCode: http.StatusTooManyRequests}))
	assert.False(t, retryable(classify(notFound)))
	assert.False(t, retryable(errors.New("malformed")))
	assert.Nil(t, classify(nil))
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	calls := 0
	v, err := retry(ctx, 3, func() (int, error) {
		calls++
		if calls == 1 {
			return 0, &transport.Error{StatusCode: http.StatusServiceUnavailable}
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 2, calls)

	calls = 0
	_, err = retry(ctx, 3, func() (int, error) {
		calls++
		return 0, &transport.Error{StatusCode: http.StatusNotFound}
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, calls)
}
