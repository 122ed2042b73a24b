package catchup

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhook/relayhook/internal/ingest"
	"github.com/relayhook/relayhook/internal/objectstore"
)

type fakeLister struct {
	objects []objectstore.Object
	err     error
}

func (f *fakeLister) ListObjects(_ context.Context, _ string, _ int, _ int) ([]objectstore.Object, error) {
	return f.objects, f.err
}

type fakeProcessedStore struct {
	keys map[string]struct{}
	err  error
}

func (f *fakeProcessedStore) ProcessedObjectKeys(_ context.Context) (map[string]struct{}, error) {
	return f.keys, f.err
}

type fakeIngestor struct {
	accepted []ingest.ObjectRecord
	failKey  string
}

func (f *fakeIngestor) AcceptObjectCreatedEvent(_ context.Context, records []ingest.ObjectRecord) error {
	for _, r := range records {
		if r.Key == f.failKey {
			return assert.AnError
		}
		f.accepted = append(f.accepted, r)
	}
	return nil
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTick_ReplaysOnlyUnprocessedKeys(t *testing.T) {
	lister := &fakeLister{objects: []objectstore.Object{
		{Key: "inbox/a"}, {Key: "inbox/b"}, {Key: "inbox/c"},
	}}
	store := &fakeProcessedStore{keys: map[string]struct{}{"inbox/b": {}}}
	ingestor := &fakeIngestor{}

	s := New(lister, store, ingestor, newTestLogger(), nil, Config{Bucket: "bucket"})
	s.tick(context.Background())

	require.Len(t, ingestor.accepted, 2)
	assert.Equal(t, "inbox/a", ingestor.accepted[0].Key)
	assert.Equal(t, "inbox/c", ingestor.accepted[1].Key)
}

func TestTick_IndividualFailureDoesNotStopRun(t *testing.T) {
	lister := &fakeLister{objects: []objectstore.Object{{Key: "inbox/a"}, {Key: "inbox/b"}}}
	store := &fakeProcessedStore{keys: map[string]struct{}{}}
	ingestor := &fakeIngestor{failKey: "inbox/a"}

	s := New(lister, store, ingestor, newTestLogger(), nil, Config{})
	s.tick(context.Background())

	require.Len(t, ingestor.accepted, 1)
	assert.Equal(t, "inbox/b", ingestor.accepted[0].Key)
}

func TestNew_ClampsMaxKeysPerRun(t *testing.T) {
	s := New(&fakeLister{}, &fakeProcessedStore{}, &fakeIngestor{}, newTestLogger(), nil, Config{MaxKeysPerRun: 500})
	assert.Equal(t, 100, s.cfg.MaxKeysPerRun)

	s = New(&fakeLister{}, &fakeProcessedStore{}, &fakeIngestor{}, newTestLogger(), nil, Config{MaxKeysPerRun: -1})
	assert.Equal(t, 10, s.cfg.MaxKeysPerRun)
}

func TestRun_DisabledNeverTicks(t *testing.T) {
	lister := &fakeLister{objects: []objectstore.Object{{Key: "inbox/a"}}}
	store := &fakeProcessedStore{keys: map[string]struct{}{}}
	ingestor := &fakeIngestor{}

	s := New(lister, store, ingestor, newTestLogger(), nil, Config{Disabled: true, Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, ingestor.accepted)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	s := New(&fakeLister{}, &fakeProcessedStore{keys: map[string]struct{}{}}, &fakeIngestor{}, newTestLogger(), nil, Config{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Run(ctx)
	assert.NoError(t, err)
}
