package aliasmap

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLoader struct {
	mu    sync.Mutex
	rows  map[models.EntityType][]models.CanonicalMapping
	calls int
	err   error
}

func (f *fakeLoader) ListAll(_ context.Context, kind models.EntityType) ([]models.CanonicalMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[kind], nil
}

func (f *fakeLoader) set(kind models.EntityType, alias, canonical string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[kind] = append(f.rows[kind], models.CanonicalMapping{AliasName: alias, CanonicalName: canonical})
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestSnapshot_Resolve(t *testing.T) {
	snap := NewSnapshot(
		map[string]string{" GroupM ": "GroupM Worldwide"},
		map[string]string{"Mc'Donald's": "McDonald's"},
	)

	assert.Equal(t, "GroupM Worldwide", snap.ResolveAgency("GroupM"))
	assert.Equal(t, "GroupM Worldwide", snap.ResolveAgency("  GroupM"))
	assert.Equal(t, "McDonald's", snap.ResolveCustomer("Mc'Donald's "))
	assert.Equal(t, "Wendy's", snap.ResolveCustomer(" Wendy's "))
	// maps are not shared between kinds
	assert.Equal(t, "Mc'Donald's", snap.ResolveAgency("Mc'Donald's"))
}

func TestSnapshot_IsolatedFromSource(t *testing.T) {
	src := map[string]string{"A": "B"}
	snap := NewSnapshot(nil, src)
	src["A"] = "C"

	assert.Equal(t, "B", snap.ResolveCustomer("A"))
}

func TestStore_LoadsOnceUntilInvalidated(t *testing.T) {
	loader := &fakeLoader{rows: map[models.EntityType][]models.CanonicalMapping{}}
	loader.set(models.EntityTypeCustomer, "Mc'Donald's", "McDonald's")
	store := NewStore(loader, testLogger())

	first, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	second, err := store.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 2, loader.calls)

	loader.set(models.EntityTypeCustomer, "Wendys", "Wendy's")
	assert.Equal(t, "Wendys", first.ResolveCustomer("Wendys"))

	store.Invalidate()
	third, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Wendy's", third.ResolveCustomer("Wendys"))
	// the old snapshot still answers with the version it was built from
	assert.Equal(t, "Wendys", first.ResolveCustomer("Wendys"))
}

func TestStore_LoadError(t *testing.T) {
	loader := &fakeLoader{err: errors.New("connection refused")}
	store := NewStore(loader, testLogger())

	_, err := store.Snapshot(context.Background())
	assert.Error(t, err)
}

// pausingLoader holds the first customer read until released, after it has
// already captured the rows it will return.
type pausingLoader struct {
	*fakeLoader
	paused  chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *pausingLoader) ListAll(ctx context.Context, kind models.EntityType) ([]models.CanonicalMapping, error) {
	rows, err := p.fakeLoader.ListAll(ctx, kind)
	if kind == models.EntityTypeCustomer {
		p.once.Do(func() {
			close(p.paused)
			<-p.release
		})
	}
	return rows, err
}

func TestStore_InvalidateDuringReload(t *testing.T) {
	loader := &pausingLoader{
		fakeLoader: &fakeLoader{rows: map[models.EntityType][]models.CanonicalMapping{}},
		paused:     make(chan struct{}),
		release:    make(chan struct{}),
	}
	loader.set(models.EntityTypeCustomer, "Mc'Donald's", "OLD")
	store := NewStore(loader, testLogger())

	type result struct {
		snap *Snapshot
		err  error
	}
	done := make(chan result, 1)
	go func() {
		snap, err := store.Snapshot(context.Background())
		done <- result{snap, err}
	}()

	<-loader.paused
	loader.set(models.EntityTypeCustomer, "Mc'Donald's", "NEW")
	store.Invalidate()
	close(loader.release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "NEW", res.snap.ResolveCustomer("Mc'Donald's"))

	snap, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "NEW", snap.ResolveCustomer("Mc'Donald's"))
}

func TestStore_ReloadKeepsLatestEdit(t *testing.T) {
	loader := &fakeLoader{rows: map[models.EntityType][]models.CanonicalMapping{}}
	loader.set(models.EntityTypeAgency, "GroupM", "GroupM Worldwide")
	store := NewStore(loader, testLogger())

	_, err := store.Snapshot(context.Background())
	require.NoError(t, err)

	loader.set(models.EntityTypeAgency, "GroupM", "WPP Media")
	snap, err := store.Reload(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "WPP Media", snap.ResolveAgency("GroupM"))
	cached, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Same(t, snap, cached)
}

func TestSnapshot_TrimmedKeyCollisions(t *testing.T) {
	for range 20 {
		snap := NewSnapshot(nil, map[string]string{
			"Acento ":  "Padded Right",
			" Acento":  "Padded Left",
			"Acento":   "Exact",
			"  Bravo ": "Two Spaces",
			" Bravo":   "One Space",
		})

		assert.Equal(t, "Exact", snap.ResolveCustomer("Acento"))
		assert.Equal(t, "Two Spaces", snap.ResolveCustomer("Bravo"))
		assert.Equal(t, []string{" Acento", " Bravo", "Acento "}, snap.Collisions)
	}
}

type fakePubSub struct {
	mu        sync.Mutex
	published []string
	handlers  []func(string)
	ready     chan struct{}
}

func (f *fakePubSub) Publish(_ context.Context, channel, _ string) error {
	f.mu.Lock()
	f.published = append(f.published, channel)
	handlers := append(([]func(string))(nil), f.handlers...)
	f.mu.Unlock()
	for _, h := range handlers {
		h("edit")
	}
	return nil
}

func (f *fakePubSub) Subscribe(ctx context.Context, _ string, fn func(string)) error {
	f.mu.Lock()
	f.handlers = append(f.handlers, fn)
	f.mu.Unlock()
	close(f.ready)
	<-ctx.Done()
	return nil
}

func TestBroadcast_InvalidatesPeers(t *testing.T) {
	loader := &fakeLoader{rows: map[models.EntityType][]models.CanonicalMapping{}}
	local := NewStore(loader, testLogger())
	peer := NewStore(loader, testLogger())
	pubsub := &fakePubSub{ready: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listenDone := make(chan error, 1)
	go func() { listenDone <- NewBroadcast(peer, pubsub, testLogger()).Listen(ctx) }()
	<-pubsub.ready

	_, err := local.Snapshot(ctx)
	require.NoError(t, err)
	before, err := peer.Snapshot(ctx)
	require.NoError(t, err)

	loader.set(models.EntityTypeCustomer, "Wendys", "Wendy's")
	NewBroadcast(local, pubsub, testLogger()).Invalidate(ctx)

	after, err := peer.Snapshot(ctx)
	require.NoError(t, err)
	assert.NotSame(t, before, after)
	assert.Equal(t, "Wendy's", after.ResolveCustomer("Wendys"))
	assert.Equal(t, []string{InvalidationChannel}, pubsub.published)

	cancel()
	assert.NoError(t, <-listenDone)
}

func TestBroadcast_LocalOnly(t *testing.T) {
	loader := &fakeLoader{rows: map[models.EntityType][]models.CanonicalMapping{}}
	store := NewStore(loader, testLogger())
	_, err := store.Snapshot(context.Background())
	require.NoError(t, err)

	NewBroadcast(store, nil, testLogger()).Invalidate(context.Background())

	_, err = store.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, loader.calls)
}
