package permission

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gadgetcloud/portal/internal/identity"
)

func TestCacheSetReplacesAndNotifies(t *testing.T) {
	cache := NewCache()
	var seen []*RoleSet
	unsubscribe := cache.Subscribe(func(set *RoleSet) { seen = append(seen, set) })

	first := supportSet()
	cache.Set(first)
	require.Len(t, seen, 1)
	assert.Equal(t, StatusLoaded, cache.Status())

	second := &RoleSet{Role: identity.RoleAdmin, Resources: map[string]Grant{
		ResourcePermissions: {Resource: ResourcePermissions, Actions: []string{ActionView}},
	}}
	cache.Set(second)
	require.Len(t, seen, 2)
	got := cache.Get()
	assert.Equal(t, identity.RoleAdmin, got.Role)
	_, merged := got.Resources[ResourceUsers]
	assert.False(t, merged, "a new set replaces the old one")

	cache.Clear()
	require.Len(t, seen, 3)
	assert.Nil(t, seen[2])
	assert.Nil(t, cache.Get())
	assert.Equal(t, StatusEmpty, cache.Status())

	unsubscribe()
	unsubscribe()
	cache.Set(first)
	assert.Len(t, seen, 3)
}

func TestCacheStoresCopy(t *testing.T) {
	cache := NewCache()
	set := supportSet()
	cache.Set(set)
	set.Resources[ResourceUsers] = Grant{Resource: ResourceUsers, Actions: []string{Wildcard}}
	assert.False(t, NewEvaluator(cache).CanDeleteUsers())
}

func TestCacheNotifiesInSubscriptionOrder(t *testing.T) {
	cache := NewCache()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		cache.Subscribe(func(*RoleSet) { order = append(order, i) })
	}
	cache.Set(supportSet())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

type blockingFetcher struct {
	mu      sync.Mutex
	calls   int
	release map[identity.Role]chan struct{}
	sets    map[identity.Role]*RoleSet
	err     error
}

func newBlockingFetcher() *blockingFetcher {
	return &blockingFetcher{release: map[identity.Role]chan struct{}{}, sets: map[identity.Role]*RoleSet{}}
}

func (f *blockingFetcher) hold(role identity.Role) chan struct{} {
	ch := make(chan struct{})
	f.mu.Lock()
	f.release[role] = ch
	f.mu.Unlock()
	return ch
}

func (f *blockingFetcher) RolePermissions(ctx context.Context, role identity.Role) (*RoleSet, error) {
	f.mu.Lock()
	f.calls++
	ch := f.release[role]
	set := f.sets[role]
	err := f.err
	f.mu.Unlock()
	if ch != nil {
		<-ch
	}
	if err != nil {
		return nil, err
	}
	return set, nil
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObservePermissionLoad(role identity.Role, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, role.String()+":"+outcome)
}

func TestLoaderDiscardsSupersededResponse(t *testing.T) {
	fetcher := newBlockingFetcher()
	fetcher.sets[identity.RoleSupport] = supportSet()
	fetcher.sets[identity.RoleAdmin] = &RoleSet{Role: identity.RoleAdmin}
	releaseSupport := fetcher.hold(identity.RoleSupport)

	observer := &recordingObserver{}
	loader := NewLoader(fetcher, NewCache(), nil, WithObserver(observer))

	loader.Start(identity.RoleSupport)
	// wait until the first fetch is parked before issuing the second
	require.Eventually(t, func() bool {
		fetcher.mu.Lock()
		defer fetcher.mu.Unlock()
		return fetcher.calls == 1
	}, timeout, tick)

	_, err := loader.Load(context.Background(), identity.RoleAdmin)
	require.NoError(t, err)
	close(releaseSupport)
	loader.Wait()

	assert.Equal(t, identity.RoleAdmin, loader.Cache().Get().Role, "last issued load wins")
	assert.ElementsMatch(t, []string{"admin:loaded", "support:stale"}, observer.outcomes)
}

func TestLoaderDropsResponseAfterClear(t *testing.T) {
	fetcher := newBlockingFetcher()
	fetcher.sets[identity.RoleSupport] = supportSet()
	release := fetcher.hold(identity.RoleSupport)
	cache := NewCache()
	loader := NewLoader(fetcher, cache, nil)

	loader.Start(identity.RoleSupport)
	require.Eventually(t, func() bool { return cache.Status() == StatusLoading }, timeout, tick)
	cache.Clear()
	close(release)
	loader.Wait()

	assert.Nil(t, cache.Get())
	assert.Equal(t, StatusEmpty, cache.Status())
}

func TestLoaderFailureKeepsCacheAndRetries(t *testing.T) {
	fetcher := newBlockingFetcher()
	fetcher.err = errors.New("backend down")
	cache := NewCache()
	cache.Set(supportSet())
	loader := NewLoader(fetcher, cache, nil)

	_, err := loader.Load(context.Background(), identity.RoleSupport)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, cache.Status())
	assert.NotNil(t, cache.Get(), "failure leaves the cache as-is")

	fetcher.mu.Lock()
	fetcher.err = nil
	fetcher.sets[identity.RoleSupport] = &RoleSet{Role: identity.RoleSupport}
	fetcher.mu.Unlock()

	loader.Retry(context.Background(), identity.RoleSupport)
	assert.Equal(t, StatusLoaded, cache.Status())
	assert.Equal(t, 2, fetcher.calls)

	loader.Retry(context.Background(), identity.RoleSupport)
	assert.Equal(t, 2, fetcher.calls, "no retry once loaded")
}

func TestLoaderClearBeforeBackgroundLoadRuns(t *testing.T) {
	fetcher := newBlockingFetcher()
	fetcher.sets[identity.RoleSupport] = supportSet()
	cache := NewCache()
	loader := NewLoader(fetcher, cache, nil)

	for i := 0; i < 200; i++ {
		loader.Start(identity.RoleSupport)
		cache.Clear()
		loader.Wait()

		require.Nil(t, cache.Get(), "iteration %d", i)
		require.Equal(t, StatusEmpty, cache.Status())
	}
}

func TestLoaderBackgroundLoadsFollowCallOrder(t *testing.T) {
	fetcher := newBlockingFetcher()
	fetcher.sets[identity.RoleCustomer] = &RoleSet{Role: identity.RoleCustomer}
	fetcher.sets[identity.RoleAdmin] = &RoleSet{Role: identity.RoleAdmin}
	cache := NewCache()
	loader := NewLoader(fetcher, cache, nil)

	for i := 0; i < 200; i++ {
		loader.Start(identity.RoleCustomer)
		loader.Start(identity.RoleAdmin)
		loader.Wait()

		got := cache.Get()
		require.NotNil(t, got, "iteration %d", i)
		require.Equal(t, identity.RoleAdmin, got.Role, "iteration %d", i)
		cache.Clear()
	}
}

func TestStartMarksLoadingImmediately(t *testing.T) {
	fetcher := newBlockingFetcher()
	fetcher.sets[identity.RoleSupport] = supportSet()
	release := fetcher.hold(identity.RoleSupport)
	cache := NewCache()
	loader := NewLoader(fetcher, cache, nil)

	loader.Start(identity.RoleSupport)
	assert.Equal(t, StatusLoading, cache.Status())
	close(release)
	loader.Wait()
	assert.Equal(t, StatusLoaded, cache.Status())
}
